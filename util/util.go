package util

import "log"

// Logging turns verbose logging on.  The daemon's -v flag sets it.
var Logging = false

// Logf forwards to log.Printf when Logging is on and is otherwise
// silent.
func Logf(format string, args ...interface{}) {
	if !Logging {
		return
	}
	log.Printf(format, args...)
}
