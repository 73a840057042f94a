/* Copyright 2026 The statewire authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package persist

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/statewire/statewire/sched"
	"github.com/statewire/statewire/state"
)

// DefaultWriteDelay is how long a FileGlue waits after a change
// before writing, so bursts of changes cost one write.
const DefaultWriteDelay = 500 * time.Millisecond

// FileGlue ties a block's persisted state to a JSON file: state is
// restored from the file at startup and written back, wholesale and
// slightly delayed, whenever it changes.
//
// Write failures are logged, not fatal; losing a save must not take
// the service down.  A FileGlue is confined to its scheduler context
// after construction.
type FileGlue struct {
	path  string
	delay time.Duration
	sched sched.Scheduler

	det       *ChangeDetector
	writeTask sched.Task
}

// FileGlueOpt configures NewFileGlue.
type FileGlueOpt func(*FileGlue)

// WriteDelay overrides DefaultWriteDelay.
func WriteDelay(d time.Duration) FileGlueOpt {
	return func(fg *FileGlue) { fg.delay = d }
}

// NewFileGlue restores root's state from the file at path (merged
// over defaults, with the file winning) and starts watching for
// changes.  A missing file is fine; an unreadable or unparseable one
// is an error, since silently discarding old state and then
// overwriting the file would destroy it.
//
// After a good read the previous file content is kept at path+"~".
func NewFileGlue(path string, root state.Block, defaults map[string]interface{}, poller *state.Poller, s sched.Scheduler, opts ...FileGlueOpt) (*FileGlue, error) {
	fg := &FileGlue{
		path:  path,
		delay: DefaultWriteDelay,
		sched: s,
	}
	for _, opt := range opts {
		opt(fg)
	}

	persisted, raw, err := readStateFile(path)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		if err := os.WriteFile(path+"~", raw, 0644); err != nil {
			log.Printf("persist: backup of %s failed: %v", path, err)
		}
	}
	state.ApplySnapshot(root, merge(defaults, persisted))

	fg.det = NewChangeDetector(root, fg.scheduleWrite, poller)
	fg.det.Get()
	return fg, nil
}

func readStateFile(path string) (map[string]interface{}, []byte, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var persisted map[string]interface{}
	if err := json.Unmarshal(raw, &persisted); err != nil {
		return nil, nil, fmt.Errorf("state file %s: %v", path, err)
	}
	return persisted, raw, nil
}

// merge layers persisted over defaults, recursing where both sides
// are mappings.
func merge(defaults, persisted map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(defaults)+len(persisted))
	for name, value := range defaults {
		out[name] = value
	}
	for name, value := range persisted {
		pm, pIs := value.(map[string]interface{})
		dm, dIs := out[name].(map[string]interface{})
		if pIs && dIs {
			out[name] = merge(dm, pm)
		} else {
			out[name] = value
		}
	}
	return out
}

func (fg *FileGlue) scheduleWrite() {
	if fg.writeTask != nil && fg.writeTask.Active() {
		return
	}
	fg.writeTask = fg.sched.After(fg.delay, func() {
		if err := fg.write(); err != nil {
			log.Printf("persist: writing %s failed: %v", fg.path, err)
		}
	})
}

func (fg *FileGlue) write() error {
	js, err := json.MarshalIndent(fg.det.Get(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fg.path, append(js, '\n'), 0644)
}

// Sync performs any pending write immediately.  For tests and
// shutdown paths.
func (fg *FileGlue) Sync() error {
	if fg.writeTask == nil || !fg.writeTask.Stop() {
		return nil
	}
	return fg.write()
}

// Close stops watching.  Pending writes are flushed first.
func (fg *FileGlue) Close() error {
	err := fg.Sync()
	fg.det.Close()
	return err
}
