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

// Package sched provides the scheduling capability that sessions and
// persistence use for their timers: schedule-once tasks on either a
// real per-session event loop or a virtual clock for tests.
package sched

import "time"

// Task is a handle on a scheduled function.
type Task interface {
	// Stop cancels the task.  Returns false if the task already ran
	// or was already stopped.
	Stop() bool

	// Active reports whether the task is still pending.
	Active() bool
}

// Scheduler schedules a function to run once after a delay.
//
// All functions given to a single Scheduler run serially; they never
// overlap.  That serialization is what lets a session's tables go
// unlocked.
type Scheduler interface {
	After(d time.Duration, f func()) Task
}
