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

package sched

import (
	"sort"
	"time"
)

// Manual is a Scheduler driven by an explicit virtual clock.  Nothing
// runs until Advance (or Tick) is called, which makes timer-dependent
// behavior deterministic in tests.
//
// Manual is not safe for concurrent use.
type Manual struct {
	now   time.Duration
	seq   int
	tasks []*manualTask
}

// NewManual creates a Manual scheduler with its clock at zero.
func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) After(d time.Duration, f func()) Task {
	if d < 0 {
		d = 0
	}
	t := &manualTask{
		m:      m,
		due:    m.now + d,
		seq:    m.seq,
		f:      f,
		active: true,
	}
	m.seq++
	m.tasks = append(m.tasks, t)
	return t
}

// Advance moves the clock forward by d, running every task that comes
// due along the way, including tasks scheduled by tasks.
func (m *Manual) Advance(d time.Duration) {
	target := m.now + d
	for {
		t := m.next(target)
		if t == nil {
			break
		}
		if m.now < t.due {
			m.now = t.due
		}
		t.active = false
		t.f()
	}
	m.now = target
}

// Tick runs everything already due without moving the clock.  One
// Tick is one scheduling cycle: a tick of the poller, a batch flush.
func (m *Manual) Tick() {
	m.Advance(0)
}

// Pending reports the number of tasks not yet run or stopped.
func (m *Manual) Pending() int {
	n := 0
	for _, t := range m.tasks {
		if t.active {
			n++
		}
	}
	return n
}

// next pops the earliest active task due at or before target, in
// (due, insertion) order.
func (m *Manual) next(target time.Duration) *manualTask {
	live := m.tasks[:0]
	for _, t := range m.tasks {
		if t.active {
			live = append(live, t)
		}
	}
	m.tasks = live
	sort.SliceStable(m.tasks, func(i, j int) bool {
		if m.tasks[i].due != m.tasks[j].due {
			return m.tasks[i].due < m.tasks[j].due
		}
		return m.tasks[i].seq < m.tasks[j].seq
	})
	for _, t := range m.tasks {
		if t.due <= target {
			return t
		}
	}
	return nil
}

type manualTask struct {
	m      *Manual
	due    time.Duration
	seq    int
	f      func()
	active bool
}

func (t *manualTask) Stop() bool {
	if !t.active {
		return false
	}
	t.active = false
	return true
}

func (t *manualTask) Active() bool {
	return t.active
}
