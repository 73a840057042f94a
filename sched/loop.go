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
	"sync"
	"time"

	"github.com/statewire/statewire/util"
)

// Loop is a Scheduler backed by a single goroutine.  Posted functions
// run in order, one at a time.  A Loop is safe for use from multiple
// goroutines; the functions it runs are not required to be.
type Loop struct {
	tasks chan func()
	ctl   chan bool
	once  sync.Once
}

// NewLoop creates a Loop and starts its goroutine.
func NewLoop() *Loop {
	l := &Loop{
		tasks: make(chan func(), 128),
		ctl:   make(chan bool),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
LOOP:
	for {
		select {
		case <-l.ctl:
			break LOOP
		case f := <-l.tasks:
			f()
		}
	}
}

// Post submits f to run on the loop as soon as possible.
func (l *Loop) Post(f func()) {
	select {
	case l.tasks <- f:
	case <-l.ctl:
		util.Logf("Loop.Post dropped: loop is shut down")
	}
}

// After schedules f to run on the loop after d.
func (l *Loop) After(d time.Duration, f func()) Task {
	t := &loopTask{active: true}
	run := func() {
		l.Post(func() {
			t.mu.Lock()
			ok := t.active
			t.active = false
			t.mu.Unlock()
			if ok {
				f()
			}
		})
	}
	if d <= 0 {
		run()
	} else {
		t.timer = time.AfterFunc(d, run)
	}
	return t
}

// Shutdown stops the loop.  Tasks that have not yet run are dropped.
func (l *Loop) Shutdown() {
	l.once.Do(func() {
		close(l.ctl)
	})
}

type loopTask struct {
	mu     sync.Mutex
	timer  *time.Timer
	active bool
}

func (t *loopTask) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return false
	}
	t.active = false
	if t.timer != nil {
		t.timer.Stop()
	}
	return true
}

func (t *loopTask) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
