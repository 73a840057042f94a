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

package stream

import (
	"sync"

	"github.com/statewire/statewire/state"
)

// Feed moves binary data from producer goroutines into a stream
// cell.  Writes are buffered and coalesced: while one Push is in
// flight, consecutive chunks are concatenated and pushed as one, so
// slow consumers see bigger payloads rather than a growing queue of
// small ones.
type Feed struct {
	cell *state.StreamCell

	mu  sync.Mutex
	buf []byte

	notify chan bool
	ctl    chan bool
	once   sync.Once
}

// NewFeed starts a feed pushing into cell.
func NewFeed(cell *state.StreamCell) *Feed {
	f := &Feed{
		cell:   cell,
		notify: make(chan bool, 1),
		ctl:    make(chan bool),
	}
	go f.run()
	return f
}

// Write accepts one chunk from the producer.  Safe from any goroutine.
func (f *Feed) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	f.mu.Lock()
	f.buf = append(f.buf, p...)
	f.mu.Unlock()
	select {
	case f.notify <- true:
	default:
	}
}

// Close stops the feed.  Buffered data not yet handed to the loop is
// dropped.
func (f *Feed) Close() {
	f.once.Do(func() {
		close(f.ctl)
	})
}

func (f *Feed) run() {
	for {
		select {
		case <-f.ctl:
			return
		case <-f.notify:
		}
		f.mu.Lock()
		data := f.buf
		f.buf = nil
		f.mu.Unlock()
		if len(data) == 0 {
			continue
		}
		// The push is synchronous, so at most one is in flight;
		// that is what makes Write coalesce under load.
		f.cell.Push(data)
	}
}
