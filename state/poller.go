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

package state

import (
	"sync"

	"github.com/statewire/statewire/sched"
)

// Poller turns the cells' synchronous change callbacks into coalesced
// per-tick notifications delivered on a scheduler.
//
// Cells and blocks are shared by many sessions and by the engine, so
// a change can fire from any goroutine; enqueue is the one
// cross-context entry point and takes a lock.  Callback delivery
// happens on the poller's scheduler, which is the owning session's
// event loop.
//
// Within one tick a subscription's callback runs at most once no
// matter how many times its cell changed.
type Poller struct {
	sched sched.Scheduler

	mu      sync.Mutex
	pending []*pollerSub
	queued  map[*pollerSub]bool
	flush   bool
}

// NewPoller creates a Poller delivering on s.
func NewPoller(s sched.Scheduler) *Poller {
	return &Poller{
		sched:  s,
		queued: make(map[*pollerSub]bool),
	}
}

// Subscribe arranges for f to run on the poller's scheduler after the
// cell's value changes, at most once per tick.
func (p *Poller) Subscribe(c Cell, f func()) Subscription {
	sub := &pollerSub{p: p, f: f}
	sub.inner = c.Subscribe(func() { p.enqueue(sub) })
	return sub
}

// SubscribeState is Subscribe for a dynamic block's child-set shape.
// For a fixed block the subscription never fires.
func (p *Poller) SubscribeState(b Block, f func()) Subscription {
	sn, is := b.(ShapeNotifier)
	if !is || !b.IsDynamic() {
		return neverSub{}
	}
	sub := &pollerSub{p: p, f: f}
	sub.inner = sn.SubscribeShape(func() { p.enqueue(sub) })
	return sub
}

func (p *Poller) enqueue(sub *pollerSub) {
	p.mu.Lock()
	if sub.dead || p.queued[sub] {
		p.mu.Unlock()
		return
	}
	p.queued[sub] = true
	p.pending = append(p.pending, sub)
	start := !p.flush
	p.flush = true
	p.mu.Unlock()

	if start {
		p.sched.After(0, p.tick)
	}
}

// tick runs on the scheduler and delivers everything queued.
func (p *Poller) tick() {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.queued = make(map[*pollerSub]bool)
	p.flush = false
	p.mu.Unlock()

	for _, sub := range batch {
		if !sub.dead {
			sub.f()
		}
	}
}

type pollerSub struct {
	p     *Poller
	f     func()
	inner Subscription
	dead  bool
}

func (s *pollerSub) Unsubscribe() {
	s.p.mu.Lock()
	s.dead = true
	s.p.mu.Unlock()
	s.inner.Unsubscribe()
}
