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

// Package persist saves and restores block state: a change detector
// over the persisted subtree, a wholesale JSON state file, and a bolt
// checkpoint store.
package persist

import (
	"reflect"

	"github.com/statewire/statewire/state"
)

// ChangeDetector watches the persisted state reachable from a root
// block and fires a callback when any of it changes.
//
// Each traversal subscribes to every cell and dynamic block it
// visits.  On the first notification the detector drops all
// subscriptions, re-traverses (re-subscribing as it goes), and fires
// only if the new snapshot differs structurally from the old one.  So
// however many cells change between ticks, the callback runs at most
// once per tick, and spurious writes (a set to the same value) fire
// nothing.
//
// Children added to a dynamic block are not seen until the traversal
// after the one that observed the block change.
//
// A ChangeDetector is confined to its poller's scheduler context.
type ChangeDetector struct {
	root     state.Block
	poller   *state.Poller
	onChange func()

	subs    []state.Subscription
	cache   map[string]interface{}
	scanned bool
}

// NewChangeDetector creates a detector.  Nothing is watched until the
// first Get.
func NewChangeDetector(root state.Block, onChange func(), poller *state.Poller) *ChangeDetector {
	return &ChangeDetector{
		root:     root,
		poller:   poller,
		onChange: onChange,
	}
}

// Get returns the current persisted snapshot, (re)arming the watch if
// needed.  The returned mapping is shared; callers must not mutate it.
func (d *ChangeDetector) Get() map[string]interface{} {
	if !d.scanned {
		d.rescan()
	}
	return d.cache
}

func (d *ChangeDetector) rescan() {
	d.unsubscribeAll()
	d.cache = state.Snapshot(d.root, d)
	d.scanned = true
}

func (d *ChangeDetector) unsubscribeAll() {
	for _, sub := range d.subs {
		sub.Unsubscribe()
	}
	d.subs = nil
}

// Close drops all subscriptions.
func (d *ChangeDetector) Close() {
	d.unsubscribeAll()
	d.scanned = false
}

func (d *ChangeDetector) notify() {
	old := d.cache
	d.rescan()
	if !reflect.DeepEqual(old, d.cache) {
		d.onChange()
	}
}

// WatchCell implements state.Watcher.
func (d *ChangeDetector) WatchCell(c state.Cell) {
	d.subs = append(d.subs, d.poller.Subscribe(c, d.notify))
}

// WatchShape implements state.Watcher.
func (d *ChangeDetector) WatchShape(b state.Block) {
	d.subs = append(d.subs, d.poller.SubscribeState(b, d.notify))
}
