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

import "log"

// Watcher receives the subscription points reachable during a
// Snapshot traversal.  The persist package's change detector is the
// one implementation that matters.
type Watcher interface {
	// WatchCell is called for every persisted cell visited.
	WatchCell(c Cell)

	// WatchShape is called for every dynamic block visited.
	WatchShape(b Block)
}

// Snapshot recursively reduces a block to a plain nested mapping:
// scalar cells to their values, block cells to nested snapshots.
// Cells that do not persist (streams, commands, ephemeral values) are
// skipped.
//
// If w is non-nil, every subscription point reachable right now is
// reported to it.  Children a dynamic block grows later are not
// covered until the next traversal.
func Snapshot(b Block, w Watcher) map[string]interface{} {
	if w != nil {
		if _, is := b.(ShapeNotifier); is && b.IsDynamic() {
			w.WatchShape(b)
		}
	}
	snap := make(map[string]interface{}, len(b.State()))
	for name, cell := range b.State() {
		if !cell.Persists() {
			continue
		}
		if w != nil {
			w.WatchCell(cell)
		}
		if cell.IsBlock() {
			snap[name] = Snapshot(cell.Get().(Block), w)
		} else {
			snap[name] = cell.Get()
		}
	}
	return snap
}

// ApplySnapshot writes a snapshot back onto a block's writable cells.
// Keys that do not correspond to a settable cell are skipped with a
// warning, which is what keeps old state files loadable by new code
// and vice versa.  Block-valued entries are applied after scalars
// since blocks may depend on them.
func ApplySnapshot(b Block, snap map[string]interface{}) {
	cells := b.State()
	var blocks []string
	for _, name := range sortedKeys(cells) {
		value, have := snap[name]
		if !have {
			continue
		}
		cell := cells[name]
		if cell.IsBlock() {
			blocks = append(blocks, name)
			continue
		}
		if !cell.Writable() {
			log.Printf("warning: discarding state for non-writable cell %s", name)
			continue
		}
		if err := cell.Set(value); err != nil {
			log.Printf("warning: discarding erroneous state for %s: %v", name, err)
		}
	}
	for name := range snap {
		if _, have := cells[name]; !have {
			log.Printf("warning: discarding state for nonexistent cell %s", name)
		}
	}
	for _, name := range blocks {
		nested, is := snap[name].(map[string]interface{})
		if !is {
			log.Printf("warning: discarding non-mapping state for block cell %s", name)
			continue
		}
		ApplySnapshot(cells[name].Get().(Block), nested)
	}
}
