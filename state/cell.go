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

// Package state defines the observable object graph: blocks holding
// named cells that hold scalar values or nested blocks, plus the
// subscription machinery that the stream and persist packages build
// on.
package state

import (
	"fmt"
	"reflect"
	"sync"
)

// Subscription is a handle on a change subscription.
type Subscription interface {
	Unsubscribe()
}

// Cell is a named handle onto either a scalar value or a nested
// Block.
//
// A cell's block-ness never changes after creation.  Implementations
// must be comparable (pointer receivers); the registry keys its
// tables on object identity.
type Cell interface {
	// Key is the cell's name within its block.
	Key() string

	// Get returns the value held by the cell.  For a block cell
	// the value is a Block.
	Get() interface{}

	// Set replaces the value held by the cell.
	Set(value interface{}) error

	// IsBlock reports whether Get returns a Block.
	IsBlock() bool

	// Writable reports whether Set is allowed.
	Writable() bool

	// Persists reports whether the cell participates in persisted
	// snapshots.
	Persists() bool

	// Describe returns the cell's wire description.
	Describe() map[string]interface{}

	// Subscribe requests that f be called (synchronously, from
	// whatever context performed the mutation) when the cell's
	// value changes.  Coalescing across a scheduling tick is the
	// Poller's job, not the cell's.
	Subscribe(f func()) Subscription
}

// DataCell is a cell carrying a high-rate binary stream rather than a
// value.  Its payloads bypass the batched text protocol.
type DataCell interface {
	Cell

	// SubscribeData requests that f be called with each payload.
	SubscribeData(f func([]byte)) Subscription
}

// subscribers is a tiny callback registry.  Cells are shared by every
// session's event loop and by the persistence machinery, so the
// registry locks.  Callbacks run outside the lock.
type subscribers struct {
	mu   sync.Mutex
	subs map[*simpleSub]bool
}

func (ss *subscribers) add(f func()) Subscription {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.subs == nil {
		ss.subs = make(map[*simpleSub]bool)
	}
	sub := &simpleSub{set: ss, f: f}
	ss.subs[sub] = true
	return sub
}

func (ss *subscribers) fire() {
	ss.mu.Lock()
	fs := make([]func(), 0, len(ss.subs))
	for sub := range ss.subs {
		fs = append(fs, sub.f)
	}
	ss.mu.Unlock()
	for _, f := range fs {
		f()
	}
}

type simpleSub struct {
	set *subscribers
	f   func()
}

func (s *simpleSub) Unsubscribe() {
	s.set.mu.Lock()
	delete(s.set.subs, s)
	s.set.mu.Unlock()
}

// neverSub is the subscription for cells that never change.
type neverSub struct{}

func (neverSub) Unsubscribe() {}

// LooseCell is a cell that stores its own value, so it can reliably
// report updates.  Safe for use from multiple goroutines.
type LooseCell struct {
	key      string
	mu       sync.Mutex
	value    interface{}
	writable bool
	persists bool
	doc      string
	coerce   func(interface{}) (interface{}, error)
	subs     subscribers
}

// LooseCellOpt configures a LooseCell.
type LooseCellOpt func(*LooseCell)

// Writable marks the cell settable.
func Writable() LooseCellOpt {
	return func(c *LooseCell) { c.writable = true }
}

// Ephemeral excludes the cell from persisted snapshots.
func Ephemeral() LooseCellOpt {
	return func(c *LooseCell) { c.persists = false }
}

// Doc attaches a human-readable description, carried in register_cell
// messages.
func Doc(doc string) LooseCellOpt {
	return func(c *LooseCell) { c.doc = doc }
}

// Coerce installs a validation/clamping function applied by Set
// before the value is stored.  The stored (possibly clamped) value is
// what observers see.
func Coerce(f func(interface{}) (interface{}, error)) LooseCellOpt {
	return func(c *LooseCell) { c.coerce = f }
}

// NewLooseCell creates a cell holding value under key.
func NewLooseCell(key string, value interface{}, opts ...LooseCellOpt) *LooseCell {
	c := &LooseCell{
		key:      key,
		value:    value,
		persists: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *LooseCell) Key() string    { return c.key }
func (c *LooseCell) IsBlock() bool  { return false }
func (c *LooseCell) Writable() bool { return c.writable }
func (c *LooseCell) Persists() bool { return c.persists }

func (c *LooseCell) Get() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *LooseCell) Set(value interface{}) error {
	if !c.writable {
		return fmt.Errorf("cell %s is not writable", c.key)
	}
	if c.coerce != nil {
		coerced, err := c.coerce(value)
		if err != nil {
			return err
		}
		value = coerced
	}
	c.store(value)
	return nil
}

// SetInternal is for the cell's owner to report a new value without
// the writability check.
func (c *LooseCell) SetInternal(value interface{}) {
	c.store(value)
}

func (c *LooseCell) store(value interface{}) {
	c.mu.Lock()
	if reflect.DeepEqual(c.value, value) {
		c.mu.Unlock()
		return
	}
	c.value = value
	c.mu.Unlock()
	c.subs.fire()
}

func (c *LooseCell) Subscribe(f func()) Subscription {
	return c.subs.add(f)
}

func (c *LooseCell) Describe() map[string]interface{} {
	d := map[string]interface{}{
		"type":     "value_cell",
		"writable": c.writable,
		"current":  c.Get(),
	}
	if c.doc != "" {
		d["doc"] = c.doc
	}
	return d
}

// BlockCell is a cell whose value is a nested Block.
type BlockCell struct {
	key   string
	mu    sync.Mutex
	block Block
	doc   string
	subs  subscribers
}

// NewBlockCell creates a cell referring to block.
func NewBlockCell(key string, block Block) *BlockCell {
	return &BlockCell{key: key, block: block}
}

func (c *BlockCell) Key() string    { return c.key }
func (c *BlockCell) IsBlock() bool  { return true }
func (c *BlockCell) Writable() bool { return false }
func (c *BlockCell) Persists() bool { return true }

func (c *BlockCell) Get() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

func (c *BlockCell) Set(value interface{}) error {
	return fmt.Errorf("cell %s holds a block and is not settable", c.key)
}

// SetBlock replaces the referenced block.  For owners that swap out
// whole subtrees at runtime.
func (c *BlockCell) SetBlock(b Block) {
	c.mu.Lock()
	if c.block == b {
		c.mu.Unlock()
		return
	}
	c.block = b
	c.mu.Unlock()
	c.subs.fire()
}

func (c *BlockCell) Subscribe(f func()) Subscription {
	return c.subs.add(f)
}

func (c *BlockCell) Describe() map[string]interface{} {
	// No "current": the value is a reference, which travels as a
	// serial in a value message instead.
	d := map[string]interface{}{
		"type":     "block_cell",
		"writable": false,
	}
	if c.doc != "" {
		d["doc"] = c.doc
	}
	return d
}

// CommandCell is a cell that does not hold a meaningful value but is
// a side-effecting operation that can be invoked by setting it.
type CommandCell struct {
	key string
	doc string
	f   func() error
}

// NewCommandCell creates a command cell that invokes f.
func NewCommandCell(key string, f func() error, doc string) *CommandCell {
	return &CommandCell{key: key, f: f, doc: doc}
}

func (c *CommandCell) Key() string      { return c.key }
func (c *CommandCell) IsBlock() bool    { return false }
func (c *CommandCell) Writable() bool   { return true }
func (c *CommandCell) Persists() bool   { return false }
func (c *CommandCell) Get() interface{} { return nil }

func (c *CommandCell) Set(value interface{}) error {
	return c.f()
}

func (c *CommandCell) Subscribe(f func()) Subscription {
	return neverSub{}
}

func (c *CommandCell) Describe() map[string]interface{} {
	d := map[string]interface{}{
		"type":     "command_cell",
		"writable": true,
	}
	if c.doc != "" {
		d["doc"] = c.doc
	}
	return d
}

// StreamCell is a DataCell fed by a producer via Push.
type StreamCell struct {
	key  string
	doc  string
	mu   sync.Mutex
	subs map[*dataSub]bool
}

// NewStreamCell creates a stream cell.
func NewStreamCell(key string, doc string) *StreamCell {
	return &StreamCell{
		key:  key,
		doc:  doc,
		subs: make(map[*dataSub]bool),
	}
}

func (c *StreamCell) Key() string      { return c.key }
func (c *StreamCell) IsBlock() bool    { return false }
func (c *StreamCell) Writable() bool   { return false }
func (c *StreamCell) Persists() bool   { return false }
func (c *StreamCell) Get() interface{} { return nil }

func (c *StreamCell) Set(value interface{}) error {
	return fmt.Errorf("stream cell %s is not settable", c.key)
}

func (c *StreamCell) Subscribe(f func()) Subscription {
	// Value subscriptions are meaningless for a stream.
	return neverSub{}
}

func (c *StreamCell) SubscribeData(f func([]byte)) Subscription {
	sub := &dataSub{cell: c, f: f}
	c.mu.Lock()
	c.subs[sub] = true
	c.mu.Unlock()
	return sub
}

// Push delivers a payload to every data subscriber.  Safe from any
// goroutine; subscribers are responsible for hopping onto their own
// context.
func (c *StreamCell) Push(payload []byte) {
	c.mu.Lock()
	fs := make([]func([]byte), 0, len(c.subs))
	for sub := range c.subs {
		fs = append(fs, sub.f)
	}
	c.mu.Unlock()
	for _, f := range fs {
		f(payload)
	}
}

func (c *StreamCell) Describe() map[string]interface{} {
	d := map[string]interface{}{
		"type":     "stream_cell",
		"writable": false,
	}
	if c.doc != "" {
		d["doc"] = c.doc
	}
	return d
}

type dataSub struct {
	cell *StreamCell
	f    func([]byte)
}

func (s *dataSub) Unsubscribe() {
	s.cell.mu.Lock()
	delete(s.cell.subs, s)
	s.cell.mu.Unlock()
}
