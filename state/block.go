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
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Block is an object exposing a mapping of name to Cell.
//
// For a fixed block the child-name set is immutable.  For a dynamic
// block children may be created or deleted at runtime, observable
// only by re-reading State.
type Block interface {
	// State returns the current mapping of name to cell.  Callers
	// must not mutate the returned map.
	State() map[string]Cell

	// IsDynamic reports whether the child set can change.
	IsDynamic() bool
}

// ShapeNotifier is implemented by dynamic blocks that can report
// child-set changes.
type ShapeNotifier interface {
	// SubscribeShape requests that f be called when the child set
	// changes.
	SubscribeShape(f func()) Subscription
}

// Collection is a dynamic block whose children can be created and
// deleted from outside.
type Collection interface {
	Block

	// CreateChild adds a child built from the given initial
	// state and returns its name.
	CreateChild(initial map[string]interface{}) (string, error)

	// DeleteChild removes the named child.
	DeleteChild(name string) error
}

// Group is a Block backed by a plain cell map.  It covers both fixed
// blocks (the usual case) and dynamic ones.
type Group struct {
	mu      sync.Mutex
	cells   map[string]Cell
	dynamic bool
	shape   subscribers
}

// NewGroup creates a fixed block from the given cells.
func NewGroup(cells ...Cell) *Group {
	g := &Group{cells: make(map[string]Cell, len(cells))}
	for _, c := range cells {
		g.cells[c.Key()] = c
	}
	return g
}

// NewDynamicGroup creates a dynamic block, initially empty.
func NewDynamicGroup() *Group {
	return &Group{
		cells:   make(map[string]Cell),
		dynamic: true,
	}
}

func (g *Group) State() map[string]Cell {
	if !g.dynamic {
		return g.cells
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]Cell, len(g.cells))
	for name, c := range g.cells {
		out[name] = c
	}
	return out
}

func (g *Group) IsDynamic() bool {
	return g.dynamic
}

// Add inserts a cell into a dynamic group.
func (g *Group) Add(c Cell) error {
	if !g.dynamic {
		return fmt.Errorf("block is not dynamic")
	}
	g.mu.Lock()
	if _, have := g.cells[c.Key()]; have {
		g.mu.Unlock()
		return fmt.Errorf("child %s exists", c.Key())
	}
	g.cells[c.Key()] = c
	g.mu.Unlock()
	g.shape.fire()
	return nil
}

// Remove deletes a cell from a dynamic group.
func (g *Group) Remove(name string) error {
	if !g.dynamic {
		return fmt.Errorf("block is not dynamic")
	}
	g.mu.Lock()
	if _, have := g.cells[name]; !have {
		g.mu.Unlock()
		return fmt.Errorf("child %s not found", name)
	}
	delete(g.cells, name)
	g.mu.Unlock()
	g.shape.fire()
	return nil
}

func (g *Group) SubscribeShape(f func()) Subscription {
	if !g.dynamic {
		return neverSub{}
	}
	return g.shape.add(f)
}

// GroupCollection is a dynamic Group whose children can be created
// and deleted from outside via the Collection interface.  New
// children are named by a counter and built by the factory.
type GroupCollection struct {
	Group
	factory func(name string, initial map[string]interface{}) (Cell, error)

	idMu   sync.Mutex
	nextId int
}

// NewGroupCollection creates an empty collection building children
// with factory.
func NewGroupCollection(factory func(name string, initial map[string]interface{}) (Cell, error)) *GroupCollection {
	return &GroupCollection{
		Group: Group{
			cells:   make(map[string]Cell),
			dynamic: true,
		},
		factory: factory,
	}
}

func (g *GroupCollection) CreateChild(initial map[string]interface{}) (string, error) {
	g.idMu.Lock()
	g.nextId++
	name := fmt.Sprintf("%d", g.nextId)
	g.idMu.Unlock()

	cell, err := g.factory(name, initial)
	if err != nil {
		return "", err
	}
	if err := g.Add(cell); err != nil {
		return "", err
	}
	return name, nil
}

func (g *GroupCollection) DeleteChild(name string) error {
	return g.Remove(name)
}

// LookupPath walks a path of block-valued cell names from root.  A
// name that is missing or does not denote a block is a lookup
// failure, not fatal to anything.
func LookupPath(root Block, path []string) (Block, error) {
	b := root
	for i, name := range path {
		cell, have := b.State()[name]
		if !have {
			return nil, fmt.Errorf("not found: %s", strings.Join(path[:i+1], "/"))
		}
		if !cell.IsBlock() {
			return nil, fmt.Errorf("not a block: %s", strings.Join(path[:i+1], "/"))
		}
		b = cell.Get().(Block)
	}
	return b, nil
}

// Capabilities reports what a block implements, for register_block
// messages.
func Capabilities(b Block) []string {
	caps := []string{}
	if b.IsDynamic() {
		caps = append(caps, "dynamic")
	}
	if _, is := b.(Collection); is {
		caps = append(caps, "collection")
	}
	return caps
}

// DescribeBlock returns a plain description tree for a block: cell
// descriptions keyed by name, with nested blocks recursed into.  Used
// for diagnostics, not for the live stream.
func DescribeBlock(b Block) map[string]interface{} {
	cells := map[string]interface{}{}
	for name, cell := range b.State() {
		if cell.IsBlock() {
			cells[name] = DescribeBlock(cell.Get().(Block))
		} else {
			cells[name] = cell.Describe()
		}
	}
	return map[string]interface{}{
		"capabilities": Capabilities(b),
		"cells":        cells,
	}
}

// sortedKeys returns a block state's names in a stable order.
func sortedKeys(cells map[string]Cell) []string {
	names := make([]string, 0, len(cells))
	for name := range cells {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
