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
	"encoding/binary"
	"fmt"
	"reflect"
	"sort"

	"github.com/statewire/statewire/state"
)

// kind classifies an observed object once, at registration time.
type kind int

const (
	kindScalarCell kind = iota
	kindBlockCell
	kindStreamCell
	kindBlock
	kindOpaque
)

func kindOf(obj interface{}) kind {
	switch o := obj.(type) {
	case state.DataCell:
		return kindStreamCell
	case state.Cell:
		if o.IsBlock() {
			return kindBlockCell
		}
		return kindScalarCell
	case state.Block:
		return kindBlock
	default:
		return kindOpaque
	}
}

// Registration is the per-session bookkeeping for one live object: a
// wire serial, a reference count, and the last value sent.
type Registration struct {
	s      *Session
	obj    interface{}
	serial int
	url    string
	kind   kind

	refcount int
	dead     bool

	// Exactly one of these previous-value forms is live at a time.
	hasPrev   bool
	prevValue interface{}            // last sent scalar value
	prevRefs  map[string]interface{} // name -> object, when the value is references

	sub state.Subscription
}

func newRegistration(ss *Session, obj interface{}, serial int, objURL string) *Registration {
	r := &Registration{
		s:      ss,
		obj:    obj,
		serial: serial,
		url:    objURL,
		kind:   kindOf(obj),
	}
	switch r.kind {
	case kindScalarCell, kindBlockCell:
		r.sub = ss.poller.Subscribe(obj.(state.Cell), r.listenCell)
	case kindStreamCell:
		r.sub = obj.(state.DataCell).SubscribeData(r.listenData)
	case kindBlock:
		r.sub = ss.poller.SubscribeState(obj.(state.Block), r.listenState)
	}
	return r
}

func (r *Registration) String() string {
	return r.url
}

func (r *Registration) unsubscribe() {
	if r.sub != nil {
		r.sub.Unsubscribe()
		r.sub = nil
	}
}

// sendNowIfNeeded pushes the object's current value immediately so a
// new subscriber does not have to wait for a change event.  For
// scalar cells whose value already rode in the registration
// description, the equality check suppresses a redundant message.
func (r *Registration) sendNowIfNeeded() {
	switch r.kind {
	case kindScalarCell, kindBlockCell:
		r.listenCell()
	case kindBlock:
		r.listenState()
	}
	// Stream cells send nothing until the producer does.
}

// listenCell handles a (possible) value change on a cell.
func (r *Registration) listenCell() {
	if r.dead {
		return
	}
	cell := r.obj.(state.Cell)
	if cell.IsBlock() {
		block := cell.Get().(state.Block)
		r.s.lookupOrRegister(block, r.url)
		r.maybeSendRefs(map[string]interface{}{"value": block}, true)
		return
	}
	r.maybeSend(cell.Get())
}

// listenData forwards one binary payload: 4-byte big-endian serial,
// then the raw bytes, outside the batch.  Push can come from any
// producer goroutine, so the send is bounced through the session's
// scheduler.
func (r *Registration) listenData(payload []byte) {
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(r.serial))
	copy(frame[4:], payload)
	r.s.sched.After(0, func() {
		if r.dead {
			return
		}
		r.s.send1(true, frame)
	})
}

// listenState handles a (possible) child-set change on a block.
func (r *Registration) listenState() {
	if r.dead {
		return
	}
	b := r.obj.(state.Block)
	objs := make(map[string]interface{}, len(b.State()))
	for name, cell := range b.State() {
		objs[name] = cell
	}
	r.maybeSendRefs(objs, false)
}

// maybeSend emits a value message for a scalar cell, suppressed when
// the value equals the last one sent.
func (r *Registration) maybeSend(value interface{}) {
	if r.hasPrev && reflect.DeepEqual(value, r.prevValue) {
		return
	}
	r.setPrevValue(value)
	r.s.send1(false, wireOp{"value", r.serial, value})
}

// maybeSendRefs emits a value message whose payload is object
// references.  Every referenced object is registered lazily; if the
// mapping actually changed, the new references are retained, the
// value goes out (a single serial when single, else a name->serial
// mapping), and the old references are released in serial order so
// the delete sequence is reproducible.
func (r *Registration) maybeSendRefs(objs map[string]interface{}, single bool) {
	regs := make(map[string]*Registration, len(objs))
	for name, obj := range objs {
		regs[name] = r.s.lookupOrRegister(obj, childURL(r.url, name))
	}
	if r.hasPrev && sameRefs(objs, r.prevRefs) {
		return
	}
	for _, reg := range regs {
		reg.incRefcount()
	}
	if single {
		r.s.send1(false, wireOp{"value", r.serial, regs["value"].serial})
	} else {
		serials := make(map[string]interface{}, len(regs))
		for name, reg := range regs {
			serials[name] = reg.serial
		}
		r.s.send1(false, wireOp{"value", r.serial, serials})
	}
	if r.hasPrev {
		r.releaseRefs(r.prevRefs)
	}
	r.setPrevRefs(objs)
}

func (r *Registration) setPrevValue(value interface{}) {
	r.hasPrev = true
	r.prevValue = value
	r.prevRefs = nil
}

func (r *Registration) setPrevRefs(objs map[string]interface{}) {
	for _, obj := range objs {
		// Cheap corruption check before we depend on these later.
		r.s.mustRegistration(obj)
	}
	r.hasPrev = true
	r.prevValue = nil
	r.prevRefs = objs
}

// releaseRefs decrements every object referenced by a previous value,
// ordered by serial for determinism.
func (r *Registration) releaseRefs(refs map[string]interface{}) {
	regs := make([]*Registration, 0, len(refs))
	for _, obj := range refs {
		regs = append(regs, r.s.mustRegistration(obj))
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].serial < regs[j].serial })
	for _, reg := range regs {
		reg.decRefcountAndMaybeNotify()
	}
}

func (r *Registration) incRefcount() {
	if r.dead {
		panic(fmt.Sprintf("stream: incrementing dead registration %s", r.url))
	}
	r.refcount++
}

// decRefcountAndMaybeNotify decrements, and at zero finalizes the
// registration synchronously: delete message, table drop, and a
// recursive release of everything the last value referenced.
func (r *Registration) decRefcountAndMaybeNotify() {
	if r.dead {
		panic(fmt.Sprintf("stream: decrementing dead registration %s", r.url))
	}
	r.refcount--
	if r.refcount < 0 {
		panic(fmt.Sprintf("stream: negative refcount on %s", r.url))
	}
	if r.refcount > 0 {
		return
	}
	r.dead = true
	r.s.doDelete(r)

	refs := r.prevRefs
	r.hasPrev = false
	r.prevValue = nil
	r.prevRefs = nil

	if refs != nil {
		r.releaseRefs(refs)
	}
}

// sameRefs reports whether two reference mappings denote the same
// objects under the same names.
func sameRefs(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for name, obj := range a {
		if other, have := b[name]; !have || other != obj {
			return false
		}
	}
	return true
}
