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

// Package stream implements the live state-streaming protocol: a
// per-subscriber registry of observed objects with reference
// counting, diff computation against last-sent values, message
// batching, and an out-of-band binary channel.
package stream

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"

	"github.com/oklog/ulid/v2"

	"github.com/statewire/statewire/sched"
	"github.com/statewire/statewire/state"
	. "github.com/statewire/statewire/util/testutil"
)

// SendFunc writes one outbound frame.  binary selects the frame type
// on transports that distinguish (websocket text vs binary).
type SendFunc func(binary bool, data []byte) error

// Session is one subscriber's connection: the serial and object
// tables, the pending outbound batch, and the flush timer.
//
// A Session is confined to its scheduler's context.  All methods must
// be called from there; transports hand inbound data off with
// sched.Loop.Post.
type Session struct {
	// Id names the session in logs.
	Id string

	send   SendFunc
	sched  sched.Scheduler
	poller *state.Poller

	lastSerial int
	objs       map[interface{}]*Registration
	serials    map[int]*Registration

	batch     []wireOp
	flushTask sched.Task
	closed    bool
}

// wireOp is one operation record: an array on the wire.
type wireOp []interface{}

// NewSession starts a session streaming root to send.  The root
// registration (serial 0) is a synthetic block cell holding root; it
// is never collected while the session is open.
func NewSession(send SendFunc, root state.Block, rootURL string, poller *state.Poller, s sched.Scheduler) *Session {
	ss := &Session{
		Id:      ulid.Make().String(),
		send:    send,
		sched:   s,
		poller:  poller,
		objs:    make(map[interface{}]*Registration),
		serials: make(map[int]*Registration),
	}
	rootCell := state.NewBlockCell("root", root)
	reg := newRegistration(ss, rootCell, 0, rootURL)
	ss.objs[interface{}(rootCell)] = reg
	ss.serials[0] = reg
	reg.sendNowIfNeeded()
	return ss
}

// lookupOrRegister returns the live registration for obj, creating
// one (refcount 0) and emitting its register message if needed.
// Callers that intend to retain a reference must incRefcount
// themselves.
func (ss *Session) lookupOrRegister(obj interface{}, objURL string) *Registration {
	if reg, have := ss.objs[obj]; have {
		return reg
	}
	ss.lastSerial++
	serial := ss.lastSerial
	reg := newRegistration(ss, obj, serial, objURL)
	ss.objs[obj] = reg
	ss.serials[serial] = reg

	switch reg.kind {
	case kindScalarCell, kindStreamCell, kindBlockCell:
		cell := obj.(state.Cell)
		ss.send1(false, wireOp{"register_cell", serial, objURL, cell.Describe()})
		if reg.kind == kindScalarCell {
			// The initial value rides in the description, so
			// remember it as already sent.
			reg.setPrevValue(cell.Get())
		}
	case kindBlock:
		b := obj.(state.Block)
		ss.send1(false, wireOp{"register_block", serial, objURL, state.Capabilities(b)})
	default:
		ss.send1(false, wireOp{"register", serial, objURL})
	}
	reg.sendNowIfNeeded()
	return reg
}

// doDelete emits the delete message for a dead registration and
// drops it from the tables.
func (ss *Session) doDelete(reg *Registration) {
	ss.send1(false, wireOp{"delete", reg.serial})
	ss.drop(reg)
}

func (ss *Session) drop(reg *Registration) {
	reg.unsubscribe()
	delete(ss.serials, reg.serial)
	delete(ss.objs, reg.obj)
}

// mustRegistration returns the live registration for obj or panics:
// a referenced object with no registration means the bookkeeping is
// corrupt and the session cannot safely continue.
func (ss *Session) mustRegistration(obj interface{}) *Registration {
	reg, have := ss.objs[obj]
	if !have {
		panic(fmt.Sprintf("stream: referenced object has no registration (session %s)", ss.Id))
	}
	return reg
}

// DataReceived handles one inbound command frame.
//
// The only command is ["set", serial, value, id].  Malformed or
// unresolvable commands are logged and ignored; a buggy peer must not
// be able to take down the session.
func (ss *Session) DataReceived(data []byte) {
	if ss.closed {
		return
	}
	var command []interface{}
	if err := json.Unmarshal(data, &command); err != nil {
		log.Printf("stream %s unparseable command: %v", ss.Id, err)
		return
	}
	if len(command) == 0 {
		log.Printf("stream %s empty command", ss.Id)
		return
	}
	op, _ := command[0].(string)
	if op != "set" {
		log.Printf("stream %s unrecognized op %s", ss.Id, JS(command))
		return
	}
	if len(command) != 4 {
		log.Printf("stream %s malformed set %s", ss.Id, JS(command))
		return
	}
	serialF, ok := command[1].(float64)
	if !ok {
		log.Printf("stream %s set with non-numeric serial %s", ss.Id, JS(command))
		return
	}
	serial := int(serialF)
	value := command[2]
	messageId := command[3]

	reg, have := ss.serials[serial]
	if !have {
		log.Printf("stream %s set on unknown serial %d", ss.Id, serial)
		return
	}
	cell, is := reg.obj.(state.Cell)
	if !is {
		log.Printf("stream %s set on non-cell serial %d", ss.Id, serial)
		return
	}
	if err := cell.Set(value); err != nil {
		log.Printf("stream %s set %s failed: %v", ss.Id, reg.url, err)
		return
	}
	// Re-check synchronously so the echo reflects the clamped or
	// validated value, not what the peer asked for.
	reg.sendNowIfNeeded()
	ss.send1(false, wireOp{"done", messageId})
	log.Printf("stream %s set %s to %s", ss.Id, reg.url, JS(value))
}

// Close tears the session down: every registration is force-dropped
// without refcount checks, and any pending flush is cancelled.
func (ss *Session) Close() {
	if ss.closed {
		return
	}
	ss.closed = true
	if ss.flushTask != nil {
		ss.flushTask.Stop()
		ss.flushTask = nil
	}
	for _, reg := range ss.objs {
		reg.dead = true
		reg.unsubscribe()
	}
	ss.objs = make(map[interface{}]*Registration)
	ss.serials = make(map[int]*Registration)
	ss.batch = nil
}

// send1 sends one message.  Binary messages flush pending batched
// text messages first, to preserve relative order as the peer sees
// it, and then go out unbuffered.  Text messages are batched and
// flushed at the next scheduling opportunity so that all changes from
// one notification cycle collapse into a single frame.
func (ss *Session) send1(binary bool, msg interface{}) {
	if ss.closed {
		return
	}
	if binary {
		ss.Flush()
		if err := ss.send(true, msg.([]byte)); err != nil {
			log.Printf("stream %s binary send error: %v", ss.Id, err)
		}
		return
	}
	ss.batch = append(ss.batch, msg.(wireOp))
	if ss.flushTask == nil || !ss.flushTask.Active() {
		ss.flushTask = ss.sched.After(0, ss.Flush)
	}
}

// Flush serializes and sends the pending batch as one frame.
func (ss *Session) Flush() {
	ss.flushTask = nil
	if len(ss.batch) == 0 {
		return
	}
	batch := ss.batch
	ss.batch = nil
	js, err := json.Marshal(batch)
	if err != nil {
		log.Printf("stream %s batch marshal error: %v", ss.Id, err)
		return
	}
	if err := ss.send(false, js); err != nil {
		log.Printf("stream %s send error: %v", ss.Id, err)
	}
}

// childURL extends a registration URL with an escaped child name.
func childURL(base, name string) string {
	return base + "/" + url.PathEscape(name)
}
