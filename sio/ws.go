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

package sio

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/statewire/statewire/sched"
	"github.com/statewire/statewire/state"
	"github.com/statewire/statewire/stream"
)

// WSHandler serves state stream sessions over websockets.  The
// request path below the mount point selects the subtree to stream:
// GET /stream/ streams the root, GET /stream/radio/audio streams that
// nested block.
type WSHandler struct {
	Root state.Block

	// Prefix is the mount point stripped from request paths.
	Prefix string

	// Upgrader defaults to one that accepts any origin; override
	// for stricter checking.
	Upgrader *websocket.Upgrader
}

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, err := h.resolve(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	up := h.Upgrader
	if up == nil {
		up = &defaultUpgrader
	}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		log.Println("sio.WSHandler upgrade error", err)
		return
	}
	defer c.Close()

	ctl := make(chan bool)
	defer close(ctl)

	out := make(chan Frame, 1024)

	loop := sched.NewLoop()
	defer loop.Shutdown()
	poller := state.NewPoller(loop)

	send := func(binary bool, data []byte) error {
		select {
		case out <- Frame{Binary: binary, Data: data}:
			return nil
		case <-ctl:
			return websocket.ErrCloseSent
		}
	}

	var ss *stream.Session
	started := make(chan bool)
	loop.Post(func() {
		ss = stream.NewSession(send, target, r.URL.Path, poller, loop)
		close(started)
	})
	<-started
	log.Printf("sio.WSHandler session %s for %s", ss.Id, r.URL.Path)

	defer func() {
		closed := make(chan bool)
		loop.Post(func() {
			ss.Close()
			close(closed)
		})
		<-closed
	}()

	go func() {
		for {
			select {
			case <-ctl:
				return
			case frame := <-out:
				mt := websocket.TextMessage
				if frame.Binary {
					mt = websocket.BinaryMessage
				}
				if err := c.WriteMessage(mt, frame.Data); err != nil {
					log.Println("sio.WSHandler write:", err)
					return
				}
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			log.Println("sio.WSHandler read:", err)
			break
		}
		m := message
		loop.Post(func() {
			ss.DataReceived(m)
		})
	}
}

// resolve maps a request path to a block in the tree.
func (h *WSHandler) resolve(path string) (state.Block, error) {
	rel := strings.Trim(strings.TrimPrefix(path, h.Prefix), "/")
	if rel == "" {
		return h.Root, nil
	}
	return state.LookupPath(h.Root, strings.Split(rel, "/"))
}
