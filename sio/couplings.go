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

// Package sio couples state stream sessions to transports: websocket,
// MQTT, stdin/stdout.
package sio

import (
	"context"
	"log"

	"github.com/statewire/statewire/sched"
	"github.com/statewire/statewire/state"
	"github.com/statewire/statewire/stream"
)

// Frame is one outbound transport frame.  Binary frames carry stream
// cell data; text frames carry JSON message batches.
type Frame struct {
	Binary bool
	Data   []byte
}

// Couplings provide channels coupling one subscriber to a state
// stream session.
//
// For example, an implementation could couple a session to an MQTT
// broker, or to stdin/stdout for a console client.
type Couplings interface {
	// Start initializes the Couplings.
	Start(context.Context) error

	// IO returns the inbound command channel and the outbound
	// frame channel.  The coupling closes the inbound channel when
	// the peer is gone.
	IO(context.Context) (chan []byte, chan Frame, error)

	// Stop shuts down the Couplings.
	Stop(context.Context) error
}

// Serve streams root over cs until ctx is done or the peer
// disconnects.  It owns an event loop for the session; inbound
// commands are posted there and outbound frames are handed to the
// coupling's channel.
func Serve(ctx context.Context, cs Couplings, root state.Block, rootURL string) error {
	if err := cs.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := cs.Stop(context.Background()); err != nil {
			log.Printf("sio.Serve couplings stop: %v", err)
		}
	}()

	in, out, err := cs.IO(ctx)
	if err != nil {
		return err
	}

	loop := sched.NewLoop()
	defer loop.Shutdown()
	poller := state.NewPoller(loop)

	send := func(binary bool, data []byte) error {
		select {
		case out <- Frame{Binary: binary, Data: data}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var ss *stream.Session
	started := make(chan bool)
	loop.Post(func() {
		ss = stream.NewSession(send, root, rootURL, poller, loop)
		close(started)
	})
	<-started
	log.Printf("sio.Serve session %s up", ss.Id)

	defer func() {
		closed := make(chan bool)
		loop.Post(func() {
			ss.Close()
			close(closed)
		})
		<-closed
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			m := msg
			loop.Post(func() {
				ss.DataReceived(m)
			})
		}
	}
}
