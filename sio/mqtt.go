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
	"context"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOpts configures an MQTTCouplings.
type MQTTOpts struct {
	// Broker is the broker URL ("tcp://localhost:1883").
	Broker string

	ClientId string
	Username string
	Password string

	// TopicPrefix roots the topics: commands arrive on
	// prefix/set, batches go out on prefix/state, binary data on
	// prefix/data.
	TopicPrefix string

	KeepAlive time.Duration

	// Quiesce is the disconnection quiescence in milliseconds.
	Quiesce uint

	// InTimeout bounds in-bound queuing; commands that cannot be
	// queued in time are dropped with a log line.
	InTimeout time.Duration
}

// MQTTCouplings is a Couplings for an MQTT client: one session
// bridged to three topics under a prefix.
type MQTTCouplings struct {
	Opts MQTTOpts

	client mqtt.Client
	in     chan []byte
	out    chan Frame
	done   chan bool
}

// NewMQTTCouplings creates (but does not connect) the couplings.
func NewMQTTCouplings(opts MQTTOpts) *MQTTCouplings {
	if opts.KeepAlive == 0 {
		opts.KeepAlive = 10 * time.Second
	}
	if opts.Quiesce == 0 {
		opts.Quiesce = 100
	}
	if opts.InTimeout == 0 {
		opts.InTimeout = time.Second
	}
	return &MQTTCouplings{
		Opts: opts,
		in:   make(chan []byte, 32),
		out:  make(chan Frame, 1024),
		done: make(chan bool),
	}
}

func (c *MQTTCouplings) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.Opts.Broker)
	opts.SetClientID(c.Opts.ClientId)
	opts.SetKeepAlive(c.Opts.KeepAlive)
	opts.Username = c.Opts.Username
	opts.Password = c.Opts.Password

	c.client = mqtt.NewClient(opts)
	if t := c.client.Connect(); t.Wait() && t.Error() != nil {
		return t.Error()
	}

	setTopic := c.Opts.TopicPrefix + "/set"
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		timeout := time.NewTimer(c.Opts.InTimeout)
		defer timeout.Stop()
		select {
		case c.in <- msg.Payload():
		case <-timeout.C:
			log.Printf("sio.MQTTCouplings dropped command on %s", msg.Topic())
		case <-c.done:
		}
	}
	if t := c.client.Subscribe(setTopic, 0, handler); t.Wait() && t.Error() != nil {
		return t.Error()
	}

	go c.publishLoop()
	return nil
}

func (c *MQTTCouplings) publishLoop() {
	stateTopic := c.Opts.TopicPrefix + "/state"
	dataTopic := c.Opts.TopicPrefix + "/data"
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.out:
			topic := stateTopic
			if frame.Binary {
				topic = dataTopic
			}
			if t := c.client.Publish(topic, 0, false, frame.Data); t.Wait() && t.Error() != nil {
				log.Printf("sio.MQTTCouplings publish error: %v", t.Error())
			}
		}
	}
}

func (c *MQTTCouplings) IO(ctx context.Context) (chan []byte, chan Frame, error) {
	if c.client == nil {
		return nil, nil, fmt.Errorf("MQTTCouplings not started")
	}
	return c.in, c.out, nil
}

func (c *MQTTCouplings) Stop(ctx context.Context) error {
	close(c.done)
	c.client.Disconnect(c.Opts.Quiesce)
	return nil
}
