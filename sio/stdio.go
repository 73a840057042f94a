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
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Stdio is a fairly simple Couplings that uses stdin for input and
// stdout for output.  Each input line is one command; each message
// batch is one output line.  Binary frames are written base64-encoded
// with a "data" tag.
type Stdio struct {
	// In is coupled to session input.
	In io.Reader

	// Out is coupled to session output.
	Out io.Writer

	// Timestamps prepends a timestamp to each output line.
	Timestamps bool

	// EchoInput writes input lines (prepended with "input") to
	// the output.
	EchoInput bool

	// Tags prefixes tags indicating type of output ("state",
	// "data", "input").
	Tags bool

	// InputEOF will be closed on EOF from stdin.
	InputEOF chan bool

	in   chan []byte
	out  chan Frame
	done chan bool
}

// NewStdio creates a new Stdio on os.Stdin and os.Stdout.
func NewStdio() *Stdio {
	return &Stdio{
		In:       os.Stdin,
		Out:      os.Stdout,
		InputEOF: make(chan bool),
	}
}

func (s *Stdio) Start(ctx context.Context) error {
	s.in = make(chan []byte, 32)
	s.out = make(chan Frame, 1024)
	s.done = make(chan bool)

	go func() {
		defer close(s.in)
		defer close(s.InputEOF)
		scanner := bufio.NewScanner(s.In)
		scanner.Buffer(make([]byte, 0, 1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if s.EchoInput {
				s.emit("input", line)
			}
			select {
			case s.in <- []byte(line):
			case <-s.done:
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case <-s.done:
				return
			case frame := <-s.out:
				if frame.Binary {
					s.emit("data", base64.StdEncoding.EncodeToString(frame.Data))
				} else {
					s.emit("state", string(frame.Data))
				}
			}
		}
	}()

	return nil
}

func (s *Stdio) emit(tag, line string) {
	var prefix string
	if s.Tags {
		prefix = tag + "\t"
	}
	if s.Timestamps {
		prefix = time.Now().UTC().Format(time.RFC3339Nano) + "\t" + prefix
	}
	fmt.Fprintf(s.Out, "%s%s\n", prefix, line)
}

func (s *Stdio) IO(ctx context.Context) (chan []byte, chan Frame, error) {
	if s.in == nil {
		return nil, nil, fmt.Errorf("Stdio not started")
	}
	return s.in, s.out, nil
}

func (s *Stdio) Stop(ctx context.Context) error {
	close(s.done)
	return nil
}
