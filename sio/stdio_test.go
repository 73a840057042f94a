package sio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/statewire/statewire/state"
)

// lockedBuffer lets the coupling's writer goroutine and the test
// share an output buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStdioSession(t *testing.T) {
	value := state.NewLooseCell("value", 1.0, state.Writable())
	root := state.NewGroup(value)

	pr, pw := io.Pipe()
	out := &lockedBuffer{}

	s := NewStdio()
	s.In = pr
	s.Out = out
	s.Tags = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	served := make(chan error, 1)
	go func() {
		served <- Serve(ctx, s, root, "/stdio")
	}()

	// The initial batch appears on its own.
	waitFor(t, func() bool {
		return strings.Contains(out.String(), "register_cell")
	})

	// Find the value cell's serial in the output, then set it.
	serial := -1
	for _, line := range strings.Split(out.String(), "\n") {
		if i := strings.Index(line, `"register_cell",`); i >= 0 {
			rest := line[i+len(`"register_cell",`):]
			if strings.Contains(rest, "/value") {
				fmt.Sscanf(rest, "%d", &serial)
			}
		}
	}
	if serial < 0 {
		t.Fatalf("no serial in output %q", out.String())
	}

	fmt.Fprintf(pw, "[\"set\",%d,5,\"id1\"]\n", serial)
	waitFor(t, func() bool {
		return strings.Contains(out.String(), `"done"`)
	})
	if got := value.Get(); got != 5.0 {
		t.Fatalf("cell holds %v", got)
	}

	// EOF on input ends the session.
	pw.Close()
	select {
	case err := <-served:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return on EOF")
	}
}

func waitFor(t *testing.T, f func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !f() {
		if time.Now().After(deadline) {
			t.Fatal("timeout")
		}
		time.Sleep(time.Millisecond)
	}
}
