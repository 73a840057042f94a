package stream

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/statewire/statewire/state"
)

func TestFeedDelivers(t *testing.T) {
	cell := state.NewStreamCell("data", "")

	var mu sync.Mutex
	var got []byte
	pushed := make(chan bool, 16)
	cell.SubscribeData(func(payload []byte) {
		mu.Lock()
		got = append(got, payload...)
		mu.Unlock()
		pushed <- true
	})

	f := NewFeed(cell)
	defer f.Close()

	f.Write([]byte("abc"))
	f.Write([]byte("def"))

	want := []byte("abcdef")
	deadline := time.After(time.Second)
	for {
		mu.Lock()
		done := bytes.Equal(got, want)
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-pushed:
		case <-deadline:
			mu.Lock()
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestFeedCoalesces(t *testing.T) {
	cell := state.NewStreamCell("data", "")

	release := make(chan bool)
	var mu sync.Mutex
	var payloads [][]byte
	first := make(chan bool)
	cell.SubscribeData(func(payload []byte) {
		mu.Lock()
		payloads = append(payloads, payload)
		n := len(payloads)
		mu.Unlock()
		if n == 1 {
			close(first)
			<-release // stall the consumer
		}
	})

	f := NewFeed(cell)
	defer f.Close()

	f.Write([]byte("a"))
	<-first
	// While the first push is stalled, these pile up and coalesce.
	f.Write([]byte("b"))
	f.Write([]byte("c"))
	f.Write([]byte("d"))
	close(release)

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		var total []byte
		for _, p := range payloads {
			total = append(total, p...)
		}
		n := len(payloads)
		mu.Unlock()
		if bytes.Equal(total, []byte("abcd")) {
			if n != 2 {
				t.Fatalf("%d pushes, want 2 (one coalesced)", n)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("payloads %q", payloads)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestFeedClose(t *testing.T) {
	cell := state.NewStreamCell("data", "")
	f := NewFeed(cell)
	f.Close()
	f.Close() // must not panic
	f.Write([]byte("late")) // must not block or panic
}
