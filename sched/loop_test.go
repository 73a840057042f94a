package sched

import (
	"testing"
	"time"
)

func TestLoopPostOrder(t *testing.T) {
	l := NewLoop()
	defer l.Shutdown()

	got := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		l.Post(func() { got <- i })
	}
	for i := 0; i < 3; i++ {
		select {
		case n := <-got:
			if n != i {
				t.Fatalf("got %d, want %d", n, i)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
	}
}

func TestLoopAfter(t *testing.T) {
	l := NewLoop()
	defer l.Shutdown()

	ran := make(chan bool, 1)
	l.After(10*time.Millisecond, func() { ran <- true })
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestLoopAfterStop(t *testing.T) {
	l := NewLoop()
	defer l.Shutdown()

	ran := make(chan bool, 1)
	task := l.After(50*time.Millisecond, func() { ran <- true })
	if !task.Stop() {
		t.Fatal("Stop said no")
	}
	select {
	case <-ran:
		t.Fatal("ran after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLoopShutdown(t *testing.T) {
	l := NewLoop()
	l.Shutdown()
	l.Shutdown() // must not panic

	// Post after shutdown is dropped, not deadlocked.
	done := make(chan bool)
	go func() {
		l.Post(func() {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Post blocked after Shutdown")
	}
}
