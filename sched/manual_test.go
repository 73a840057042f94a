package sched

import (
	"testing"
	"time"
)

func TestManualOrder(t *testing.T) {
	m := NewManual()

	var ran []string
	m.After(2*time.Second, func() { ran = append(ran, "b") })
	m.After(time.Second, func() { ran = append(ran, "a") })
	m.After(2*time.Second, func() { ran = append(ran, "c") })

	m.Advance(3 * time.Second)

	want := "abc"
	var got string
	for _, s := range ran {
		got += s
	}
	if got != want {
		t.Fatalf("ran %s, want %s", got, want)
	}
}

func TestManualNothingRunsUnasked(t *testing.T) {
	m := NewManual()
	ran := false
	m.After(0, func() { ran = true })
	if ran {
		t.Fatal("ran before Advance")
	}
	m.Tick()
	if !ran {
		t.Fatal("didn't run on Tick")
	}
}

func TestManualNested(t *testing.T) {
	m := NewManual()
	var ran []int
	m.After(time.Second, func() {
		ran = append(ran, 1)
		m.After(time.Second, func() {
			ran = append(ran, 2)
		})
	})

	m.Advance(time.Second)
	if len(ran) != 1 {
		t.Fatalf("got %v", ran)
	}
	m.Advance(time.Second)
	if len(ran) != 2 || ran[1] != 2 {
		t.Fatalf("got %v", ran)
	}
}

func TestManualStop(t *testing.T) {
	m := NewManual()
	ran := false
	task := m.After(time.Second, func() { ran = true })
	if !task.Active() {
		t.Fatal("not active")
	}
	if !task.Stop() {
		t.Fatal("Stop said no")
	}
	if task.Stop() {
		t.Fatal("second Stop said yes")
	}
	m.Advance(2 * time.Second)
	if ran {
		t.Fatal("ran after Stop")
	}
	if m.Pending() != 0 {
		t.Fatalf("pending %d", m.Pending())
	}
}
