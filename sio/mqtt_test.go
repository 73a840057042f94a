package sio

import (
	"context"
	"testing"
	"time"
)

func TestMQTTCouplingsDefaults(t *testing.T) {
	c := NewMQTTCouplings(MQTTOpts{Broker: "tcp://localhost:1883"})
	if c.Opts.KeepAlive != 10*time.Second {
		t.Fatalf("keepalive %v", c.Opts.KeepAlive)
	}
	if c.Opts.Quiesce != 100 {
		t.Fatalf("quiesce %v", c.Opts.Quiesce)
	}
	if c.Opts.InTimeout != time.Second {
		t.Fatalf("in timeout %v", c.Opts.InTimeout)
	}
}

func TestMQTTCouplingsIOBeforeStart(t *testing.T) {
	c := NewMQTTCouplings(MQTTOpts{})
	if _, _, err := c.IO(context.Background()); err == nil {
		t.Fatal("IO before Start succeeded")
	}
}
