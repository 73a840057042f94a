package main

import (
	"context"
	"fmt"
	"time"

	"github.com/statewire/statewire/state"
	"github.com/statewire/statewire/stream"
)

// The server block is always present; these are its live cells.
var (
	demoClock  *state.StreamCell
	demoUptime *state.LooseCell
)

// BuildRoot assembles the served tree: the configured (or demo) cells
// plus a "server" block with a clock stream, an uptime cell, and a
// save command.
func BuildRoot(configFile string, saver func()) (*state.Group, error) {
	var cells []state.Cell
	if configFile == "" {
		cells = demoCells()
	} else {
		config, err := loadConfig(configFile)
		if err != nil {
			return nil, err
		}
		cells, err = buildCells(config.Cells, config.Blocks)
		if err != nil {
			return nil, err
		}
	}
	cells = append(cells, state.NewBlockCell("server", serverBlock(saver)))
	return state.NewGroup(cells...), nil
}

func serverBlock(saver func()) *state.Group {
	demoClock = state.NewStreamCell("clock", "One timestamp per second.")
	demoUptime = state.NewLooseCell("uptime", 0.0,
		state.Ephemeral(),
		state.Doc("Seconds since start."))
	save := state.NewCommandCell("save", func() error {
		saver()
		return nil
	}, "Write state to disk now.")
	return state.NewGroup(demoClock, demoUptime, save)
}

func demoCells() []state.Cell {
	freq := state.NewLooseCell("freq", 100e6,
		state.Writable(),
		state.Doc("Center frequency in Hz."),
		state.Coerce(clampFloat(0, 3e9)))
	gain := state.NewLooseCell("gain", 10.0,
		state.Writable(),
		state.Doc("Gain in dB."),
		state.Coerce(clampFloat(0, 100)))
	mode := state.NewLooseCell("mode", "idle",
		state.Writable(),
		state.Doc("Operating mode."))
	receivers := state.NewGroupCollection(newReceiver)
	radio := state.NewGroup(freq, gain, mode,
		state.NewBlockCell("receivers", receivers))
	return []state.Cell{state.NewBlockCell("radio", radio)}
}

func newReceiver(name string, initial map[string]interface{}) (state.Cell, error) {
	g := state.NewGroup(
		state.NewLooseCell("freq", 0.0, state.Writable(),
			state.Coerce(clampFloat(0, 3e9))),
		state.NewLooseCell("label", "", state.Writable()),
		state.NewLooseCell("mute", false, state.Writable()),
	)
	state.ApplySnapshot(g, initial)
	return state.NewBlockCell(name, g), nil
}

func clampFloat(lo, hi float64) func(interface{}) (interface{}, error) {
	return func(v interface{}) (interface{}, error) {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("want a number, got %T", v)
		}
		if f < lo {
			f = lo
		}
		if f > hi {
			f = hi
		}
		return f, nil
	}
}

// StartDemoTicker animates the server block: one clock payload and
// one uptime bump per second.
func StartDemoTicker(ctx context.Context, root *state.Group) {
	feed := stream.NewFeed(demoClock)
	start := time.Now()
	go func() {
		defer feed.Close()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				feed.Write([]byte(now.UTC().Format(time.RFC3339) + "\n"))
				demoUptime.SetInternal(time.Since(start).Seconds())
			}
		}
	}()
}
