package stream

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/statewire/statewire/sched"
	"github.com/statewire/statewire/state"
)

type testFrame struct {
	binary bool
	data   []byte
}

type harness struct {
	t      *testing.T
	m      *sched.Manual
	poller *state.Poller
	frames []testFrame
	ss     *Session

	// lastTextFrames counts text frames consumed by the last take.
	lastTextFrames int
}

func newHarness(t *testing.T, root state.Block) *harness {
	h := &harness{t: t, m: sched.NewManual()}
	h.poller = state.NewPoller(h.m)
	send := func(binary bool, data []byte) error {
		cp := make([]byte, len(data))
		copy(cp, data)
		h.frames = append(h.frames, testFrame{binary, cp})
		return nil
	}
	h.ss = NewSession(send, root, "/root", h.poller, h.m)
	return h
}

// take runs one scheduling cycle and returns every op sent since the
// last call, flattened across batches.
func (h *harness) take() [][]interface{} {
	h.m.Tick()
	var ops [][]interface{}
	h.lastTextFrames = 0
	for _, f := range h.frames {
		if f.binary {
			continue
		}
		h.lastTextFrames++
		var batch [][]interface{}
		if err := json.Unmarshal(f.data, &batch); err != nil {
			h.t.Fatalf("bad batch %s: %v", f.data, err)
		}
		ops = append(ops, batch...)
	}
	h.frames = nil
	return ops
}

func opName(op []interface{}) string {
	s, _ := op[0].(string)
	return s
}

func opSerial(op []interface{}) int {
	f, ok := op[1].(float64)
	if !ok {
		return -1
	}
	return int(f)
}

// registeredSerial finds the serial registered for a URL suffix.
func registeredSerial(t *testing.T, ops [][]interface{}, suffix string) int {
	for _, op := range ops {
		switch opName(op) {
		case "register_cell", "register_block", "register":
			if url, _ := op[2].(string); strings.HasSuffix(url, suffix) {
				return opSerial(op)
			}
		}
	}
	t.Fatalf("nothing registered for %s in %v", suffix, ops)
	return -1
}

// registeredBlockSerial finds the serial a register_block op announced
// for a URL suffix.  A block and the cell holding it share a URL, so
// suffix matching alone can land on the cell's register_cell instead.
func registeredBlockSerial(t *testing.T, ops [][]interface{}, suffix string) int {
	for _, op := range ops {
		if opName(op) == "register_block" {
			if url, _ := op[2].(string); strings.HasSuffix(url, suffix) {
				return opSerial(op)
			}
		}
	}
	t.Fatalf("no block registered for %s in %v", suffix, ops)
	return -1
}

func valueOpsFor(ops [][]interface{}, serial int) [][]interface{} {
	var out [][]interface{}
	for _, op := range ops {
		if opName(op) == "value" && opSerial(op) == serial {
			out = append(out, op)
		}
	}
	return out
}

func simpleRoot() (*state.Group, *state.LooseCell) {
	value := state.NewLooseCell("value", 1.0, state.Writable())
	inner := state.NewLooseCell("inner", 10.0, state.Writable())
	sub := state.NewGroup(inner)
	root := state.NewGroup(value, state.NewBlockCell("block", sub))
	return root, value
}

func TestSessionInitial(t *testing.T) {
	root, _ := simpleRoot()
	h := newHarness(t, root)
	ops := h.take()

	// The root block gets registered and becomes the root cell's
	// value.
	rootSerial := registeredSerial(t, ops, "/root")
	vops := valueOpsFor(ops, 0)
	if len(vops) != 1 {
		t.Fatalf("root value ops %v", vops)
	}
	if got := int(vops[0][2].(float64)); got != rootSerial {
		t.Fatalf("root points at %v, registered %d", vops[0][2], rootSerial)
	}

	// The scalar cell's initial value rides in its description;
	// no separate value op.
	valueSerial := registeredSerial(t, ops, "/root/value")
	if vops := valueOpsFor(ops, valueSerial); len(vops) != 0 {
		t.Fatalf("redundant initial value ops %v", vops)
	}
	for _, op := range ops {
		if opName(op) == "register_cell" && opSerial(op) == valueSerial {
			desc, _ := op[3].(map[string]interface{})
			if desc["current"] != 1.0 {
				t.Fatalf("description %v", desc)
			}
		}
	}

	// Registers precede the value ops that reference them.
	known := map[int]bool{0: true}
	for _, op := range ops {
		switch opName(op) {
		case "register_cell", "register_block", "register":
			known[opSerial(op)] = true
		case "value":
			if !known[opSerial(op)] {
				t.Fatalf("value for unregistered %d", opSerial(op))
			}
		}
	}

	// Everything arrived as a single frame.
	if h.lastTextFrames != 1 {
		t.Fatalf("initial state took %d frames", h.lastTextFrames)
	}
}

func TestSessionScalarChange(t *testing.T) {
	root, value := simpleRoot()
	h := newHarness(t, root)
	serial := registeredSerial(t, h.take(), "/root/value")

	value.Set(2.0)
	ops := h.take()
	vops := valueOpsFor(ops, serial)
	if len(vops) != 1 || vops[0][2] != 2.0 {
		t.Fatalf("value ops %v", vops)
	}

	// Same value again: silence.
	value.Set(2.0)
	if ops := h.take(); len(ops) != 0 {
		t.Fatalf("ops after no-op set: %v", ops)
	}
}

func TestSessionCoalescing(t *testing.T) {
	root, value := simpleRoot()
	h := newHarness(t, root)
	serial := registeredSerial(t, h.take(), "/root/value")

	// Many changes inside one tick: only the last value goes out.
	value.Set(2.0)
	value.Set(3.0)
	value.Set(4.0)
	ops := h.take()
	vops := valueOpsFor(ops, serial)
	if len(vops) != 1 || vops[0][2] != 4.0 {
		t.Fatalf("value ops %v", vops)
	}
}

func TestSessionSetCommand(t *testing.T) {
	root, value := simpleRoot()
	h := newHarness(t, root)
	serial := registeredSerial(t, h.take(), "/root/value")

	h.ss.DataReceived([]byte(fmt.Sprintf(`["set",%d,5,"id9"]`, serial)))

	if got := value.Get(); got != 5.0 {
		t.Fatalf("cell holds %v", got)
	}
	ops := h.take()
	vops := valueOpsFor(ops, serial)
	if len(vops) != 1 || vops[0][2] != 5.0 {
		t.Fatalf("echo ops %v", vops)
	}
	var done bool
	for _, op := range ops {
		if opName(op) == "done" && op[1] == "id9" {
			done = true
		}
	}
	if !done {
		t.Fatalf("no done op in %v", ops)
	}
}

func TestSessionBadCommands(t *testing.T) {
	root, value := simpleRoot()
	h := newHarness(t, root)
	h.take()

	for _, bad := range []string{
		`not json`,
		`[]`,
		`["frob",1,2,"id"]`,
		`["set",1,2]`,
		`["set","x",2,"id"]`,
		`["set",9999,2,"id"]`,
	} {
		h.ss.DataReceived([]byte(bad))
	}
	if ops := h.take(); len(ops) != 0 {
		t.Fatalf("ops after bad commands: %v", ops)
	}
	if got := value.Get(); got != 1.0 {
		t.Fatalf("cell holds %v", got)
	}
}

func TestSessionDynamicChildren(t *testing.T) {
	dyn := state.NewDynamicGroup()
	root := state.NewGroup(state.NewBlockCell("kids", dyn))
	h := newHarness(t, root)
	initial := h.take()
	// The child-set value op rides on the block's serial, not on the
	// serial of the cell holding it.
	dynSerial := registeredBlockSerial(t, initial, "/root/kids")

	a := state.NewLooseCell("a", 1.0, state.Writable())
	b := state.NewLooseCell("b", 2.0, state.Writable())
	dyn.Add(a)
	dyn.Add(b)

	ops := h.take()
	aSerial := registeredSerial(t, ops, "/root/kids/a")
	bSerial := registeredSerial(t, ops, "/root/kids/b")
	vops := valueOpsFor(ops, dynSerial)
	if len(vops) != 1 {
		t.Fatalf("dyn value ops %v", vops)
	}
	refs, _ := vops[0][2].(map[string]interface{})
	if int(refs["a"].(float64)) != aSerial || int(refs["b"].(float64)) != bSerial {
		t.Fatalf("refs %v", refs)
	}

	// Removing both children deletes them in serial order.
	dyn.Remove("a")
	dyn.Remove("b")
	ops = h.take()
	var deletes []int
	for _, op := range ops {
		if opName(op) == "delete" {
			deletes = append(deletes, opSerial(op))
		}
	}
	want := []int{aSerial, bSerial}
	if aSerial > bSerial {
		want = []int{bSerial, aSerial}
	}
	if len(deletes) != 2 || deletes[0] != want[0] || deletes[1] != want[1] {
		t.Fatalf("deletes %v, want %v", deletes, want)
	}

	// The removed cells must not report changes anymore.
	a.Set(9.0)
	if ops := h.take(); len(ops) != 0 {
		t.Fatalf("ops after removed cell set: %v", ops)
	}
}

func TestSessionSharedBlock(t *testing.T) {
	shared := state.NewGroup(state.NewLooseCell("x", 1.0))
	c1 := state.NewBlockCell("one", shared)
	c2 := state.NewBlockCell("two", shared)
	root := state.NewGroup(c1, c2)
	h := newHarness(t, root)
	initial := h.take()

	oneSerial := registeredSerial(t, initial, "/root/one")
	vops := valueOpsFor(initial, oneSerial)
	if len(vops) != 1 {
		t.Fatalf("one value ops %v", vops)
	}
	sharedSerial := int(vops[0][2].(float64))

	twoSerial := registeredSerial(t, initial, "/root/two")
	vops = valueOpsFor(initial, twoSerial)
	if len(vops) != 1 || int(vops[0][2].(float64)) != sharedSerial {
		t.Fatalf("two does not share: %v", vops)
	}

	deletesIn := func(ops [][]interface{}) []int {
		var ds []int
		for _, op := range ops {
			if opName(op) == "delete" {
				ds = append(ds, opSerial(op))
			}
		}
		return ds
	}

	// Dropping one reference keeps the shared block alive.
	c1.SetBlock(state.NewGroup())
	ops := h.take()
	for _, d := range deletesIn(ops) {
		if d == sharedSerial {
			t.Fatal("shared block deleted while still referenced")
		}
	}

	// Dropping the last reference deletes it.
	c2.SetBlock(state.NewGroup())
	ops = h.take()
	found := false
	for _, d := range deletesIn(ops) {
		if d == sharedSerial {
			found = true
		}
	}
	if !found {
		t.Fatalf("no delete for shared block in %v", ops)
	}
}

func TestSessionBinary(t *testing.T) {
	data := state.NewStreamCell("data", "")
	value := state.NewLooseCell("value", 1.0, state.Writable())
	root := state.NewGroup(data, value)
	h := newHarness(t, root)
	initial := h.take()
	dataSerial := registeredSerial(t, initial, "/root/data")

	// A pending text batch is flushed before binary data goes out.
	value.Set(2.0)
	data.Push([]byte("abc"))
	h.m.Tick()

	if len(h.frames) != 2 {
		t.Fatalf("%d frames", len(h.frames))
	}
	if h.frames[0].binary || !h.frames[1].binary {
		t.Fatalf("frame order: %v %v", h.frames[0].binary, h.frames[1].binary)
	}
	bin := h.frames[1].data
	if len(bin) != 4+3 {
		t.Fatalf("binary frame %d bytes", len(bin))
	}
	if got := int(binary.BigEndian.Uint32(bin)); got != dataSerial {
		t.Fatalf("binary serial %d, want %d", got, dataSerial)
	}
	if string(bin[4:]) != "abc" {
		t.Fatalf("payload %q", bin[4:])
	}
}

func TestSessionClose(t *testing.T) {
	root, value := simpleRoot()
	h := newHarness(t, root)
	serial := registeredSerial(t, h.take(), "/root/value")

	h.ss.Close()

	value.Set(2.0)
	h.m.Tick()
	if len(h.frames) != 0 {
		t.Fatalf("%d frames after close", len(h.frames))
	}

	h.ss.DataReceived([]byte(fmt.Sprintf(`["set",%d,5,"id"]`, serial)))
	h.m.Tick()
	if len(h.frames) != 0 {
		t.Fatal("frames after close")
	}
}
