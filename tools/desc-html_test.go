package tools

import (
	"bytes"
	"strings"
	"testing"

	"github.com/statewire/statewire/state"
)

func testBlock() state.Block {
	gain := state.NewLooseCell("gain", 10.0,
		state.Writable(),
		state.Doc("Gain in *dB*."))
	inner := state.NewGroup(state.NewLooseCell("inner", 1.0))
	return state.NewGroup(gain, state.NewBlockCell("sub", inner))
}

func TestRenderDescHTML(t *testing.T) {
	var out bytes.Buffer
	if err := RenderDescHTML(testBlock(), &out); err != nil {
		t.Fatal(err)
	}
	html := out.String()

	for _, want := range []string{
		`class="cellName">gain<`,
		`class="cellName">inner<`,
		"value_cell",
		"writable",
		"<em>dB</em>", // Markdown rendered
		"10",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("missing %q in %s", want, html)
		}
	}
}

func TestRenderDescPage(t *testing.T) {
	var out bytes.Buffer
	if err := RenderDescPage("a <title>", testBlock(), &out, nil); err != nil {
		t.Fatal(err)
	}
	html := out.String()
	if !strings.Contains(html, "<!DOCTYPE html>") {
		t.Fatal("not a page")
	}
	if !strings.Contains(html, "a &lt;title&gt;") {
		t.Fatal("title not escaped")
	}
	if strings.Contains(html, "a <title>") {
		t.Fatal("raw title leaked")
	}
}
