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

// Package tools renders state tree descriptions for humans.
package tools

import (
	"fmt"
	"html"
	"io"
	"sort"
	"strings"

	md "github.com/russross/blackfriday/v2"

	"github.com/statewire/statewire/state"
	. "github.com/statewire/statewire/util/testutil"
)

// RenderDescHTML writes an HTML fragment describing a block's cell
// tree.  Cell doc strings are treated as Markdown.
func RenderDescHTML(b state.Block, out io.Writer) error {
	f := func(format string, args ...interface{}) {
		fmt.Fprintf(out, format+"\n", args...)
	}
	var render func(b state.Block, path string)
	render = func(b state.Block, path string) {
		caps := state.Capabilities(b)
		if len(caps) > 0 {
			f(`<div class="caps">%s</div>`, html.EscapeString(strings.Join(caps, " ")))
		}
		f(`<table class="cells">`)
		cells := b.State()
		names := make([]string, 0, len(cells))
		for name := range cells {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			cell := cells[name]
			id := path + "/" + name
			f(`<tr class="cell"><td><span id="%s" class="cellName">%s</span></td><td>`,
				html.EscapeString(id), html.EscapeString(name))
			if cell.IsBlock() {
				render(cell.Get().(state.Block), id)
			} else {
				d := cell.Describe()
				f(`<div class="cellType">%s</div>`, d["type"])
				if cell.Writable() {
					f(`<div class="writable">writable</div>`)
				}
				if doc, has := d["doc"].(string); has && doc != "" {
					f(`<div class="cellDoc doc">%s</div>`, md.Run([]byte(doc)))
				}
				if current, has := d["current"]; has {
					f(`<div class="current"><code>%s</code></div>`, html.EscapeString(JS(current)))
				}
			}
			f(`</td></tr>`)
		}
		f(`</table>`)
	}
	render(b, "")
	return nil
}

// RenderDescPage writes a complete HTML page describing a block's
// cell tree.
func RenderDescPage(title string, b state.Block, out io.Writer, cssFiles []string) error {
	if cssFiles == nil {
		cssFiles = []string{"/static/desc-html.css"}
	}

	fmt.Fprintf(out, `<!DOCTYPE html>
<meta charset="utf-8">
<html>
  <head>
  <title>%s</title>
`, html.EscapeString(title))

	for _, cssFile := range cssFiles {
		fmt.Fprintf(out, "  <link href=\"%s\" rel=\"stylesheet\">\n", cssFile)
	}

	fmt.Fprintf(out, `
  </head>
  <body>
    <h1>%s</h1>
`, html.EscapeString(title))

	if err := RenderDescHTML(b, out); err != nil {
		return err
	}

	fmt.Fprintf(out, `
  </body>
</html>
`)

	return nil
}
