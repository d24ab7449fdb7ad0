package generator

import (
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/exclusion"
)

func parse(t *testing.T, s string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString(s)
	require.NoError(t, err)
	return doc
}

func TestCandidates(t *testing.T) {
	g := New(exclusion.New(""), 0)

	t.Run("test attribute comes first", func(t *testing.T) {
		doc := parse(t, `<html><body><footer><button data-testid="send" class="btn-primary" aria-label="Send">&gt;</button></footer></body></html>`)
		el := doc.QueryOne("button")

		got := g.Candidates(doc, el)
		require.NotEmpty(t, got)
		assert.Equal(t, `[data-testid="send"]`, got[0])
		assert.Equal(t, []string{
			`[data-testid="send"]`,
			`.btn-primary`,
			`[class*="btn-primary"]`,
			`[aria-label="Send"]`,
			`html body footer button.btn-primary[data-testid="send"]`,
		}, got)
	})

	t.Run("unique id is emitted", func(t *testing.T) {
		doc := parse(t, `<html><body><div id="pane-side"></div></body></html>`)
		got := g.Candidates(doc, doc.QueryOne("div"))
		assert.Contains(t, got, "#pane-side")
	})

	t.Run("duplicated id is skipped", func(t *testing.T) {
		doc := parse(t, `<html><body><div id="dup">a</div><div id="dup">b</div></body></html>`)
		got := g.Candidates(doc, doc.QueryOne("div"))
		assert.NotContains(t, got, "#dup")
		for _, s := range got {
			assert.False(t, strings.HasPrefix(s, "#"), s)
		}
	})

	t.Run("class strategies in order", func(t *testing.T) {
		doc := parse(t, `<html><body><span class="a b c d">x</span></body></html>`)
		got := g.Candidates(doc, doc.QueryOne("span"))
		assert.Equal(t, []string{".a.b.c.d", ".a", ".b", ".c", `[class*="a"]`, "html body span.a.b"}, got)
	})

	t.Run("role is used when there is no label", func(t *testing.T) {
		doc := parse(t, `<html><body><div role="listbox"></div></body></html>`)
		got := g.Candidates(doc, doc.QueryOne("div"))
		assert.Equal(t, []string{`[role="listbox"]`, "html body div"}, got)
	})

	t.Run("path stops at a unique id anchor", func(t *testing.T) {
		doc := parse(t, `<html><body><div id="main"><div class="row wide extra"><span>x</span></div></div></body></html>`)
		got := g.Candidates(doc, doc.QueryOne("span"))
		assert.Equal(t, []string{"div#main div.row.wide span"}, got)
	})

	t.Run("path keeps walking past duplicated ids", func(t *testing.T) {
		doc := parse(t, `<html><body><div id="x"><p>a</p></div><div id="x"></div></body></html>`)
		got := g.Candidates(doc, doc.QueryOne("p"))
		assert.Equal(t, []string{"html body div#x p"}, got)
	})

	t.Run("own elements produce nothing", func(t *testing.T) {
		doc := parse(t, `<html><body><div id="relocator-panel"><button data-testid="x">x</button></div></body></html>`)
		assert.Empty(t, g.Candidates(doc, doc.QueryOne("button")))
		assert.Empty(t, g.Candidates(doc, nil))
	})

	t.Run("result is capped", func(t *testing.T) {
		small := New(exclusion.New(""), 2)
		doc := parse(t, `<html><body><span data-testid="t" class="a b c">x</span></body></html>`)
		got := small.Candidates(doc, doc.QueryOne("span"))
		assert.Equal(t, []string{`[data-testid="t"]`, ".a.b.c"}, got)
	})

	t.Run("every candidate selects the element", func(t *testing.T) {
		doc := parse(t, `<html><body>
			<div id="9lives" class="x:y w-50%" data-testid='q"uote' aria-label="it's here">
				<span class="-1 --b">t</span>
			</div></body></html>`)
		for _, sel := range []string{"div", "span"} {
			el := doc.QueryOne(sel)
			for _, c := range g.Candidates(doc, el) {
				res := doc.Query(c)
				require.NoError(t, res.Err, c)
				assert.Contains(t, res.Nodes, el, c)
			}
		}
	})
}

func TestCombined(t *testing.T) {
	g := New(exclusion.New(""), 0)

	tests := []struct {
		name string
		html string
		want string
	}{
		{"test attribute wins", `<div data-testid="chat-list" id="u" class="a"></div>`, `[data-testid="chat-list"]`},
		{"unique id next", `<div id="u" class="a b" role="grid"></div>`, "#u"},
		{"classes and role", `<div class="a b c" role="grid"></div>`, `.a.b[role="grid"]`},
		{"role alone", `<div role="grid"></div>`, `[role="grid"]`},
		{"nothing usable", `<div></div>`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parse(t, "<html><body>"+tt.html+"</body></html>")
			assert.Equal(t, tt.want, g.Combined(doc, doc.QueryOne("div")))
		})
	}
}

// FuzzCandidates checks that generated selectors always compile and select
// the element they were generated from, whatever its attribute values.
func FuzzCandidates(f *testing.F) {
	f.Add([]byte("seed-one"))
	f.Add([]byte{0, 1, 2, 3, '"', '\\', ':', '#'})

	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		attrs := make([]string, 4)
		for i := range attrs {
			s, err := consumer.GetString()
			if err != nil {
				return
			}
			attrs[i] = clean(s)
		}

		root := &html.Node{Type: html.DocumentNode}
		htmlEl := &html.Node{Type: html.ElementNode, Data: "html", DataAtom: atom.Html}
		body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
		el := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div, Attr: []html.Attribute{
			{Key: "id", Val: attrs[0]},
			{Key: "class", Val: attrs[1]},
			{Key: "data-testid", Val: attrs[2]},
			{Key: "aria-label", Val: attrs[3]},
		}}
		root.AppendChild(htmlEl)
		htmlEl.AppendChild(body)
		body.AppendChild(el)
		doc := dom.FromTree(root, nil, dom.Rect{Width: 100, Height: 100})

		g := New(exclusion.New(""), 0)
		for _, c := range g.Candidates(doc, el) {
			res := doc.Query(c)
			if res.Err != nil {
				t.Fatalf("selector %q does not compile: %v", c, res.Err)
			}
			found := false
			for _, n := range res.Nodes {
				found = found || n == el
			}
			if !found {
				t.Fatalf("selector %q does not select its element", c)
			}
		}
	})
}

// clean keeps fuzz input within what a parsed document can hold: valid UTF-8
// without NUL, which the HTML parser replaces anyway.
func clean(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, ""), "\x00", "")
}
