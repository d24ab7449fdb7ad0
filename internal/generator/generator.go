// Package generator derives ranked CSS selector candidates from a matched
// element.
package generator

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/exclusion"
)

const (
	// DefaultMaxCandidates caps the list returned by Candidates.
	DefaultMaxCandidates = 15

	maxPathDepth       = 5
	maxIndividualClass = 3
	maxPathClasses     = 2
	testIDAttr         = "data-testid"
)

// Generator builds selectors in a fixed strategy order: test attribute,
// unique id, classes, accessibility attributes, ancestor path.
type Generator struct {
	filter        exclusion.Filter
	maxCandidates int
}

// New returns a Generator. A non-positive max falls back to the default.
func New(filter exclusion.Filter, maxCandidates int) *Generator {
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}
	return &Generator{filter: filter, maxCandidates: maxCandidates}
}

// Candidates returns deduplicated selectors for n, most stable first. The
// engine's own elements yield nothing.
func (g *Generator) Candidates(doc *dom.Document, n *html.Node) []string {
	if n == nil || n.Type != html.ElementNode || g.filter.IsOwn(n) {
		return nil
	}

	var candidates []string
	if s := byTestID(n); s != "" {
		candidates = append(candidates, s)
	}
	if s := byUniqueID(doc, n); s != "" {
		candidates = append(candidates, s)
	}
	candidates = append(candidates, byClass(n)...)
	if s := byAria(n); s != "" {
		candidates = append(candidates, s)
	}
	if s := byPath(doc, n); s != "" {
		candidates = append(candidates, s)
	}

	return dedupe(candidates, g.maxCandidates)
}

// Combined returns the single strongest selector for n: the test attribute,
// else a unique id, else up to two classes joined with the role. It returns
// "" when none of those signals exist.
func (g *Generator) Combined(doc *dom.Document, n *html.Node) string {
	if n == nil || n.Type != html.ElementNode || g.filter.IsOwn(n) {
		return ""
	}
	if s := byTestID(n); s != "" {
		return s
	}
	if s := byUniqueID(doc, n); s != "" {
		return s
	}

	var b strings.Builder
	b.WriteString(classChain(dom.Classes(n), maxPathClasses))
	if role := dom.Attr(n, "role"); role != "" {
		b.WriteString(dom.AttrEquals("role", role))
	}
	return b.String()
}

func byTestID(n *html.Node) string {
	if v := dom.Attr(n, testIDAttr); v != "" {
		return dom.AttrEquals(testIDAttr, v)
	}
	return ""
}

// byUniqueID only emits #id when it resolves to exactly one element, since
// duplicated ids are a common trait of generated markup.
func byUniqueID(doc *dom.Document, n *html.Node) string {
	id := dom.ID(n)
	if id == "" {
		return ""
	}
	sel := "#" + dom.EscapeIdent(id)
	if doc.Query(sel).Len() != 1 {
		return ""
	}
	return sel
}

func byClass(n *html.Node) []string {
	classes := dom.Classes(n)
	if len(classes) == 0 {
		return nil
	}

	out := []string{classChain(classes, len(classes))}
	for i, c := range classes {
		if i == maxIndividualClass {
			break
		}
		out = append(out, "."+dom.EscapeIdent(c))
	}
	out = append(out, "[class*="+dom.QuoteString(classes[0])+"]")
	return out
}

func byAria(n *html.Node) string {
	if label := dom.Attr(n, "aria-label"); label != "" {
		return dom.AttrEquals("aria-label", label)
	}
	if role := dom.Attr(n, "role"); role != "" {
		return dom.AttrEquals("role", role)
	}
	return ""
}

// byPath walks up to five ancestors and joins their segments with descendant
// combinators. An ancestor with a unique id anchors the path and ends the
// walk.
func byPath(doc *dom.Document, n *html.Node) string {
	var path []string
	for cur := n; cur != nil && cur.Type == html.ElementNode && len(path) < maxPathDepth; cur = cur.Parent {
		tag := dom.EscapeIdent(dom.Tag(cur))
		if s := byUniqueID(doc, cur); s != "" {
			path = append(path, tag+s)
			break
		}

		segment := tag + classChain(dom.Classes(cur), maxPathClasses)
		if id := dom.ID(cur); id != "" {
			segment += "#" + dom.EscapeIdent(id)
		}
		if v := dom.Attr(cur, testIDAttr); v != "" {
			segment += dom.AttrEquals(testIDAttr, v)
		}
		path = append(path, segment)
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return strings.Join(path, " ")
}

func classChain(classes []string, limit int) string {
	var b strings.Builder
	for i, c := range classes {
		if i == limit {
			break
		}
		b.WriteByte('.')
		b.WriteString(dom.EscapeIdent(c))
	}
	return b.String()
}

func dedupe(in []string, limit int) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out
}
