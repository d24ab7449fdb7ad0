package search

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/relocator/internal/arbiter"
	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/targets"
)

// finder returns raw matches for one target in one layer.
type finder func(doc *dom.Document) []*html.Node

// predicate selects elements during hierarchical traversal.
type predicate func(doc *dom.Document, n *html.Node) bool

// strategy is the per-category discovery logic.
type strategy interface {
	find(layer Layer, doc *dom.Document, target targets.Target) []*html.Node
	hierarchyPredicate(targetID string) predicate
}

// ruleStrategy looks finders up by target id. Targets with no specific rule
// fall back to their catalog characteristics.
type ruleStrategy struct {
	specific  map[string]finder
	pattern   map[string]finder
	semantic  map[string]finder
	visual    map[string]finder
	hierarchy map[string]predicate
}

func (r ruleStrategy) find(layer Layer, doc *dom.Document, target targets.Target) []*html.Node {
	var table map[string]finder
	switch layer {
	case LayerSpecific:
		table = r.specific
	case LayerPattern:
		table = r.pattern
	case LayerSemantic:
		table = r.semantic
	case LayerVisual:
		table = r.visual
	}
	if f, ok := table[target.ID]; ok {
		return f(doc)
	}
	if layer == LayerSpecific {
		return byCharacteristics(doc, target.Hints.Characteristics)
	}
	return nil
}

func (r ruleStrategy) hierarchyPredicate(targetID string) predicate {
	return r.hierarchy[targetID]
}

// byCharacteristics turns catalog hints into queries. Hints are either
// attribute pairs ("data-testid=chat-list"), attribute operators
// (`aria-label*="Enviar"`) or full selectors.
func byCharacteristics(doc *dom.Document, hints []string) []*html.Node {
	var out []*html.Node
	for _, h := range hints {
		if sel := hintSelector(h); sel != "" {
			out = append(out, all(doc, sel)...)
		}
	}
	return out
}

func hintSelector(h string) string {
	h = strings.TrimSpace(h)
	switch {
	case h == "":
		return ""
	case strings.Contains(h, "["):
		return h
	case strings.Contains(h, "*=") || strings.Contains(h, "^="):
		return "[" + h + "]"
	case strings.Contains(h, "="):
		kv := strings.SplitN(h, "=", 2)
		return dom.AttrEquals(strings.TrimSpace(kv[0]), strings.Trim(strings.TrimSpace(kv[1]), `"`))
	}
	return ""
}

// all runs selector, treating a malformed one as no match.
func all(doc *dom.Document, selector string) []*html.Node {
	return doc.Query(selector).Nodes
}

// within runs selector under every match of scope.
func within(doc *dom.Document, scope, selector string) []*html.Node {
	var out []*html.Node
	for _, root := range all(doc, scope) {
		out = append(out, doc.QueryWithin(root, selector).Nodes...)
	}
	return out
}

func union(lists ...[]*html.Node) []*html.Node {
	var out []*html.Node
	for _, l := range lists {
		out = append(out, l...)
	}
	return unique(out)
}

func keep(nodes []*html.Node, p func(n *html.Node) bool) []*html.Node {
	var out []*html.Node
	for _, n := range nodes {
		if p(n) {
			out = append(out, n)
		}
	}
	return out
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// isCounter reports a short numeric text, as shown in unread badges.
func isCounter(doc *dom.Document, n *html.Node) bool {
	text := doc.TrimmedText(n)
	return len(text) <= 3 && isNumeric(text)
}

func labelContains(n *html.Node, words ...string) bool {
	label := strings.ToLower(dom.Attr(n, "aria-label"))
	if label == "" {
		return false
	}
	for _, w := range words {
		if strings.Contains(label, w) {
			return true
		}
	}
	return false
}

func textContains(doc *dom.Document, n *html.Node, words ...string) bool {
	text := strings.ToLower(doc.TrimmedText(n))
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// outgoing reports message containers in the right half of the viewport.
func outgoing(doc *dom.Document, n *html.Node) bool {
	return doc.Rect(n).Left() > doc.Viewport().Width/2
}

func incoming(doc *dom.Document, n *html.Node) bool {
	return doc.Rect(n).Left() < doc.Viewport().Width/2
}

// nthSpan returns the i-th span among the element children of n.
func nthSpan(n *html.Node, i int) *html.Node {
	seen := 0
	for _, c := range dom.Children(n) {
		if dom.Tag(c) != "span" {
			continue
		}
		if seen == i {
			return c
		}
		seen++
	}
	return nil
}

// categoryRoot is the region hierarchical and focus searches start from.
func categoryRoot(doc *dom.Document, c targets.Category) *html.Node {
	var sel string
	switch c {
	case targets.Navigation:
		sel = arbiter.SidebarSelector
	case targets.Message, targets.Metadata, targets.UI:
		sel = arbiter.MainSelector
	case targets.Input:
		sel = arbiter.FooterSelector
	}
	if sel != "" {
		if n := doc.QueryOne(sel); n != nil {
			return n
		}
	}
	return doc.Body()
}

func strategies() map[targets.Category]strategy {
	return map[targets.Category]strategy{
		targets.Navigation: navigationStrategy(),
		targets.Message:    messageStrategy(),
		targets.Input:      inputStrategy(),
		targets.Metadata:   metadataStrategy(),
		targets.UI:         uiStrategy(),
	}
}
