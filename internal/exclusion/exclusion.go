// Package exclusion recognises elements that belong to the engine's own
// injected UI so that no other component ever selects them.
package exclusion

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/relocator/internal/dom"
)

// DefaultPrefix is the private namespace carried by injected ids and classes.
const DefaultPrefix = "relocator-"

// Filter is a pure predicate over elements. The zero value uses DefaultPrefix.
type Filter struct {
	prefix string
}

// New returns a Filter for prefix, falling back to DefaultPrefix when empty.
func New(prefix string) Filter {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Filter{prefix: prefix}
}

// Prefix returns the namespace the filter matches.
func (f Filter) Prefix() string {
	if f.prefix == "" {
		return DefaultPrefix
	}
	return f.prefix
}

// IsOwn reports whether n, or any of its ancestors, carries an id starting
// with the prefix or a class attribute containing it. Classes are matched by
// substring, the same way a [class*=prefix] selector would.
func (f Filter) IsOwn(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	prefix := f.Prefix()
	for p := n; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if strings.HasPrefix(dom.ID(p), prefix) || strings.Contains(dom.Attr(p, "class"), prefix) {
			return true
		}
	}
	return false
}

// FilterOwn returns the elements of nodes that do not belong to the engine.
// The input slice is left untouched.
func (f Filter) FilterOwn(nodes []*html.Node) []*html.Node {
	out := make([]*html.Node, 0, len(nodes))
	for _, n := range nodes {
		if !f.IsOwn(n) {
			out = append(out, n)
		}
	}
	return out
}
