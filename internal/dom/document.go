// Package dom holds the read-only document model the locator engine queries:
// an x/net/html tree plus per-element render information (computed display,
// visibility, opacity and the layout box).
package dom

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// ErrMalformedSelector marks a selector the query engine could not compile.
var ErrMalformedSelector = errors.New("malformed selector")

var revisions atomic.Uint64

// Result is the outcome of a query. A malformed selector yields no nodes and
// a non-nil Err wrapping ErrMalformedSelector; it is never raised as a panic.
type Result struct {
	Nodes []*html.Node
	Err   error
}

// Malformed reports whether the selector failed to compile.
func (r Result) Malformed() bool { return errors.Is(r.Err, ErrMalformedSelector) }

// Len is the match count.
func (r Result) Len() int { return len(r.Nodes) }

// First returns the first match or nil.
func (r Result) First() *html.Node {
	if len(r.Nodes) == 0 {
		return nil
	}
	return r.Nodes[0]
}

// Document is an immutable snapshot of a page. Every snapshot gets a fresh
// revision number so caches keyed on query outcomes can tell them apart.
type Document struct {
	root     *html.Node
	gq       *goquery.Document
	render   map[*html.Node]Render
	viewport Rect
	revision uint64
}

// FromTree wraps an already built tree and its render information. Elements
// missing from render are treated as hidden.
func FromTree(root *html.Node, render map[*html.Node]Render, viewport Rect) *Document {
	if render == nil {
		render = make(map[*html.Node]Render)
	}
	return &Document{
		root:     root,
		gq:       goquery.NewDocumentFromNode(root),
		render:   render,
		viewport: viewport,
		revision: revisions.Add(1),
	}
}

// Parse reads HTML from r and derives render information from inline styles.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	o := options{viewport: Rect{Width: DefaultViewportWidth, Height: DefaultViewportHeight}}
	for _, opt := range opts {
		opt(&o)
	}
	root, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return FromTree(root, computeStatic(root, o.viewport), o.viewport), nil
}

// ParseString is Parse over a string.
func ParseString(s string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), opts...)
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Revision identifies this snapshot.
func (d *Document) Revision() uint64 { return d.revision }

// Viewport is the visible area of the page.
func (d *Document) Viewport() Rect { return d.viewport }

// Query runs a CSS selector against the whole document.
func (d *Document) Query(selector string) Result {
	return d.QueryWithin(d.root, selector)
}

// QueryWithin runs a CSS selector against the descendants of scope. Ancestors
// of scope still take part in matching, as with querySelectorAll.
func (d *Document) QueryWithin(scope *html.Node, selector string) Result {
	if scope == nil {
		return Result{}
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return Result{Err: fmt.Errorf("%w %q: %v", ErrMalformedSelector, selector, err)}
	}
	var nodes []*html.Node
	for _, n := range sel.MatchAll(scope) {
		if n != scope {
			nodes = append(nodes, n)
		}
	}
	return Result{Nodes: nodes}
}

// QueryOne returns the first match of selector, or nil.
func (d *Document) QueryOne(selector string) *html.Node {
	return d.Query(selector).First()
}

// Matches reports whether n itself satisfies selector.
func (d *Document) Matches(n *html.Node, selector string) bool {
	sel, err := cascadia.Compile(selector)
	if err != nil || n == nil {
		return false
	}
	return sel.Match(n)
}

// Selection exposes nodes of this document as a goquery selection.
func (d *Document) Selection(nodes ...*html.Node) *goquery.Selection {
	return d.gq.FindNodes(nodes...)
}

// Closest returns the nearest inclusive ancestor of n matching selector.
func (d *Document) Closest(n *html.Node, selector string) *html.Node {
	if n == nil {
		return nil
	}
	sel := d.Selection(n).Closest(selector)
	if sel.Length() == 0 {
		return nil
	}
	return sel.Get(0)
}

// Text is the concatenated text content of n.
func (d *Document) Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	return d.Selection(n).Text()
}

// TrimmedText is Text with surrounding whitespace removed.
func (d *Document) TrimmedText(n *html.Node) string {
	return strings.TrimSpace(d.Text(n))
}

// Elements returns every element of the document in document order.
func (d *Document) Elements() []*html.Node {
	return Descendants(d.root)
}

// Body returns the body element, or nil.
func (d *Document) Body() *html.Node {
	return d.QueryOne("body")
}

// Descendants returns the element descendants of n in document order.
func Descendants(n *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(p *html.Node) {
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				out = append(out, c)
			}
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return out
}

// Children returns the element children of n.
func Children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// ParentElement returns the nearest element ancestor of n.
func ParentElement(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}

// Contains reports whether descendant is ancestor or lies beneath it.
func Contains(ancestor, descendant *html.Node) bool {
	for n := descendant; n != nil; n = n.Parent {
		if n == ancestor {
			return true
		}
	}
	return false
}

// Tag is the lower-case tag name of an element.
func Tag(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(n.Data)
}

// Attr returns the value of an attribute, or "".
func Attr(n *html.Node, name string) string {
	if n == nil {
		return ""
	}
	return htmlquery.SelectAttr(n, name)
}

// HasAttr reports whether the attribute is present, even if empty.
func HasAttr(n *html.Node, name string) bool {
	if n == nil {
		return false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return true
		}
	}
	return false
}

// ID returns the id attribute.
func ID(n *html.Node) string { return Attr(n, "id") }

// Classes returns the class list in source order, without duplicates. Only
// ASCII whitespace separates classes, as in the class attribute grammar.
func Classes(n *html.Node) []string {
	fields := strings.FieldsFunc(Attr(n, "class"), isHTMLSpace)
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func isHTMLSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\f' || r == '\r'
}
