package dom

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Viewport used when a document is parsed without WithViewport.
const (
	DefaultViewportWidth  = 1280.0
	DefaultViewportHeight = 800.0

	defaultLineHeight = 20.0
)

// Rect is a layout box in CSS pixels, relative to the viewport origin.
type Rect struct {
	X, Y, Width, Height float64
}

func (r Rect) Left() float64   { return r.X }
func (r Rect) Top() float64    { return r.Y }
func (r Rect) Right() float64  { return r.X + r.Width }
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Center returns the midpoint of the box.
func (r Rect) Center() (float64, float64) { return r.X + r.Width/2, r.Y + r.Height/2 }

// Empty reports a box with no area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Contains reports whether the point lies inside the box.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.Right() && y >= r.Y && y <= r.Bottom()
}

// Render is the subset of computed style and layout the engine relies on.
type Render struct {
	Display    string
	Visibility string
	Opacity    float64
	Rect       Rect
}

// Visible applies the visibility rule used throughout the engine: a display
// other than none, visibility other than hidden, non-zero opacity and a box
// with area.
func (r Render) Visible() bool {
	return r.Display != "none" &&
		r.Visibility != "hidden" &&
		r.Opacity != 0 &&
		!r.Rect.Empty()
}

// Option customises Parse.
type Option func(*options)

type options struct {
	viewport Rect
}

// WithViewport sets the viewport size used for the root boxes.
func WithViewport(width, height float64) Option {
	return func(o *options) {
		if width > 0 && height > 0 {
			o.viewport = Rect{Width: width, Height: height}
		}
	}
}

// Style returns the render information of n. Unknown nodes report display
// none.
func (d *Document) Style(n *html.Node) Render {
	if r, ok := d.render[n]; ok {
		return r
	}
	return Render{Display: "none", Visibility: "hidden"}
}

// Rect returns the layout box of n.
func (d *Document) Rect(n *html.Node) Rect { return d.Style(n).Rect }

// Visible reports whether n is rendered and has area.
func (d *Document) Visible(n *html.Node) bool { return d.Style(n).Visible() }

// ElementFromPoint returns the topmost visible element whose box contains the
// point. Later elements in document order paint over earlier ones.
func (d *Document) ElementFromPoint(x, y float64) *html.Node {
	var hit *html.Node
	for _, n := range d.Elements() {
		r := d.Style(n)
		if r.Visible() && r.Rect.Contains(x, y) {
			hit = n
		}
	}
	return hit
}

// computeStatic derives render information for a parsed tree from inline
// style attributes alone. Boxes are positioned by px left/top relative to the
// parent box; width defaults to the parent width and height to one line.
func computeStatic(root *html.Node, viewport Rect) map[*html.Node]Render {
	out := make(map[*html.Node]Render)
	base := Render{Display: "block", Visibility: "visible", Opacity: 1, Rect: viewport}

	var walk func(n *html.Node, parent Render, collapsed bool)
	walk = func(n *html.Node, parent Render, collapsed bool) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			decls := parseInlineStyles(Attr(c, "style"))

			r := Render{Opacity: 1}
			r.Display = defaultDisplay(c)
			if HasAttr(c, "hidden") {
				r.Display = "none"
			}
			if v, ok := decls["display"]; ok {
				r.Display = v
			}
			r.Visibility = parent.Visibility
			if v, ok := decls["visibility"]; ok && v != "inherit" {
				r.Visibility = v
			}
			if v, ok := decls["opacity"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					r.Opacity = f
				}
			}

			childCollapsed := collapsed || r.Display == "none"
			if !childCollapsed {
				switch Tag(c) {
				case "html", "body":
					r.Rect = viewport
				default:
					r.Rect = Rect{
						X:      parent.Rect.X + pixels(decls["left"], 0),
						Y:      parent.Rect.Y + pixels(decls["top"], 0),
						Width:  pixels(decls["width"], parent.Rect.Width),
						Height: pixels(decls["height"], defaultLineHeight),
					}
				}
			}

			out[c] = r
			walk(c, r, childCollapsed)
		}
	}
	walk(root, base, false)
	return out
}

// parseInlineStyles splits a style attribute into lower-cased property/value
// pairs, dropping !important markers.
func parseInlineStyles(styleAttr string) map[string]string {
	decls := make(map[string]string)
	for _, part := range strings.Split(styleAttr, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.TrimSpace(kv[1])
		if strings.HasSuffix(strings.ToLower(val), "!important") {
			val = strings.TrimSpace(val[:len(val)-len("!important")])
		}
		decls[prop] = strings.ToLower(val)
	}
	return decls
}

func pixels(v string, fallback float64) float64 {
	v = strings.TrimSpace(strings.TrimSuffix(v, "px"))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func defaultDisplay(n *html.Node) string {
	switch Tag(n) {
	case "head", "script", "style", "template", "title", "meta", "link", "noscript":
		return "none"
	case "html", "body", "div", "p", "h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li", "form", "header", "footer", "section", "article", "nav", "main", "aside":
		return "block"
	case "input", "button", "textarea", "select", "img":
		return "inline-block"
	default:
		return "inline"
	}
}
