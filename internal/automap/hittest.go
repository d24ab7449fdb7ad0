package automap

import (
	"math"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/exclusion"
)

const (
	// DefaultRadius bounds the nearest-element search around a point.
	DefaultRadius = 50.0

	radiusStep     = 5.0
	areaStep       = 10.0
	containerDepth = 10
)

var (
	containerRoles    = []string{"application", "region", "main", "article"}
	containerKeywords = []string{"container", "panel", "wrapper", "content", "main"}
)

// HitTester maps viewport coordinates to page elements, never returning the
// engine's own UI.
type HitTester struct {
	filter exclusion.Filter
}

// NewHitTester returns a HitTester that ignores elements owned by filter.
func NewHitTester(filter exclusion.Filter) HitTester { return HitTester{filter: filter} }

// ElementAt returns the topmost element at (x, y).
func (h HitTester) ElementAt(doc *dom.Document, x, y float64) *html.Node {
	n := doc.ElementFromPoint(x, y)
	if n == nil || h.filter.IsOwn(n) {
		return nil
	}
	return n
}

// Nearest returns the element at (x, y), or the first element found on
// growing rings around it, sampling eight directions per ring.
func (h HitTester) Nearest(doc *dom.Document, x, y, radius float64) *html.Node {
	if n := h.ElementAt(doc, x, y); n != nil {
		return n
	}
	if radius <= 0 {
		radius = DefaultRadius
	}
	for d := radiusStep; d <= radius; d += radiusStep {
		for angle := 0.0; angle < 360; angle += 45 {
			rad := angle * math.Pi / 180
			if n := h.ElementAt(doc, x+math.Cos(rad)*d, y+math.Sin(rad)*d); n != nil {
				return n
			}
		}
	}
	return nil
}

// ElementsInArea samples the rectangle on a 10px grid and returns every
// distinct element hit, in sampling order.
func (h HitTester) ElementsInArea(doc *dom.Document, area dom.Rect) []*html.Node {
	seen := make(map[*html.Node]struct{})
	var out []*html.Node
	for x := area.Left(); x <= area.Right(); x += areaStep {
		for y := area.Top(); y <= area.Bottom(); y += areaStep {
			n := h.ElementAt(doc, x, y)
			if n == nil {
				continue
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}

// Container climbs from n to the closest ancestor that looks like the
// container a target refers to. When none qualifies within ten levels, n
// itself is returned.
func Container(n *html.Node, targetID string) *html.Node {
	cur := n
	for depth := 0; cur != nil && depth < containerDepth; depth++ {
		if isContainer(cur, targetID) {
			return cur
		}
		cur = dom.ParentElement(cur)
	}
	return n
}

func isContainer(n *html.Node, targetID string) bool {
	if dom.HasAttr(n, "data-testid") {
		return true
	}
	role := dom.Attr(n, "role")
	for _, r := range containerRoles {
		if role == r {
			return true
		}
	}
	for _, c := range dom.Classes(n) {
		for _, k := range containerKeywords {
			if strings.Contains(c, k) {
				return true
			}
		}
	}
	if strings.Contains(targetID, "Panel") || strings.Contains(targetID, "Container") {
		return len(dom.Children(n)) > 0
	}
	return false
}
