// Package pixel is the geometry-based locator of last resort. It looks for
// boxes with the size and placement a target is known to have, then maps the
// centre of each box back to an element by hit-testing.
package pixel

import (
	"context"
	"math"
	"sort"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/search"
	"github.com/xkilldash9x/relocator/internal/targets"
)

// validatedBonus is added to the mean region confidence when at least one
// region resolved to a visible element.
const validatedBonus = 0.3

// Region is a candidate box for a target.
type Region struct {
	Rect       dom.Rect
	Confidence float64
	Kind       string
}

type detector func(doc *dom.Document, area dom.Rect) []Region

// Scanner implements search.PixelSupplier.
type Scanner struct {
	detectors map[string]detector
	logger    *zap.Logger
}

// New returns a Scanner.
func New(logger *zap.Logger) *Scanner {
	return &Scanner{
		detectors: map[string]detector{
			"chatUnreadBadge":   badges,
			"messageStatus":     statusIcons,
			"scrollToTop":       scrollTopButtons,
			"conversationPanel": panels,
			"scrollContainer":   panels,
			"sendButton":        buttons(true),
			"chatHeaderInfo":    buttons(true),
			"composeBox":        inputBars,
		},
		logger: logger.Named("pixel"),
	}
}

// Locate finds elements for target from geometry alone.
func (s *Scanner) Locate(ctx context.Context, doc *dom.Document, target targets.Target) (search.PixelResult, error) {
	if err := ctx.Err(); err != nil {
		return search.PixelResult{}, err
	}
	detect, ok := s.detectors[target.ID]
	if !ok {
		return search.PixelResult{}, nil
	}

	area := CaptureArea(doc.Viewport(), target.Category)
	regions := detect(doc, area)

	var (
		res   search.PixelResult
		total float64
		seen  = make(map[*html.Node]struct{})
	)
	for _, r := range regions {
		total += r.Confidence
		x, y := r.Rect.Center()
		el := doc.ElementFromPoint(x, y)
		if el == nil || !doc.Visible(el) {
			continue
		}
		if _, dup := seen[el]; dup {
			continue
		}
		seen[el] = struct{}{}
		res.Elements = append(res.Elements, el)
		res.Validated = true
	}
	if len(regions) > 0 {
		res.Confidence = total / float64(len(regions))
	}
	if res.Validated {
		res.Confidence = math.Min(1, res.Confidence+validatedBonus)
	}

	s.logger.Debug("Pixel scan finished.",
		zap.String("target", target.ID),
		zap.Int("regions", len(regions)),
		zap.Int("elements", len(res.Elements)),
		zap.Float64("confidence", res.Confidence),
	)
	return res, nil
}

// CaptureArea is the part of the viewport a category lives in: the sidebar
// takes the left 30%, the conversation the rest, and inputs its bottom strip.
func CaptureArea(viewport dom.Rect, c targets.Category) dom.Rect {
	sidebar := viewport.Width * 0.3
	switch c {
	case targets.Navigation:
		return dom.Rect{X: viewport.X, Y: viewport.Y, Width: sidebar, Height: viewport.Height}
	case targets.Input:
		strip := viewport.Height * 0.15
		return dom.Rect{X: viewport.X + sidebar, Y: viewport.Bottom() - strip, Width: viewport.Width - sidebar, Height: strip}
	default:
		return dom.Rect{X: viewport.X + sidebar, Y: viewport.Y, Width: viewport.Width - sidebar, Height: viewport.Height}
	}
}

// boxes returns the visible elements whose box centre lies in area.
func boxes(doc *dom.Document, area dom.Rect) []*html.Node {
	var out []*html.Node
	for _, n := range doc.Elements() {
		if !doc.Visible(n) {
			continue
		}
		x, y := doc.Rect(n).Center()
		if area.Contains(x, y) {
			out = append(out, n)
		}
	}
	return out
}

func badges(doc *dom.Document, area dom.Rect) []Region {
	var out []Region
	for _, n := range boxes(doc, area) {
		r := doc.Rect(n)
		if r.Width >= 10 && r.Width <= 30 && r.Height >= 10 && r.Height <= 30 && digitsOnly(doc.TrimmedText(n)) {
			out = append(out, Region{Rect: r, Confidence: 0.8, Kind: "badge"})
		}
	}
	return out
}

func statusIcons(doc *dom.Document, area dom.Rect) []Region {
	mid := doc.Viewport().Width / 2
	var out []Region
	for _, n := range boxes(doc, area) {
		r := doc.Rect(n)
		if r.Width < 20 && r.Height < 20 && r.Left() > mid {
			out = append(out, Region{Rect: r, Confidence: 0.6, Kind: "status"})
		}
	}
	return out
}

func scrollTopButtons(doc *dom.Document, area dom.Rect) []Region {
	var out []Region
	for _, n := range boxes(doc, area) {
		r := doc.Rect(n)
		if r.Width <= 60 && r.Height <= 60 && r.Top() <= area.Top()+100 && r.Top() > area.Top()+40 {
			out = append(out, Region{Rect: r, Confidence: 0.5, Kind: "scroll-top"})
		}
	}
	return out
}

// panels picks the innermost box spanning at least half the area's height.
func panels(doc *dom.Document, area dom.Rect) []Region {
	var best *Region
	for _, n := range boxes(doc, area) {
		r := doc.Rect(n)
		if r.Height < area.Height/2 || r.Width >= area.Width {
			continue
		}
		if best == nil || r.Height*r.Width < best.Rect.Height*best.Rect.Width {
			best = &Region{Rect: r, Confidence: 0.7, Kind: "panel"}
		}
	}
	if best == nil {
		return nil
	}
	return []Region{*best}
}

// buttons finds square boxes of button size, rightmost first when asked.
func buttons(rightmostFirst bool) detector {
	return func(doc *dom.Document, area dom.Rect) []Region {
		var out []Region
		for _, n := range boxes(doc, area) {
			r := doc.Rect(n)
			if r.Width < 24 || r.Width > 60 || math.Abs(r.Width-r.Height) > 8 {
				continue
			}
			out = append(out, Region{Rect: r, Confidence: 0.6, Kind: "button"})
		}
		if rightmostFirst {
			sort.SliceStable(out, func(i, j int) bool { return out[i].Rect.Right() > out[j].Rect.Right() })
		}
		return out
	}
}

// inputBars finds wide, short boxes in the input strip.
func inputBars(doc *dom.Document, area dom.Rect) []Region {
	var out []Region
	for _, n := range boxes(doc, area) {
		r := doc.Rect(n)
		if r.Width >= area.Width/2 && r.Height >= 20 && r.Height <= 120 && r.Width < area.Width {
			out = append(out, Region{Rect: r, Confidence: 0.5, Kind: "input"})
		}
	}
	return out
}

func digitsOnly(s string) bool {
	if s == "" || len(s) > 3 {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
