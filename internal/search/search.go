// Package search finds the elements a target most likely refers to. It tries
// a fixed sequence of layers, from precise known markers down to geometry
// and accessibility signals, and stops at the first layer that finds
// anything outside the engine's own UI.
package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/exclusion"
	"github.com/xkilldash9x/relocator/internal/targets"
)

const (
	DefaultHierarchyDepth = 10
	DefaultHierarchyLimit = 10
)

// PixelResult is what the pixel collaborator reports for a target.
type PixelResult struct {
	Elements   []*html.Node
	Confidence float64
	Validated  bool
}

// PixelSupplier is the last-resort locator used for top-priority targets
// when every structural layer came up empty.
type PixelSupplier interface {
	Locate(ctx context.Context, doc *dom.Document, target targets.Target) (PixelResult, error)
}

// ContextChecker decides whether an element lies in the region a target
// belongs to. *arbiter.Arbiter satisfies it.
type ContextChecker interface {
	InContext(doc *dom.Document, n *html.Node, target targets.Target) bool
}

// Searcher runs the discovery layers.
type Searcher struct {
	filter         exclusion.Filter
	context        ContextChecker
	pixel          PixelSupplier
	strategies     map[targets.Category]strategy
	hierarchyDepth int
	hierarchyLimit int
	logger         *zap.Logger
}

// Option customises a Searcher.
type Option func(*Searcher)

// WithPixel installs the pixel fallback.
func WithPixel(p PixelSupplier) Option { return func(s *Searcher) { s.pixel = p } }

// WithContext drops elements outside the target's region from every layer,
// so a layer whose matches all lie elsewhere counts as empty.
func WithContext(c ContextChecker) Option { return func(s *Searcher) { s.context = c } }

// WithHierarchy bounds the hierarchical traversal.
func WithHierarchy(depth, limit int) Option {
	return func(s *Searcher) {
		if depth > 0 {
			s.hierarchyDepth = depth
		}
		if limit > 0 {
			s.hierarchyLimit = limit
		}
	}
}

// New returns a Searcher.
func New(logger *zap.Logger, filter exclusion.Filter, opts ...Option) *Searcher {
	s := &Searcher{
		filter:         filter,
		strategies:     strategies(),
		hierarchyDepth: DefaultHierarchyDepth,
		hierarchyLimit: DefaultHierarchyLimit,
		logger:         logger.Named("search"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindCandidates returns the elements found by the first productive layer
// and that layer. LayerNone with no error means nothing was found.
func (s *Searcher) FindCandidates(ctx context.Context, doc *dom.Document, target targets.Target) ([]*html.Node, Layer, error) {
	for _, layer := range Layers() {
		if err := ctx.Err(); err != nil {
			return nil, LayerNone, err
		}
		if layer == LayerPixel && !target.IsTopPriority() {
			continue
		}
		nodes, err := s.Run(ctx, doc, target, layer)
		if err != nil {
			s.logger.Warn("Discovery layer failed.",
				zap.String("target", target.ID),
				zap.Stringer("layer", layer),
				zap.Error(err),
			)
			continue
		}
		if len(nodes) > 0 {
			s.logger.Debug("Candidates found.",
				zap.String("target", target.ID),
				zap.Stringer("layer", layer),
				zap.Int("count", len(nodes)),
			)
			return nodes, layer, nil
		}
	}
	return nil, LayerNone, nil
}

// Run executes a single layer in isolation. Its result excludes own
// elements, repeats and, with a context checker, elements outside the
// target's region.
func (s *Searcher) Run(ctx context.Context, doc *dom.Document, target targets.Target, layer Layer) ([]*html.Node, error) {
	var nodes []*html.Node
	switch layer {
	case LayerHierarchy:
		nodes = s.hierarchy(doc, target)
	case LayerAccessibility:
		nodes = accessibility(doc, target)
	case LayerPixel:
		if s.pixel == nil {
			return nil, nil
		}
		res, err := s.pixel.Locate(ctx, doc, target)
		if err != nil {
			return nil, fmt.Errorf("pixel fallback for %s: %w", target.ID, err)
		}
		nodes = res.Elements
	case LayerSpecific, LayerPattern, LayerSemantic, LayerVisual:
		st, ok := s.strategies[target.Category]
		if !ok {
			return nil, fmt.Errorf("no discovery strategy for category %q", target.Category)
		}
		nodes = st.find(layer, doc, target)
	default:
		return nil, fmt.Errorf("unknown layer %v", layer)
	}
	return s.inContext(doc, target, unique(s.filter.FilterOwn(nodes))), nil
}

func (s *Searcher) inContext(doc *dom.Document, target targets.Target, nodes []*html.Node) []*html.Node {
	if s.context == nil {
		return nodes
	}
	out := nodes[:0]
	for _, n := range nodes {
		if s.context.InContext(doc, n, target) {
			out = append(out, n)
		}
	}
	if dropped := len(nodes) - len(out); dropped > 0 {
		s.logger.Debug("Dropped elements outside the target's region.",
			zap.String("target", target.ID),
			zap.Int("dropped", dropped),
		)
	}
	return out
}

func (s *Searcher) hierarchy(doc *dom.Document, target targets.Target) []*html.Node {
	st, ok := s.strategies[target.Category]
	if !ok {
		return nil
	}
	keep := st.hierarchyPredicate(target.ID)
	if keep == nil {
		return nil
	}
	root := categoryRoot(doc, target.Category)
	if root == nil {
		return nil
	}

	var out []*html.Node
	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		if depth >= s.hierarchyDepth || len(out) >= s.hierarchyLimit {
			return
		}
		for _, c := range dom.Children(n) {
			if len(out) >= s.hierarchyLimit {
				return
			}
			if keep(doc, c) {
				out = append(out, c)
			}
			walk(c, depth+1)
		}
	}
	walk(root, depthOf(root))
	return out
}

// depthOf counts the element ancestors of n.
func depthOf(n *html.Node) int {
	d := 0
	for p := dom.ParentElement(n); p != nil; p = dom.ParentElement(p) {
		d++
	}
	return d
}

func unique(nodes []*html.Node) []*html.Node {
	seen := make(map[*html.Node]struct{}, len(nodes))
	out := make([]*html.Node, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
