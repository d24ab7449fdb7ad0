package scanner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/search"
	"github.com/xkilldash9x/relocator/internal/targets"
)

// LayerReport describes what a single discovery layer achieves for a target
// when run on its own.
type LayerReport struct {
	Layer               search.Layer  `json:"layer"`
	Name                string        `json:"layerName"`
	ElementsFound       int           `json:"elementsFound"`
	CandidatesGenerated int           `json:"candidatesGenerated"`
	BestSelector        string        `json:"bestSelector,omitempty"`
	Precision           float64       `json:"precision"`
	Duration            time.Duration `json:"duration"`
	Errors              []string      `json:"errors"`
}

// ScanByLayer runs every layer for t in isolation. The pixel layer is only
// reported for critical and important targets. Reports are ordered by
// layer. The session ledger is neither consulted nor changed.
func (o *Orchestrator) ScanByLayer(ctx context.Context, doc *dom.Document, t targets.Target, cfg Config) ([]LayerReport, error) {
	cfg = cfg.withDefaults()
	var reports []LayerReport
	for _, layer := range search.Layers() {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		if layer == search.LayerPixel && !t.IsTopPriority() {
			continue
		}
		reports = append(reports, o.scanLayer(ctx, doc, t, layer, cfg))
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Layer < reports[j].Layer })
	return reports, nil
}

func (o *Orchestrator) scanLayer(ctx context.Context, doc *dom.Document, t targets.Target, layer search.Layer, cfg Config) (rep LayerReport) {
	start := o.clock.Now()
	rep = LayerReport{Layer: layer, Name: layer.String(), Errors: []string{}}
	defer func() {
		if r := recover(); r != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("layer %d: %v", int(layer), r))
		}
		rep.Duration = o.clock.Now().Sub(start)
	}()

	nodes, err := o.searcher.Run(ctx, doc, t, layer)
	if err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("layer %d: %v", int(layer), err))
		return rep
	}
	rep.ElementsFound = len(nodes)
	if len(nodes) == 0 {
		return rep
	}

	cands := o.candidates(doc, nodes, cfg)
	rep.CandidatesGenerated = len(cands)
	for _, c := range cands {
		if err := o.validateCandidate(doc, c.selector, c.source, t); err == nil {
			rep.BestSelector = c.selector
			break
		}
	}
	if rep.BestSelector != "" {
		v := o.arbiter.AcceptSelector(doc, rep.BestSelector, t)
		rep.Precision = v.Precision * 100
	}
	return rep
}
