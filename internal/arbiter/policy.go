package arbiter

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/relocator/internal/config"
	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/targets"
)

// Policy holds the precision thresholds. Precision must rise as a selector's
// match volume grows.
type Policy struct {
	MinPrecision        float64
	HighVolumeThreshold int
	HighVolumePrecision float64
	SampleSize          int
	FullCheckBelow      int
	MaxLabelWords       int
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MinPrecision:        0.80,
		HighVolumeThreshold: 50,
		HighVolumePrecision: 0.95,
		SampleSize:          20,
		FullCheckBelow:      10,
		MaxLabelWords:       5,
	}
}

// PolicyFromConfig converts the specificity section of the configuration,
// keeping defaults for unset fields.
func PolicyFromConfig(cfg config.SpecificityConfig) Policy {
	p := DefaultPolicy()
	if cfg.MinPrecision > 0 {
		p.MinPrecision = cfg.MinPrecision
	}
	if cfg.HighVolumeThreshold > 0 {
		p.HighVolumeThreshold = cfg.HighVolumeThreshold
	}
	if cfg.HighVolumePrecision > 0 {
		p.HighVolumePrecision = cfg.HighVolumePrecision
	}
	if cfg.SampleSize > 0 {
		p.SampleSize = cfg.SampleSize
	}
	if cfg.FullCheckBelow > 0 {
		p.FullCheckBelow = cfg.FullCheckBelow
	}
	if cfg.MaxLabelWords > 0 {
		p.MaxLabelWords = cfg.MaxLabelWords
	}
	return p
}

// Verdict is the outcome of the specificity rule.
type Verdict struct {
	Accepted   bool
	MatchCount int
	Sampled    int
	Correct    int
	Precision  float64
	Reason     string
}

// Specificity judges a selector's match set: it samples the set (every
// element when small, an evenly spaced sample otherwise), counts the elements
// that are rendered and in context, and rejects low precision.
func (a *Arbiter) Specificity(doc *dom.Document, matches []*html.Node, target targets.Target) Verdict {
	v := Verdict{MatchCount: len(matches)}
	if len(matches) == 0 {
		v.Reason = "selector matched nothing"
		return v
	}

	sample := a.sample(matches)
	v.Sampled = len(sample)
	for _, n := range sample {
		if Rendered(doc, n) && a.InContext(doc, n, target) {
			v.Correct++
		}
	}
	v.Precision = float64(v.Correct) / float64(v.Sampled)

	switch {
	case v.Precision < a.policy.MinPrecision:
		v.Reason = fmt.Sprintf("precision %.1f%% is below %.1f%%", v.Precision*100, a.policy.MinPrecision*100)
	case v.MatchCount > a.policy.HighVolumeThreshold && v.Precision < a.policy.HighVolumePrecision:
		v.Reason = fmt.Sprintf("too generic: %d matches at %.1f%% precision", v.MatchCount, v.Precision*100)
	default:
		v.Accepted = true
	}
	if !v.Accepted {
		a.logger.Debug("Match set failed the precision check.",
			zap.String("target", target.ID),
			zap.Int("matches", v.MatchCount),
			zap.Float64("precision", v.Precision),
		)
	}
	return v
}

// AcceptSelector runs selector, drops own elements and applies Specificity.
func (a *Arbiter) AcceptSelector(doc *dom.Document, selector string, target targets.Target) Verdict {
	res := doc.Query(selector)
	if res.Err != nil {
		return Verdict{Reason: res.Err.Error()}
	}
	return a.Specificity(doc, a.filter.FilterOwn(res.Nodes), target)
}

// sample picks evenly spaced elements so repeated checks over the same
// document give the same answer.
func (a *Arbiter) sample(matches []*html.Node) []*html.Node {
	total := len(matches)
	if total <= a.policy.FullCheckBelow {
		return matches
	}
	size := a.policy.SampleSize
	if size > total {
		size = total
	}
	out := make([]*html.Node, 0, size)
	for i := 0; i < size; i++ {
		out = append(out, matches[i*total/size])
	}
	return out
}

// Rendered is the lenient visibility test used for precision sampling: the
// element is displayed and not hidden, whatever its box size.
func Rendered(doc *dom.Document, n *html.Node) bool {
	r := doc.Style(n)
	return r.Display != "none" && r.Visibility != "hidden"
}
