package scanner

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/relocator/internal/arbiter"
	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/targets"
	"github.com/xkilldash9x/relocator/internal/validator"
)

// Candidate rejections, reported in the order the checks run.
var (
	ErrNoMatches        = errors.New("selector matches nothing outside the engine's UI")
	ErrNotRendered      = errors.New("first match is not rendered")
	ErrLabelTooSpecific = errors.New("accessible label is too specific")
	ErrOutOfContext     = errors.New("first match is outside the target's context")
	ErrTooGeneric       = errors.New("selector is too generic")
	ErrClaimed          = errors.New("selector already claimed by another target")
)

// candidate is a generated selector and the element it came from.
type candidate struct {
	selector string
	source   *html.Node
}

// validateCandidate runs every acceptance check against selector, expecting
// it to match source. It returns nil when the selector is acceptable. The
// label check only applies to selectors built on the accessible label.
func (o *Orchestrator) validateCandidate(doc *dom.Document, selector string, source *html.Node, target targets.Target) error {
	if o.filter.IsOwn(source) {
		return validator.ErrOwnElement
	}

	matches := o.validator.Matches(doc, selector)
	if len(matches) == 0 {
		return ErrNoMatches
	}
	found := false
	for _, n := range matches {
		if n == source {
			found = true
			break
		}
	}
	if !found {
		return validator.ErrExpectedNotFound
	}

	first := matches[0]
	if !arbiter.Rendered(doc, first) {
		return ErrNotRendered
	}
	if label := dom.Attr(first, "aria-label"); label != "" && strings.Contains(selector, "aria-label") && o.arbiter.LabelTooSpecific(label, target) {
		o.logger.Debug("Selector rejected for a personalised label.",
			zap.String("target", target.ID), zap.String("selector", selector), zap.String("label", label))
		return fmt.Errorf("%w: %q", ErrLabelTooSpecific, label)
	}
	if !o.arbiter.InContext(doc, first, target) {
		return ErrOutOfContext
	}
	if v := o.arbiter.Specificity(doc, matches, target); !v.Accepted {
		return fmt.Errorf("%w: %s", ErrTooGeneric, v.Reason)
	}

	vctx := validator.Context{TargetID: target.ID, MustBeVisible: true}
	if target.Required {
		vctx.ExpectedCount = validator.Exactly(1)
	}
	if r := o.validator.Validate(doc, selector, source, vctx); !r.IsValid {
		return r.Err
	}
	return nil
}
