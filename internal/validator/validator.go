// Package validator checks whether a selector resolves to the element it was
// generated from, uniquely and visibly.
package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/exclusion"
	"github.com/xkilldash9x/relocator/internal/targets"
	"github.com/xkilldash9x/relocator/internal/wait"
)

// Validation failures, reported in Result.Err in this priority order.
var (
	ErrOwnElement       = errors.New("element belongs to the engine's own UI")
	ErrExpectedNotFound = errors.New("selector did not match the expected element")
	ErrNotUnique        = errors.New("selector matches multiple elements where a unique match is required")
	ErrNotVisible       = errors.New("element is not visible")
)

const (
	// DefaultIterations is the number of attempts made by VerifyStability.
	DefaultIterations = 3
	// DefaultPause separates stability attempts.
	DefaultPause = 100 * time.Millisecond
)

// contextContainers maps a context name to the container a scoped query runs
// under.
var contextContainers = map[string]string{
	"conversationPanel": `[data-testid="conversation-panel-messages"]`,
	"chatList":          "#pane-side",
}

// Context constrains a validation. A nil ExpectedCount places no constraint
// on the number of matches.
type Context struct {
	TargetID      string
	ExpectedCount *int
	MustBeVisible bool
}

// Exactly is a helper for Context.ExpectedCount.
func Exactly(n int) *int { return &n }

// Result describes one validation.
type Result struct {
	IsValid    bool
	Matched    *html.Node
	MatchCount int
	IsUnique   bool
	IsVisible  bool
	Err        error
}

// Validator runs selectors against documents. It holds no per-scan state.
type Validator struct {
	filter     exclusion.Filter
	clock      wait.Clock
	pause      time.Duration
	iterations int
	logger     *zap.Logger
}

// Option customises a Validator.
type Option func(*Validator)

// WithClock replaces the clock used between stability attempts.
func WithClock(c wait.Clock) Option { return func(v *Validator) { v.clock = c } }

// WithStability sets the attempt count and pause used by VerifyStability.
func WithStability(iterations int, pause time.Duration) Option {
	return func(v *Validator) {
		if iterations > 0 {
			v.iterations = iterations
		}
		if pause >= 0 {
			v.pause = pause
		}
	}
}

// New returns a Validator.
func New(logger *zap.Logger, filter exclusion.Filter, opts ...Option) *Validator {
	v := &Validator{
		filter:     filter,
		clock:      wait.NewRealClock(),
		pause:      DefaultPause,
		iterations: DefaultIterations,
		logger:     logger.Named("validator"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Matches runs selector and drops the engine's own elements. A malformed
// selector counts as zero matches.
func (v *Validator) Matches(doc *dom.Document, selector string) []*html.Node {
	res := doc.Query(selector)
	if res.Err != nil {
		v.logger.Debug("Selector rejected by the query engine.", zap.String("selector", selector), zap.Error(res.Err))
		return nil
	}
	return v.filter.FilterOwn(res.Nodes)
}

// Validate checks selector against the expected element.
func (v *Validator) Validate(doc *dom.Document, selector string, expected *html.Node, c Context) Result {
	if v.filter.IsOwn(expected) {
		return Result{Err: ErrOwnElement}
	}

	matches := v.Matches(doc, selector)
	found := false
	for _, n := range matches {
		if n == expected {
			found = true
			break
		}
	}

	unique := c.ExpectedCount == nil || len(matches) == *c.ExpectedCount
	visible := !c.MustBeVisible || doc.Visible(expected)

	r := Result{
		IsValid:    found && unique && visible,
		MatchCount: len(matches),
		IsUnique:   unique,
		IsVisible:  visible,
	}
	switch {
	case found:
		r.Matched = expected
	case len(matches) > 0:
		r.Matched = matches[0]
	}
	switch {
	case !found:
		r.Err = ErrExpectedNotFound
	case !unique:
		r.Err = fmt.Errorf("%w: %d matches", ErrNotUnique, len(matches))
	case !visible:
		r.Err = ErrNotVisible
	}
	return r
}

// QuickValidate requires selector to match exactly the expected element.
func (v *Validator) QuickValidate(doc *dom.Document, selector string, expected *html.Node) bool {
	matches := v.Matches(doc, selector)
	return len(matches) == 1 && matches[0] == expected
}

// VerifyStability runs ValidateStability with the configured attempt count.
func (v *Validator) VerifyStability(ctx context.Context, src dom.Source, selector string) (bool, error) {
	return v.ValidateStability(ctx, src, selector, v.iterations)
}

// ValidateStability takes iterations snapshots, pausing between them, and
// reports true only when every snapshot matched at least one element. It
// guards against transient rendering states rather than estimating a rate.
func (v *Validator) ValidateStability(ctx context.Context, src dom.Source, selector string, iterations int) (bool, error) {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	stable := true
	for i := 0; i < iterations; i++ {
		if i > 0 {
			if err := wait.Sleep(ctx, v.clock, v.pause); err != nil {
				return false, err
			}
		}
		doc, err := src.Snapshot(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to capture snapshot for stability check: %w", err)
		}
		if len(v.Matches(doc, selector)) == 0 {
			stable = false
		}
	}
	return stable, nil
}

// ValidateInContext scopes selector under the named container, falling back
// to a document-wide query when the container cannot be found.
func (v *Validator) ValidateInContext(doc *dom.Document, selector, contextName string) bool {
	var scope *html.Node
	if container, ok := contextContainers[contextName]; ok {
		scope = doc.QueryOne(container)
	}
	if scope == nil {
		return len(v.Matches(doc, selector)) > 0
	}
	res := doc.QueryWithin(scope, selector)
	return res.Err == nil && len(v.filter.FilterOwn(res.Nodes)) > 0
}

// ValidateFunctional checks that the first match is visible and has the
// shape the target implies: buttons must be clickable and compose or input
// targets must be editable.
func (v *Validator) ValidateFunctional(doc *dom.Document, selector string, target targets.Target) bool {
	matches := v.Matches(doc, selector)
	if len(matches) == 0 {
		return false
	}
	first := matches[0]
	if !doc.Visible(first) {
		return false
	}

	id := target.ID
	switch {
	case strings.Contains(id, "Button") || strings.Contains(id, "send"):
		return dom.Tag(first) == "button" || dom.Attr(first, "role") == "button"
	case strings.Contains(id, "Input") || strings.Contains(id, "compose"):
		return IsEditable(first)
	}
	return true
}

// IsEditable reports input, textarea and contenteditable elements.
func IsEditable(n *html.Node) bool {
	switch dom.Tag(n) {
	case "input", "textarea":
		return true
	}
	return dom.Attr(n, "contenteditable") == "true"
}
