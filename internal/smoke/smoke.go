// Package smoke drives a scripted conversation round trip against a live
// page using nothing but resolved selectors: search for a contact, open the
// conversation, check its header, read both message directions and finally
// compose and send a message.
package smoke

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/relocator/internal/config"
	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/wait"
)

// Step names one stage of the round trip.
type Step string

const (
	StepSearch   Step = "search"
	StepOpen     Step = "open"
	StepHeader   Step = "header"
	StepInbound  Step = "inbound"
	StepOutbound Step = "outbound"
	StepSend     Step = "send"
)

// Steps lists the stages in execution order.
func Steps() []Step {
	return []Step{StepSearch, StepOpen, StepHeader, StepInbound, StepOutbound, StepSend}
}

var (
	ErrUnresolved    = errors.New("no working selector")
	ErrHeaderMissing = errors.New("conversation header does not name the contact")
	ErrNoContact     = errors.New("a contact to search for is required")
)

// Resolver returns a working selector for a target. The fallback-chain
// manager satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, doc *dom.Document, id string) (string, bool)
}

// Interactor performs input on the live page.
type Interactor interface {
	Type(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
}

// StepResult reports one stage.
type StepResult struct {
	Step     Step          `json:"step"`
	Passed   bool          `json:"passed"`
	Skipped  bool          `json:"skipped,omitempty"`
	Selector string        `json:"selector,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the outcome of a Run.
type Report struct {
	Contact string       `json:"contact"`
	Passed  bool         `json:"passed"`
	Steps   []StepResult `json:"steps"`
}

// Runner executes the round trip.
type Runner struct {
	resolver   Resolver
	source     dom.Source
	interactor Interactor
	clock      wait.Clock
	logger     *zap.Logger
}

// Option customises a Runner.
type Option func(*Runner)

// WithClock replaces the clock used for pauses and polling.
func WithClock(c wait.Clock) Option { return func(r *Runner) { r.clock = c } }

// New returns a Runner that snapshots source before every step.
func New(logger *zap.Logger, resolver Resolver, source dom.Source, interactor Interactor, opts ...Option) *Runner {
	r := &Runner{
		resolver:   resolver,
		source:     source,
		interactor: interactor,
		clock:      wait.NewRealClock(),
		logger:     logger.Named("smoke"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type stepFunc func(ctx context.Context, cfg config.SmokeConfig, res *StepResult) error

// Run executes every step in order. A failed step skips the rest. The
// returned error is reserved for cancellation and bad input; step failures
// live in the report.
func (r *Runner) Run(ctx context.Context, cfg config.SmokeConfig) (*Report, error) {
	if strings.TrimSpace(cfg.Contact) == "" {
		return nil, ErrNoContact
	}

	funcs := map[Step]stepFunc{
		StepSearch:   r.search,
		StepOpen:     r.open,
		StepHeader:   r.header,
		StepInbound:  r.messages("messageIn"),
		StepOutbound: r.messages("messageOut"),
		StepSend:     r.send,
	}

	report := &Report{Contact: cfg.Contact, Passed: true}
	failed := false
	for _, step := range Steps() {
		res := StepResult{Step: step}
		if failed {
			res.Skipped = true
			report.Steps = append(report.Steps, res)
			continue
		}

		start := r.clock.Now()
		err := funcs[step](ctx, cfg, &res)
		res.Duration = r.clock.Now().Sub(start)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		if err != nil {
			res.Error = err.Error()
			failed = true
			report.Passed = false
			r.logger.Warn("Smoke step failed.", zap.String("step", string(step)), zap.Error(err))
		} else {
			res.Passed = true
			r.logger.Info("Smoke step passed.", zap.String("step", string(step)), zap.String("detail", res.Detail))
		}
		report.Steps = append(report.Steps, res)
	}
	return report, nil
}

func (r *Runner) resolve(ctx context.Context, id string) (*dom.Document, string, error) {
	doc, err := r.source.Snapshot(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to snapshot page: %w", err)
	}
	sel, ok := r.resolver.Resolve(ctx, doc, id)
	if !ok {
		return doc, "", fmt.Errorf("%w for %s", ErrUnresolved, id)
	}
	return doc, sel, nil
}

func (r *Runner) search(ctx context.Context, cfg config.SmokeConfig, res *StepResult) error {
	_, sel, err := r.resolve(ctx, "searchBox")
	if err != nil {
		return err
	}
	res.Selector = sel
	if err := r.interactor.Type(ctx, sel, cfg.Contact); err != nil {
		return fmt.Errorf("failed to type the contact: %w", err)
	}
	res.Detail = fmt.Sprintf("searched for %q", cfg.Contact)
	return wait.Sleep(ctx, r.clock, cfg.SearchWait)
}

func (r *Runner) open(ctx context.Context, cfg config.SmokeConfig, res *StepResult) error {
	_, sel, err := r.resolve(ctx, "chatListItem")
	if err != nil {
		return err
	}
	res.Selector = sel
	if err := r.interactor.Click(ctx, sel); err != nil {
		return fmt.Errorf("failed to open the conversation: %w", err)
	}
	return wait.Sleep(ctx, r.clock, cfg.OpenWait)
}

func (r *Runner) header(ctx context.Context, cfg config.SmokeConfig, res *StepResult) error {
	want := strings.ToLower(cfg.Contact)
	var seen string
	err := wait.Until(ctx, r.clock, func(ctx context.Context) (bool, error) {
		doc, sel, err := r.resolve(ctx, "chatHeaderName")
		if err != nil {
			if errors.Is(err, ErrUnresolved) {
				return false, nil
			}
			return false, err
		}
		res.Selector = sel
		seen = doc.TrimmedText(doc.QueryOne(sel))
		return strings.Contains(strings.ToLower(seen), want), nil
	}, cfg.HeaderTimeout, cfg.PollInterval)
	if errors.Is(err, wait.ErrTimeout) {
		if res.Selector == "" {
			return fmt.Errorf("%w for chatHeaderName", ErrUnresolved)
		}
		return fmt.Errorf("%w: got %q", ErrHeaderMissing, seen)
	}
	if err != nil {
		return err
	}
	res.Detail = seen
	return nil
}

func (r *Runner) messages(id string) stepFunc {
	return func(ctx context.Context, _ config.SmokeConfig, res *StepResult) error {
		doc, sel, err := r.resolve(ctx, id)
		if err != nil {
			return err
		}
		res.Selector = sel
		nodes := doc.Query(sel).Nodes
		last := strings.Join(strings.Fields(doc.Text(nodes[len(nodes)-1])), " ")
		res.Detail = fmt.Sprintf("%d message(s), last %q", len(nodes), truncate(last, 60))
		return nil
	}
}

func (r *Runner) send(ctx context.Context, cfg config.SmokeConfig, res *StepResult) error {
	_, compose, err := r.resolve(ctx, "composeBox")
	if err != nil {
		return err
	}
	_, button, err := r.resolve(ctx, "sendButton")
	if err != nil {
		return err
	}
	res.Selector = button
	if cfg.Message == "" {
		res.Detail = "compose box and send button resolved, nothing sent"
		return nil
	}
	if err := r.interactor.Type(ctx, compose, cfg.Message); err != nil {
		return fmt.Errorf("failed to type the message: %w", err)
	}
	if err := r.interactor.Click(ctx, button); err != nil {
		return fmt.Errorf("failed to send the message: %w", err)
	}
	res.Detail = fmt.Sprintf("sent %q", truncate(cfg.Message, 60))
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
