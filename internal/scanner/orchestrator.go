package scanner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/relocator/internal/arbiter"
	"github.com/xkilldash9x/relocator/internal/chain"
	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/exclusion"
	"github.com/xkilldash9x/relocator/internal/generator"
	"github.com/xkilldash9x/relocator/internal/remotesync"
	"github.com/xkilldash9x/relocator/internal/search"
	"github.com/xkilldash9x/relocator/internal/targets"
	"github.com/xkilldash9x/relocator/internal/validator"
	"github.com/xkilldash9x/relocator/internal/wait"
)

// Orchestrator runs scan sessions, one at a time. It owns the used-selector
// ledger and the current session.
type Orchestrator struct {
	searcher  *search.Searcher
	generator *generator.Generator
	validator *validator.Validator
	arbiter   *arbiter.Arbiter
	filter    exclusion.Filter
	ledger    *arbiter.Ledger

	chain    *chain.Manager
	syncer   remotesync.Syncer
	source   dom.Source
	observer Observer
	clock    wait.Clock

	mu      sync.Mutex
	busy    bool
	session *Session

	logger *zap.Logger
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithChain lets sessions promote their winners into the fallback chains.
func WithChain(m *chain.Manager) Option { return func(o *Orchestrator) { o.chain = m } }

// WithSyncer forwards promoted selectors to a remote source.
func WithSyncer(s remotesync.Syncer) Option { return func(o *Orchestrator) { o.syncer = s } }

// WithObserver installs a progress and status listener.
func WithObserver(obs Observer) Option { return func(o *Orchestrator) { o.observer = obs } }

// WithSource provides fresh snapshots for stability checks.
func WithSource(src dom.Source) Option { return func(o *Orchestrator) { o.source = src } }

// WithClock replaces the clock used for session timestamps.
func WithClock(c wait.Clock) Option { return func(o *Orchestrator) { o.clock = c } }

// New wires an orchestrator from its collaborators.
func New(
	logger *zap.Logger,
	filter exclusion.Filter,
	searcher *search.Searcher,
	gen *generator.Generator,
	val *validator.Validator,
	arb *arbiter.Arbiter,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		searcher:  searcher,
		generator: gen,
		validator: val,
		arbiter:   arb,
		filter:    filter,
		ledger:    arbiter.NewLedger(),
		syncer:    remotesync.Nop{},
		observer:  nopObserver{},
		clock:     wait.NewRealClock(),
		logger:    logger.Named("scanner"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Session returns a copy of the current or most recent session, or nil
// before the first scan.
func (o *Orchestrator) Session() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.clone()
}

// Status of the current session; idle before the first scan.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return StatusIdle
	}
	return o.session.Status
}

// ScanAll scans cfg.Targets in order against doc. It returns the per-target
// results, and ErrCriticalTierFailed when the critical tier was required but
// incomplete; only that verdict marks the session failed. Cancellation and
// cfg.Timeout are observed between targets: the session completes with the
// targets already scanned, the interruption is recorded in its errors and
// ctx.Err() is returned. Nothing is promoted from an interrupted scan.
func (o *Orchestrator) ScanAll(ctx context.Context, doc *dom.Document, cfg Config) ([]Result, error) {
	cfg = cfg.withDefaults()

	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return nil, ErrScanInProgress
	}
	o.busy = true
	o.session = &Session{
		ID:        uuid.NewString(),
		StartedAt: o.clock.Now(),
		Status:    StatusScanning,
		Results:   []Result{},
		Errors:    []string{},
	}
	sessionID := o.session.ID
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.busy = false
		o.mu.Unlock()
	}()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	o.ledger.Reset()
	log := o.logger.With(zap.String("session", sessionID))
	log.Info("Scan started.", zap.Int("targets", len(cfg.Targets)))

	results := make([]Result, 0, len(cfg.Targets))
	total := len(cfg.Targets)
	for i, t := range cfg.Targets {
		if err := ctx.Err(); err != nil {
			return o.interrupted(results, i, total, err, log)
		}
		o.observer.OnStatus(fmt.Sprintf("Scanning %s...", t.Description))

		res := o.scanTarget(ctx, doc, t, cfg)
		results = append(results, res)
		o.recordResult(res)

		progress := int(math.Round(float64(i+1) / float64(total) * 100))
		o.setProgress(progress)
		o.observer.OnProgress(progress)
	}
	if err := ctx.Err(); err != nil {
		return o.interrupted(results, total, total, err, log)
	}

	status, verdictErr := o.verdict(cfg, results, log)
	o.finish(status, results, "")
	o.observer.OnStatus("Scan completed")
	log.Info("Scan finished.", zap.String("status", string(status)), zap.Int("validated", countValidated(results)))

	if status == StatusCompleted && cfg.PersistWinners {
		o.persist(ctx, results, cfg.Targets, log)
	}
	return results, verdictErr
}

// interrupted closes a cancelled session with the results gathered so far.
// The critical verdict is not applied and nothing is promoted.
func (o *Orchestrator) interrupted(results []Result, scanned, total int, err error, log *zap.Logger) ([]Result, error) {
	log.Warn("Scan interrupted.", zap.Int("scanned", scanned), zap.Error(err))
	o.finish(StatusCompleted, results, fmt.Sprintf("scan interrupted after %d of %d targets: %v", scanned, total, err))
	o.observer.OnStatus("Scan interrupted")
	return results, err
}

// ScanTarget scans a single target outside of any session. The ledger is
// not consulted.
func (o *Orchestrator) ScanTarget(ctx context.Context, doc *dom.Document, t targets.Target, cfg Config) Result {
	return o.scanWith(ctx, doc, t, cfg.withDefaults(), arbiter.NewLedger())
}

// scanTarget isolates the session from panics raised while scanning t.
func (o *Orchestrator) scanTarget(ctx context.Context, doc *dom.Document, t targets.Target, cfg Config) (res Result) {
	start := o.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("%v", r)
			o.logger.Error("Recovered while scanning target.", zap.String("target", t.ID), zap.Any("panic", r), zap.Stack("stack"))
			o.addError(fmt.Sprintf("error scanning %s: %s", t.ID, msg))
			res = Result{
				TargetID:         t.ID,
				Candidates:       []string{},
				ValidationErrors: []string{msg},
				Duration:         o.clock.Now().Sub(start),
			}
		}
	}()
	return o.scanWith(ctx, doc, t, cfg, o.ledger)
}

func (o *Orchestrator) scanWith(ctx context.Context, doc *dom.Document, t targets.Target, cfg Config, ledger *arbiter.Ledger) Result {
	start := o.clock.Now()
	res := Result{TargetID: t.ID, Candidates: []string{}, ValidationErrors: []string{}}

	nodes, layer, err := o.searcher.FindCandidates(ctx, doc, t)
	res.Layer = layer
	if err != nil {
		res.ValidationErrors = append(res.ValidationErrors, err.Error())
		res.Duration = o.clock.Now().Sub(start)
		return res
	}
	if len(nodes) == 0 {
		res.ValidationErrors = append(res.ValidationErrors, ErrNoCandidates.Error())
		res.Duration = o.clock.Now().Sub(start)
		return res
	}

	cands := o.candidates(doc, nodes, cfg)
	for _, c := range cands {
		res.Candidates = append(res.Candidates, c.selector)
	}

	for _, c := range cands {
		if err := o.validateCandidate(doc, c.selector, c.source, t); err != nil {
			res.ValidationErrors = append(res.ValidationErrors, fmt.Sprintf("%s: %v", c.selector, err))
			continue
		}
		if ledger.TakenByOther(c.selector, t.ID) {
			owner, _ := ledger.Owner(c.selector)
			o.logger.Debug("Selector already claimed.", zap.String("target", t.ID), zap.String("selector", c.selector), zap.String("owner", owner))
			res.ValidationErrors = append(res.ValidationErrors, fmt.Sprintf("%s: %v (%s)", c.selector, ErrClaimed, owner))
			continue
		}
		if !o.stable(ctx, c.selector, cfg) {
			res.ValidationErrors = append(res.ValidationErrors, fmt.Sprintf("%s: unstable across snapshots", c.selector))
			continue
		}
		ledger.Claim(c.selector, t.ID)
		res.BestSelector = c.selector
		res.Validated = true
		break
	}

	if res.BestSelector != "" {
		matched := o.validator.Matches(doc, res.BestSelector)
		res.ElementCount = len(matched)
		res.ElementFound = res.ElementCount > 0
		if res.ElementFound {
			o.logger.Debug("Target validated.",
				zap.String("target", t.ID),
				zap.String("selector", res.BestSelector),
				zap.Stringer("layer", layer),
				zap.String("xpath", doc.XPath(matched[0])),
			)
		}
	}
	res.Duration = o.clock.Now().Sub(start)
	return res
}

// candidates generates selectors for the first elements found, keeping
// generation order, dropping repeats and capping the list.
func (o *Orchestrator) candidates(doc *dom.Document, nodes []*html.Node, cfg Config) []candidate {
	if len(nodes) > cfg.ElementsPerTarget {
		nodes = nodes[:cfg.ElementsPerTarget]
	}
	seen := make(map[string]struct{})
	var out []candidate
	for _, n := range nodes {
		for _, sel := range o.generator.Candidates(doc, n) {
			if _, ok := seen[sel]; ok {
				continue
			}
			seen[sel] = struct{}{}
			out = append(out, candidate{selector: sel, source: n})
			if len(out) == cfg.MaxCandidates {
				return out
			}
		}
	}
	return out
}

func (o *Orchestrator) stable(ctx context.Context, selector string, cfg Config) bool {
	if o.source == nil || cfg.StabilityIterations <= 0 {
		return true
	}
	ok, err := o.validator.ValidateStability(ctx, o.source, selector, cfg.StabilityIterations)
	if err != nil {
		o.logger.Warn("Stability check failed.", zap.String("selector", selector), zap.Error(err))
		return false
	}
	return ok
}

// verdict applies the priority-tier rules to a finished pass.
func (o *Orchestrator) verdict(cfg Config, results []Result, log *zap.Logger) (Status, error) {
	byID := make(map[string]targets.Target, len(cfg.Targets))
	for _, t := range cfg.Targets {
		byID[t.ID] = t
	}
	var critical, criticalOK, important, importantOK int
	for _, r := range results {
		switch byID[r.TargetID].Priority {
		case targets.Critical:
			critical++
			if r.Validated {
				criticalOK++
			}
		case targets.Important:
			important++
			if r.Validated {
				importantOK++
			}
		}
	}

	if important > 0 && cfg.MinImportantRate > 0 {
		if rate := float64(importantOK) / float64(important); rate < cfg.MinImportantRate {
			msg := fmt.Sprintf("only %d of %d important targets validated (%.0f%% < %.0f%%)",
				importantOK, important, rate*100, cfg.MinImportantRate*100)
			log.Warn("Important tier below target rate.", zap.Int("validated", importantOK), zap.Int("total", important))
			o.addError(msg)
		}
	}

	if cfg.RequireCritical && criticalOK < critical {
		msg := fmt.Sprintf("only %d of %d critical targets validated", criticalOK, critical)
		o.addError(msg)
		return StatusFailed, fmt.Errorf("%w: %s", ErrCriticalTierFailed, msg)
	}
	return StatusCompleted, nil
}

// persist promotes each winner that is not already at the head of its chain
// and forwards the promotions to the syncer. Failures are logged and never
// undo local promotions.
func (o *Orchestrator) persist(ctx context.Context, results []Result, ts []targets.Target, log *zap.Logger) {
	if o.chain == nil {
		return
	}
	desc := make(map[string]string, len(ts))
	for _, t := range ts {
		desc[t.ID] = t.Description
	}

	var updates []remotesync.Update
	for _, r := range results {
		if !r.Validated {
			continue
		}
		o.chain.Ensure(r.TargetID, desc[r.TargetID])
		def, _ := o.chain.Definition(r.TargetID)
		var head string
		if len(def.Selectors) > 0 {
			head = def.Selectors[0]
		}
		if head == r.BestSelector {
			// Already first in the chain: refresh the verdict, nothing to share.
			if err := o.chain.MarkWorking(ctx, r.TargetID); err != nil {
				log.Error("Failed to mark selector working.", zap.String("target", r.TargetID), zap.Error(err))
			}
			continue
		}
		if err := o.chain.ReportWorking(ctx, r.TargetID, r.BestSelector); err != nil {
			log.Error("Failed to promote selector.", zap.String("target", r.TargetID), zap.Error(err))
			continue
		}
		updates = append(updates, remotesync.Update{
			TargetID:    r.TargetID,
			NewSelector: r.BestSelector,
			OldSelector: head,
			Validated:   true,
		})
	}
	if len(updates) == 0 {
		return
	}
	log.Info("Selectors promoted.", zap.Int("count", len(updates)))
	if err := o.syncer.Sync(ctx, updates); err != nil {
		if errors.Is(err, remotesync.ErrQueued) {
			log.Warn("Remote sync deferred.", zap.Error(err))
			return
		}
		log.Error("Remote sync failed.", zap.Error(err))
	}
}

func (o *Orchestrator) recordResult(r Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session.Results = append(o.session.Results, r)
}

func (o *Orchestrator) setProgress(p int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session.Progress = p
}

func (o *Orchestrator) addError(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session.Errors = append(o.session.Errors, msg)
}

func (o *Orchestrator) finish(status Status, results []Result, msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.clock.Now()
	o.session.Status = status
	o.session.CompletedAt = &now
	o.session.Results = append([]Result(nil), results...)
	if msg != "" {
		o.session.Errors = append(o.session.Errors, msg)
	}
}

func countValidated(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Validated {
			n++
		}
	}
	return n
}
