package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/exclusion"
	"github.com/xkilldash9x/relocator/internal/wait"
)

var (
	// ErrTargetNotConfigured is returned for ids with no definition.
	ErrTargetNotConfigured = errors.New("target is not configured")
	// ErrChainBroken is returned when no selector in a chain matches.
	ErrChainBroken = errors.New("every selector in the fallback chain is broken")
)

// Manager resolves targets through their fallback chains. It caches the
// last winning selector per target and the presence checks made against
// the current document revision.
type Manager struct {
	mu       sync.Mutex
	doc      *Document
	store    Store
	filter   exclusion.Filter
	clock    wait.Clock
	winners  map[string]string
	checks   map[string]bool
	revision uint64
	group    singleflight.Group
	logger   *zap.Logger
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock replaces the clock used to stamp verifications.
func WithClock(c wait.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithFilter sets the exclusion filter used by presence checks.
func WithFilter(f exclusion.Filter) Option { return func(m *Manager) { m.filter = f } }

// Open loads the document from store, starting from an empty one when the
// store has nothing yet.
func Open(ctx context.Context, logger *zap.Logger, store Store, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:   store,
		filter:  exclusion.New(""),
		clock:   wait.NewRealClock(),
		winners: make(map[string]string),
		checks:  make(map[string]bool),
		logger:  logger.Named("chain"),
	}
	for _, opt := range opts {
		opt(m)
	}

	doc, err := store.Load(ctx)
	switch {
	case errors.Is(err, ErrNoDocument):
		m.logger.Info("No selectors document found, starting empty.")
		doc = NewDocument(m.clock.Now())
	case err != nil:
		return nil, fmt.Errorf("failed to load selectors: %w", err)
	}
	m.doc = doc
	m.logger.Info("Selectors loaded.", zap.String("version", doc.Version), zap.Int("definitions", len(doc.Selectors)))
	return m, nil
}

// Resolve returns a selector from id's chain that currently matches in doc.
// The cached winner is re-checked first; otherwise the chain is walked front
// to back. The chain order never changes here.
func (m *Manager) Resolve(ctx context.Context, doc *dom.Document, id string) (string, bool) {
	sel, err := m.Lookup(ctx, doc, id)
	return sel, err == nil
}

// Lookup is Resolve with the failure reason.
func (m *Manager) Lookup(ctx context.Context, doc *dom.Document, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := id + "@" + strconv.FormatUint(doc.Revision(), 10)
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.resolve(doc, id)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) resolve(doc *dom.Document, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rev := doc.Revision(); rev != m.revision {
		m.checks = make(map[string]bool)
		m.revision = rev
	}

	if cached, ok := m.winners[id]; ok {
		if m.present(doc, id, cached) {
			return cached, nil
		}
		delete(m.winners, id)
	}

	def, ok := m.doc.Selectors[id]
	if !ok {
		m.logger.Warn("Selector requested for an unconfigured target.", zap.String("target", id))
		return "", fmt.Errorf("%w: %s", ErrTargetNotConfigured, id)
	}
	for _, sel := range def.Selectors {
		if m.present(doc, id, sel) {
			m.winners[id] = sel
			return sel, nil
		}
	}
	m.logger.Warn("Every selector in the chain is broken.", zap.String("target", id), zap.Int("chain", len(def.Selectors)))
	return "", fmt.Errorf("%w: %s", ErrChainBroken, id)
}

// present checks that selector matches at least one element outside the
// engine's UI, memoised for the current revision.
func (m *Manager) present(doc *dom.Document, id, selector string) bool {
	key := id + "\x00" + selector
	if v, ok := m.checks[key]; ok {
		return v
	}
	res := doc.Query(selector)
	if res.Err != nil {
		m.logger.Warn("Invalid selector in chain.", zap.String("target", id), zap.String("selector", selector), zap.Error(res.Err))
	}
	ok := res.Err == nil && len(m.filter.FilterOwn(res.Nodes)) > 0
	m.checks[key] = ok
	return ok
}

// ReportWorking promotes selector to the front of id's chain, marks the
// definition working and persists the document. A selector already in the
// chain is moved rather than duplicated.
func (m *Manager) ReportWorking(ctx context.Context, id, selector string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	def, ok := m.doc.Selectors[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotConfigured, id)
	}
	chain := []string{selector}
	for _, s := range def.Selectors {
		if s != selector {
			chain = append(chain, s)
		}
	}
	def.Selectors = chain
	def.Status = StatusWorking
	now := m.clock.Now().UTC()
	def.LastVerified = &now

	m.clearLocked()
	m.logger.Info("Selector promoted.", zap.String("target", id), zap.String("selector", selector))
	return m.saveLocked(ctx)
}

// MarkBroken flags id's definition as broken and persists the document.
func (m *Manager) MarkBroken(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	def, ok := m.doc.Selectors[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotConfigured, id)
	}
	def.Status = StatusBroken
	delete(m.winners, id)
	return m.saveLocked(ctx)
}

// MarkWorking stamps id's definition as working at the current time without
// touching the chain order, then persists the document.
func (m *Manager) MarkWorking(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	def, ok := m.doc.Selectors[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotConfigured, id)
	}
	def.Status = StatusWorking
	now := m.clock.Now().UTC()
	def.LastVerified = &now
	return m.saveLocked(ctx)
}

// Ensure creates an empty definition for id when none exists. Empty chains
// stay in memory until a selector is reported for them.
func (m *Manager) Ensure(id, description string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.doc.Selectors[id]; ok {
		return false
	}
	m.doc.Selectors[id] = &Definition{ID: id, Description: description, Status: StatusUnknown}
	return true
}

// DetectBroken resolves every definition and returns, sorted, the ids
// whose chain has no matching selector.
func (m *Manager) DetectBroken(ctx context.Context, doc *dom.Document) []string {
	var broken []string
	for _, id := range m.IDs() {
		if ctx.Err() != nil {
			break
		}
		if _, ok := m.Resolve(ctx, doc, id); !ok {
			broken = append(broken, id)
		}
	}
	return broken
}

// Definition returns a copy of id's definition.
func (m *Manager) Definition(id string) (Definition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.doc.Selectors[id]
	if !ok {
		return Definition{}, false
	}
	return def.clone(), true
}

// IDs returns every configured id, sorted.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.IDs()
}

// Version of the loaded document.
func (m *Manager) Version() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Version
}

// Snapshot returns a deep copy of the current document.
func (m *Manager) Snapshot() *Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Clone()
}

// Replace swaps in a validated document, typically one fetched from the
// remote source, and persists it.
func (m *Manager) Replace(ctx context.Context, doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = doc.Clone()
	m.clearLocked()
	return m.saveLocked(ctx)
}

// ClearCache forgets cached winners and presence checks.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

func (m *Manager) clearLocked() {
	m.winners = make(map[string]string)
	m.checks = make(map[string]bool)
}

// saveLocked persists every definition that holds at least one selector.
func (m *Manager) saveLocked(ctx context.Context) error {
	out := m.doc.Clone()
	for id, def := range out.Selectors {
		if len(def.Selectors) == 0 {
			delete(out.Selectors, id)
		}
	}
	out.UpdatedAt = m.clock.Now().UTC().Format(time.RFC3339)
	m.doc.UpdatedAt = out.UpdatedAt
	if err := m.store.Save(ctx, out); err != nil {
		return fmt.Errorf("failed to persist selectors: %w", err)
	}
	return nil
}
