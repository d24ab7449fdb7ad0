// Package automap lets an operator point at elements, directly or by
// viewport coordinates, and turns each one into a validated selector that is
// then promoted into the fallback chains and published remotely.
package automap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/relocator/internal/chain"
	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/exclusion"
	"github.com/xkilldash9x/relocator/internal/generator"
	"github.com/xkilldash9x/relocator/internal/remotesync"
	"github.com/xkilldash9x/relocator/internal/targets"
	"github.com/xkilldash9x/relocator/internal/validator"
	"github.com/xkilldash9x/relocator/internal/wait"
)

var (
	ErrNoSession      = errors.New("no auto-mapping session is active")
	ErrSessionActive  = errors.New("an auto-mapping session is already active")
	ErrUnknownTarget  = errors.New("target is not part of the session")
	ErrNoElement      = errors.New("no element at the given point")
	ErrNoValidMapping = errors.New("no candidate selector validated")
	ErrIncomplete     = errors.New("not every target in the session was validated")
)

// Trigger records why a session started.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerAuto      Trigger = "auto"
	TriggerScheduled Trigger = "scheduled"
)

// SessionStatus is the lifecycle state of a mapping session.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionValidating SessionStatus = "validating"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

// TargetStatus tracks one target inside a session.
type TargetStatus string

const (
	TargetPending    TargetStatus = "pending"
	TargetValidating TargetStatus = "validating"
	TargetSuccess    TargetStatus = "success"
	TargetFailed     TargetStatus = "failed"
)

// TargetState is the per-target view of a session.
type TargetState struct {
	TargetID string       `json:"selectorId"`
	Attempts int          `json:"attempts"`
	Status   TargetStatus `json:"status"`
	Selector string       `json:"selector,omitempty"`
	XPath    string       `json:"xpath,omitempty"`
}

// Session is a snapshot of the mapper's state.
type Session struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"startedAt"`
	Trigger   Trigger       `json:"trigger"`
	Status    SessionStatus `json:"status"`
	Progress  int           `json:"progress"`
	Targets   []TargetState `json:"targets"`
}

// Mapping is the final record of one mapped target.
type Mapping struct {
	SessionID     string     `json:"sessionId"`
	TargetID      string     `json:"selectorId"`
	OldSelector   string     `json:"oldSelector"`
	NewSelector   string     `json:"newSelector"`
	Validated     bool       `json:"validated"`
	ValidatedAt   time.Time  `json:"validatedAt"`
	UpdatedRemote bool       `json:"updatedRemote"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

type entry struct {
	state       TargetState
	doc         *dom.Document
	element     *html.Node
	validatedAt time.Time
}

// Mapper runs one mapping session at a time.
type Mapper struct {
	generator *generator.Generator
	validator *validator.Validator
	hits      HitTester
	chain     *chain.Manager
	syncer    remotesync.Syncer
	clock     wait.Clock
	status    func(string)

	mu      sync.Mutex
	session *Session
	entries map[string]*entry

	logger *zap.Logger
}

// Option customises a Mapper.
type Option func(*Mapper)

// WithClock replaces the clock used for timestamps.
func WithClock(c wait.Clock) Option { return func(m *Mapper) { m.clock = c } }

// WithSyncer publishes completed sessions.
func WithSyncer(s remotesync.Syncer) Option { return func(m *Mapper) { m.syncer = s } }

// WithStatus installs a listener for free-text status updates.
func WithStatus(f func(string)) Option { return func(m *Mapper) { m.status = f } }

// New returns a Mapper that promotes its results through manager.
func New(logger *zap.Logger, filter exclusion.Filter, gen *generator.Generator, val *validator.Validator, manager *chain.Manager, opts ...Option) *Mapper {
	m := &Mapper{
		generator: gen,
		validator: val,
		hits:      NewHitTester(filter),
		chain:     manager,
		syncer:    remotesync.Nop{},
		clock:     wait.NewRealClock(),
		status:    func(string) {},
		logger:    logger.Named("automap"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens a session for ids, or for every configured id when ids is
// empty. With nothing configured yet the whole catalog is mapped.
func (m *Mapper) Start(trigger Trigger, ids []string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil && (m.session.Status == SessionActive || m.session.Status == SessionValidating) {
		return nil, ErrSessionActive
	}
	if len(ids) == 0 {
		ids = m.chain.IDs()
	}
	if len(ids) == 0 {
		for _, t := range targets.All() {
			ids = append(ids, t.ID)
		}
	}

	m.session = &Session{
		ID:        uuid.NewString(),
		StartedAt: m.clock.Now(),
		Trigger:   trigger,
		Status:    SessionActive,
	}
	m.entries = make(map[string]*entry, len(ids))
	for _, id := range ids {
		m.entries[id] = &entry{state: TargetState{TargetID: id, Status: TargetPending}}
		m.session.Targets = append(m.session.Targets, TargetState{TargetID: id, Status: TargetPending})
	}
	m.logger.Info("Auto-mapping session started.", zap.String("session", m.session.ID), zap.Int("targets", len(ids)))
	m.status("Session started")
	return m.snapshotLocked(), nil
}

// Session returns a snapshot of the current session, or nil.
func (m *Mapper) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Cancel abandons the current session.
func (m *Mapper) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.logger.Info("Auto-mapping session cancelled.", zap.String("session", m.session.ID))
		m.status("Session cancelled")
	}
	m.session = nil
	m.entries = nil
}

// MapElement records n as the element for id and returns the first
// generated selector that matches exactly n and n is visible.
func (m *Mapper) MapElement(doc *dom.Document, id string, n *html.Node) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.entryLocked(id)
	if err != nil {
		return "", err
	}
	e.doc = doc
	e.element = n
	return m.mapLocked(e)
}

// MapPoint hit-tests (x, y), widening to the nearest element within radius,
// climbs to a plausible container and maps it to id.
func (m *Mapper) MapPoint(doc *dom.Document, id string, x, y, radius float64) (string, error) {
	hit := m.hits.Nearest(doc, x, y, radius)
	if hit == nil {
		return "", fmt.Errorf("%w: (%.0f, %.0f)", ErrNoElement, x, y)
	}
	return m.MapElement(doc, id, Container(hit, id))
}

// ElementAt exposes the hit test used by MapPoint.
func (m *Mapper) ElementAt(doc *dom.Document, x, y float64) *html.Node {
	return m.hits.ElementAt(doc, x, y)
}

// ValidateAll re-maps every target that has an element but no selector yet
// and reports whether the whole session validated.
func (m *Mapper) ValidateAll() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validateAllLocked()
}

func (m *Mapper) validateAllLocked() (bool, error) {
	if m.session == nil {
		return false, ErrNoSession
	}
	m.session.Status = SessionValidating
	m.status("Validating all selectors...")

	total := len(m.session.Targets)
	validated := 0
	for _, ts := range m.session.Targets {
		e := m.entries[ts.TargetID]
		if e.state.Status != TargetSuccess && e.element != nil {
			_, _ = m.mapLocked(e)
		}
		if e.state.Status == TargetSuccess {
			validated++
		}
		m.session.Progress = percent(validated, total)
	}

	if validated == total {
		m.session.Status = SessionCompleted
		m.status("All selectors validated")
		return true, nil
	}
	m.session.Status = SessionFailed
	m.status(fmt.Sprintf("Only %d of %d selectors validated", validated, total))
	return false, nil
}

// Complete validates the session if needed, publishes the new selectors to
// the syncer and promotes them locally. Local promotion happens even when
// the remote refuses the batch.
func (m *Mapper) Complete(ctx context.Context) ([]Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, ErrNoSession
	}
	if m.session.Status != SessionCompleted {
		ok, err := m.validateAllLocked()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrIncomplete
		}
	}

	var (
		mappings []Mapping
		updates  []remotesync.Update
	)
	for _, ts := range m.session.Targets {
		e := m.entries[ts.TargetID]
		old := "unknown"
		if def, ok := m.chain.Definition(ts.TargetID); ok && len(def.Selectors) > 0 {
			old = def.Selectors[0]
		}
		mappings = append(mappings, Mapping{
			SessionID:   m.session.ID,
			TargetID:    ts.TargetID,
			OldSelector: old,
			NewSelector: e.state.Selector,
			Validated:   true,
			ValidatedAt: e.validatedAt,
		})
		updates = append(updates, remotesync.Update{
			TargetID:    ts.TargetID,
			NewSelector: e.state.Selector,
			OldSelector: old,
			Validated:   true,
		})
	}

	m.status("Sending updates to the remote source...")
	remoteErr := m.syncer.Sync(ctx, updates)
	if remoteErr != nil {
		m.logger.Warn("Remote update failed.", zap.Error(remoteErr))
	} else {
		now := m.clock.Now()
		for i := range mappings {
			mappings[i].UpdatedRemote = true
			mappings[i].UpdatedAt = &now
		}
	}

	for _, mp := range mappings {
		desc := mp.TargetID
		if t, ok := targets.Lookup(mp.TargetID); ok {
			desc = t.Description
		}
		m.chain.Ensure(mp.TargetID, desc)
		if err := m.chain.ReportWorking(ctx, mp.TargetID, mp.NewSelector); err != nil {
			return mappings, fmt.Errorf("failed to promote %s: %w", mp.TargetID, err)
		}
	}
	m.status("Session completed")
	m.logger.Info("Auto-mapping session completed.", zap.String("session", m.session.ID), zap.Int("mappings", len(mappings)), zap.Bool("remote", remoteErr == nil))
	return mappings, nil
}

func (m *Mapper) entryLocked(id string) (*entry, error) {
	if m.session == nil {
		return nil, ErrNoSession
	}
	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, id)
	}
	return e, nil
}

func (m *Mapper) mapLocked(e *entry) (string, error) {
	id := e.state.TargetID
	e.state.Status = TargetValidating
	e.state.Attempts++
	m.status(fmt.Sprintf("Mapping %s...", id))

	cands := m.generator.Candidates(e.doc, e.element)
	ctx := validator.Context{TargetID: id, ExpectedCount: validator.Exactly(1), MustBeVisible: true}
	for _, c := range cands {
		if r := m.validator.Validate(e.doc, c, e.element, ctx); r.IsValid {
			e.state.Status = TargetSuccess
			e.state.Selector = c
			e.state.XPath = e.doc.XPath(e.element)
			e.validatedAt = m.clock.Now()
			m.syncStateLocked(e)
			m.logger.Info("Element mapped.", zap.String("target", id), zap.String("selector", c))
			m.status(fmt.Sprintf("Valid selector found for %s", id))
			return c, nil
		}
	}
	e.state.Status = TargetFailed
	m.syncStateLocked(e)
	m.status(fmt.Sprintf("Failed to map %s", id))
	return "", fmt.Errorf("%w for %s (%d candidates)", ErrNoValidMapping, id, len(cands))
}

func (m *Mapper) syncStateLocked(e *entry) {
	for i := range m.session.Targets {
		if m.session.Targets[i].TargetID == e.state.TargetID {
			m.session.Targets[i] = e.state
			return
		}
	}
}

func (m *Mapper) snapshotLocked() *Session {
	if m.session == nil {
		return nil
	}
	out := *m.session
	out.Targets = append([]TargetState(nil), m.session.Targets...)
	return &out
}

func percent(n, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(n) / float64(total) * 100))
}
