// Package scanner drives discovery across the target catalog. A scan walks
// the targets in order, finds candidate elements, generates selectors for
// them and keeps the first selector that survives validation and has not
// been claimed by another target in the same pass.
package scanner

import (
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/relocator/internal/config"
	"github.com/xkilldash9x/relocator/internal/search"
	"github.com/xkilldash9x/relocator/internal/targets"
)

// Status is the lifecycle state of a scan session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusScanning  Status = "scanning"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	// ErrScanInProgress is returned when a scan is started on a busy
	// orchestrator.
	ErrScanInProgress = errors.New("a scan is already in progress")
	// ErrCriticalTierFailed marks a session that missed a critical target
	// while every critical target was required.
	ErrCriticalTierFailed = errors.New("critical targets were not validated")
	// ErrNoCandidates is recorded when no layer found any element.
	ErrNoCandidates = errors.New("no candidate element found")
)

// Result is the outcome of scanning one target.
type Result struct {
	TargetID         string        `json:"selectorId"`
	Candidates       []string      `json:"candidates"`
	BestSelector     string        `json:"bestSelector,omitempty"`
	Validated        bool          `json:"validated"`
	ValidationErrors []string      `json:"validationErrors"`
	Duration         time.Duration `json:"duration"`
	ElementFound     bool          `json:"elementFound"`
	ElementCount     int           `json:"elementCount"`
	Layer            search.Layer  `json:"layer"`
}

// Session tracks one ScanAll call.
type Session struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	Results     []Result   `json:"results"`
	Errors      []string   `json:"errors"`
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Results = append([]Result(nil), s.Results...)
	out.Errors = append([]string(nil), s.Errors...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// Config tunes one scan.
type Config struct {
	Targets           []targets.Target
	MaxCandidates     int
	ElementsPerTarget int
	// RequireCritical fails the session unless every critical target
	// validated.
	RequireCritical bool
	// MinImportantRate is the share of important targets expected to
	// validate. Falling short is reported but never fails the session.
	MinImportantRate float64
	// PersistWinners promotes validated selectors through the chain
	// manager and forwards them to the syncer.
	PersistWinners bool
	// StabilityIterations re-checks each winner this many times when the
	// orchestrator has a document source. Zero disables the check.
	StabilityIterations int
	Timeout             time.Duration
}

const (
	DefaultMaxCandidates     = 15
	DefaultElementsPerTarget = 5
)

// DefaultConfig scans the whole catalog and requires every critical target.
func DefaultConfig() Config {
	return Config{
		Targets:           targets.All(),
		MaxCandidates:     DefaultMaxCandidates,
		ElementsPerTarget: DefaultElementsPerTarget,
		RequireCritical:   true,
		MinImportantRate:  0.8,
	}
}

// ConfigFromScan resolves the configured target ids against the catalog.
// An empty id list selects the whole catalog.
func ConfigFromScan(cfg config.ScanConfig) (Config, error) {
	out := Config{
		MaxCandidates:       cfg.MaxCandidates,
		ElementsPerTarget:   cfg.ElementsPerTarget,
		RequireCritical:     cfg.RequireCritical,
		MinImportantRate:    cfg.MinImportantRate,
		PersistWinners:      cfg.PersistWinners,
		StabilityIterations: cfg.StabilityIterations,
		Timeout:             cfg.Timeout,
	}
	if len(cfg.Targets) == 0 {
		out.Targets = targets.All()
	} else {
		selected, err := targets.Select(cfg.Targets)
		if err != nil {
			return Config{}, fmt.Errorf("invalid scan targets: %w", err)
		}
		out.Targets = selected
	}
	return out.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = DefaultMaxCandidates
	}
	if c.ElementsPerTarget <= 0 {
		c.ElementsPerTarget = DefaultElementsPerTarget
	}
	return c
}

// Observer receives progress and status updates while a scan runs.
type Observer interface {
	OnProgress(percent int)
	OnStatus(status string)
}

type nopObserver struct{}

func (nopObserver) OnProgress(int)  {}
func (nopObserver) OnStatus(string) {}
