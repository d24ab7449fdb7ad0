// Package remotesync publishes promoted selectors to a shared remote source
// and pulls the latest selectors document from it.
package remotesync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/relocator/internal/chain"
	"github.com/xkilldash9x/relocator/internal/config"
	"github.com/xkilldash9x/relocator/internal/wait"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrNoUpdates is returned when Sync is called with an empty batch.
	ErrNoUpdates = errors.New("no selector updates to send")
	// ErrRejected is returned when the remote answers but refuses the batch.
	ErrRejected = errors.New("remote rejected the selector updates")
	// ErrQueued reports that the remote was unreachable and the batch was
	// kept in the pending file instead.
	ErrQueued = errors.New("remote unreachable, updates queued locally")
)

// Update describes one promoted selector.
type Update struct {
	TargetID    string `json:"selectorId"`
	NewSelector string `json:"newSelector"`
	OldSelector string `json:"oldSelector"`
	Validated   bool   `json:"validated"`
}

// Syncer receives promoted selectors after a successful scan.
type Syncer interface {
	Sync(ctx context.Context, updates []Update) error
}

// Nop discards every batch.
type Nop struct{}

func (Nop) Sync(context.Context, []Update) error { return nil }

type payload struct {
	Version   string   `json:"version"`
	Updates   []Update `json:"updates"`
	Timestamp string   `json:"timestamp"`
}

type reply struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// HTTPSyncer posts batches to an HTTP endpoint, rate limited, and falls back
// to a pending file when the endpoint cannot be reached.
type HTTPSyncer struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	pending  *PendingFile
	version  func() string
	clock    wait.Clock
	logger   *zap.Logger
}

// Option customises an HTTPSyncer.
type Option func(*HTTPSyncer)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(s *HTTPSyncer) { s.client = c } }

// WithPending sets the file used when the remote is unreachable.
func WithPending(p *PendingFile) Option { return func(s *HTTPSyncer) { s.pending = p } }

// WithVersion supplies the current local document version.
func WithVersion(f func() string) Option { return func(s *HTTPSyncer) { s.version = f } }

// WithClock replaces the clock used for timestamps.
func WithClock(c wait.Clock) Option { return func(s *HTTPSyncer) { s.clock = c } }

// NewHTTPSyncer builds a syncer from the remote configuration.
func NewHTTPSyncer(logger *zap.Logger, cfg config.RemoteConfig, opts ...Option) *HTTPSyncer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	s := &HTTPSyncer{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(limit, burst),
		clock:    wait.NewRealClock(),
		logger:   logger.Named("remotesync"),
	}
	s.version = func() string { return chain.VersionFor(s.clock.Now()) }
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync posts updates under the next document version. Transport failures
// queue the batch in the pending file and return ErrQueued.
func (s *HTTPSyncer) Sync(ctx context.Context, updates []Update) error {
	err := s.post(ctx, updates)
	var te *transportError
	if errors.As(err, &te) {
		s.logger.Warn("Remote update failed, queueing locally.", zap.Error(te.err))
		return s.queue(ctx, updates, te.err)
	}
	return err
}

type transportError struct{ err error }

func (e *transportError) Error() string { return "remote unreachable: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func (s *HTTPSyncer) post(ctx context.Context, updates []Update) error {
	if len(updates) == 0 {
		s.logger.Warn("No selector updates to send.")
		return ErrNoUpdates
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	next := IncrementVersion(s.version(), s.clock.Now())
	body, err := json.Marshal(payload{
		Version:   next,
		Updates:   updates,
		Timestamp: s.clock.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to encode selector updates: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build remote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Error("Remote refused selector updates.", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: HTTP %d", ErrRejected, resp.StatusCode)
	}
	var r reply
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&r); err != nil {
		return fmt.Errorf("%w: unreadable reply: %v", ErrRejected, err)
	}
	if !r.Success {
		s.logger.Error("Remote reported failure.", zap.String("message", r.Message))
		return fmt.Errorf("%w: %s", ErrRejected, r.Message)
	}
	s.logger.Info("Remote selectors updated.", zap.String("version", next), zap.Int("updates", len(updates)))
	return nil
}

func (s *HTTPSyncer) queue(ctx context.Context, updates []Update, cause error) error {
	if s.pending == nil {
		return fmt.Errorf("remote update failed: %w", cause)
	}
	if err := s.pending.Append(ctx, updates, s.clock.Now()); err != nil {
		return fmt.Errorf("remote update failed (%v) and queueing failed: %w", cause, err)
	}
	return fmt.Errorf("%w: %v", ErrQueued, cause)
}

// Flush resends every queued batch in order. Batches the remote accepts are
// dropped from the pending file; the first failure stops the flush and keeps
// it and everything after it.
func (s *HTTPSyncer) Flush(ctx context.Context) (int, error) {
	if s.pending == nil {
		return 0, nil
	}
	batches, err := s.pending.Load(ctx)
	if err != nil {
		return 0, err
	}
	if len(batches) == 0 {
		return 0, nil
	}
	for i, b := range batches {
		if err := s.post(ctx, b.Updates); err != nil {
			if rerr := s.pending.Replace(ctx, batches[i:]); rerr != nil {
				return i, rerr
			}
			return i, err
		}
	}
	return len(batches), s.pending.Replace(ctx, nil)
}

// FetchRemote downloads and validates the remote selectors document.
func (s *HTTPSyncer) FetchRemote(ctx context.Context) (*chain.Document, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build remote request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote selectors: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch remote selectors: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read remote selectors: %w", err)
	}
	doc, err := chain.Decode(data, chain.FormatJSON)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Remote selectors loaded.", zap.String("version", doc.Version))
	return doc, nil
}

// IncrementVersion bumps the day component of a YYYY.MM.DD[.PATCH] version,
// keeping its zero padding. Versions of another shape get a millisecond
// timestamp suffix.
func IncrementVersion(version string, now time.Time) string {
	parts := strings.Split(version, ".")
	if len(parts) >= 3 {
		if day, err := strconv.Atoi(parts[2]); err == nil {
			parts[2] = fmt.Sprintf("%0*d", len(parts[2]), day+1)
			return strings.Join(parts, ".")
		}
	}
	return fmt.Sprintf("%s.%d", version, now.UnixMilli())
}
