package remotesync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
)

// Batch is one queued Sync call.
type Batch struct {
	QueuedAt time.Time `json:"queuedAt"`
	Updates  []Update  `json:"updates"`
}

// PendingFile stores batches that could not be delivered. Each Append adds a
// batch; nothing is overwritten until Flush delivers it.
type PendingFile struct {
	mu   sync.Mutex
	path string
}

// NewPendingFile returns a pending file at path. A leading ~ is expanded.
func NewPendingFile(path string) (*PendingFile, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand pending path %q: %w", path, err)
	}
	return &PendingFile{path: expanded}, nil
}

// Path is the resolved file location.
func (p *PendingFile) Path() string { return p.path }

// Load returns every queued batch, oldest first.
func (p *PendingFile) Load(ctx context.Context) ([]Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadLocked(ctx)
}

// Append queues updates as a new batch.
func (p *PendingFile) Append(ctx context.Context, updates []Update, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	batches, err := p.loadLocked(ctx)
	if err != nil {
		return err
	}
	batches = append(batches, Batch{QueuedAt: now.UTC(), Updates: updates})
	return p.writeLocked(batches)
}

// Replace overwrites the queue. An empty slice removes the file.
func (p *PendingFile) Replace(ctx context.Context, batches []Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(batches) == 0 {
		if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to clear pending updates: %w", err)
		}
		return nil
	}
	return p.writeLocked(batches)
}

func (p *PendingFile) loadLocked(ctx context.Context) ([]Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending updates: %w", err)
	}
	var batches []Batch
	if err := json.Unmarshal(data, &batches); err != nil {
		return nil, fmt.Errorf("pending updates file %s is corrupt: %w", p.path, err)
	}
	return batches, nil
}

func (p *PendingFile) writeLocked(batches []Batch) error {
	data, err := json.MarshalIndent(batches, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode pending updates: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create pending directory: %w", err)
	}
	if err := os.WriteFile(p.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write pending updates: %w", err)
	}
	return nil
}
