package chain

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/go-homedir"
)

// ErrNoDocument is returned by a Store that has nothing persisted yet.
var ErrNoDocument = errors.New("no selectors document stored")

// Store persists the selectors document.
type Store interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc *Document) error
}

// FileStore keeps the document in a JSON or YAML file, picked by extension.
type FileStore struct {
	path   string
	format Format
}

// NewFileStore returns a FileStore for path. A leading ~ is expanded.
func NewFileStore(path string) (*FileStore, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand selectors path %q: %w", path, err)
	}
	return &FileStore{path: expanded, format: FormatForPath(expanded)}, nil
}

// Path is the resolved file location.
func (s *FileStore) Path() string { return s.path }

// Load reads and validates the file. A missing file is ErrNoDocument.
func (s *FileStore) Load(ctx context.Context) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read selectors file: %w", err)
	}
	doc, err := Decode(data, s.format)
	if err != nil {
		return nil, fmt.Errorf("selectors file %s: %w", s.path, err)
	}
	return doc, nil
}

// Save writes the document through a temporary file so readers never see a
// partial write.
func (s *FileStore) Save(ctx context.Context, doc *Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(doc, s.format)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create selectors directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".selectors-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary selectors file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write selectors file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write selectors file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace selectors file: %w", err)
	}
	return nil
}

// MemoryStore keeps the document in memory. Used by tests and by the API
// when no file is configured.
type MemoryStore struct {
	mu    sync.Mutex
	doc   *Document
	saves int
}

// NewMemoryStore returns a store seeded with doc, which may be nil.
func NewMemoryStore(doc *Document) *MemoryStore {
	s := &MemoryStore{}
	if doc != nil {
		s.doc = doc.Clone()
	}
	return s
}

func (s *MemoryStore) Load(ctx context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, ErrNoDocument
	}
	return s.doc.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc.Clone()
	s.saves++
	return nil
}

// Saves counts successful Save calls.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
