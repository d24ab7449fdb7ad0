// Package chain keeps the persisted fallback chains: for each target an
// ordered list of selectors, most preferred first, with the status of the
// last verification.
package chain

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

// ErrInvalidDocument is returned when a selectors document fails validation.
var ErrInvalidDocument = errors.New("invalid selectors document")

// strictJSON rejects unknown fields.
var strictJSON = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	DisallowUnknownFields:  true,
}.Froze()

// Status of a definition's last verification.
type Status string

const (
	StatusWorking Status = "working"
	StatusBroken  Status = "broken"
	StatusUnknown Status = "unknown"
)

func (s Status) valid() bool {
	switch s {
	case StatusWorking, StatusBroken, StatusUnknown:
		return true
	}
	return false
}

// Definition is the fallback chain of one target.
type Definition struct {
	ID           string     `json:"id" yaml:"id"`
	Description  string     `json:"description" yaml:"description"`
	Selectors    []string   `json:"selectors" yaml:"selectors"`
	Status       Status     `json:"status" yaml:"status"`
	LastVerified *time.Time `json:"lastVerified,omitempty" yaml:"lastVerified,omitempty"`
}

func (d Definition) clone() Definition {
	d.Selectors = append([]string(nil), d.Selectors...)
	if d.LastVerified != nil {
		t := *d.LastVerified
		d.LastVerified = &t
	}
	return d
}

// Document is the persisted form of every chain.
type Document struct {
	Version   string                 `json:"version" yaml:"version"`
	UpdatedAt string                 `json:"updatedAt" yaml:"updatedAt"`
	Selectors map[string]*Definition `json:"selectors" yaml:"selectors"`
}

// NewDocument returns an empty document stamped with now.
func NewDocument(now time.Time) *Document {
	return &Document{
		Version:   VersionFor(now),
		UpdatedAt: now.UTC().Format(time.RFC3339),
		Selectors: make(map[string]*Definition),
	}
}

// VersionFor renders the date-based version used by documents, YYYY.MM.DD.
func VersionFor(t time.Time) string { return t.UTC().Format("2006.01.02") }

// Clone deep-copies the document.
func (d *Document) Clone() *Document {
	out := &Document{Version: d.Version, UpdatedAt: d.UpdatedAt, Selectors: make(map[string]*Definition, len(d.Selectors))}
	for id, def := range d.Selectors {
		c := def.clone()
		out.Selectors[id] = &c
	}
	return out
}

// IDs returns the definition ids in sorted order.
func (d *Document) IDs() []string {
	ids := make([]string, 0, len(d.Selectors))
	for id := range d.Selectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks the document against the fixed schema and reports every
// problem found.
func (d *Document) Validate() error {
	var problems []string
	if strings.TrimSpace(d.Version) == "" {
		problems = append(problems, "version must not be empty")
	}
	if _, err := time.Parse(time.RFC3339, d.UpdatedAt); err != nil {
		problems = append(problems, fmt.Sprintf("updatedAt %q is not an RFC 3339 timestamp", d.UpdatedAt))
	}
	if d.Selectors == nil {
		problems = append(problems, "selectors must be an object")
	}
	for _, key := range d.IDs() {
		def := d.Selectors[key]
		if def == nil {
			problems = append(problems, fmt.Sprintf("selectors.%s: definition is null", key))
			continue
		}
		if def.ID == "" {
			problems = append(problems, fmt.Sprintf("selectors.%s: id must not be empty", key))
		} else if def.ID != key {
			problems = append(problems, fmt.Sprintf("selectors.%s: id %q does not match its key", key, def.ID))
		}
		if strings.TrimSpace(def.Description) == "" {
			problems = append(problems, fmt.Sprintf("selectors.%s: description must not be empty", key))
		}
		if len(def.Selectors) == 0 {
			problems = append(problems, fmt.Sprintf("selectors.%s: fallback chain must hold at least one selector", key))
		}
		for i, s := range def.Selectors {
			if strings.TrimSpace(s) == "" {
				problems = append(problems, fmt.Sprintf("selectors.%s.selectors[%d]: selector must not be empty", key, i))
			}
		}
		if !def.Status.valid() {
			problems = append(problems, fmt.Sprintf("selectors.%s: status %q is not one of working, broken, unknown", key, def.Status))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(problems, "; "))
	}
	return nil
}

// Format of a serialized document.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatForPath picks the format from a file extension.
func FormatForPath(path string) Format {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		return FormatYAML
	}
	return FormatJSON
}

// Decode parses and validates a document. Unknown fields are rejected.
func Decode(data []byte, f Format) (*Document, error) {
	var doc Document
	switch f {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
	default:
		if err := strictJSON.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Encode serializes a document.
func Encode(doc *Document, f Format) ([]byte, error) {
	switch f {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("failed to encode selectors document: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode selectors document: %w", err)
		}
		return buf.Bytes(), nil
	default:
		data, err := strictJSON.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode selectors document: %w", err)
		}
		return append(data, '\n'), nil
	}
}
