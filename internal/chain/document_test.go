package chain

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validJSON = `{
  "version": "2026.01.11",
  "updatedAt": "2026-01-11T10:00:00Z",
  "selectors": {
    "sendButton": {
      "id": "sendButton",
      "description": "Send button",
      "selectors": ["[data-testid=\"send\"]", "footer button[aria-label*=\"Enviar\"]"],
      "status": "working"
    }
  }
}`

const validYAML = `version: "2026.01.11"
updatedAt: "2026-01-11T10:00:00Z"
selectors:
  sendButton:
    id: sendButton
    description: Send button
    selectors:
      - '[data-testid="send"]'
    status: unknown
`

func TestDecode(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		doc, err := Decode([]byte(validJSON), FormatJSON)
		require.NoError(t, err)
		assert.Equal(t, "2026.01.11", doc.Version)
		require.Contains(t, doc.Selectors, "sendButton")
		assert.Equal(t, []string{`[data-testid="send"]`, `footer button[aria-label*="Enviar"]`}, doc.Selectors["sendButton"].Selectors)
		assert.Equal(t, StatusWorking, doc.Selectors["sendButton"].Status)
	})

	t.Run("yaml", func(t *testing.T) {
		doc, err := Decode([]byte(validYAML), FormatYAML)
		require.NoError(t, err)
		assert.Equal(t, StatusUnknown, doc.Selectors["sendButton"].Status)
	})

	tests := []struct {
		name   string
		input  string
		format Format
		want   string
	}{
		{"unknown json field", `{"version":"1","updatedAt":"2026-01-11T10:00:00Z","selectors":{},"extra":1}`, FormatJSON, "extra"},
		{"unknown yaml field", "version: '1'\nupdatedAt: '2026-01-11T10:00:00Z'\nselectors: {}\nextra: 1\n", FormatYAML, "extra"},
		{"empty version", `{"version":"","updatedAt":"2026-01-11T10:00:00Z","selectors":{}}`, FormatJSON, "version must not be empty"},
		{"bad timestamp", `{"version":"1","updatedAt":"yesterday","selectors":{}}`, FormatJSON, "RFC 3339"},
		{"id mismatch", `{"version":"1","updatedAt":"2026-01-11T10:00:00Z","selectors":{"a":{"id":"b","description":"d","selectors":["x"],"status":"working"}}}`, FormatJSON, "does not match its key"},
		{"empty chain", `{"version":"1","updatedAt":"2026-01-11T10:00:00Z","selectors":{"a":{"id":"a","description":"d","selectors":[],"status":"working"}}}`, FormatJSON, "at least one selector"},
		{"empty selector", `{"version":"1","updatedAt":"2026-01-11T10:00:00Z","selectors":{"a":{"id":"a","description":"d","selectors":[" "],"status":"working"}}}`, FormatJSON, "selector must not be empty"},
		{"bad status", `{"version":"1","updatedAt":"2026-01-11T10:00:00Z","selectors":{"a":{"id":"a","description":"d","selectors":["x"],"status":"fine"}}}`, FormatJSON, "status"},
		{"empty description", `{"version":"1","updatedAt":"2026-01-11T10:00:00Z","selectors":{"a":{"id":"a","description":"","selectors":["x"],"status":"working"}}}`, FormatJSON, "description"},
		{"not json", `{`, FormatJSON, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input), tt.format)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDocument)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestVersionFor(t *testing.T) {
	assert.Equal(t, "2026.01.02", VersionFor(time.Date(2026, 1, 2, 23, 0, 0, 0, time.UTC)))
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	verified := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	doc := &Document{
		Version:   "2026.03.04",
		UpdatedAt: "2026-03-04T05:06:07Z",
		Selectors: map[string]*Definition{
			"chatList": {ID: "chatList", Description: "Conversation list", Selectors: []string{"#pane-side"}, Status: StatusWorking, LastVerified: &verified},
		},
	}

	for _, name := range []string{"selectors.json", "selectors.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			s, err := NewFileStore(path)
			require.NoError(t, err)

			_, err = s.Load(ctx)
			assert.ErrorIs(t, err, ErrNoDocument)

			require.NoError(t, s.Save(ctx, doc))
			got, err := s.Load(ctx)
			require.NoError(t, err)
			if diff := cmp.Diff(doc, got); diff != "" {
				t.Errorf("document changed on disk (-want +got):\n%s", diff)
			}

			entries, err := os.ReadDir(filepath.Dir(path))
			require.NoError(t, err)
			assert.Len(t, entries, 1, "temporary files are cleaned up")
		})
	}

	t.Run("invalid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "selectors.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"version":""}`), 0o644))
		s, err := NewFileStore(path)
		require.NoError(t, err)
		_, err = s.Load(ctx)
		assert.ErrorIs(t, err, ErrInvalidDocument)
	})
}
