package api

import (
	"time"

	"github.com/xkilldash9x/relocator/internal/chain"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Status string      `json:"status"` // "success", "accepted" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// SelectorView is a fallback chain together with the selector that
// currently resolves on the page, when a page is attached.
type SelectorView struct {
	ID           string       `json:"id"`
	Description  string       `json:"description"`
	Selectors    []string     `json:"selectors"`
	Status       chain.Status `json:"status"`
	LastVerified *time.Time   `json:"lastVerified,omitempty"`
	Resolved     string       `json:"resolved,omitempty"`
	ResolveError string       `json:"resolveError,omitempty"`
}

// ScanRequest is the optional body of POST /api/v1/scans. An empty target
// list scans the configured set.
type ScanRequest struct {
	Targets []string `json:"targets,omitempty"`
}
