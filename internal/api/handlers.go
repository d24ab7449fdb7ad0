// Package api exposes the locator engine over HTTP: the target catalog, the
// fallback chains with their live resolution and background scan sessions.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/relocator/internal/chain"
	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/scanner"
	"github.com/xkilldash9x/relocator/internal/targets"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handlers holds the dependencies of the HTTP endpoints.
type Handlers struct {
	log     *zap.Logger
	chain   *chain.Manager
	scanner *scanner.Orchestrator
	source  dom.Source
	scan    scanner.Config

	// base outlives single requests; background scans derive from it.
	base context.Context
	wg   sync.WaitGroup
}

// NewHandlers builds the endpoint set. source may be nil, in which case
// selectors are served without live resolution and scans are refused.
func NewHandlers(base context.Context, logger *zap.Logger, manager *chain.Manager, orch *scanner.Orchestrator, source dom.Source, scan scanner.Config) *Handlers {
	return &Handlers{
		log:     logger.Named("api"),
		chain:   manager,
		scanner: orch,
		source:  source,
		scan:    scan,
		base:    base,
	}
}

// RegisterRoutes mounts /healthz and the /api/v1 routes on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/targets", h.HandleListTargets)
		r.Get("/selectors/{id}", h.HandleGetSelector)
		r.Post("/scans", h.HandleStartScan)
		r.Get("/scans/current", h.HandleCurrentScan)
	})
}

// Wait blocks until every background scan has returned.
func (h *Handlers) Wait() { h.wg.Wait() }

// HandleHealthCheck answers liveness checks.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// HandleListTargets returns the catalog, optionally filtered by ?priority=.
func (h *Handlers) HandleListTargets(w http.ResponseWriter, r *http.Request) {
	list := targets.All()
	if p := r.URL.Query().Get("priority"); p != "" {
		prio, err := targets.ParsePriority(p)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		list = targets.ByPriority(prio)
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]interface{}{
		"count":   len(list),
		"targets": list,
	})
}

// HandleGetSelector returns the fallback chain for {id} and, when a page is
// attached, the selector that resolves on it right now.
func (h *Handlers) HandleGetSelector(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	def, ok := h.chain.Definition(id)
	if !ok {
		h.respondWithError(w, http.StatusNotFound, "selector "+id+" is not configured")
		return
	}
	view := SelectorView{
		ID:           def.ID,
		Description:  def.Description,
		Selectors:    def.Selectors,
		Status:       def.Status,
		LastVerified: def.LastVerified,
	}
	if h.source != nil {
		doc, err := h.source.Snapshot(r.Context())
		if err != nil {
			h.log.Error("Failed to snapshot the page", zap.Error(err))
			h.respondWithError(w, http.StatusBadGateway, "failed to snapshot the page")
			return
		}
		sel, err := h.chain.Lookup(r.Context(), doc, id)
		if err != nil {
			view.ResolveError = err.Error()
		} else {
			view.Resolved = sel
		}
	}
	h.respondWithSuccess(w, http.StatusOK, view)
}

// HandleStartScan snapshots the page and starts a scan in the background.
// Progress is polled through GET /api/v1/scans/current.
func (h *Handlers) HandleStartScan(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "no page is attached")
		return
	}

	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondWithError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	cfg := h.scan
	if len(req.Targets) > 0 {
		selected, err := targets.Select(req.Targets)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg.Targets = selected
	}

	if h.scanner.Status() == scanner.StatusScanning {
		h.respondWithError(w, http.StatusConflict, scanner.ErrScanInProgress.Error())
		return
	}
	doc, err := h.source.Snapshot(r.Context())
	if err != nil {
		h.log.Error("Failed to snapshot the page", zap.Error(err))
		h.respondWithError(w, http.StatusBadGateway, "failed to snapshot the page")
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if _, err := h.scanner.ScanAll(h.base, doc, cfg); err != nil {
			h.log.Warn("Background scan finished with an error", zap.Error(err))
		}
	}()

	h.respondWithStatus(w, http.StatusAccepted, "accepted", map[string]interface{}{
		"targets": len(cfg.Targets),
	})
}

// HandleCurrentScan returns the running or most recent session.
func (h *Handlers) HandleCurrentScan(w http.ResponseWriter, _ *http.Request) {
	session := h.scanner.Session()
	if session == nil {
		h.respondWithError(w, http.StatusNotFound, "no scan has run yet")
		return
	}
	h.respondWithSuccess(w, http.StatusOK, session)
}

func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.write(w, statusCode, Response{Status: "error", Error: message})
}

func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	h.respondWithStatus(w, statusCode, "success", data)
}

func (h *Handlers) respondWithStatus(w http.ResponseWriter, statusCode int, status string, data interface{}) {
	h.write(w, statusCode, Response{Status: status, Data: data})
}

func (h *Handlers) write(w http.ResponseWriter, statusCode int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
