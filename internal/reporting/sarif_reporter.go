package reporting

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/relocator/internal/observability"
	"github.com/xkilldash9x/relocator/internal/reporting/sarif"
	"github.com/xkilldash9x/relocator/internal/scanner"
	"github.com/xkilldash9x/relocator/internal/targets"
)

const (
	ToolName    = "relocator"
	ToolInfoURI = "https://github.com/xkilldash9x/relocator"
)

var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// SARIFReporter reports every target that did not validate as a SARIF
// result, with one rule per target. It is safe for concurrent use.
type SARIFReporter struct {
	w       io.WriteCloser
	pageURL string
	logger  *zap.Logger

	mu        sync.Mutex
	log       *sarif.Log
	ruleIndex map[string]int
}

func NewSARIFReporter(w io.WriteCloser, opts Options) *SARIFReporter {
	driver := &sarif.ToolComponent{
		Name:           ToolName,
		InformationURI: pString(ToolInfoURI),
		Rules:          []*sarif.ReportingDescriptor{},
	}
	if opts.ToolVersion != "" {
		driver.Version = pString(opts.ToolVersion)
	}
	return &SARIFReporter{
		w:       w,
		pageURL: opts.PageURL,
		logger:  observability.GetLogger().Named("sarif_reporter"),
		log: &sarif.Log{
			Version: sarif.Version,
			Schema:  sarif.Schema,
			Runs: []*sarif.Run{{
				Tool:    &sarif.Tool{Driver: driver},
				Results: []*sarif.Result{},
			}},
		},
		ruleIndex: make(map[string]int),
	}
}

// Write adds the session's unvalidated targets as results and records the
// session as an invocation.
func (r *SARIFReporter) Write(session *scanner.Session) error {
	if session == nil {
		return fmt.Errorf("no session to report")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	inv := &sarif.Invocation{
		ExecutionSuccessful: session.Status == scanner.StatusCompleted,
		StartTimeUTC:        pString(session.StartedAt.UTC().Format(time.RFC3339)),
	}
	if session.CompletedAt != nil {
		inv.EndTimeUTC = pString(session.CompletedAt.UTC().Format(time.RFC3339))
	}
	run.Invocations = append(run.Invocations, inv)

	added := 0
	for _, res := range session.Results {
		if res.Validated {
			continue
		}
		t, ok := targets.Lookup(res.TargetID)
		if !ok {
			t = targets.Target{ID: res.TargetID, Description: res.TargetID, Priority: targets.Optional}
		}
		idx := r.ensureRule(t)
		result := &sarif.Result{
			RuleID:    run.Tool.Driver.Rules[idx].ID,
			RuleIndex: idx,
			Level:     levelFor(t.Priority),
			Message:   &sarif.Message{Text: messageFor(t, res)},
			Properties: sarif.PropertyBag{
				"session":      session.ID,
				"elementFound": res.ElementFound,
				"candidates":   len(res.Candidates),
				"layer":        res.Layer.String(),
			},
		}
		if r.pageURL != "" {
			result.Locations = []*sarif.Location{{
				PhysicalLocation: &sarif.PhysicalLocation{ArtifactLocation: &sarif.ArtifactLocation{URI: r.pageURL}},
			}}
		}
		run.Results = append(run.Results, result)
		added++
	}
	r.logger.Debug("Session added to SARIF report", zap.String("session", session.ID), zap.Int("results", added))
	return nil
}

// Close encodes the log and closes the writer.
func (r *SARIFReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	encodeErr := enc.Encode(r.log)
	closeErr := r.w.Close()
	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Info("SARIF report written", zap.Int("results", len(r.log.Runs[0].Results)))
	return nil
}

// ruleID turns a target id into a stable rule id, e.g. RELOCATOR-SENDBUTTON.
func ruleID(targetID string) string {
	name := strings.Trim(ruleIDSanitizer.ReplaceAllString(strings.ToUpper(targetID), "-"), "-")
	if name == "" {
		name = "UNNAMED"
	}
	return "RELOCATOR-" + name
}

// ensureRule must be called with mu held.
func (r *SARIFReporter) ensureRule(t targets.Target) int {
	if idx, ok := r.ruleIndex[t.ID]; ok {
		return idx
	}
	driver := r.log.Runs[0].Tool.Driver
	help := fmt.Sprintf("No selector for **%s** (%s) validated on the page.\n\n"+
		"Run `relocator layers %s` to see what each discovery layer finds, or map it by hand with `relocator automap %s`.",
		t.Description, t.ID, t.ID, t.ID)
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:               ruleID(t.ID),
		Name:             pString(t.ID),
		ShortDescription: &sarif.MultiformatMessageString{Text: t.Description + " has no working selector"},
		Help: &sarif.MultiformatMessageString{
			Text:     "Re-scan or auto-map " + t.ID + ".",
			Markdown: pString(help),
		},
		DefaultConfiguration: &sarif.Configuration{Level: levelFor(t.Priority)},
		Properties: sarif.PropertyBag{
			"priority": string(t.Priority),
			"category": string(t.Category),
		},
	})
	idx := len(driver.Rules) - 1
	r.ruleIndex[t.ID] = idx
	return idx
}

func levelFor(p targets.Priority) sarif.Level {
	switch p {
	case targets.Critical:
		return sarif.LevelError
	case targets.Important:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}

func messageFor(t targets.Target, res scanner.Result) string {
	msg := fmt.Sprintf("%s (%s) was not located", t.Description, t.ID)
	if len(res.ValidationErrors) > 0 {
		msg += ": " + strings.Join(res.ValidationErrors, "; ")
	}
	return msg
}

func pString(s string) *string { return &s }
