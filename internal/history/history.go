// Package history keeps a local sqlite log of scan sessions and their
// per-target results.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/relocator/internal/scanner"
	"github.com/xkilldash9x/relocator/internal/search"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("scan session not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL,
	errors TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS results (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	selector_id TEXT NOT NULL,
	best_selector TEXT NOT NULL,
	validated INTEGER NOT NULL,
	element_found INTEGER NOT NULL,
	element_count INTEGER NOT NULL,
	layer INTEGER NOT NULL,
	duration_ns INTEGER NOT NULL,
	candidates TEXT NOT NULL,
	errors TEXT NOT NULL,
	PRIMARY KEY (session_id, position)
);
CREATE INDEX IF NOT EXISTS results_selector ON results(selector_id);
`

var pragmas = []string{
	"PRAGMA foreign_keys=ON",
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=10000",
	"PRAGMA synchronous=NORMAL",
}

// Summary is one row of the session list.
type Summary struct {
	ID          string         `json:"id"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Status      scanner.Status `json:"status"`
	Progress    int            `json:"progress"`
	Validated   int            `json:"validated"`
	Total       int            `json:"total"`
	Errors      []string       `json:"errors"`
}

// Log is the sqlite-backed scan history.
type Log struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates or opens the history database at path.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// One connection keeps per-connection pragmas in force.
	db.SetMaxOpenConns(1)
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}
	return &Log{db: db, logger: logger.Named("history")}, nil
}

// Close releases the database.
func (l *Log) Close() error { return l.db.Close() }

// Record stores s, replacing an earlier copy of the same session.
func (l *Log) Record(ctx context.Context, s *scanner.Session) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	errs, err := json.MarshalToString(nonNil(s.Errors))
	if err != nil {
		return fmt.Errorf("failed to encode session errors: %w", err)
	}
	var completed sql.NullString
	if s.CompletedAt != nil {
		completed = sql.NullString{String: formatTime(*s.CompletedAt), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE session_id = ?`, s.ID); err != nil {
		return fmt.Errorf("failed to replace session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, s.ID); err != nil {
		return fmt.Errorf("failed to replace session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, completed_at, status, progress, errors) VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, formatTime(s.StartedAt), completed, string(s.Status), s.Progress, errs,
	); err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for i, r := range s.Results {
		cands, err := json.MarshalToString(nonNil(r.Candidates))
		if err != nil {
			return fmt.Errorf("failed to encode candidates: %w", err)
		}
		rerrs, err := json.MarshalToString(nonNil(r.ValidationErrors))
		if err != nil {
			return fmt.Errorf("failed to encode validation errors: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO results (session_id, position, selector_id, best_selector, validated, element_found, element_count, layer, duration_ns, candidates, errors)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, i, r.TargetID, r.BestSelector, r.Validated, r.ElementFound, r.ElementCount, int(r.Layer), int64(r.Duration), cands, rerrs,
		); err != nil {
			return fmt.Errorf("failed to insert result for %s: %w", r.TargetID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	l.logger.Debug("Scan session recorded.", zap.String("session", s.ID), zap.Int("results", len(s.Results)))
	return nil
}

// Recent lists the newest sessions first, at most limit of them.
func (l *Log) Recent(ctx context.Context, limit int) ([]Summary, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT s.id, s.started_at, s.completed_at, s.status, s.progress, s.errors,
		       COALESCE(SUM(r.validated), 0), COUNT(r.selector_id)
		FROM sessions s LEFT JOIN results r ON r.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum       Summary
			started   string
			completed sql.NullString
			status    string
			errs      string
		)
		if err := rows.Scan(&sum.ID, &started, &completed, &status, &sum.Progress, &errs, &sum.Validated, &sum.Total); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		if sum.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if completed.Valid {
			t, err := parseTime(completed.String)
			if err != nil {
				return nil, err
			}
			sum.CompletedAt = &t
		}
		sum.Status = scanner.Status(status)
		if err := json.UnmarshalFromString(errs, &sum.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode session errors: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// Results returns the per-target results of session id in scan order.
func (l *Log) Results(ctx context.Context, id string) ([]scanner.Result, error) {
	var exists int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT selector_id, best_selector, validated, element_found, element_count, layer, duration_ns, candidates, errors
		FROM results WHERE session_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []scanner.Result
	for rows.Next() {
		var (
			r        scanner.Result
			layer    int
			duration int64
			cands    string
			errs     string
		)
		if err := rows.Scan(&r.TargetID, &r.BestSelector, &r.Validated, &r.ElementFound, &r.ElementCount, &layer, &duration, &cands, &errs); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		r.Layer = search.Layer(layer)
		r.Duration = time.Duration(duration)
		if err := json.UnmarshalFromString(cands, &r.Candidates); err != nil {
			return nil, fmt.Errorf("failed to decode candidates: %w", err)
		}
		if err := json.UnmarshalFromString(errs, &r.ValidationErrors); err != nil {
			return nil, fmt.Errorf("failed to decode validation errors: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// Prune deletes all but the newest keep sessions and reports how many were
// removed.
func (l *Log) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := l.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE id NOT IN (
			SELECT id FROM sessions ORDER BY started_at DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned sessions: %w", err)
	}
	if n > 0 {
		l.logger.Info("Scan history pruned.", zap.Int64("removed", n), zap.Int("kept", keep))
	}
	return n, nil
}

// Fixed-width UTC timestamps sort correctly as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
