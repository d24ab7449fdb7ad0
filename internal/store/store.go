// Package store keeps a shared selector registry in PostgreSQL. Every
// promoted selector is appended to an audit log and becomes the head of its
// target's chain, so several engines can follow each other's repairs.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/relocator/internal/remotesync"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

const (
	sqlSchema = `
        CREATE TABLE IF NOT EXISTS selector_updates (
            id UUID PRIMARY KEY,
            selector_id TEXT NOT NULL,
            old_selector TEXT NOT NULL,
            new_selector TEXT NOT NULL,
            validated BOOLEAN NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        );
        CREATE TABLE IF NOT EXISTS selector_heads (
            selector_id TEXT PRIMARY KEY,
            selector TEXT NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );
    `
	sqlUpsertHead = `
        INSERT INTO selector_heads (selector_id, selector, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (selector_id) DO UPDATE SET
            selector = EXCLUDED.selector,
            updated_at = EXCLUDED.updated_at;
    `
	sqlHeads = `
        SELECT selector_id, selector
        FROM selector_heads
        ORDER BY selector_id ASC;
    `
	sqlHistory = `
        SELECT id, old_selector, new_selector, validated, created_at
        FROM selector_updates
        WHERE selector_id = $1
        ORDER BY created_at ASC;
    `
)

var updateColumns = []string{"id", "selector_id", "old_selector", "new_selector", "validated", "created_at"}

// Record is one row of a target's update log.
type Record struct {
	ID        string            `json:"id"`
	Update    remotesync.Update `json:"update"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Store is a remotesync.Syncer backed by PostgreSQL.
type Store struct {
	pool DBPool
	now  func() time.Time
	log  *zap.Logger
}

var _ remotesync.Syncer = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		now:  time.Now,
		log:  logger.Named("store"),
	}, nil
}

// Migrate creates the registry tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Sync appends updates to the log and moves each target's head, all in one
// transaction.
func (s *Store) Sync(ctx context.Context, updates []remotesync.Update) error {
	if len(updates) == 0 {
		return remotesync.ErrNoUpdates
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	now := s.now().UTC()
	if err := s.appendUpdates(ctx, tx, updates, now); err != nil {
		return err
	}
	if err := s.moveHeads(ctx, tx, updates, now); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Selector updates stored.", zap.Int("count", len(updates)))
	return nil
}

func (s *Store) appendUpdates(ctx context.Context, tx pgx.Tx, updates []remotesync.Update, now time.Time) error {
	rows := make([][]interface{}, len(updates))
	for i, u := range updates {
		rows[i] = []interface{}{uuid.NewString(), u.TargetID, u.OldSelector, u.NewSelector, u.Validated, now}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"selector_updates"}, updateColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy selector updates: %w", err)
	}
	if int(copyCount) != len(updates) {
		return fmt.Errorf("mismatch in copied updates count: expected %d, got %d", len(updates), copyCount)
	}
	return nil
}

func (s *Store) moveHeads(ctx context.Context, tx pgx.Tx, updates []remotesync.Update, now time.Time) error {
	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(sqlUpsertHead, u.TargetID, u.NewSelector, now)
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	defer func() {
		_ = br.Close()
	}()

	for i := range updates {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to move head for %s (index %d): %w", updates[i].TargetID, i, err)
		}
	}
	return nil
}

// Heads returns the current head selector of every registered target.
func (s *Store) Heads(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, sqlHeads)
	if err != nil {
		return nil, fmt.Errorf("failed to query heads: %w", err)
	}
	defer rows.Close()

	heads := make(map[string]string)
	for rows.Next() {
		var id, selector string
		if err := rows.Scan(&id, &selector); err != nil {
			return nil, fmt.Errorf("failed to scan head row: %w", err)
		}
		heads[id] = selector
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return heads, nil
}

// History returns id's update log, oldest first.
func (s *Store) History(ctx context.Context, id string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, sqlHistory, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r := Record{Update: remotesync.Update{TargetID: id}}
		if err := rows.Scan(&r.ID, &r.Update.OldSelector, &r.Update.NewSelector, &r.Update.Validated, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}
