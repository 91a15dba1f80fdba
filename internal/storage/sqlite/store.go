// Package sqlite provides a SQLite run journal.
package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/oapipe/internal/core/domain"
	"github.com/tjfontaine/oapipe/internal/core/ports"
)

// Store is a SQLite implementation of ports.RunStore.
type Store struct {
	db *sqlx.DB
}

var _ ports.RunStore = (*Store)(nil)

// row mirrors the runs table.
type row struct {
	ExecutionID  string `db:"execution_id"`
	Version      string `db:"version"`
	OperationID  string `db:"operation_id"`
	Status       string `db:"status"`
	ErrorCode    string `db:"error_code"`
	ErrorMessage string `db:"error_message"`
	DurationNS   int64  `db:"duration_ns"`
	StartedAtNS  int64  `db:"started_at_ns"`
}

func (r row) record() *domain.RunRecord {
	return &domain.RunRecord{
		ExecutionID:  r.ExecutionID,
		Version:      r.Version,
		OperationID:  r.OperationID,
		Status:       domain.RunStatus(r.Status),
		ErrorCode:    r.ErrorCode,
		ErrorMessage: r.ErrorMessage,
		Duration:     time.Duration(r.DurationNS),
		StartedAt:    time.Unix(0, r.StartedAtNS),
	}
}

// New opens the SQLite database at dsn and creates the runs table.
func New(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			execution_id TEXT PRIMARY KEY,
			version TEXT NOT NULL,
			operation_id TEXT NOT NULL,
			status TEXT NOT NULL,
			error_code TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			duration_ns INTEGER NOT NULL,
			started_at_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_operation ON runs(version, operation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at_ns)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) RecordRun(ctx context.Context, rec *domain.RunRecord) error {
	if rec == nil || rec.ExecutionID == "" {
		return fmt.Errorf("run record requires an execution id")
	}
	query := `INSERT INTO runs (execution_id, version, operation_id, status, error_code, error_message, duration_ns, started_at_ns)
		VALUES (:execution_id, :version, :operation_id, :status, :error_code, :error_message, :duration_ns, :started_at_ns)`
	_, err := s.db.NamedExecContext(ctx, query, row{
		ExecutionID:  rec.ExecutionID,
		Version:      rec.Version,
		OperationID:  rec.OperationID,
		Status:       string(rec.Status),
		ErrorCode:    rec.ErrorCode,
		ErrorMessage: rec.ErrorMessage,
		DurationNS:   int64(rec.Duration),
		StartedAtNS:  rec.StartedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", rec.ExecutionID, err)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, opts ports.RunListOptions) ([]*domain.RunRecord, error) {
	var (
		where []string
		args  []any
	)
	if opts.Version != "" {
		where = append(where, "version = ?")
		args = append(args, opts.Version)
	}
	if opts.OperationID != "" {
		where = append(where, "operation_id = ?")
		args = append(args, opts.OperationID)
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}

	query := `SELECT execution_id, version, operation_id, status, error_code, error_message, duration_ns, started_at_ns FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at_ns DESC, rowid DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	result := make([]*domain.RunRecord, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.record())
	}
	return result, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
