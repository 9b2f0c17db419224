package runstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidprobe-cli/internal/agent"
)

// DBPool abstracts the pgxpool.Pool so the store can be mocked in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    id         TEXT PRIMARY KEY,
    goal       TEXT NOT NULL,
    status     TEXT NOT NULL,
    reason     TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL,
    ended_at   TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS turns (
    id       TEXT PRIMARY KEY,
    run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    idx      INT NOT NULL,
    snapshot TEXT NOT NULL DEFAULT '',
    raw      TEXT NOT NULL DEFAULT '',
    action   TEXT NOT NULL DEFAULT '',
    outcome  TEXT NOT NULL,
    class    TEXT NOT NULL DEFAULT '',
    detail   TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMPTZ NOT NULL
);
`

const sqlInsertRun = `
        INSERT INTO runs (id, goal, status, reason, started_at, ended_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `

// Store persists finished runs to PostgreSQL for later inspection.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("runstore"),
	}, nil
}

// EnsureSchema creates the runs and turns tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveRun writes a terminal run and its full turn history in one transaction.
func (s *Store) SaveRun(ctx context.Context, state *agent.RunState) error {
	if state == nil {
		return errors.New("nil run state")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after Commit returns ErrTxClosed; that is not an error.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	var endedAt interface{}
	if !state.EndedAt.IsZero() {
		endedAt = state.EndedAt.UTC()
	}
	if _, err := tx.Exec(ctx, sqlInsertRun,
		state.RunID, state.Goal, string(state.Status), state.Reason,
		state.StartedAt.UTC(), endedAt,
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(state.Turns) > 0 {
		if err := s.persistTurns(ctx, tx, state.RunID, state.Turns); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) persistTurns(ctx context.Context, tx pgx.Tx, runID string, turns []agent.Turn) error {
	rows := make([][]interface{}, len(turns))
	for i, turn := range turns {
		issued := ""
		if turn.Action != nil {
			issued = turn.Action.String()
		}
		rows[i] = []interface{}{
			turn.ID, runID, turn.Index,
			turn.Snapshot, turn.Raw, issued,
			string(turn.Outcome), string(turn.Class), turn.Detail,
			turn.Timestamp.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"turns"},
		[]string{"id", "run_id", "idx", "snapshot", "raw", "action", "outcome", "class", "detail", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy turns: %w", err)
	}
	if int(copyCount) != len(turns) {
		return fmt.Errorf("mismatch in copied turns count: expected %d, got %d", len(turns), copyCount)
	}
	return nil
}

// ListRuns returns run summaries, most recent first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]agent.RunState, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, goal, status, reason, started_at FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []agent.RunState
	for rows.Next() {
		var run agent.RunState
		var status string
		if err := rows.Scan(&run.RunID, &run.Goal, &status, &run.Reason, &run.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		run.Status = agent.RunStatus(status)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while reading run rows: %w", err)
	}
	return runs, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
