package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/cotask/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	if run.State == "" {
		run.State = model.RunStateRunning
	}
	policy := run.Policy
	if policy == "" {
		policy = "suspend"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, state, failure_policy, task_count, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, string(run.State), policy, run.TaskCount,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stores the final counters and state of run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", run.ID, "state", run.State)

	var completedAt *string
	if run.CompletedAt != nil {
		v := run.CompletedAt.UTC().Format(time.RFC3339Nano)
		completedAt = &v
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, task_count = ?, succeeded = ?, failed = ?, blocked = ?,
		 ticks = ?, cpu_time_ns = ?, completed_at = ? WHERE id = ?`,
		string(run.State), run.TaskCount, run.Succeeded, run.Failed, run.Blocked,
		run.Ticks, int64(run.CPUTime), completedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update run %s: not found", run.ID)
	}
	return nil
}

// GetRun returns the run with its task records, or nil if it does not exist.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, state, failure_policy, task_count, succeeded, failed, blocked,
		 ticks, cpu_time_ns, started_at, completed_at FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	recs, err := s.ListTaskRecords(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load task records: %w", err)
	}
	run.Tasks = recs
	return run, nil
}

// ListRuns returns runs newest first together with the total match count.
func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var whereClauses []string
	var countArgs []any
	if opts.State != "" {
		whereClauses = append(whereClauses, "state = ?")
		countArgs = append(countArgs, string(opts.State))
	}
	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+whereSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT id, name, state, failure_policy, task_count, succeeded, failed, blocked,
		ticks, cpu_time_ns, started_at, completed_at
		FROM runs` + whereSQL + ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	listArgs := append(countArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// PruneRuns deletes runs started before the cutoff along with their task
// records and returns how many runs were removed.
func (s *SQLiteStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	s.logger.Debug("sql", "op", "delete", "table", "runs", "before", before)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE started_at < ?`, before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var state, startedAt string
	var completedAt *string
	var cpu int64

	if err := row.Scan(&run.ID, &run.Name, &state, &run.Policy, &run.TaskCount,
		&run.Succeeded, &run.Failed, &run.Blocked, &run.Ticks, &cpu,
		&startedAt, &completedAt); err != nil {
		return nil, err
	}
	run.State = model.RunState(state)
	run.CPUTime = time.Duration(cpu)
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if completedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *completedAt)
		run.CompletedAt = &t
	}
	return &run, nil
}

// --- Task records ---

// RecordTask appends the record of a retired task. It satisfies
// scheduler.Recorder.
func (s *SQLiteStore) RecordTask(ctx context.Context, rec model.TaskRecord) error {
	s.logger.Debug("sql", "op", "insert", "table", "task_records", "run_id", rec.RunID, "name", rec.Name)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_records (run_id, name, state, cycles, cpu_time_ns, progress, error, retired_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Name, rec.State, rec.Cycles, int64(rec.CPUTime), rec.Progress, rec.Error,
		rec.RetiredAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert task record %q: %w", rec.Name, err)
	}
	return nil
}

// ListTaskRecords returns the records of a run in retirement order.
func (s *SQLiteStore) ListTaskRecords(ctx context.Context, runID string) ([]model.TaskRecord, error) {
	s.logger.Debug("sql", "op", "select", "table", "task_records", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, name, state, cycles, cpu_time_ns, progress, error, retired_at
		 FROM task_records WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []model.TaskRecord
	for rows.Next() {
		var rec model.TaskRecord
		var cpu int64
		var retiredAt string
		if err := rows.Scan(&rec.RunID, &rec.Name, &rec.State, &rec.Cycles, &cpu,
			&rec.Progress, &rec.Error, &retiredAt); err != nil {
			return nil, err
		}
		rec.CPUTime = time.Duration(cpu)
		rec.RetiredAt, _ = time.Parse(time.RFC3339Nano, retiredAt)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
