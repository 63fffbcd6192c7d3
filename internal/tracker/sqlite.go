package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MikeSquared-Agency/cwbatch/internal/batch"
)

// SQLiteStore keeps records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; the driver runs single-threaded anyway.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS batch_jobs (
			chunk TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			job_id TEXT NOT NULL,
			input_file_id TEXT NOT NULL,
			status TEXT NOT NULL,
			state TEXT NOT NULL,
			output_file_id TEXT NOT NULL DEFAULT '',
			error_file_id TEXT NOT NULL DEFAULT '',
			output_path TEXT NOT NULL DEFAULT '',
			request_count INTEGER NOT NULL DEFAULT 0,
			submitted_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_batch_jobs_state ON batch_jobs(state);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const sqliteColumns = `chunk, id, job_id, input_file_id, status, state, output_file_id,
	error_file_id, output_path, request_count, submitted_at, updated_at, error`

func (s *SQLiteStore) Get(ctx context.Context, chunk string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM batch_jobs WHERE chunk = ?`, chunk)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get job %s: %w", chunk, err)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM batch_jobs ORDER BY chunk`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO batch_jobs(`+sqliteColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk) DO UPDATE SET id=excluded.id, job_id=excluded.job_id,
			input_file_id=excluded.input_file_id, status=excluded.status, state=excluded.state,
			output_file_id=excluded.output_file_id, error_file_id=excluded.error_file_id,
			output_path=excluded.output_path, request_count=excluded.request_count,
			submitted_at=excluded.submitted_at, updated_at=excluded.updated_at, error=excluded.error`,
		rec.Chunk, rec.ID.String(), rec.JobID, rec.InputFileID, string(rec.Status), string(rec.State),
		rec.OutputFileID, rec.ErrorFileID, rec.OutputPath, rec.RequestCount,
		formatTime(rec.SubmittedAt), formatTime(rec.UpdatedAt), rec.Error)
	if err != nil {
		return fmt.Errorf("put job %s: %w", rec.Chunk, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, chunk string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM batch_jobs WHERE chunk = ?`, chunk)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", chunk, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(sc scanner) (Record, error) {
	var (
		rec                Record
		id, status, state  string
		submitted, updated string
	)
	err := sc.Scan(&rec.Chunk, &id, &rec.JobID, &rec.InputFileID, &status, &state,
		&rec.OutputFileID, &rec.ErrorFileID, &rec.OutputPath, &rec.RequestCount,
		&submitted, &updated, &rec.Error)
	if err != nil {
		return Record{}, err
	}
	if rec.ID, err = uuid.Parse(id); err != nil {
		return Record{}, fmt.Errorf("parse id: %w", err)
	}
	rec.Status = batch.Status(status)
	rec.State = State(state)
	if rec.SubmittedAt, err = parseTime(submitted); err != nil {
		return Record{}, err
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
