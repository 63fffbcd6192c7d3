package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/cwbatch/internal/batch"
)

// PostgresStore keeps records in a shared Postgres table so several
// operators can inspect the same runs.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cwbatch_jobs (
			chunk TEXT PRIMARY KEY,
			id UUID NOT NULL,
			job_id TEXT NOT NULL,
			input_file_id TEXT NOT NULL,
			status TEXT NOT NULL,
			state TEXT NOT NULL,
			output_file_id TEXT NOT NULL DEFAULT '',
			error_file_id TEXT NOT NULL DEFAULT '',
			output_path TEXT NOT NULL DEFAULT '',
			request_count INTEGER NOT NULL DEFAULT 0,
			submitted_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		)`)
	return err
}

const pgColumns = `chunk, id, job_id, input_file_id, status, state, output_file_id,
	error_file_id, output_path, request_count, submitted_at, updated_at, error`

func (s *PostgresStore) Get(ctx context.Context, chunk string) (Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM cwbatch_jobs WHERE chunk = $1`, chunk)
	rec, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get job %s: %w", chunk, err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgColumns+` FROM cwbatch_jobs ORDER BY chunk`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cwbatch_jobs (`+pgColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (chunk) DO UPDATE SET id = EXCLUDED.id, job_id = EXCLUDED.job_id,
			input_file_id = EXCLUDED.input_file_id, status = EXCLUDED.status, state = EXCLUDED.state,
			output_file_id = EXCLUDED.output_file_id, error_file_id = EXCLUDED.error_file_id,
			output_path = EXCLUDED.output_path, request_count = EXCLUDED.request_count,
			submitted_at = EXCLUDED.submitted_at, updated_at = EXCLUDED.updated_at, error = EXCLUDED.error`,
		rec.Chunk, rec.ID, rec.JobID, rec.InputFileID, string(rec.Status), string(rec.State),
		rec.OutputFileID, rec.ErrorFileID, rec.OutputPath, rec.RequestCount,
		rec.SubmittedAt.UTC(), rec.UpdatedAt.UTC(), rec.Error,
	)
	if err != nil {
		return fmt.Errorf("put job %s: %w", rec.Chunk, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, chunk string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cwbatch_jobs WHERE chunk = $1`, chunk)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", chunk, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPostgres(row pgx.Row) (Record, error) {
	var (
		rec           Record
		status, state string
	)
	err := row.Scan(&rec.Chunk, &rec.ID, &rec.JobID, &rec.InputFileID, &status, &state,
		&rec.OutputFileID, &rec.ErrorFileID, &rec.OutputPath, &rec.RequestCount,
		&rec.SubmittedAt, &rec.UpdatedAt, &rec.Error)
	if err != nil {
		return Record{}, err
	}
	rec.Status = batch.Status(status)
	rec.State = State(state)
	return rec, nil
}
