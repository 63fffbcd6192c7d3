//go:build integration

package tracker

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
)

func setupPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := OpenPostgres(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, `DELETE FROM cwbatch_jobs WHERE chunk LIKE 'itest_%'`)
		s.Close()
	})
	return s
}

func TestIntegration_PostgresStore(t *testing.T) {
	s := setupPostgresStore(t)
	ctx := context.Background()
	prefix := "itest_" + uuid.New().String()[:8]

	rec := sampleRecord(prefix + "_part_01")
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rec.State = StateFetched
	rec.OutputPath = "/tmp/out.jsonl"
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := s.Get(ctx, rec.Chunk)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("expected id %s, got %s", rec.ID, got.ID)
	}
	if got.State != StateFetched {
		t.Errorf("expected FETCHED, got %s", got.State)
	}
	if got.OutputPath != "/tmp/out.jsonl" {
		t.Errorf("expected output path, got %q", got.OutputPath)
	}

	if err := s.Delete(ctx, rec.Chunk); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
}
