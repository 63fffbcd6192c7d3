// Package tracker persists batch job identity across process restarts and
// advances each chunk's job one non-blocking step at a time:
//
//	NEW -submit-> TRACKED -poll-> TRACKED | FETCHED | FAILED
//	FETCHED -reconcile-> DONE
//
// FAILED is terminal. Resubmission is an operator decision (Forget).
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/cwbatch/internal/atomicfile"
	"github.com/MikeSquared-Agency/cwbatch/internal/batch"
	"github.com/MikeSquared-Agency/cwbatch/internal/hermes"
	"github.com/MikeSquared-Agency/cwbatch/internal/metrics"
)

// Publisher receives lifecycle events. *hermes.Client satisfies it.
type Publisher interface {
	Publish(subject string, data any) error
}

// Driver names accepted by Open.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open returns the store for driver. path is used by file and sqlite,
// databaseURL by postgres.
func Open(ctx context.Context, driver, path, databaseURL string) (Store, error) {
	switch driver {
	case "", DriverFile:
		return OpenFileStore(path)
	case DriverSQLite:
		if path == "" {
			path = "~/.cwbatch/jobs.db"
		}
		if err := os.MkdirAll(filepath.Dir(expandHome(path)), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir: %w", err)
		}
		return OpenSQLite(path)
	case DriverPostgres:
		if databaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres state driver")
		}
		return OpenPostgres(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unknown state driver %q", driver)
	}
}

type Tracker struct {
	client  batch.Client
	store   Store
	outDir  string
	logger  *slog.Logger
	events  Publisher
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Tracker)

func WithEvents(p Publisher) Option { return func(t *Tracker) { t.events = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(t *Tracker) { t.metrics = m } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// New creates a tracker writing fetched results under outDir.
func New(client batch.Client, store Store, outDir string, logger *slog.Logger, opts ...Option) *Tracker {
	// Stored output paths must survive a change of working directory.
	if abs, err := filepath.Abs(outDir); err == nil {
		outDir = abs
	}
	t := &Tracker{
		client: client,
		store:  store,
		outDir: outDir,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ResultsPath is where fetched results for chunk are stored.
func (t *Tracker) ResultsPath(chunk string) string {
	return filepath.Join(t.outDir, "results_"+chunk+".jsonl")
}

// Step advances chunk by at most one transition and returns the persisted
// record. A NEW chunk is submitted with reqs; a TRACKED chunk is polled once
// and fetched if complete; FETCHED, DONE and FAILED chunks are left alone.
// Provider errors leave the record unchanged so the next invocation retries
// the same step.
func (t *Tracker) Step(ctx context.Context, chunk string, reqs []batch.Request) (Record, error) {
	rec, err := t.store.Get(ctx, chunk)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = Record{Chunk: chunk, State: StateNew}
	case err != nil:
		return Record{}, fmt.Errorf("load %s: %w", chunk, err)
	}

	switch rec.State {
	case StateNew:
		return t.submit(ctx, rec, reqs)
	case StateTracked:
		return t.poll(ctx, rec)
	default:
		t.logger.Debug("chunk needs no provider call", "chunk", chunk, "state", rec.State)
		return rec, nil
	}
}

func (t *Tracker) submit(ctx context.Context, rec Record, reqs []batch.Request) (Record, error) {
	if len(reqs) == 0 {
		return rec, fmt.Errorf("submit %s: no requests", rec.Chunk)
	}
	job, err := t.client.Submit(ctx, reqs, rec.Chunk)
	if err != nil {
		t.metrics.ProviderError("submit")
		return rec, fmt.Errorf("submit %s: %w", rec.Chunk, err)
	}
	t.metrics.Submitted(len(reqs))

	now := t.now().UTC()
	rec.ID = uuid.New()
	rec.JobID = job.ID
	rec.InputFileID = job.InputFileID
	rec.Status = job.Status
	rec.RequestCount = len(reqs)
	rec.SubmittedAt = now
	t.logger.Info("batch submitted", "chunk", rec.Chunk, "job_id", job.ID, "requests", len(reqs))
	return t.transition(ctx, rec, StateTracked)
}

func (t *Tracker) poll(ctx context.Context, rec Record) (Record, error) {
	job, err := t.client.Poll(ctx, rec.JobID)
	if err != nil {
		t.metrics.ProviderError("poll")
		return rec, fmt.Errorf("poll %s: %w", rec.Chunk, err)
	}
	rec.Status = job.Status
	rec.OutputFileID = job.OutputFileID
	rec.ErrorFileID = job.ErrorFileID

	switch {
	case job.Status.Failed():
		rec.Error = fmt.Sprintf("provider reported %s", job.Status)
		t.logger.Warn("batch job failed", "chunk", rec.Chunk, "job_id", rec.JobID, "status", job.Status)
		return t.transition(ctx, rec, StateFailed)
	case job.Status.Completed():
		return t.fetch(ctx, rec, job)
	default:
		t.logger.Info("batch still running", "chunk", rec.Chunk, "job_id", rec.JobID, "status", job.Status)
		return t.transition(ctx, rec, StateTracked)
	}
}

func (t *Tracker) fetch(ctx context.Context, rec Record, job batch.Job) (Record, error) {
	results, err := t.client.Fetch(ctx, job)
	if err != nil {
		t.metrics.ProviderError("fetch")
		return rec, fmt.Errorf("fetch %s: %w", rec.Chunk, err)
	}

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	t.metrics.Fetched(len(results)-failed, failed)

	path := t.ResultsPath(rec.Chunk)
	err = atomicfile.Write(path, func(w io.Writer) error {
		return batch.WriteResults(w, results)
	})
	if err != nil {
		return rec, fmt.Errorf("write results %s: %w", rec.Chunk, err)
	}
	rec.OutputPath = path
	rec.Error = ""
	t.logger.Info("batch fetched", "chunk", rec.Chunk, "results", len(results), "errors", failed,
		"missing", rec.RequestCount-len(results), "path", path)
	return t.transition(ctx, rec, StateFetched)
}

// MarkDone records that chunk's results have been reconciled. It is a no-op
// for chunks that are already DONE.
func (t *Tracker) MarkDone(ctx context.Context, chunk string) (Record, error) {
	rec, err := t.store.Get(ctx, chunk)
	if err != nil {
		return Record{}, fmt.Errorf("load %s: %w", chunk, err)
	}
	if rec.State == StateDone {
		return rec, nil
	}
	return t.transition(ctx, rec, StateDone)
}

// Forget removes a FAILED record so the next Step submits the chunk again.
func (t *Tracker) Forget(ctx context.Context, chunk string) error {
	rec, err := t.store.Get(ctx, chunk)
	if err != nil {
		return fmt.Errorf("load %s: %w", chunk, err)
	}
	if rec.State != StateFailed {
		return fmt.Errorf("forget %s in state %s: %w", chunk, rec.State, ErrInvalidTransition)
	}
	if err := t.store.Delete(ctx, chunk); err != nil {
		return fmt.Errorf("delete %s: %w", chunk, err)
	}
	t.logger.Info("failed chunk forgotten", "chunk", chunk, "job_id", rec.JobID)
	return nil
}

// List returns every tracked record ordered by chunk.
func (t *Tracker) List(ctx context.Context) ([]Record, error) {
	return t.store.List(ctx)
}

// LoadResults reads the fetched results of a FETCHED or DONE record.
func (t *Tracker) LoadResults(rec Record) ([]batch.Result, error) {
	if !rec.State.HasOutput() {
		return nil, fmt.Errorf("chunk %s in state %s has no output", rec.Chunk, rec.State)
	}
	f, err := os.Open(rec.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("open results: %w", err)
	}
	defer f.Close()

	results, stats, err := batch.DecodeResults(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", rec.OutputPath, err)
	}
	if stats.Malformed > 0 {
		t.logger.Warn("malformed result lines", "chunk", rec.Chunk, "count", stats.Malformed)
	}
	return results, nil
}

func (t *Tracker) transition(ctx context.Context, rec Record, to State) (Record, error) {
	from := rec.State
	if !CanTransition(from, to) {
		return rec, fmt.Errorf("%s: %s -> %s: %w", rec.Chunk, from, to, ErrInvalidTransition)
	}
	rec.State = to
	rec.UpdatedAt = t.now().UTC()
	if err := t.store.Put(ctx, rec); err != nil {
		return rec, fmt.Errorf("persist %s: %w", rec.Chunk, err)
	}
	if from == to {
		return rec, nil
	}

	t.metrics.Transition(string(from), string(to))
	if t.events != nil {
		ev := hermes.JobEvent{
			RecordID:     rec.ID.String(),
			Chunk:        rec.Chunk,
			JobID:        rec.JobID,
			From:         string(from),
			To:           string(to),
			Status:       string(rec.Status),
			RequestCount: rec.RequestCount,
			Error:        rec.Error,
			Timestamp:    rec.UpdatedAt,
		}
		if err := t.events.Publish(hermes.JobSubject(string(to)), ev); err != nil {
			t.logger.Warn("failed to publish job event", "chunk", rec.Chunk, "error", err)
		}
	}
	return rec, nil
}
