package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/cwbatch/internal/batch"
	"github.com/MikeSquared-Agency/cwbatch/internal/hermes"
	"github.com/MikeSquared-Agency/cwbatch/internal/metrics"
	"github.com/MikeSquared-Agency/cwbatch/internal/prompts"
	"github.com/MikeSquared-Agency/cwbatch/internal/reconcile"
	"github.com/MikeSquared-Agency/cwbatch/internal/table"
	"github.com/MikeSquared-Agency/cwbatch/internal/tracker"
)

// Driver runs one variant over one input table. Each Run is a single pass:
// it never waits for a job to finish.
type Driver struct {
	Tracker   *tracker.Tracker
	Variant   prompts.Variant
	Model     string
	MaxTokens int
	ChunkSize int
	Chain     reconcile.Chain
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Events    tracker.Publisher
}

// RunReport is what one pass did.
type RunReport struct {
	RunID      string                `json:"run_id"`
	Variant    string                `json:"variant"`
	Build      BuildStats            `json:"build"`
	Chunks     []tracker.Record      `json:"chunks"`
	States     map[tracker.State]int `json:"states"`
	StepErrors int                   `json:"step_errors"`
	LoadErrors int                   `json:"load_errors"`
	Reconciled bool                  `json:"reconciled"`
	Reconcile  reconcile.Report      `json:"reconcile"`
	OutputRows int                   `json:"output_rows"`
	Output     string                `json:"output,omitempty"`
}

// ChunkName names the i-th (zero-based) chunk of a job.
func ChunkName(job string, i int) string {
	return fmt.Sprintf("%s_part_%02d", job, i+1)
}

// Run builds the requests for input, advances every chunk named after job by
// one step and, once any chunk has output, reconciles all fetched results onto
// input and writes the result to output. Chunks that fail, fail to step or
// whose stored results cannot be read do not block the others.
func (d *Driver) Run(ctx context.Context, input *table.Table, job, output string) (RunReport, error) {
	rep := RunReport{
		RunID:   uuid.New().String(),
		Variant: d.Variant.Name,
		States:  make(map[tracker.State]int),
	}
	logger := d.Logger.With("run_id", rep.RunID, "variant", d.Variant.Name)

	reqs, stats, err := BuildRequests(input, d.Variant, d.Model, d.MaxTokens)
	rep.Build = stats
	if err != nil {
		return rep, fmt.Errorf("build requests: %w", err)
	}
	d.Metrics.StageRows("build", "request", stats.Requests)
	d.Metrics.StageRows("build", "skipped", stats.Skipped+stats.BadIndex+stats.Duplicates)
	logger.Info("requests built", "rows", stats.Rows, "requests", stats.Requests,
		"skipped", stats.Skipped, "bad_index", stats.BadIndex, "duplicates", stats.Duplicates)

	var ready []tracker.Record
	for i, chunk := range batch.Split(reqs, d.ChunkSize) {
		name := ChunkName(job, i)
		rec, err := d.Tracker.Step(ctx, name, chunk)
		if err != nil {
			rep.StepErrors++
			logger.Error("chunk step failed", "chunk", name, "error", err)
			if rec.Chunk == "" {
				continue
			}
		}
		rep.Chunks = append(rep.Chunks, rec)
		rep.States[rec.State]++
		if rec.State.HasOutput() {
			ready = append(ready, rec)
		}
	}

	if len(ready) == 0 {
		logger.Info("no fetched output yet", "chunks", len(rep.Chunks))
		d.publish(rep, "")
		return rep, nil
	}

	var results []batch.Result
	loaded := make(map[string]bool, len(ready))
	for _, rec := range ready {
		rs, err := d.Tracker.LoadResults(rec)
		if err != nil {
			rep.LoadErrors++
			logger.Error("chunk results unreadable", "chunk", rec.Chunk, "path", rec.OutputPath, "error", err)
			continue
		}
		loaded[rec.Chunk] = true
		results = append(results, rs...)
	}
	if len(loaded) == 0 {
		logger.Warn("no readable results, output left untouched", "load_errors", rep.LoadErrors)
		d.publish(rep, "")
		return rep, nil
	}

	out, rrep, err := d.reconcile(input, results)
	rep.Reconcile = rrep
	if err != nil {
		return rep, fmt.Errorf("reconcile: %w", err)
	}
	if err := table.WriteFile(output, out); err != nil {
		return rep, fmt.Errorf("write %s: %w", output, err)
	}
	rep.Reconciled = true
	rep.Output = output
	rep.OutputRows = out.Len()
	d.recordReconcile(rrep)
	logger.Info("results reconciled", "output", output, "rows", out.Len(), "matched", rrep.Matched,
		"orphans", rrep.Orphans, "errors", rrep.Errors, "unmatched", rrep.Unmatched)

	for i, rec := range rep.Chunks {
		if rec.State != tracker.StateFetched || !loaded[rec.Chunk] {
			continue
		}
		done, err := d.Tracker.MarkDone(ctx, rec.Chunk)
		if err != nil {
			return rep, fmt.Errorf("mark done: %w", err)
		}
		rep.Chunks[i] = done
		rep.States[tracker.StateFetched]--
		rep.States[tracker.StateDone]++
	}
	d.publish(rep, output)
	return rep, nil
}

// Reconcile applies already fetched results without touching the provider.
func (d *Driver) Reconcile(input *table.Table, results []batch.Result) (*table.Table, reconcile.Report, error) {
	out, rep, err := d.reconcile(input, results)
	if err == nil {
		d.recordReconcile(rep)
	}
	return out, rep, err
}

func (d *Driver) reconcile(input *table.Table, results []batch.Result) (*table.Table, reconcile.Report, error) {
	if d.Variant.Explode {
		chain := d.Chain
		if chain == nil {
			chain = reconcile.DefaultChain
		}
		return reconcile.ExplodeClaims(input, results, chain)
	}
	return reconcile.ApplyScalar(input, results, d.Variant.Shape(), d.Variant.Column, reconcile.ScalarOptions{
		Bracketed: d.Variant.Bracketed,
		Labels:    d.Variant.Labels,
	})
}

func (d *Driver) recordReconcile(rep reconcile.Report) {
	d.Metrics.StageRows("reconcile", "matched", rep.Matched)
	d.Metrics.StageRows("reconcile", "orphan", rep.Orphans)
	d.Metrics.StageRows("reconcile", "error", rep.Errors+rep.BadIDs)
	d.Metrics.StageRows("reconcile", "unparsable", rep.Unparsable)
	d.Metrics.StageRows("reconcile", "claim", rep.Claims)
}

func (d *Driver) publish(rep RunReport, output string) {
	if d.Events == nil {
		return
	}
	chunks := make(map[string]int, len(rep.States))
	for state, n := range rep.States {
		if n > 0 {
			chunks[string(state)] = n
		}
	}
	ev := hermes.RunEvent{
		RunID:     rep.RunID,
		Variant:   rep.Variant,
		Chunks:    chunks,
		Output:    output,
		Timestamp: time.Now().UTC(),
	}
	if err := d.Events.Publish(hermes.SubjectRunCompleted, ev); err != nil {
		d.Logger.Warn("failed to publish run event", "error", err)
	}
}
