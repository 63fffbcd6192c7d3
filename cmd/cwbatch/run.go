package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/cwbatch/internal/metrics"
	"github.com/MikeSquared-Agency/cwbatch/internal/pipeline"
	"github.com/MikeSquared-Agency/cwbatch/internal/prompts"
	"github.com/MikeSquared-Agency/cwbatch/internal/table"
	"github.com/MikeSquared-Agency/cwbatch/internal/tracker"
)

var (
	runJob    string
	runOutput bool
)

var runCmd = &cobra.Command{
	Use:   "run <variant> <units.csv> <output.csv>",
	Short: "Advance every batch job of a task by one step and reconcile fetched output",
	Long: `Builds the requests of a prompt variant from a unit table, splits them into
chunks and moves each chunk's job one step: submit if new, poll once if tracked.
When any chunk has fetched output the answers are reconciled onto the units
and the output table is rewritten. Never waits for a job to finish.

Variants: ` + strings.Join(prompts.Names(), ", "),
	Args: cobra.ExactArgs(3),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runJob, "job", "", "job name chunks are tracked under (default <variant>_<input name>_<path digest>)")
	runCmd.Flags().BoolVar(&runOutput, "json", false, "print the run report as JSON")
	rootCmd.AddCommand(runCmd)
}

// defaultJobName derives a stable job name from the variant and input file.
// The digest of the absolute input path keeps inputs that share a file name
// apart in a shared state store.
func defaultJobName(variant, input string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	path, err := filepath.Abs(input)
	if err != nil {
		path = input
	}
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return variant + "_" + base + "_" + hex.EncodeToString(sum[:4])
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	variant, err := prompts.Lookup(args[0])
	if err != nil {
		return err
	}
	input, err := table.ReadFile(args[1])
	if err != nil {
		return err
	}
	job := runJob
	if job == "" {
		job = defaultJobName(variant.Name, args[1])
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := connectEvents(ctx)
	if err != nil {
		return err
	}
	defer flushEvents(events)

	m := metrics.New()
	tr, err := newTracker(store, events, m)
	if err != nil {
		return err
	}
	d := &pipeline.Driver{
		Tracker:   tr,
		Variant:   variant,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		ChunkSize: cfg.ChunkSize,
		Logger:    slog.Default(),
		Metrics:   m,
	}
	if events != nil {
		d.Events = events
	}

	rep, err := d.Run(ctx, input, job, args[2])
	if err != nil {
		return err
	}
	if runOutput {
		return printJSON(cmd.OutOrStdout(), rep)
	}
	printRunReport(cmd, rep)
	return nil
}

func printRunReport(cmd *cobra.Command, rep pipeline.RunReport) {
	b := rep.Build
	cmd.Printf("Requests: %d built from %d rows (%d skipped, %d bad index, %d duplicate)\n",
		b.Requests, b.Rows, b.Skipped, b.BadIndex, b.Duplicates)

	var states []string
	for _, s := range []tracker.State{tracker.StateNew, tracker.StateTracked, tracker.StateFetched, tracker.StateDone, tracker.StateFailed} {
		if n := rep.States[s]; n > 0 {
			states = append(states, fmt.Sprintf("%s=%d", s, n))
		}
	}
	cmd.Printf("Chunks: %d (%s)", len(rep.Chunks), strings.Join(states, " "))
	if rep.StepErrors > 0 {
		cmd.Printf(", %d step errors", rep.StepErrors)
	}
	if rep.LoadErrors > 0 {
		cmd.Printf(", %d unreadable results", rep.LoadErrors)
	}
	cmd.Println()
	for _, rec := range rep.Chunks {
		if rec.State == tracker.StateFailed {
			cmd.Printf("  FAILED %s (job %s): %s\n", rec.Chunk, rec.JobID, rec.Error)
		}
	}

	if !rep.Reconciled && rep.LoadErrors > 0 {
		cmd.Println("No readable results; forget the affected chunks to resubmit them.")
		return
	}
	if !rep.Reconciled {
		cmd.Println("No fetched output yet; run again later.")
		return
	}
	r := rep.Reconcile
	cmd.Printf("Reconciled: %d results, %d matched, %d orphans, %d bad ids, %d duplicates, %d errors, %d unmatched rows\n",
		r.Results, r.Matched, r.Orphans, r.BadIDs, r.Duplicates, r.Errors, r.Unmatched)
	if r.Claims > 0 || r.Unparsable > 0 || r.EmptyRows > 0 {
		cmd.Printf("Claims: %d (%d empty rows, %d unparsable)\n", r.Claims, r.EmptyRows, r.Unparsable)
	}
	if r.Unrecognized > 0 {
		cmd.Printf("Labels outside the expected set: %d\n", r.Unrecognized)
	}
	cmd.Printf("Wrote %d rows -> %s\n", rep.OutputRows, rep.Output)
}
