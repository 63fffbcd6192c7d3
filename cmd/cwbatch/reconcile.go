package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/cwbatch/internal/batch"
	"github.com/MikeSquared-Agency/cwbatch/internal/pipeline"
	"github.com/MikeSquared-Agency/cwbatch/internal/prompts"
	"github.com/MikeSquared-Agency/cwbatch/internal/table"
)

var reconcileJSON bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <variant> <units.csv> <results.jsonl>... <output.csv>",
	Short: "Reconcile batch result files onto a unit table offline",
	Long: `Maps one or more batch result files (provider output or the results_*.jsonl
files written by run) onto the unit table by custom_id, without contacting the
provider or touching tracked job state.`,
	Args: cobra.MinimumNArgs(4),
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	variant, err := prompts.Lookup(args[0])
	if err != nil {
		return err
	}
	input, err := table.ReadFile(args[1])
	if err != nil {
		return err
	}
	output := args[len(args)-1]

	var results []batch.Result
	for _, path := range args[2 : len(args)-1] {
		rs, err := readResults(path)
		if err != nil {
			return err
		}
		results = append(results, rs...)
	}

	d := &pipeline.Driver{Variant: variant, Logger: slog.Default()}
	out, rep, err := d.Reconcile(input, results)
	if err != nil {
		return err
	}
	if err := table.WriteFile(output, out); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}

	if reconcileJSON {
		return printJSON(cmd.OutOrStdout(), rep)
	}
	cmd.Printf("Reconciled: %d results, %d matched, %d orphans, %d bad ids, %d errors, %d unmatched rows\n",
		rep.Results, rep.Matched, rep.Orphans, rep.BadIDs, rep.Errors, rep.Unmatched)
	if variant.Explode {
		cmd.Printf("Claims: %d (%d empty rows, %d unparsable)\n", rep.Claims, rep.EmptyRows, rep.Unparsable)
	}
	cmd.Printf("Wrote %d rows -> %s\n", out.Len(), output)
	return nil
}

func readResults(path string) ([]batch.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open results: %w", err)
	}
	defer f.Close()

	results, stats, err := batch.DecodeResults(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if stats.Malformed > 0 {
		slog.Warn("malformed result lines", "path", path, "count", stats.Malformed)
	}
	return results, nil
}
