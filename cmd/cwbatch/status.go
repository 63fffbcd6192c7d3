package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/cwbatch/internal/tracker"
)

var (
	statusJSON  bool
	statusState string
)

var statusCmd = &cobra.Command{
	Use:   "status [job]",
	Short: "List tracked batch jobs",
	Long: `Lists every tracked chunk with its local state and last provider status.
With a job name only that job's chunks are shown. Does not contact the provider.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var forgetCmd = &cobra.Command{
	Use:   "forget <chunk>",
	Short: "Drop a FAILED chunk so the next run resubmits it",
	Args:  cobra.ExactArgs(1),
	RunE:  runForget,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print records as JSON")
	statusCmd.Flags().StringVar(&statusState, "state", "", "only show chunks in this state")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(forgetCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(ctx)
	if err != nil {
		return err
	}
	var shown []tracker.Record
	for _, rec := range recs {
		if len(args) == 1 && !strings.HasPrefix(rec.Chunk, args[0]+"_part_") {
			continue
		}
		if statusState != "" && !strings.EqualFold(string(rec.State), statusState) {
			continue
		}
		shown = append(shown, rec)
	}

	if statusJSON {
		if shown == nil {
			shown = []tracker.Record{}
		}
		return printJSON(cmd.OutOrStdout(), shown)
	}
	if len(shown) == 0 {
		cmd.Println("No tracked jobs.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHUNK\tSTATE\tSTATUS\tREQUESTS\tJOB\tUPDATED\tERROR")
	for _, rec := range shown {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			rec.Chunk, rec.State, rec.Status, rec.RequestCount, rec.JobID,
			rec.UpdatedAt.Format(time.RFC3339), rec.Error)
	}
	return w.Flush()
}

func runForget(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	// Forget never contacts the provider, so no batch client is needed.
	tr := tracker.New(nil, store, cfg.OutputDir, slog.Default())
	if err := tr.Forget(ctx, args[0]); err != nil {
		return err
	}
	cmd.Printf("Forgot %s; the next run will resubmit it.\n", args[0])
	return nil
}
