package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/cwbatch/internal/pipeline"
	"github.com/MikeSquared-Agency/cwbatch/internal/reconcile"
	"github.com/MikeSquared-Agency/cwbatch/internal/table"
)

var (
	claimsModel  string
	claimsSource string
	claimsMethod string
	claimsJSON   bool
)

var claimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "Exchange units and claims with an external claim extractor",
}

var claimsExportCmd = &cobra.Command{
	Use:   "export <units.csv> <dir>",
	Short: "Write one extractor request file per unit",
	Long: `Writes <dir>/<conversation>/<conversation>_<turn>.jsonl for every unit, each
holding one JSON object with the question (user turn and context), the
response to extract claims from, the model and the prompt source.`,
	Args: cobra.ExactArgs(2),
	RunE: runClaimsExport,
}

var claimsImportCmd = &cobra.Command{
	Use:   "import <units.csv> <dir> <output.csv>",
	Short: "Map extractor claim files onto units and explode them per claim",
	Long: `Reads every claims_<conversation>_<turn>.jsonl under dir, takes the last
all_claims list of each file and writes one row per claim, with the unit's
columns plus Factual_Statements, Statement_Index and Individual_Statement.`,
	Args: cobra.ExactArgs(3),
	RunE: runClaimsImport,
}

func init() {
	ef := claimsExportCmd.Flags()
	ef.StringVar(&claimsModel, "model", "gpt-4", "model name recorded in each request")
	ef.StringVar(&claimsSource, "source", "WildChat", "prompt source recorded in each request")

	imf := claimsImportCmd.Flags()
	imf.StringVar(&claimsMethod, "method", "", "record this name in a Claim_Extr_Method column")
	imf.BoolVar(&claimsJSON, "json", false, "print the report as JSON")

	claimsCmd.AddCommand(claimsExportCmd, claimsImportCmd)
	rootCmd.AddCommand(claimsCmd)
}

func runClaimsExport(cmd *cobra.Command, args []string) error {
	units, err := table.ReadFile(args[0])
	if err != nil {
		return err
	}
	stats, err := pipeline.WriteClaimRequests(units, args[1], claimsModel, claimsSource)
	if err != nil {
		return err
	}
	if stats.BadIndex > 0 {
		slog.Warn("units without a usable identity were not exported", "count", stats.BadIndex)
	}
	cmd.Printf("Exported %d of %d units -> %s\n", stats.Written, stats.Rows, args[1])
	return nil
}

type claimsImportOutput struct {
	Files  reconcile.ClaimFileStats `json:"files"`
	Report reconcile.Report         `json:"reconcile"`
	Rows   int                      `json:"rows"`
}

func runClaimsImport(cmd *cobra.Command, args []string) error {
	units, err := table.ReadFile(args[0])
	if err != nil {
		return err
	}
	out, rep, stats, err := reconcile.ImportClaims(units, args[1], claimsMethod)
	if err != nil {
		return err
	}
	if stats.Skipped > 0 || stats.Errors > 0 {
		slog.Warn("some claim files were not imported", "skipped", stats.Skipped, "errors", stats.Errors)
	}
	output := args[2]
	if err := table.WriteFile(output, out); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}

	if claimsJSON {
		return printJSON(cmd.OutOrStdout(), claimsImportOutput{Files: stats, Report: rep, Rows: out.Len()})
	}
	cmd.Printf("Claim files: %d (%d loaded, %d no claims, %d skipped, %d errors)\n",
		stats.Files, stats.Loaded, stats.NoClaims, stats.Skipped, stats.Errors)
	cmd.Printf("Matched %d units, %d orphans, %d unmatched units\n", rep.Matched, rep.Orphans, rep.Unmatched)
	cmd.Printf("Claims: %d (%d empty rows, %d unparsable)\n", rep.Claims, rep.EmptyRows, rep.Unparsable)
	cmd.Printf("Wrote %d rows -> %s\n", out.Len(), output)
	return nil
}
