package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/cwbatch/internal/conversation"
	"github.com/MikeSquared-Agency/cwbatch/internal/table"
)

var (
	assembleTurns   string
	assembleContext string
)

var assembleCmd = &cobra.Command{
	Use:   "assemble <conversations> <units.csv>",
	Short: "Explode conversations into one annotation unit per selected turn",
	Long: `Reads a wide conversation table (CSV, TSV or XLSX) with Utterance-{n} ({Role})
columns and writes one row per selected turn, with its context, the preceding
user question and the selected utterance appended.`,
	Args: cobra.ExactArgs(2),
	RunE: runAssemble,
}

func init() {
	assembleCmd.Flags().StringVar(&assembleTurns, "turns", "agent", "turns to select: agent or user")
	assembleCmd.Flags().StringVar(&assembleContext, "context", "", "context mode: before or through (default from CONTEXT_MODE)")
	rootCmd.AddCommand(assembleCmd)
}

func runAssemble(cmd *cobra.Command, args []string) error {
	sel, err := conversation.ParseSelector(assembleTurns)
	if err != nil {
		return err
	}
	modeName := cfg.ContextMode
	if assembleContext != "" {
		modeName = assembleContext
	}
	mode, err := conversation.ParseContextMode(modeName)
	if err != nil {
		return err
	}

	in, err := table.ReadFile(args[0])
	if err != nil {
		return err
	}
	out, stats, err := conversation.NewAssembler(mode, sel, slog.Default()).AssembleTable(in)
	if err != nil {
		return err
	}
	if err := table.WriteFile(args[1], out); err != nil {
		return fmt.Errorf("write units: %w", err)
	}

	cmd.Printf("Assembled %d units from %d conversations (%d without qualifying turns, %d malformed columns skipped) -> %s\n",
		stats.Units, stats.Conversations, stats.EmptyConversations, stats.SkippedColumns, args[1])
	return nil
}
