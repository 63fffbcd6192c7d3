package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/cwbatch/internal/agreement"
	"github.com/MikeSquared-Agency/cwbatch/internal/table"
)

var (
	prevColumns []string
	prevConv    string
	prevGroup   string
	prevJSON    bool
)

var prevalenceCmd = &cobra.Command{
	Use:   "prevalence <labels.csv>",
	Short: "Summarise list-valued label columns per row and per conversation",
	Long: `Parses every cell of each --columns column as a list of labels and reports
how many elements rows carry, how many are TRUE and how often rows and
conversations carry any at all. Unparsable cells count as empty.`,
	Args: cobra.ExactArgs(1),
	RunE: runPrevalence,
}

func init() {
	f := prevalenceCmd.Flags()
	f.StringSliceVar(&prevColumns, "columns", nil, "list-valued columns to summarise")
	f.StringVar(&prevConv, "conv", "Conversation_ID", "column identifying conversations")
	f.StringVar(&prevGroup, "group", "", "column to group rows by")
	f.BoolVar(&prevJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(prevalenceCmd)
}

func runPrevalence(cmd *cobra.Command, args []string) error {
	if len(prevColumns) == 0 {
		return errors.New("--columns is required")
	}
	t, err := table.ReadFile(args[0])
	if err != nil {
		return err
	}
	stats, err := agreement.ComputePrevalence(t, prevColumns, prevConv, prevGroup)
	if err != nil {
		return err
	}
	if prevJSON {
		return printJSON(cmd.OutOrStdout(), stats)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tCOLUMN\tROWS\tCONVS\tELEMENTS\tPER_ROW\tPER_CONV\tTRUE%\tROWS_NONEMPTY%\tROWS_TRUE%\tCONVS_NONEMPTY%\tCONVS_TRUE%\tUNPARSABLE")
	for _, p := range stats {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.2f\t%.2f\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\t%d\n",
			p.Group, p.Column, p.Rows, p.Conversations, p.Elements,
			p.PerRow(), p.PerConversation(), p.PctTrueElements(),
			p.PctRowsNonEmpty(), p.PctRowsWithTrue(),
			p.PctConversationsNonEmpty(), p.PctConversationsWithTrue(), p.Unparsable)
	}
	return w.Flush()
}
