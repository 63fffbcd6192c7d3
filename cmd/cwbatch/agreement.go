package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/cwbatch/internal/agreement"
	"github.com/MikeSquared-Agency/cwbatch/internal/table"
)

var (
	agreeGold        string
	agreePred        []string
	agreeGroup       string
	agreeCategorical []string
	agreeTrueRate    []string
	agreeJSON        bool
)

var agreementCmd = &cobra.Command{
	Use:   "agreement <labels.csv>",
	Short: "Score predicted label columns against a gold column",
	Long: `Computes confusion counts, precision, recall, F1 and Cohen's kappa for each
--pred column against --gold, optionally per --group value. A cell counts as
TRUE only when it reads TRUE (case-insensitive).

--categorical a,b computes kappa between two free-label columns instead, and
--true-rate reports the share of TRUE cells per column.`,
	Args: cobra.ExactArgs(1),
	RunE: runAgreement,
}

func init() {
	f := agreementCmd.Flags()
	f.StringVar(&agreeGold, "gold", "", "gold label column")
	f.StringSliceVar(&agreePred, "pred", nil, "predicted label columns")
	f.StringVar(&agreeGroup, "group", "", "column to group rows by")
	f.StringSliceVar(&agreeCategorical, "categorical", nil, "two categorical columns to compare")
	f.StringSliceVar(&agreeTrueRate, "true-rate", nil, "columns to report TRUE shares for")
	f.BoolVar(&agreeJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(agreementCmd)
}

type agreementRow struct {
	agreement.Cell
	agreement.Stats
	N int `json:"n"`
}

type agreementOutput struct {
	Binary      []agreementRow   `json:"binary,omitempty"`
	Categorical []agreement.Pair `json:"categorical,omitempty"`
	TrueRate    []agreement.Rate `json:"true_rate,omitempty"`
}

func runAgreement(cmd *cobra.Command, args []string) error {
	if agreeGold == "" && len(agreeCategorical) == 0 && len(agreeTrueRate) == 0 {
		return errors.New("one of --gold, --categorical or --true-rate is required")
	}
	if agreeGold != "" && len(agreePred) == 0 {
		return errors.New("--gold needs at least one --pred column")
	}
	if len(agreeCategorical) != 0 && len(agreeCategorical) != 2 {
		return fmt.Errorf("--categorical takes exactly two columns, got %d", len(agreeCategorical))
	}

	t, err := table.ReadFile(args[0])
	if err != nil {
		return err
	}

	var out agreementOutput
	if agreeGold != "" {
		cells, err := agreement.Analyze(t, agreeGold, agreePred, agreeGroup)
		if err != nil {
			return err
		}
		for _, c := range cells {
			out.Binary = append(out.Binary, agreementRow{Cell: c, Stats: c.Stats(), N: c.N()})
		}
	}
	if len(agreeCategorical) == 2 {
		out.Categorical, err = agreement.Categorical(t, agreeCategorical[0], agreeCategorical[1], agreeGroup)
		if err != nil {
			return err
		}
	}
	if len(agreeTrueRate) > 0 {
		out.TrueRate, err = agreement.TrueRate(t, agreeTrueRate, agreeGroup)
		if err != nil {
			return err
		}
	}

	if agreeJSON {
		return printJSON(cmd.OutOrStdout(), out)
	}
	return printAgreement(cmd.OutOrStdout(), out)
}

func printAgreement(w io.Writer, out agreementOutput) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(out.Binary) > 0 {
		fmt.Fprintln(tw, "GROUP\tCOLUMN\tN\tTP\tFP\tFN\tTN\tPRECISION\tRECALL\tF1\tKAPPA")
		for _, r := range out.Binary {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%.3f\t%.3f\t%.3f\t%.3f\n",
				r.Group, r.Column, r.N, r.TP, r.FP, r.FN, r.TN, r.Precision, r.Recall, r.F1, r.Kappa)
		}
	}
	if len(out.Categorical) > 0 {
		if len(out.Binary) > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintln(tw, "GROUP\tPAIR\tN\tOBSERVED\tEXPECTED\tKAPPA")
		for _, p := range out.Categorical {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%.3f\t%.3f\t%.3f\n",
				p.Group, p.A+" vs "+p.B, p.N, p.Observed, p.Expected, p.Kappa)
		}
	}
	if len(out.TrueRate) > 0 {
		if len(out.Binary) > 0 || len(out.Categorical) > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintln(tw, "GROUP\tCOLUMN\tTRUE\tTOTAL\tPERCENT")
		for _, r := range out.TrueRate {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.1f%%\n", r.Group, r.Column, r.True, r.Total, r.Percent())
		}
	}
	return tw.Flush()
}
