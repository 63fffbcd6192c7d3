// Package agreement computes confusion-matrix statistics and Cohen's kappa
// between predicted label columns and a gold column.
package agreement

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/cwbatch/internal/table"
)

// AllGroup names the single group used when no grouping column is given.
const AllGroup = "all"

// ParseBool is the canonical boolean reading of a label cell: a
// case-insensitive "TRUE" is true, anything else is false.
func ParseBool(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "TRUE")
}

// Cell holds confusion counts for one predicted column within one group.
type Cell struct {
	Group  string `json:"group"`
	Column string `json:"column"`
	TP     int    `json:"tp"`
	FP     int    `json:"fp"`
	FN     int    `json:"fn"`
	TN     int    `json:"tn"`
}

// N is the number of rows counted.
func (c Cell) N() int { return c.TP + c.FP + c.FN + c.TN }

// Add counts one (gold, pred) pair.
func (c *Cell) Add(gold, pred bool) {
	switch {
	case pred && gold:
		c.TP++
	case pred && !gold:
		c.FP++
	case !pred && gold:
		c.FN++
	default:
		c.TN++
	}
}

// Stats are the rates derived from a Cell.
type Stats struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Observed  float64 `json:"observed"`
	Expected  float64 `json:"expected"`
	Kappa     float64 `json:"kappa"`
}

// Stats derives precision, recall, F1 and kappa. Zero denominators yield 0.
func (c Cell) Stats() Stats {
	var s Stats
	s.Precision, s.Recall, s.F1 = PrecisionRecallF1(c.TP, c.FP, c.FN)

	n := float64(c.N())
	predTrue := ratio(float64(c.TP+c.FP), n)
	goldTrue := ratio(float64(c.TP+c.FN), n)
	s.Observed = ratio(float64(c.TP+c.TN), n)
	s.Expected = predTrue*goldTrue + (1-predTrue)*(1-goldTrue)
	s.Kappa = Kappa(s.Observed, s.Expected)
	return s
}

// PrecisionRecallF1 computes the three scores, each 0 when its denominator is 0.
func PrecisionRecallF1(tp, fp, fn int) (precision, recall, f1 float64) {
	precision = ratio(float64(tp), float64(tp+fp))
	recall = ratio(float64(tp), float64(tp+fn))
	f1 = ratio(2*precision*recall, precision+recall)
	return precision, recall, f1
}

// Kappa is Cohen's kappa, defined as exactly 1 when expected agreement is 1.
func Kappa(observed, expected float64) float64 {
	if expected == 1 {
		return 1.0
	}
	return (observed - expected) / (1 - expected)
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// Count builds a Cell from parallel gold and predicted values.
func Count(gold, pred []bool) (Cell, error) {
	if len(gold) != len(pred) {
		return Cell{}, fmt.Errorf("length mismatch: %d gold, %d predicted", len(gold), len(pred))
	}
	var c Cell
	for i := range gold {
		c.Add(gold[i], pred[i])
	}
	return c, nil
}

// groups returns the group label of every row and the labels in order of
// first appearance.
func groups(t *table.Table, groupBy string) ([]string, []string) {
	labels := make([]string, t.Len())
	var order []string
	seen := map[string]bool{}
	for i := range t.Rows {
		g := AllGroup
		if groupBy != "" {
			g = t.Get(i, groupBy)
		}
		labels[i] = g
		if !seen[g] {
			seen[g] = true
			order = append(order, g)
		}
	}
	return labels, order
}

func requireColumns(t *table.Table, groupBy string, cols ...string) error {
	if groupBy != "" {
		cols = append(cols, groupBy)
	}
	return t.Require(cols...)
}

// Analyze computes one Cell per (group, predicted column). Groups appear in
// order of first appearance, columns in the order given.
func Analyze(t *table.Table, gold string, preds []string, groupBy string) ([]Cell, error) {
	if len(preds) == 0 {
		return nil, fmt.Errorf("no predicted columns")
	}
	if err := requireColumns(t, groupBy, append([]string{gold}, preds...)...); err != nil {
		return nil, err
	}

	labels, order := groups(t, groupBy)
	cells := make(map[string][]Cell, len(order))
	for _, g := range order {
		row := make([]Cell, len(preds))
		for j, p := range preds {
			row[j] = Cell{Group: g, Column: p}
		}
		cells[g] = row
	}

	for i := range t.Rows {
		g := ParseBool(t.Get(i, gold))
		row := cells[labels[i]]
		for j, p := range preds {
			row[j].Add(g, ParseBool(t.Get(i, p)))
		}
	}

	var out []Cell
	for _, g := range order {
		out = append(out, cells[g]...)
	}
	return out, nil
}
