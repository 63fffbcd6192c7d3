package agreement

import (
	"errors"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/cwbatch/internal/reconcile"
	"github.com/MikeSquared-Agency/cwbatch/internal/table"
)

// Rate is the share of TRUE cells of one column within one group.
type Rate struct {
	Group  string `json:"group"`
	Column string `json:"column"`
	True   int    `json:"true"`
	Total  int    `json:"total"`
}

// Percent returns the TRUE share in percent, 0 for an empty group.
func (r Rate) Percent() float64 { return 100 * ratio(float64(r.True), float64(r.Total)) }

// TrueRate counts TRUE cells of each column per group.
func TrueRate(t *table.Table, cols []string, groupBy string) ([]Rate, error) {
	if err := requireColumns(t, groupBy, cols...); err != nil {
		return nil, err
	}
	labels, order := groups(t, groupBy)
	rates := make(map[string][]Rate, len(order))
	for _, g := range order {
		row := make([]Rate, len(cols))
		for j, c := range cols {
			row[j] = Rate{Group: g, Column: c}
		}
		rates[g] = row
	}
	for i := range t.Rows {
		row := rates[labels[i]]
		for j, c := range cols {
			row[j].Total++
			if ParseBool(t.Get(i, c)) {
				row[j].True++
			}
		}
	}
	var out []Rate
	for _, g := range order {
		out = append(out, rates[g]...)
	}
	return out, nil
}

// Pair is the agreement between two categorical label columns.
type Pair struct {
	Group    string  `json:"group"`
	A        string  `json:"a"`
	B        string  `json:"b"`
	N        int     `json:"n"`
	Observed float64 `json:"observed"`
	Expected float64 `json:"expected"`
	Kappa    float64 `json:"kappa"`
}

// Categorical computes Cohen's kappa between columns a and b per group,
// comparing labels case-insensitively after trimming.
func Categorical(t *table.Table, a, b, groupBy string) ([]Pair, error) {
	if err := requireColumns(t, groupBy, a, b); err != nil {
		return nil, err
	}
	labels, order := groups(t, groupBy)

	type tally struct {
		n, agree int
		ca, cb   map[string]int
	}
	tallies := make(map[string]*tally, len(order))
	for _, g := range order {
		tallies[g] = &tally{ca: map[string]int{}, cb: map[string]int{}}
	}
	for i := range t.Rows {
		x := strings.ToUpper(strings.TrimSpace(t.Get(i, a)))
		y := strings.ToUpper(strings.TrimSpace(t.Get(i, b)))
		tl := tallies[labels[i]]
		tl.n++
		tl.ca[x]++
		tl.cb[y]++
		if x == y {
			tl.agree++
		}
	}

	out := make([]Pair, 0, len(order))
	for _, g := range order {
		tl := tallies[g]
		n := float64(tl.n)
		keys := make([]string, 0, len(tl.ca))
		for k := range tl.ca {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var expected float64
		for _, k := range keys {
			expected += ratio(float64(tl.ca[k]), n) * ratio(float64(tl.cb[k]), n)
		}
		if n == 0 {
			expected = 1
		}
		observed := ratio(float64(tl.agree), n)
		out = append(out, Pair{
			Group: g, A: a, B: b, N: tl.n,
			Observed: observed, Expected: expected, Kappa: Kappa(observed, expected),
		})
	}
	return out, nil
}

// Prevalence summarises a list-valued column: how many elements rows carry,
// how many of them are truthy, and how often rows and conversations carry any.
type Prevalence struct {
	Group                 string `json:"group"`
	Column                string `json:"column"`
	Rows                  int    `json:"rows"`
	Conversations         int    `json:"conversations"`
	Elements              int    `json:"elements"`
	TrueElements          int    `json:"true_elements"`
	RowsNonEmpty          int    `json:"rows_non_empty"`
	RowsWithTrue          int    `json:"rows_with_true"`
	ConversationsNonEmpty int    `json:"conversations_non_empty"`
	ConversationsWithTrue int    `json:"conversations_with_true"`
	Unparsable            int    `json:"unparsable"`
}

func (p Prevalence) PerRow() float64 { return ratio(float64(p.Elements), float64(p.Rows)) }

func (p Prevalence) PerConversation() float64 {
	return ratio(float64(p.Elements), float64(p.Conversations))
}

func (p Prevalence) PctTrueElements() float64 {
	return 100 * ratio(float64(p.TrueElements), float64(p.Elements))
}

func (p Prevalence) PctRowsNonEmpty() float64 {
	return 100 * ratio(float64(p.RowsNonEmpty), float64(p.Rows))
}

func (p Prevalence) PctRowsWithTrue() float64 {
	return 100 * ratio(float64(p.RowsWithTrue), float64(p.Rows))
}

func (p Prevalence) PctConversationsNonEmpty() float64 {
	return 100 * ratio(float64(p.ConversationsNonEmpty), float64(p.Conversations))
}

func (p Prevalence) PctConversationsWithTrue() float64 {
	return 100 * ratio(float64(p.ConversationsWithTrue), float64(p.Conversations))
}

// truthy follows the usual reading of list elements: false, 0, none and
// blanks are false; everything else is true.
func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "false", "0", "none", "nan", "null":
		return false
	}
	return true
}

// ComputePrevalence parses every cell of each list column with the strict
// list chain (unparsable cells count as empty) and aggregates per group.
// convColumn identifies conversations.
func ComputePrevalence(t *table.Table, cols []string, convColumn, groupBy string) ([]Prevalence, error) {
	if err := requireColumns(t, groupBy, append([]string{convColumn}, cols...)...); err != nil {
		return nil, err
	}
	labels, order := groups(t, groupBy)

	type convState struct{ nonEmpty, withTrue bool }
	type acc struct {
		p     Prevalence
		convs map[string]*convState
		seen  []string
	}
	accs := make(map[string][]*acc, len(order))
	for _, g := range order {
		row := make([]*acc, len(cols))
		for j, c := range cols {
			row[j] = &acc{p: Prevalence{Group: g, Column: c}, convs: map[string]*convState{}}
		}
		accs[g] = row
	}

	for i := range t.Rows {
		conv := t.Get(i, convColumn)
		for j, c := range cols {
			a := accs[labels[i]][j]
			a.p.Rows++
			cs, ok := a.convs[conv]
			if !ok {
				cs = &convState{}
				a.convs[conv] = cs
				a.seen = append(a.seen, conv)
			}

			items, _, err := reconcile.StrictChain.Parse(t.Get(i, c))
			if err != nil && !errors.Is(err, reconcile.ErrNoResult) {
				a.p.Unparsable++
			}
			if len(items) == 0 {
				continue
			}
			a.p.Elements += len(items)
			a.p.RowsNonEmpty++
			cs.nonEmpty = true
			hasTrue := false
			for _, it := range items {
				if truthy(it) {
					a.p.TrueElements++
					hasTrue = true
				}
			}
			if hasTrue {
				a.p.RowsWithTrue++
				cs.withTrue = true
			}
		}
	}

	var out []Prevalence
	for _, g := range order {
		for _, a := range accs[g] {
			a.p.Conversations = len(a.seen)
			for _, conv := range a.seen {
				if a.convs[conv].nonEmpty {
					a.p.ConversationsNonEmpty++
				}
				if a.convs[conv].withTrue {
					a.p.ConversationsWithTrue++
				}
			}
			out = append(out, a.p)
		}
	}
	return out, nil
}
