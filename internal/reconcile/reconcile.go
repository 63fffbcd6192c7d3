// Package reconcile maps batch results back onto the rows they were built
// from, either as a single label per row or as one row per extracted claim.
package reconcile

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/cwbatch/internal/batch"
	"github.com/MikeSquared-Agency/cwbatch/internal/table"
)

// Columns read or written by reconciliation.
const (
	ColConversation      = "Conversation_Hash"
	ColTurnNum           = "Turn_Num"
	ColFactualStatements = "Factual_Statements"
	ColStatementIndex    = "Statement_Index"
	ColStatement         = "Individual_Statement"
)

var idColumns = []string{ColConversation, "conversation_hash"}

// ErrColumnExists is returned when an output column is already present in the
// input table.
var ErrColumnExists = table.ErrColumnExists

// Report counts what one reconciliation pass did.
type Report struct {
	Results    int `json:"results"`
	Matched    int `json:"matched"`
	Orphans    int `json:"orphans"`
	BadIDs     int `json:"bad_ids"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
	Unmatched  int `json:"unmatched"`
	RowsNoKey  int `json:"rows_without_key"`
	// Unrecognized counts labels outside the variant's closed label set.
	Unrecognized int `json:"unrecognized"`
	EmptyRows    int `json:"empty_rows"`
	Unparsable   int `json:"unparsable"`
	Claims       int `json:"claims"`
}

// resultIndex holds results by key; the first result for a key wins.
type resultIndex struct {
	byKey map[Key]batch.Result
	used  map[Key]bool
}

func indexResults(results []batch.Result, shape Shape, rep *Report) resultIndex {
	idx := resultIndex{byKey: make(map[Key]batch.Result, len(results)), used: make(map[Key]bool)}
	for _, r := range results {
		rep.Results++
		k, err := ParseCustomID(r.CustomID, shape)
		if err != nil {
			rep.BadIDs++
			continue
		}
		if _, dup := idx.byKey[k]; dup {
			rep.Duplicates++
			continue
		}
		idx.byKey[k] = r
	}
	return idx
}

func (idx resultIndex) take(k Key) (batch.Result, bool) {
	r, ok := idx.byKey[k]
	if ok {
		idx.used[k] = true
	}
	return r, ok
}

func (idx resultIndex) orphans() int { return len(idx.byKey) - len(idx.used) }

// rowKeys resolves the identity columns of t for shape.
type rowKeys struct {
	id, turn, stmt int
	shape          Shape
}

func newRowKeys(t *table.Table, shape Shape) (rowKeys, error) {
	idCol, err := t.FirstPresent(idColumns...)
	if err != nil {
		return rowKeys{}, err
	}
	cols := []string{ColTurnNum}
	if shape == ShapeStatement {
		cols = append(cols, ColStatementIndex)
	}
	if err := t.Require(cols...); err != nil {
		return rowKeys{}, err
	}
	return rowKeys{
		id:    t.Index(idCol),
		turn:  t.Index(ColTurnNum),
		stmt:  t.Index(ColStatementIndex),
		shape: shape,
	}, nil
}

func (rk rowKeys) key(row []string) (Key, bool) {
	cell := func(j int) string {
		if j < 0 || j >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[j])
	}
	k := Key{ConversationID: cell(rk.id)}
	if k.ConversationID == "" {
		return Key{}, false
	}
	turn, ok := ParseNumber(cell(rk.turn))
	if !ok {
		return Key{}, false
	}
	k.Turn = turn
	if rk.shape == ShapeStatement {
		stmt, ok := ParseNumber(cell(rk.stmt))
		if !ok {
			return Key{}, false
		}
		k.Statement = stmt
		k.HasStatement = true
	}
	return k, true
}

// ParseNumber reads a non-negative index, accepting "3" and the "3.0"
// spreadsheets sometimes write.
func ParseNumber(s string) (int, bool) {
	if n, ok := parseIndex(s); ok {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && f == float64(int(f)) {
		return int(f), true
	}
	return 0, false
}

// ScalarOptions controls label normalization.
type ScalarOptions struct {
	// Bracketed extracts the first [[...]] span before normalizing.
	Bracketed bool
	// Labels is the closed set answers are mapped onto, case-insensitively.
	Labels []string
}

var bracketed = regexp.MustCompile(`\[\[(.*?)\]\]`)

// NormalizeLabel cleans a raw answer. ok is false when Labels is set and the
// answer matches none of them; the trimmed answer is returned as is.
func NormalizeLabel(raw string, opts ScalarOptions) (string, bool) {
	s := strings.TrimSpace(raw)
	if opts.Bracketed {
		if m := bracketed.FindStringSubmatch(s); m != nil {
			s = strings.TrimSpace(m[1])
		}
	}
	if len(opts.Labels) == 0 {
		return s, true
	}
	bare := strings.Trim(s, " \t\n\"'`.*:[]")
	for _, l := range opts.Labels {
		if strings.EqualFold(bare, l) {
			return l, true
		}
	}
	return s, false
}

// ApplyScalar returns a copy of t with column appended, holding the normalized
// answer of each row's result. Rows without a successful result are left
// empty.
func ApplyScalar(t *table.Table, results []batch.Result, shape Shape, column string, opts ScalarOptions) (*table.Table, Report, error) {
	var rep Report
	rk, err := newRowKeys(t, shape)
	if err != nil {
		return nil, rep, err
	}
	if t.Has(column) {
		return nil, rep, fmt.Errorf("%w: %s", ErrColumnExists, column)
	}

	idx := indexResults(results, shape, &rep)
	out := t.Clone()
	out.AddColumn(column)
	for i, row := range out.Rows {
		k, ok := rk.key(row)
		if !ok {
			rep.RowsNoKey++
			continue
		}
		res, ok := idx.take(k)
		if !ok {
			rep.Unmatched++
			continue
		}
		rep.Matched++
		if res.Failed() {
			rep.Errors++
			continue
		}
		label, known := NormalizeLabel(res.Content, opts)
		if !known {
			rep.Unrecognized++
		}
		out.Set(i, column, label)
	}
	rep.Orphans = idx.orphans()
	return out, rep, nil
}

// MapStatements returns a copy of t with the raw claim-list answer of each row
// in Factual_Statements.
func MapStatements(t *table.Table, results []batch.Result) (*table.Table, Report, error) {
	return ApplyScalar(t, results, ShapeTurn, ColFactualStatements, ScalarOptions{})
}

// Explode returns one row per statement found in Factual_Statements, carrying
// every column of its parent plus Statement_Index and Individual_Statement.
// Rows whose payload is empty, a no-result marker or unparsable produce none.
func Explode(t *table.Table, chain Chain) (*table.Table, Report, error) {
	var rep Report
	if err := t.Require(ColFactualStatements); err != nil {
		return nil, rep, err
	}
	for _, col := range []string{ColStatementIndex, ColStatement} {
		if t.Has(col) {
			return nil, rep, fmt.Errorf("%w: %s", ErrColumnExists, col)
		}
	}

	out := table.New(t.Columns)
	out.AddColumn(ColStatementIndex)
	out.AddColumn(ColStatement)
	src := t.Index(ColFactualStatements)

	for _, row := range t.Rows {
		payload := ""
		if src < len(row) {
			payload = row[src]
		}
		items, _, err := chain.Parse(payload)
		switch {
		case errors.Is(err, ErrNoResult):
			rep.EmptyRows++
			continue
		case err != nil:
			rep.Unparsable++
			continue
		case len(items) == 0:
			rep.EmptyRows++
			continue
		}
		for j, item := range items {
			out.Append(row)
			n := out.Len() - 1
			out.Set(n, ColStatementIndex, strconv.Itoa(j))
			out.Set(n, ColStatement, item)
			rep.Claims++
		}
	}
	return out, rep, nil
}

// ExplodeClaims maps claim-list results onto t and explodes them into one row
// per claim.
func ExplodeClaims(t *table.Table, results []batch.Result, chain Chain) (*table.Table, Report, error) {
	mapped, rep, err := MapStatements(t, results)
	if err != nil {
		return nil, rep, err
	}
	out, exploded, err := Explode(mapped, chain)
	if err != nil {
		return nil, rep, err
	}
	rep.EmptyRows = exploded.EmptyRows
	rep.Unparsable = exploded.Unparsable
	rep.Claims = exploded.Claims
	return out, rep, nil
}
