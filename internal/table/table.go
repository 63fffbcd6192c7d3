// Package table holds the in-memory representation of the CSV tables the
// pipeline reads and rewrites.
package table

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingColumn is returned when a stage's required column is absent.
var ErrMissingColumn = errors.New("missing required column")

// ErrColumnExists is returned when a stage would overwrite a column that is
// already present.
var ErrColumnExists = errors.New("output column already exists")

// Table is an ordered set of named string columns.
type Table struct {
	Columns []string
	Rows    [][]string

	index map[string]int
}

// New creates an empty table with the given header.
func New(columns []string) *Table {
	t := &Table{Columns: append([]string(nil), columns...)}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		if _, dup := t.index[c]; !dup {
			t.index[c] = i
		}
	}
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// Index returns the position of col, or -1.
func (t *Table) Index(col string) int {
	if t.index == nil {
		t.reindex()
	}
	if i, ok := t.index[col]; ok {
		return i
	}
	return -1
}

// Has reports whether col is part of the header.
func (t *Table) Has(col string) bool { return t.Index(col) >= 0 }

// Get returns the value of col in row i, or "" when the column is absent.
func (t *Table) Get(i int, col string) string {
	j := t.Index(col)
	if j < 0 || j >= len(t.Rows[i]) {
		return ""
	}
	return t.Rows[i][j]
}

// Set writes v into col of row i. The column must exist.
func (t *Table) Set(i int, col, v string) {
	j := t.Index(col)
	if j < 0 {
		panic(fmt.Sprintf("table: set on unknown column %q", col))
	}
	t.pad(i)
	t.Rows[i][j] = v
}

// AddColumn appends col to the header and pads every row. When col already
// exists its position is returned and existed is true.
func (t *Table) AddColumn(col string) (idx int, existed bool) {
	if j := t.Index(col); j >= 0 {
		return j, true
	}
	t.Columns = append(t.Columns, col)
	t.index[col] = len(t.Columns) - 1
	for i := range t.Rows {
		t.pad(i)
	}
	return len(t.Columns) - 1, false
}

// Append adds a row, padding or truncating it to the header width.
func (t *Table) Append(values []string) {
	row := make([]string, len(t.Columns))
	copy(row, values)
	t.Rows = append(t.Rows, row)
}

func (t *Table) pad(i int) {
	if n := len(t.Columns) - len(t.Rows[i]); n > 0 {
		t.Rows[i] = append(t.Rows[i], make([]string, n)...)
	}
}

// Require fails with ErrMissingColumn if any of cols is absent.
func (t *Table) Require(cols ...string) error {
	var missing []string
	for _, c := range cols {
		if !t.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}

// FirstPresent returns the first of cols that exists in the header.
func (t *Table) FirstPresent(cols ...string) (string, error) {
	for _, c := range cols {
		if t.Has(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: one of %s", ErrMissingColumn, strings.Join(cols, ", "))
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	c := New(t.Columns)
	c.Rows = make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		c.Rows[i] = append([]string(nil), r...)
	}
	return c
}
