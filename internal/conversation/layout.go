package conversation

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/cwbatch/internal/table"
)

// ID columns accepted for the conversation identifier, in preference order.
var idColumns = []string{"Conversation_Hash", "conversation_hash"}

var slotPattern = regexp.MustCompile(`^Utterance-(\S+) \((User|Agent|System)\)$`)

// slot is a turn column resolved from the header.
type slot struct {
	index  int
	role   Role
	column string
	pos    int
}

// Layout is the parsed shape of a wide conversation table.
type Layout struct {
	IDColumn string
	slots    []slot
	// Skipped counts utterance columns whose index is not a non-negative integer.
	Skipped int
}

// ParseLayout resolves the id column and every utterance column of t.
// A missing id column is a schema error.
func ParseLayout(t *table.Table, logger *slog.Logger) (Layout, error) {
	idCol, err := t.FirstPresent(idColumns...)
	if err != nil {
		return Layout{}, err
	}

	l := Layout{IDColumn: idCol}
	for pos, col := range t.Columns {
		m := slotPattern.FindStringSubmatch(col)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 0 {
			logger.Warn("skipping utterance column with malformed turn index", "column", col)
			l.Skipped++
			continue
		}
		role, _ := ParseRole(m[2])
		l.slots = append(l.slots, slot{index: idx, role: role, column: col, pos: pos})
	}

	sort.SliceStable(l.slots, func(i, j int) bool {
		if l.slots[i].index != l.slots[j].index {
			return l.slots[i].index < l.slots[j].index
		}
		return l.slots[i].role < l.slots[j].role
	})
	return l, nil
}

// Row builds the conversation record for data row i of t.
func (l Layout) Row(t *table.Table, i int) Row {
	src := t.Rows[i]
	row := Row{
		ID:     strings.TrimSpace(t.Get(i, l.IDColumn)),
		Source: append([]string(nil), src...),
	}
	for _, s := range l.slots {
		if s.pos >= len(src) || IsMissing(src[s.pos]) {
			continue
		}
		row.Turns = append(row.Turns, Turn{
			Index:  s.index,
			Role:   s.role,
			Column: s.column,
			Text:   src[s.pos],
		})
	}
	return row
}

// IsMissing reports whether an utterance cell counts as absent: empty,
// whitespace only, or a missing-value marker written by dataframe tooling.
func IsMissing(v string) bool {
	switch strings.TrimSpace(v) {
	case "", "nan", "NaN", "None", "null", "NULL", "NA", "<NA>":
		return true
	}
	return false
}
