// Package conversation explodes wide conversation tables into per-turn
// annotation units carrying the dialogue that precedes each turn.
package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/MikeSquared-Agency/cwbatch/internal/table"
)

// Columns appended to every assembled table.
const (
	ColTurnNum        = "Turn_Num"
	ColContext        = "Context_String"
	ColUserQuestion   = "Corresponding_User_Question"
	ColSelectedText   = "Selected_Utterance"
	ColSelectedColumn = "Selected_Column"
)

// UnitColumns lists the appended columns in output order.
var UnitColumns = []string{ColTurnNum, ColContext, ColUserQuestion, ColSelectedText, ColSelectedColumn}

// Stats summarises one assembly pass.
type Stats struct {
	Conversations      int
	Units              int
	SkippedColumns     int
	EmptyConversations int
}

// Assembler turns conversation rows into annotation units.
type Assembler struct {
	Mode   ContextMode
	Select Selector
	logger *slog.Logger
}

// NewAssembler creates an assembler. A nil selector selects Agent and System turns.
func NewAssembler(mode ContextMode, sel Selector, logger *slog.Logger) *Assembler {
	if sel == nil {
		sel = AgentTurns
	}
	return &Assembler{Mode: mode, Select: sel, logger: logger}
}

// Assemble produces one unit per selected turn of row, in ascending turn order.
func (a *Assembler) Assemble(row Row) []Unit {
	var units []Unit
	for _, turn := range row.Turns {
		if !a.Select(turn) {
			continue
		}
		units = append(units, Unit{
			ConversationID: row.ID,
			TurnIndex:      turn.Index,
			Role:           turn.Role,
			Column:         turn.Column,
			Text:           turn.Text,
			Context:        a.context(row.Turns, turn.Index),
			PrecedingUser:  precedingUser(row.Turns, turn.Index),
			Source:         row.Source,
		})
	}
	return units
}

// context renders every turn before t (or through t) as "{role}: {text}".
// turns are already ordered by index, then role.
func (a *Assembler) context(turns []Turn, t int) []string {
	ctx := []string{}
	for _, turn := range turns {
		if turn.Index > t || (turn.Index == t && a.Mode == ContextBefore) {
			break
		}
		ctx = append(ctx, turn.Role.String()+": "+turn.Text)
	}
	return ctx
}

func precedingUser(turns []Turn, t int) string {
	for _, turn := range turns {
		if turn.Index == t-1 && turn.Role == RoleUser {
			return turn.Text
		}
	}
	return ""
}

// AssembleTable explodes every row of t into one output row per unit. The
// output keeps all source columns and appends UnitColumns. Rows are emitted in
// source order, then turn order.
func (a *Assembler) AssembleTable(t *table.Table) (*table.Table, Stats, error) {
	layout, err := ParseLayout(t, a.logger)
	if err != nil {
		return nil, Stats{}, err
	}

	for _, col := range UnitColumns {
		if t.Has(col) {
			return nil, Stats{}, fmt.Errorf("%w: %s", table.ErrColumnExists, col)
		}
	}
	out := table.New(t.Columns)
	for _, col := range UnitColumns {
		out.AddColumn(col)
	}

	stats := Stats{SkippedColumns: layout.Skipped}
	for i := range t.Rows {
		row := layout.Row(t, i)
		units := a.Assemble(row)
		stats.Conversations++
		if len(units) == 0 {
			stats.EmptyConversations++
			continue
		}
		for _, u := range units {
			ctx, err := FormatContext(u.Context)
			if err != nil {
				return nil, stats, fmt.Errorf("format context for %s turn %d: %w", u.ConversationID, u.TurnIndex, err)
			}
			out.Append(u.Source)
			n := out.Len() - 1
			out.Set(n, ColTurnNum, strconv.Itoa(u.TurnIndex))
			out.Set(n, ColContext, ctx)
			out.Set(n, ColUserQuestion, u.PrecedingUser)
			out.Set(n, ColSelectedText, u.Text)
			out.Set(n, ColSelectedColumn, u.Column)
			stats.Units++
		}
	}

	a.logger.Info("assembled annotation units",
		"conversations", stats.Conversations,
		"units", stats.Units,
		"empty_conversations", stats.EmptyConversations,
		"skipped_columns", stats.SkippedColumns,
		"context_mode", a.Mode.String(),
	)
	return out, stats, nil
}

// FormatContext renders ctx as an indented JSON array, one utterance per line.
func FormatContext(ctx []string) (string, error) {
	if ctx == nil {
		ctx = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ctx); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// ParseContext is the inverse of FormatContext.
func ParseContext(s string) ([]string, error) {
	var ctx []string
	if err := json.Unmarshal([]byte(s), &ctx); err != nil {
		return nil, fmt.Errorf("parse context: %w", err)
	}
	return ctx, nil
}
