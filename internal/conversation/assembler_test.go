package conversation

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/cwbatch/internal/table"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wideTable() *table.Table {
	tbl := table.New([]string{
		"Conversation_Hash",
		"Utterance-0 (User)",
		"Utterance-1 (Agent)",
		"Utterance-2 (User)",
		"Utterance-3 (Agent)",
		"Model",
	})
	tbl.Append([]string{"conv_a", "What is the capital of France?", "Paris.", "And Spain?", "Madrid.", "gpt"})
	tbl.Append([]string{"conv_b", "hi", "nan", "   ", "", "gpt"})
	return tbl
}

func TestAssembleTable_UnitCountMatchesSelectedTurns(t *testing.T) {
	a := NewAssembler(ContextBefore, AgentTurns, discardLogger())
	out, stats, err := a.AssembleTable(wideTable())
	require.NoError(t, err)

	assert.Equal(t, 2, out.Len())
	assert.Equal(t, Stats{Conversations: 2, Units: 2, EmptyConversations: 1}, stats)
	assert.Equal(t, "1", out.Get(0, ColTurnNum))
	assert.Equal(t, "3", out.Get(1, ColTurnNum))
	assert.Equal(t, "Madrid.", out.Get(1, ColSelectedText))
	assert.Equal(t, "Utterance-3 (Agent)", out.Get(1, ColSelectedColumn))
	assert.Equal(t, "And Spain?", out.Get(1, ColUserQuestion))
	assert.Equal(t, "gpt", out.Get(1, "Model"))
}

func TestAssembleTable_UserTurns(t *testing.T) {
	a := NewAssembler(ContextBefore, UserTurns, discardLogger())
	out, stats, err := a.AssembleTable(wideTable())
	require.NoError(t, err)

	// conv_a has two user turns, conv_b has one ("hi").
	assert.Equal(t, 3, stats.Units)
	assert.Equal(t, 0, stats.EmptyConversations)
	assert.Equal(t, "conv_b", out.Get(2, "Conversation_Hash"))
	assert.Equal(t, "[]", out.Get(2, ColContext))
}

func TestContext_BeforeExcludesSelectedTurn(t *testing.T) {
	l, err := ParseLayout(wideTable(), discardLogger())
	require.NoError(t, err)

	a := NewAssembler(ContextBefore, AgentTurns, discardLogger())
	units := a.Assemble(l.Row(wideTable(), 0))
	require.Len(t, units, 2)

	assert.Equal(t, []string{"User: What is the capital of France?"}, units[0].Context)
	assert.Equal(t, []string{
		"User: What is the capital of France?",
		"Agent: Paris.",
		"User: And Spain?",
	}, units[1].Context)
}

func TestContext_ThroughIncludesSelectedTurn(t *testing.T) {
	tbl := wideTable()
	l, err := ParseLayout(tbl, discardLogger())
	require.NoError(t, err)

	a := NewAssembler(ContextThrough, AgentTurns, discardLogger())
	units := a.Assemble(l.Row(tbl, 0))
	require.Len(t, units, 2)

	assert.Equal(t, []string{
		"User: What is the capital of France?",
		"Agent: Paris.",
	}, units[0].Context)
	assert.Len(t, units[1].Context, 4)
	assert.Equal(t, "Agent: Madrid.", units[1].Context[3])
}

func TestContext_SortsByIndexThenRoleOrder(t *testing.T) {
	// Columns deliberately out of order; same index shared by several roles.
	tbl := table.New([]string{
		"Utterance-1 (Agent)",
		"Utterance-0 (System)",
		"Conversation_Hash",
		"Utterance-1 (User)",
		"Utterance-0 (User)",
		"Utterance-2 (Agent)",
		"Utterance-10 (Agent)",
	})
	tbl.Append([]string{"a1", "s0", "c", "u1", "u0", "a2", "a10"})

	l, err := ParseLayout(tbl, discardLogger())
	require.NoError(t, err)
	row := l.Row(tbl, 0)

	var order []string
	for _, turn := range row.Turns {
		order = append(order, turn.Text)
	}
	assert.Equal(t, []string{"u0", "s0", "u1", "a1", "a2", "a10"}, order)

	a := NewAssembler(ContextBefore, SelectRoles(RoleAgent), discardLogger())
	units := a.Assemble(row)
	require.Len(t, units, 3)
	assert.Equal(t, []string{"User: u0", "System: s0"}, units[0].Context)
	assert.Equal(t, "u0", units[0].PrecedingUser)
	assert.Equal(t, []string{"User: u0", "System: s0", "User: u1", "Agent: a1"}, units[1].Context)
	assert.Equal(t, "u1", units[1].PrecedingUser)
}

func TestParseLayout_SkipsMalformedIndex(t *testing.T) {
	tbl := table.New([]string{"conversation_hash", "Utterance-x (User)", "Utterance--1 (Agent)", "Utterance-0 (User)", "Utterance-1 (Robot)"})
	l, err := ParseLayout(tbl, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, "conversation_hash", l.IDColumn)
	assert.Equal(t, 2, l.Skipped)
	assert.Len(t, l.slots, 1)
}

func TestAssembleTable_MissingIDColumn(t *testing.T) {
	tbl := table.New([]string{"Utterance-0 (User)"})
	tbl.Append([]string{"hi"})

	a := NewAssembler(ContextBefore, nil, discardLogger())
	_, _, err := a.AssembleTable(tbl)
	assert.ErrorIs(t, err, table.ErrMissingColumn)
}

func TestAssembleTable_RejectsExistingUnitColumn(t *testing.T) {
	tbl := table.New([]string{"Conversation_Hash", "Turn_Num", "Utterance-0 (User)", "Utterance-1 (Agent)"})
	tbl.Append([]string{"conv_a", "original", "hi", "hello"})

	a := NewAssembler(ContextBefore, AgentTurns, discardLogger())
	_, _, err := a.AssembleTable(tbl)
	require.ErrorIs(t, err, table.ErrColumnExists)
	assert.Contains(t, err.Error(), ColTurnNum)
	assert.Equal(t, "original", tbl.Get(0, "Turn_Num"))
}

func TestIsMissing(t *testing.T) {
	for _, v := range []string{"", "  ", "\t\n", "nan", "NaN", "None", "null", "NA"} {
		assert.True(t, IsMissing(v), "%q", v)
	}
	for _, v := range []string{"0", "no", "Nancy", " a "} {
		assert.False(t, IsMissing(v), "%q", v)
	}
}

func TestFormatContext_RoundTrip(t *testing.T) {
	ctx := []string{"User: <b>hi</b>", "Agent: \"quoted\"\nsecond line"}
	s, err := FormatContext(ctx)
	require.NoError(t, err)
	assert.Contains(t, s, "<b>hi</b>")

	back, err := ParseContext(s)
	require.NoError(t, err)
	assert.Equal(t, ctx, back)

	empty, err := FormatContext(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", empty)
}

func TestParseSelectorAndMode(t *testing.T) {
	sel, err := ParseSelector("user")
	require.NoError(t, err)
	assert.True(t, sel(Turn{Role: RoleUser}))
	assert.False(t, sel(Turn{Role: RoleAgent}))

	_, err = ParseSelector("robot")
	assert.Error(t, err)

	m, err := ParseContextMode("through")
	require.NoError(t, err)
	assert.Equal(t, ContextThrough, m)
	_, err = ParseContextMode("after")
	assert.Error(t, err)
}
