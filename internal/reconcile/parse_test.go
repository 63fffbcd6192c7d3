package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_JSONList(t *testing.T) {
	items, name, err := DefaultChain.Parse(`["claim A", "claim B"]`)
	require.NoError(t, err)
	assert.Equal(t, "json", name)
	assert.Equal(t, []string{"claim A", "claim B"}, items)
}

func TestChain_JSONScalarString(t *testing.T) {
	items, _, err := DefaultChain.Parse(`"only one claim"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"only one claim"}, items)
}

func TestChain_CodeFence(t *testing.T) {
	items, name, err := DefaultChain.Parse("```json\n[\"a\", \"b\"]\n```")
	require.NoError(t, err)
	assert.Equal(t, "json", name)
	assert.Equal(t, []string{"a", "b"}, items)
}

func TestChain_LiteralList(t *testing.T) {
	items, name, err := DefaultChain.Parse(`['The Eiffel Tower is in Paris.', "It's 330 m tall.", 'Line\nbreak', ]`)
	require.NoError(t, err)
	assert.Equal(t, "literal", name)
	assert.Equal(t, []string{"The Eiffel Tower is in Paris.", "It's 330 m tall.", "Line\nbreak"}, items)
}

func TestChain_LineSplit(t *testing.T) {
	items, name, err := DefaultChain.Parse("- Paris is in France.\n\n* Water boils at 100 C.\n1. A well-known fact.\n• first • second")
	require.NoError(t, err)
	assert.Equal(t, "lines", name)
	assert.Equal(t, []string{
		"Paris is in France.",
		"Water boils at 100 C.",
		"A well-known fact.",
		"first",
		"second",
	}, items)
}

func TestChain_NoResultMarkers(t *testing.T) {
	for _, s := range []string{"", "  ", "[]", "ERROR", "nan", "None", "```\n[]\n```"} {
		_, _, err := DefaultChain.Parse(s)
		assert.ErrorIs(t, err, ErrNoResult, "%q", s)
	}
}

func TestChain_Unparsable(t *testing.T) {
	_, _, err := DefaultChain.Parse(`["unterminated`)
	assert.ErrorIs(t, err, ErrUnparsable)

	_, _, err = StrictChain.Parse("- free text")
	assert.ErrorIs(t, err, ErrUnparsable)
}

func TestChain_DropsBlankItems(t *testing.T) {
	items, _, err := DefaultChain.Parse(`["a", "  ", null, 3]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "3"}, items)
}

func TestStrategiesArePure(t *testing.T) {
	in := `['a', 'b']`
	first, err := LiteralList.Parse(in)
	require.NoError(t, err)
	second, err := LiteralList.Parse(in)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = LineSplit.Parse("[broken")
	assert.Error(t, err)
	_, err = JSONList.Parse(`{"a": 1}`)
	assert.Error(t, err)
}
