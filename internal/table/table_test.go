package table

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReadCSV_PadsShortRowsAndStripsBOM(t *testing.T) {
	in := "\ufeffConversation_Hash,Utterance-0 (User),Model\nabc,hello\n"
	tbl, err := ReadCSV(strings.NewReader(in), ',')
	require.NoError(t, err)

	assert.Equal(t, []string{"Conversation_Hash", "Utterance-0 (User)", "Model"}, tbl.Columns)
	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, "abc", tbl.Get(0, "Conversation_Hash"))
	assert.Equal(t, "", tbl.Get(0, "Model"))
	assert.Equal(t, "", tbl.Get(0, "Nope"))
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""), ',')
	assert.Error(t, err)
}

func TestAddColumn_KeepsExistingColumns(t *testing.T) {
	tbl := New([]string{"a", "b"})
	tbl.Append([]string{"1", "2"})

	idx, existed := tbl.AddColumn("c")
	assert.Equal(t, 2, idx)
	assert.False(t, existed)
	tbl.Set(0, "c", "3")

	idx, existed = tbl.AddColumn("a")
	assert.Equal(t, 0, idx)
	assert.True(t, existed)

	assert.Equal(t, []string{"1", "2", "3"}, tbl.Rows[0])
}

func TestRequire(t *testing.T) {
	tbl := New([]string{"a"})
	assert.NoError(t, tbl.Require("a"))

	err := tbl.Require("a", "b", "c")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingColumn))
	assert.Contains(t, err.Error(), "b, c")
}

func TestFirstPresent(t *testing.T) {
	tbl := New([]string{"conversation_hash"})
	col, err := tbl.FirstPresent("Conversation_Hash", "conversation_hash")
	require.NoError(t, err)
	assert.Equal(t, "conversation_hash", col)

	_, err = New(nil).FirstPresent("Conversation_Hash")
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestWriteFile_RoundTrip(t *testing.T) {
	tbl := New([]string{"id", "text"})
	tbl.Append([]string{"1", "line one\nline two"})
	tbl.Append([]string{"2", `has "quotes", commas`})

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteFile(path, tbl))

	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, tbl.Columns, back.Columns)
	assert.Equal(t, tbl.Rows, back.Rows)
}

func TestWriteCSV_Deterministic(t *testing.T) {
	tbl := New([]string{"x"})
	tbl.Append([]string{"ü"})

	var a, b bytes.Buffer
	require.NoError(t, WriteCSV(&a, tbl))
	require.NoError(t, WriteCSV(&b, tbl.Clone()))
	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestReadFile_Excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Conversation_Hash", "Utterance-0 (User)"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"abc", "hi"}))

	path := filepath.Join(t.TempDir(), "in.xlsx")
	require.NoError(t, f.SaveAs(path))

	tbl, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Conversation_Hash", "Utterance-0 (User)"}, tbl.Columns)
	assert.Equal(t, "hi", tbl.Get(0, "Utterance-0 (User)"))
}

func TestReadFile_Unsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.parquet")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	_, err := ReadFile(path)
	assert.Error(t, err)
}

func TestDataSheet(t *testing.T) {
	assert.Equal(t, "Data", dataSheet([]string{"README", "Data"}))
	assert.Equal(t, "notes", dataSheet([]string{"info", "notes"}))
	assert.Equal(t, "", dataSheet(nil))
}
