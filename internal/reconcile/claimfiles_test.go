package reconcile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/cwbatch/internal/table"
)

func writeClaimFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func claimUnits() *table.Table {
	t := table.New([]string{"Conversation_Hash", "Turn_Num", "Selected_Utterance"})
	t.Append([]string{"abc123", "1", "Paris is in France. Water boils at 100C."})
	t.Append([]string{"abc123", "3", "Nothing factual here."})
	t.Append([]string{"def456", "1", "Madrid is in Spain."})
	return t
}

func TestLoadClaimFiles(t *testing.T) {
	dir := t.TempDir()
	writeClaimFile(t, filepath.Join(dir, "abc123"), "claims_abc123_1.jsonl",
		`{"question":"q","all_claims":["stale"]}`+"\n"+
			`{"question":"q","all_claims":["Paris is in France.","Water boils at 100C."]}`+"\n")
	writeClaimFile(t, filepath.Join(dir, "abc123"), "claims_abc123_3.jsonl", `{"question":"q"}`+"\n")
	writeClaimFile(t, filepath.Join(dir, "def456"), "claims_def456_1.jsonl", "{broken\n")
	writeClaimFile(t, dir, "notes.jsonl", `{"all_claims":["x"]}`+"\n")
	writeClaimFile(t, dir, "readme.txt", "ignored")

	results, stats, err := LoadClaimFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, ClaimFileStats{Files: 4, Loaded: 1, Skipped: 1, NoClaims: 1, Errors: 1}, stats)
	require.Len(t, results, 1)
	assert.Equal(t, "abc123_1", results[0].CustomID)
	assert.JSONEq(t, `["Paris is in France.","Water boils at 100C."]`, results[0].Content)
}

func TestImportClaims_ExplodesPerClaim(t *testing.T) {
	dir := t.TempDir()
	writeClaimFile(t, dir, "claims_abc123_1.jsonl", `{"all_claims":["Paris is in France.","Water boils at 100C."]}`+"\n")
	writeClaimFile(t, dir, "claims_abc123_3.jsonl", `{"all_claims":[]}`+"\n")
	writeClaimFile(t, dir, "claims_def456_1.jsonl", `{"all_claims":"[\"Madrid is in Spain.\"]"}`+"\n")
	writeClaimFile(t, dir, "claims_fff000_9.jsonl", `{"all_claims":["orphan"]}`+"\n")

	out, rep, stats, err := ImportClaims(claimUnits(), dir, "veriscore")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Loaded)
	assert.Equal(t, 3, rep.Claims)
	assert.Equal(t, 1, rep.Orphans)
	assert.Equal(t, 1, rep.EmptyRows)

	require.Equal(t, 3, out.Len())
	assert.Equal(t, []string{"Paris is in France.", "Water boils at 100C.", "Madrid is in Spain."}, columnValues(out, ColStatement))
	assert.Equal(t, []string{"0", "1", "0"}, columnValues(out, ColStatementIndex))
	assert.Equal(t, []string{"veriscore", "veriscore", "veriscore"}, columnValues(out, ColClaimMethod))
}

func TestImportClaims_RefusesExistingMethodColumn(t *testing.T) {
	units := table.New([]string{"Conversation_Hash", "Turn_Num", ColClaimMethod})
	units.Append([]string{"abc123", "1", "manual"})

	_, _, _, err := ImportClaims(units, t.TempDir(), "veriscore")
	assert.ErrorIs(t, err, ErrColumnExists)
}

func TestLoadClaimFiles_MissingDir(t *testing.T) {
	_, _, err := LoadClaimFiles(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func columnValues(t *table.Table, col string) []string {
	out := make([]string, t.Len())
	for i := range t.Rows {
		out[i] = t.Get(i, col)
	}
	return out
}
