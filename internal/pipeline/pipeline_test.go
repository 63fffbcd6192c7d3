package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/cwbatch/internal/batch"
	"github.com/MikeSquared-Agency/cwbatch/internal/conversation"
	"github.com/MikeSquared-Agency/cwbatch/internal/hermes"
	"github.com/MikeSquared-Agency/cwbatch/internal/prompts"
	"github.com/MikeSquared-Agency/cwbatch/internal/reconcile"
	"github.com/MikeSquared-Agency/cwbatch/internal/table"
	"github.com/MikeSquared-Agency/cwbatch/internal/tracker"
)

// fakeProvider answers every request with a canned payload once its job is
// marked complete.
type fakeProvider struct {
	jobs    map[string][]string
	status  map[string]batch.Status
	answers map[string]string
	submits int
	fetches int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		jobs:    map[string][]string{},
		status:  map[string]batch.Status{},
		answers: map[string]string{},
	}
}

func (f *fakeProvider) Submit(_ context.Context, reqs []batch.Request, _ string) (batch.Job, error) {
	f.submits++
	id := fmt.Sprintf("job_%d", f.submits)
	for _, r := range reqs {
		f.jobs[id] = append(f.jobs[id], r.CustomID)
	}
	f.status[id] = batch.StatusValidating
	return batch.Job{ID: id, InputFileID: "file_" + id, Status: batch.StatusValidating}, nil
}

func (f *fakeProvider) Poll(_ context.Context, jobID string) (batch.Job, error) {
	return batch.Job{ID: jobID, Status: f.status[jobID]}, nil
}

func (f *fakeProvider) Fetch(_ context.Context, job batch.Job) ([]batch.Result, error) {
	f.fetches++
	var out []batch.Result
	for _, id := range f.jobs[job.ID] {
		if a, ok := f.answers[id]; ok {
			out = append(out, batch.Result{CustomID: id, Content: a})
		}
	}
	return out, nil
}

func (f *fakeProvider) completeAll() {
	for id := range f.status {
		f.status[id] = batch.StatusCompleted
	}
}

type eventLog struct{ subjects []string }

func (e *eventLog) Publish(subject string, _ any) error {
	e.subjects = append(e.subjects, subject)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func unitTable() *table.Table {
	t := table.New(append([]string{"Conversation_Hash"}, conversation.UnitColumns...))
	// Turn_Num, Context_String, Corresponding_User_Question, Selected_Utterance, Selected_Column
	t.Append([]string{"conv_a", "1", `["User: hi"]`, "hi", "Paris is in France.", "Utterance-1 (Agent)"})
	t.Append([]string{"conv_a", "3", `["User: and?"]`, "and?", "Water boils at 100C.", "Utterance-3 (Agent)"})
	t.Append([]string{"conv_b", "1", `["User: yo"]`, "yo", "", "Utterance-1 (Agent)"})
	t.Append([]string{"conv_c", "x", `["User: ?"]`, "?", "text", "Utterance-x (Agent)"})
	return t
}

func newDriver(t *testing.T, p batch.Client, events tracker.Publisher, chunkSize int) *Driver {
	t.Helper()
	v, err := prompts.Lookup("extraction")
	require.NoError(t, err)
	tr := tracker.New(p, tracker.NewMemoryStore(), t.TempDir(), discardLogger())
	return &Driver{
		Tracker:   tr,
		Variant:   v,
		Model:     "gpt-4.1-2025-04-14",
		ChunkSize: chunkSize,
		Logger:    discardLogger(),
		Events:    events,
	}
}

func TestBuildRequests(t *testing.T) {
	v, err := prompts.Lookup("extraction")
	require.NoError(t, err)

	reqs, stats, err := BuildRequests(unitTable(), v, "m", 0)
	require.NoError(t, err)
	assert.Equal(t, BuildStats{Rows: 4, Requests: 2, Skipped: 1, BadIndex: 1}, stats)
	require.Len(t, reqs, 2)
	assert.Equal(t, "conv_a_1", reqs[0].CustomID)
	assert.Equal(t, "conv_a_3", reqs[1].CustomID)
	assert.Equal(t, 1000, reqs[0].Body.MaxTokens)
	assert.Contains(t, reqs[0].Body.Messages[len(reqs[0].Body.Messages)-1].Content, "Paris is in France.")
}

func TestBuildRequests_DropsDuplicateIdentity(t *testing.T) {
	v, err := prompts.Lookup("extraction")
	require.NoError(t, err)
	tbl := unitTable()
	tbl.Append(tbl.Rows[0])

	reqs, stats, err := BuildRequests(tbl, v, "m", 50)
	require.NoError(t, err)
	assert.Len(t, reqs, 2)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 50, reqs[0].Body.MaxTokens)
}

func TestBuildRequests_MissingColumn(t *testing.T) {
	v, err := prompts.Lookup("cw-hassan")
	require.NoError(t, err)

	_, _, err = BuildRequests(unitTable(), v, "m", 0)
	assert.ErrorIs(t, err, table.ErrMissingColumn)

	_, _, err = BuildRequests(table.New([]string{"Turn_Num"}), v, "m", 0)
	assert.ErrorIs(t, err, table.ErrMissingColumn)
}

func TestRun_ResumesAcrossInvocations(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	events := &eventLog{}
	d := newDriver(t, p, events, 0)
	out := filepath.Join(t.TempDir(), "claims.csv")

	rep, err := d.Run(ctx, unitTable(), "extraction", out)
	require.NoError(t, err)
	assert.False(t, rep.Reconciled)
	assert.Equal(t, 1, rep.States[tracker.StateTracked])
	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err), "no output before any chunk is fetched")

	rep, err = d.Run(ctx, unitTable(), "extraction", out)
	require.NoError(t, err)
	assert.False(t, rep.Reconciled)
	assert.Equal(t, 1, p.submits, "a tracked job is never resubmitted")

	p.completeAll()
	p.answers["conv_a_1"] = `["Paris is in France."]`
	p.answers["conv_a_3"] = `["Water boils at 100C.", "At sea level."]`

	rep, err = d.Run(ctx, unitTable(), "extraction", out)
	require.NoError(t, err)
	assert.True(t, rep.Reconciled)
	assert.Equal(t, 1, rep.States[tracker.StateDone])
	assert.Equal(t, 3, rep.Reconcile.Claims)
	assert.Equal(t, 3, rep.OutputRows)

	first, err := os.ReadFile(out)
	require.NoError(t, err)

	got, err := table.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "0", "1"}, column(got, reconcile.ColStatementIndex))
	assert.Equal(t, "At sea level.", got.Get(2, reconcile.ColStatement))

	// Done chunks are reconciled again from disk without another fetch.
	rep, err = d.Run(ctx, unitTable(), "extraction", out)
	require.NoError(t, err)
	assert.True(t, rep.Reconciled)
	assert.Equal(t, 1, p.fetches)
	second, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, second), "reconciled output must be byte-identical across runs")

	assert.Contains(t, events.subjects, hermes.SubjectRunCompleted)
}

func TestRun_FailedChunkDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	d := newDriver(t, p, nil, 1)
	out := filepath.Join(t.TempDir(), "claims.csv")

	_, err := d.Run(ctx, unitTable(), "extraction", out)
	require.NoError(t, err)
	require.Equal(t, 2, p.submits)

	p.status["job_1"] = batch.StatusFailed
	p.status["job_2"] = batch.StatusCompleted
	p.answers["conv_a_3"] = `["Water boils at 100C."]`

	rep, err := d.Run(ctx, unitTable(), "extraction", out)
	require.NoError(t, err)
	assert.True(t, rep.Reconciled)
	assert.Equal(t, 1, rep.States[tracker.StateFailed])
	assert.Equal(t, 1, rep.States[tracker.StateDone])
	assert.Equal(t, "extraction_part_01", rep.Chunks[0].Chunk)
	assert.Equal(t, 1, rep.Reconcile.Claims)
	// conv_a_1 sits in the failed chunk; conv_b was never requested.
	assert.Equal(t, 2, rep.Reconcile.Unmatched)
	assert.Equal(t, 1, rep.Reconcile.RowsNoKey)
}

func TestRun_UnreadableResultsDoNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	d := newDriver(t, p, nil, 1)
	out := filepath.Join(t.TempDir(), "claims.csv")

	_, err := d.Run(ctx, unitTable(), "extraction", out)
	require.NoError(t, err)
	p.completeAll()
	p.answers["conv_a_1"] = `["Paris is in France."]`
	p.answers["conv_a_3"] = `["Water boils at 100C."]`

	rep, err := d.Run(ctx, unitTable(), "extraction", out)
	require.NoError(t, err)
	require.Equal(t, 2, rep.States[tracker.StateDone])
	for _, rec := range rep.Chunks {
		assert.True(t, filepath.IsAbs(rec.OutputPath), rec.OutputPath)
	}

	require.NoError(t, os.Remove(rep.Chunks[0].OutputPath))

	rep, err = d.Run(ctx, unitTable(), "extraction", out)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.LoadErrors)
	assert.True(t, rep.Reconciled)
	assert.Equal(t, 1, rep.Reconcile.Claims)

	got, err := table.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, column(got, reconcile.ColStatement), "Water boils at 100C.")
	assert.NotContains(t, column(got, reconcile.ColStatement), "Paris is in France.")
}

func TestRun_NoReadableResultsLeavesOutput(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	d := newDriver(t, p, nil, 0)
	out := filepath.Join(t.TempDir(), "claims.csv")

	_, err := d.Run(ctx, unitTable(), "extraction", out)
	require.NoError(t, err)
	p.completeAll()
	p.answers["conv_a_1"] = `["Paris is in France."]`

	rep, err := d.Run(ctx, unitTable(), "extraction", out)
	require.NoError(t, err)
	require.True(t, rep.Reconciled)
	before, err := os.ReadFile(out)
	require.NoError(t, err)

	require.NoError(t, os.Remove(rep.Chunks[0].OutputPath))

	rep, err = d.Run(ctx, unitTable(), "extraction", out)
	require.NoError(t, err)
	assert.False(t, rep.Reconciled)
	assert.Equal(t, 1, rep.LoadErrors)
	after, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRun_SchemaErrorHasNoSideEffects(t *testing.T) {
	p := newFakeProvider()
	d := newDriver(t, p, nil, 0)

	_, err := d.Run(context.Background(), table.New([]string{"Conversation_Hash"}), "x", filepath.Join(t.TempDir(), "o.csv"))
	assert.ErrorIs(t, err, table.ErrMissingColumn)
	assert.Equal(t, 0, p.submits)
}

func TestReconcile_ScalarVariant(t *testing.T) {
	v, err := prompts.Lookup("topic")
	require.NoError(t, err)
	d := &Driver{Variant: v, Logger: discardLogger()}

	out, rep, err := d.Reconcile(unitTable(), []batch.Result{
		{CustomID: "conv_a_1", Content: "The answer is [[coding]]"},
		{CustomID: "conv_a_3", Content: "[[Math]]"},
		{CustomID: "ghost_9", Content: "[[Math]]"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Coding", "Math", "", ""}, column(out, "Label"))
	assert.Equal(t, 1, rep.Orphans)
}

func TestChunkName(t *testing.T) {
	assert.Equal(t, "extraction_part_01", ChunkName("extraction", 0))
	assert.Equal(t, "job_part_12", ChunkName("job", 11))
}

func column(t *table.Table, col string) []string {
	out := make([]string, t.Len())
	for i := range t.Rows {
		out[i] = t.Get(i, col)
	}
	return out
}
