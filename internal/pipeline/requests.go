// Package pipeline drives one annotation task end to end: build requests
// from a unit table, advance every chunk's batch job one step, and reconcile
// whatever has been fetched into the output table.
package pipeline

import (
	"strings"

	"github.com/MikeSquared-Agency/cwbatch/internal/batch"
	"github.com/MikeSquared-Agency/cwbatch/internal/conversation"
	"github.com/MikeSquared-Agency/cwbatch/internal/prompts"
	"github.com/MikeSquared-Agency/cwbatch/internal/reconcile"
	"github.com/MikeSquared-Agency/cwbatch/internal/table"
)

var idColumns = []string{"Conversation_Hash", "conversation_hash"}

// BuildStats counts how input rows became requests.
type BuildStats struct {
	Rows       int `json:"rows"`
	Requests   int `json:"requests"`
	Skipped    int `json:"skipped"`
	BadIndex   int `json:"bad_index"`
	Duplicates int `json:"duplicates"`
}

// BuildRequests renders one request per usable row of t. Missing required
// columns fail before anything is built; rows that lack text or carry an
// unreadable index are skipped and counted. custom_ids are unique: later rows
// with an identity already seen are dropped.
func BuildRequests(t *table.Table, v prompts.Variant, model string, maxTokens int) ([]batch.Request, BuildStats, error) {
	var stats BuildStats
	idCol, err := t.FirstPresent(idColumns...)
	if err != nil {
		return nil, stats, err
	}
	if err := t.Require(v.Requires...); err != nil {
		return nil, stats, err
	}

	cell := func(i int, col string) string {
		s := strings.TrimSpace(t.Get(i, col))
		if conversation.IsMissing(s) {
			return ""
		}
		return s
	}

	seen := make(map[string]bool, t.Len())
	var reqs []batch.Request
	for i := range t.Rows {
		stats.Rows++
		in := prompts.Input{
			ConversationID: cell(i, idCol),
			Utterance:      cell(i, conversation.ColSelectedText),
			Context:        cell(i, conversation.ColContext),
			Question:       cell(i, conversation.ColUserQuestion),
			Claim:          cell(i, reconcile.ColStatement),
		}
		turn, ok := reconcile.ParseNumber(cell(i, conversation.ColTurnNum))
		if !ok {
			stats.BadIndex++
			continue
		}
		in.Turn = turn
		if v.WithStatement {
			stmt, ok := reconcile.ParseNumber(cell(i, reconcile.ColStatementIndex))
			if !ok {
				stats.BadIndex++
				continue
			}
			in.Statement = stmt
		}
		if !v.Ready(in) {
			stats.Skipped++
			continue
		}

		req := v.Request(in, model, maxTokens)
		if seen[req.CustomID] {
			stats.Duplicates++
			continue
		}
		seen[req.CustomID] = true
		reqs = append(reqs, req)
	}
	stats.Requests = len(reqs)
	return reqs, stats, nil
}
