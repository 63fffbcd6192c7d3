package pipeline

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/cwbatch/internal/atomicfile"
	"github.com/MikeSquared-Agency/cwbatch/internal/conversation"
	"github.com/MikeSquared-Agency/cwbatch/internal/reconcile"
	"github.com/MikeSquared-Agency/cwbatch/internal/table"
)

// ClaimRequest is the per-unit input of the external claim extractor.
type ClaimRequest struct {
	Question     string `json:"question"`
	Response     string `json:"response"`
	Model        string `json:"model"`
	PromptSource string `json:"prompt_source"`
}

// ExportStats counts the files written by WriteClaimRequests.
type ExportStats struct {
	Rows     int `json:"rows"`
	Written  int `json:"written"`
	BadIndex int `json:"bad_index"`
}

// ClaimRequestPath is where the request for one unit is written under dir.
func ClaimRequestPath(dir, conv string, turn int) string {
	return filepath.Join(dir, conv, conv+"_"+strconv.Itoa(turn)+".jsonl")
}

// WriteClaimRequests writes one single-line JSONL file per unit of t under
// dir, grouped in a directory per conversation. Files are replaced
// atomically, so an export can be repeated over an earlier one.
func WriteClaimRequests(t *table.Table, dir, model, source string) (ExportStats, error) {
	var stats ExportStats
	idCol, err := t.FirstPresent(idColumns...)
	if err != nil {
		return stats, err
	}
	if err := t.Require(conversation.ColTurnNum, conversation.ColSelectedText); err != nil {
		return stats, err
	}

	for i := range t.Rows {
		stats.Rows++
		conv := strings.TrimSpace(t.Get(i, idCol))
		turn, ok := reconcile.ParseNumber(t.Get(i, conversation.ColTurnNum))
		if conv == "" || conv == "." || conv == ".." || strings.ContainsAny(conv, `/\`) || !ok {
			stats.BadIndex++
			continue
		}
		req := ClaimRequest{
			Question: "User: " + strings.TrimSpace(t.Get(i, conversation.ColUserQuestion)) +
				"\nContext: " + strings.TrimSpace(t.Get(i, conversation.ColContext)),
			Response:     strings.TrimSpace(t.Get(i, conversation.ColSelectedText)),
			Model:        model,
			PromptSource: source,
		}
		data, err := json.Marshal(req)
		if err != nil {
			return stats, fmt.Errorf("marshal %s turn %d: %w", conv, turn, err)
		}
		if err := atomicfile.WriteBytes(ClaimRequestPath(dir, conv, turn), append(data, '\n')); err != nil {
			return stats, fmt.Errorf("write %s turn %d: %w", conv, turn, err)
		}
		stats.Written++
	}
	return stats, nil
}
