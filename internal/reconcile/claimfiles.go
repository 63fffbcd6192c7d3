package reconcile

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/MikeSquared-Agency/cwbatch/internal/batch"
	"github.com/MikeSquared-Agency/cwbatch/internal/table"
)

// ColClaimMethod names the extraction method of imported claims.
const ColClaimMethod = "Claim_Extr_Method"

// claimFileName matches files written by the external claim extractor:
// claims_<conversation hash>_<turn>.jsonl.
var claimFileName = regexp.MustCompile(`claims_([a-f0-9]+)_(\d+)\.jsonl$`)

// ClaimFileStats counts what LoadClaimFiles found.
type ClaimFileStats struct {
	Files    int `json:"files"`
	Loaded   int `json:"loaded"`
	Skipped  int `json:"skipped"`
	NoClaims int `json:"no_claims"`
	Errors   int `json:"errors"`
}

// claimLine is one line of a claim file. Only all_claims is read.
type claimLine struct {
	AllClaims json.RawMessage `json:"all_claims"`
}

// LoadClaimFiles walks dir for claim files and returns one result per file,
// keyed by the conversation and turn in its name, with the file's all_claims
// list as content. When a file has several lines carrying all_claims the last
// one wins. Files whose names do not match, or that carry no claims, are
// counted and skipped; so are files that fail to read or decode.
func LoadClaimFiles(dir string) ([]batch.Result, ClaimFileStats, error) {
	var (
		results []batch.Result
		stats   ClaimFileStats
	)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".jsonl" {
			return nil
		}
		stats.Files++
		m := claimFileName.FindStringSubmatch(d.Name())
		if m == nil {
			stats.Skipped++
			return nil
		}
		turn, err := strconv.Atoi(m[2])
		if err != nil {
			stats.Skipped++
			return nil
		}

		claims, err := readClaimFile(path)
		switch {
		case err != nil:
			stats.Errors++
		case claims == "":
			stats.NoClaims++
		default:
			stats.Loaded++
			results = append(results, batch.Result{CustomID: batch.BuildCustomID(m[1], turn), Content: claims})
		}
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("walk %s: %w", dir, err)
	}
	return results, stats, nil
}

// readClaimFile returns the last all_claims value in path as a payload the
// claim chains can parse, or "" when no line carries one.
func readClaimFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var claims json.RawMessage
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var cl claimLine
		if err := json.Unmarshal(line, &cl); err != nil {
			return "", fmt.Errorf("decode %s: %w", path, err)
		}
		if len(cl.AllClaims) > 0 && string(cl.AllClaims) != "null" {
			claims = append(claims[:0], cl.AllClaims...)
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if len(claims) == 0 {
		return "", nil
	}
	// A bare string is taken as already serialised.
	var s string
	if err := json.Unmarshal(claims, &s); err == nil {
		return s, nil
	}
	return string(claims), nil
}

// ImportClaims maps claim files found under dir onto t and explodes them into
// one row per claim. A non-empty method is recorded in Claim_Extr_Method.
func ImportClaims(t *table.Table, dir, method string) (*table.Table, Report, ClaimFileStats, error) {
	if method != "" && t.Has(ColClaimMethod) {
		return nil, Report{}, ClaimFileStats{}, fmt.Errorf("%w: %s", ErrColumnExists, ColClaimMethod)
	}
	results, stats, err := LoadClaimFiles(dir)
	if err != nil {
		return nil, Report{}, stats, err
	}
	out, rep, err := ExplodeClaims(t, results, StrictChain)
	if err != nil {
		return nil, rep, stats, err
	}
	if method != "" {
		out.AddColumn(ColClaimMethod)
		for i := range out.Rows {
			out.Set(i, ColClaimMethod, method)
		}
	}
	return out, rep, stats, nil
}
