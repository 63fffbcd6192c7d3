package batch

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gowebpki/jcs"
	"github.com/kaptinlin/jsonschema"
)

//go:embed schema/request.schema.json
var requestSchemaJSON []byte

var requestSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(requestSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile request schema: %w", err)
	}
	return schema, nil
})

// ErrInvalidRequest is returned when a request line violates the wire contract.
var ErrInvalidRequest = errors.New("invalid batch request")

// EncodeLine returns the canonical (RFC 8785) JSON form of req after checking
// it against the request schema.
func EncodeLine(req Request) ([]byte, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request %s: %w", req.CustomID, err)
	}
	line, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize request %s: %w", req.CustomID, err)
	}

	schema, err := requestSchema()
	if err != nil {
		return nil, err
	}
	if result := schema.ValidateJSON(line); !result.IsValid() {
		return nil, fmt.Errorf("%w %s: %v", ErrInvalidRequest, req.CustomID, result.Errors)
	}
	return line, nil
}

// EncodeJSONL writes one canonical request per line. Identical requests
// always produce identical bytes.
func EncodeJSONL(w io.Writer, reqs []Request) error {
	bw := bufio.NewWriter(w)
	for _, req := range reqs {
		line, err := EncodeLine(req)
		if err != nil {
			return err
		}
		bw.Write(line)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// resultLine covers both the success and the error shape of an output line.
type resultLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int `json:"status_code"`
		Body       struct {
			Choices []struct {
				Message struct {
					Content *string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
			Error *lineError `json:"error"`
		} `json:"body"`
	} `json:"response"`
	Error *lineError `json:"error"`
}

type lineError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *lineError) String() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Code != "":
		return e.Code
	default:
		return "unknown error"
	}
}

// DecodeStats counts what DecodeResults saw.
type DecodeStats struct {
	Lines     int
	Malformed int
	Errors    int
}

// DecodeResults parses a result file. Lines that are not JSON or carry no
// custom_id are counted as malformed and skipped; provider errors become
// Results with Err set.
func DecodeResults(r io.Reader) ([]Result, DecodeStats, error) {
	var (
		results []Result
		stats   DecodeStats
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		stats.Lines++

		var line resultLine
		if err := json.Unmarshal(b, &line); err != nil || line.CustomID == "" {
			stats.Malformed++
			continue
		}

		res := decodeLine(line)
		if res.Failed() {
			stats.Errors++
		}
		results = append(results, res)
	}
	if err := scanner.Err(); err != nil {
		return nil, stats, fmt.Errorf("read results: %w", err)
	}
	return results, stats, nil
}

func decodeLine(line resultLine) Result {
	res := Result{CustomID: line.CustomID}
	switch {
	case line.Error != nil:
		res.Err = line.Error.String()
	case line.Response == nil:
		res.Err = "missing response"
	case line.Response.Body.Error != nil:
		res.Err = line.Response.Body.Error.String()
	case line.Response.StatusCode >= 400:
		res.Err = fmt.Sprintf("status %d", line.Response.StatusCode)
	case len(line.Response.Body.Choices) == 0 || line.Response.Body.Choices[0].Message.Content == nil:
		res.Err = "no content in response"
	default:
		res.Content = *line.Response.Body.Choices[0].Message.Content
	}
	return res
}

type outMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type outChoice struct {
	Index   int        `json:"index"`
	Message outMessage `json:"message"`
}

type outBody struct {
	Choices []outChoice `json:"choices"`
}

type outResponse struct {
	StatusCode int     `json:"status_code"`
	Body       outBody `json:"body"`
}

type outLine struct {
	CustomID string       `json:"custom_id"`
	Response *outResponse `json:"response"`
	Error    *lineError   `json:"error"`
}

// WriteResults writes results in the provider's output shape so the file can
// be read back with DecodeResults.
func WriteResults(w io.Writer, results []Result) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, r := range results {
		line := outLine{CustomID: r.CustomID}
		if r.Failed() {
			line.Error = &lineError{Message: r.Err}
		} else {
			line.Response = &outResponse{
				StatusCode: 200,
				Body: outBody{Choices: []outChoice{{
					Message: outMessage{Role: "assistant", Content: r.Content},
				}}},
			}
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("encode result %s: %w", r.CustomID, err)
		}
	}
	return bw.Flush()
}
