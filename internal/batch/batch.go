// Package batch is the contract with an asynchronous batch-inference service:
// submit a file of chat-completion requests, poll the job, fetch its output.
package batch

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// Endpoint is the per-line request URL and the batch endpoint.
const Endpoint = "/v1/chat/completions"

// IDSeparator joins the segments of a custom_id.
const IDSeparator = "_"

// ErrNotReady is returned by Fetch when the job has not completed.
var ErrNotReady = errors.New("batch job not completed")

// Message is one chat message of a request body.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Body is the chat-completion payload of a batch request.
type Body struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// Request is one line of a batch input file.
type Request struct {
	CustomID string `json:"custom_id"`
	Method   string `json:"method"`
	URL      string `json:"url"`
	Body     Body   `json:"body"`
}

// NewRequest builds a deterministic (temperature 0) chat-completion request.
func NewRequest(customID, model string, messages []Message, maxTokens int) Request {
	return Request{
		CustomID: customID,
		Method:   "POST",
		URL:      Endpoint,
		Body: Body{
			Model:     model,
			Messages:  messages,
			MaxTokens: maxTokens,
		},
	}
}

// BuildCustomID renders conv_turn, or conv_turn_statement when a statement
// index is given.
func BuildCustomID(conv string, turn int, statement ...int) string {
	var sb strings.Builder
	sb.WriteString(conv)
	sb.WriteString(IDSeparator)
	sb.WriteString(strconv.Itoa(turn))
	if len(statement) > 0 {
		sb.WriteString(IDSeparator)
		sb.WriteString(strconv.Itoa(statement[0]))
	}
	return sb.String()
}

// Status is the provider-reported job status.
type Status string

const (
	StatusValidating Status = "validating"
	StatusSubmitted  Status = "submitted"
	StatusInProgress Status = "in_progress"
	StatusFinalizing Status = "finalizing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
)

// Completed reports whether output may be fetched.
func (s Status) Completed() bool { return s == StatusCompleted }

// Failed reports whether the job ended without usable output.
func (s Status) Failed() bool {
	return s == StatusFailed || s == StatusExpired || s == StatusCancelled
}

// Terminal reports whether the provider will not change the status again.
func (s Status) Terminal() bool { return s.Completed() || s.Failed() }

// Job is the external handle of a submitted batch.
type Job struct {
	ID           string `json:"id"`
	InputFileID  string `json:"input_file_id"`
	Status       Status `json:"status"`
	OutputFileID string `json:"output_file_id,omitempty"`
	ErrorFileID  string `json:"error_file_id,omitempty"`
}

// Result is the payload returned for one custom_id. Exactly one of Content
// and Err is meaningful.
type Result struct {
	CustomID string
	Content  string
	Err      string
}

// Failed reports whether the provider returned an error for this request.
func (r Result) Failed() bool { return r.Err != "" }

// Client submits, polls and fetches batch jobs. Poll never blocks waiting for
// completion; Fetch returns ErrNotReady unless the job is completed.
type Client interface {
	Submit(ctx context.Context, reqs []Request, description string) (Job, error)
	Poll(ctx context.Context, jobID string) (Job, error)
	Fetch(ctx context.Context, job Job) ([]Result, error)
}

// Split partitions reqs into chunks of at most size requests, preserving order.
// size <= 0 yields a single chunk.
func Split(reqs []Request, size int) [][]Request {
	if len(reqs) == 0 {
		return nil
	}
	if size <= 0 || len(reqs) <= size {
		return [][]Request{reqs}
	}
	chunks := make([][]Request, 0, (len(reqs)+size-1)/size)
	for start := 0; start < len(reqs); start += size {
		end := start + size
		if end > len(reqs) {
			end = len(reqs)
		}
		chunks = append(chunks, reqs[start:end:end])
	}
	return chunks
}
