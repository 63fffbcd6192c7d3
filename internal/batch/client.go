package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.openai.com/v1"

// HTTPClient talks to an OpenAI-compatible files + batches API.
type HTTPClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHTTPClient creates a client. An empty baseURL uses the public OpenAI
// endpoint; rps <= 0 disables throttling.
func NewHTTPClient(apiKey, baseURL string, rps float64, logger *slog.Logger) *HTTPClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &HTTPClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// SetTestTransport points the client at a test server and lifts the rate limit.
func (c *HTTPClient) SetTestTransport(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.limiter = rate.NewLimiter(rate.Inf, 1)
}

type fileObject struct {
	ID string `json:"id"`
}

type createBatchRequest struct {
	InputFileID      string            `json:"input_file_id"`
	Endpoint         string            `json:"endpoint"`
	CompletionWindow string            `json:"completion_window"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Submit uploads reqs as a JSONL file and creates a batch over it.
func (c *HTTPClient) Submit(ctx context.Context, reqs []Request, description string) (Job, error) {
	var payload bytes.Buffer
	if err := EncodeJSONL(&payload, reqs); err != nil {
		return Job{}, fmt.Errorf("encode requests: %w", err)
	}

	fileID, err := c.upload(ctx, "batch_requests.jsonl", &payload)
	if err != nil {
		return Job{}, err
	}

	body, err := json.Marshal(createBatchRequest{
		InputFileID:      fileID,
		Endpoint:         Endpoint,
		CompletionWindow: "24h",
		Metadata:         map[string]string{"description": description},
	})
	if err != nil {
		return Job{}, fmt.Errorf("marshal batch request: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, "/batches", bytes.NewReader(body), "application/json")
	if err != nil {
		return Job{}, fmt.Errorf("create batch: %w", err)
	}

	var job Job
	if err := json.Unmarshal(respBody, &job); err != nil {
		return Job{}, fmt.Errorf("unmarshal batch: %w", err)
	}
	if job.InputFileID == "" {
		job.InputFileID = fileID
	}

	c.logger.Info("batch submitted",
		"job_id", job.ID,
		"input_file_id", job.InputFileID,
		"requests", len(reqs),
		"status", job.Status,
	)
	return job, nil
}

func (c *HTTPClient) upload(ctx context.Context, name string, content io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "batch"); err != nil {
		return "", fmt.Errorf("write purpose field: %w", err)
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("copy upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, "/files", &body, mw.FormDataContentType())
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}

	var f fileObject
	if err := json.Unmarshal(respBody, &f); err != nil {
		return "", fmt.Errorf("unmarshal file: %w", err)
	}
	if f.ID == "" {
		return "", fmt.Errorf("upload file: empty file id")
	}
	return f.ID, nil
}

// Poll retrieves the current job status once.
func (c *HTTPClient) Poll(ctx context.Context, jobID string) (Job, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/batches/"+url.PathEscape(jobID), nil, "")
	if err != nil {
		return Job{}, fmt.Errorf("retrieve batch %s: %w", jobID, err)
	}
	var job Job
	if err := json.Unmarshal(respBody, &job); err != nil {
		return Job{}, fmt.Errorf("unmarshal batch: %w", err)
	}
	return job, nil
}

// Fetch downloads the output file of a completed job, followed by its error
// file when present.
func (c *HTTPClient) Fetch(ctx context.Context, job Job) ([]Result, error) {
	if !job.Status.Completed() {
		return nil, fmt.Errorf("fetch %s (status %s): %w", job.ID, job.Status, ErrNotReady)
	}

	var results []Result
	for _, fileID := range []string{job.OutputFileID, job.ErrorFileID} {
		if fileID == "" {
			continue
		}
		content, err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID)+"/content", nil, "")
		if err != nil {
			return nil, fmt.Errorf("download file %s: %w", fileID, err)
		}
		rs, stats, err := DecodeResults(bytes.NewReader(content))
		if err != nil {
			return nil, fmt.Errorf("decode file %s: %w", fileID, err)
		}
		if stats.Malformed > 0 {
			c.logger.Warn("malformed result lines skipped",
				"job_id", job.ID,
				"file_id", fileID,
				"malformed", stats.Malformed,
			)
		}
		results = append(results, rs...)
	}
	return results, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("api error %d: %s: %s", resp.StatusCode, errResp.Error.Type, errResp.Error.Message)
		}
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
