package batch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRequests() []Request {
	msgs := []Message{{Role: "user", Content: "extract claims"}}
	return []Request{
		NewRequest("conv_a_1", "test-model", msgs, 100),
		NewRequest("conv_a_3", "test-model", msgs, 100),
	}
}

func TestSubmit_UploadsAndCreatesBatch(t *testing.T) {
	var uploaded string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected bearer auth, got %q", r.Header.Get("Authorization"))
		}
		switch r.URL.Path {
		case "/files":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Fatalf("parse multipart: %v", err)
			}
			if r.FormValue("purpose") != "batch" {
				t.Errorf("expected purpose batch, got %q", r.FormValue("purpose"))
			}
			f, _, err := r.FormFile("file")
			if err != nil {
				t.Fatalf("form file: %v", err)
			}
			b, _ := io.ReadAll(f)
			uploaded = string(b)
			json.NewEncoder(w).Encode(map[string]any{"id": "file-in"})
		case "/batches":
			var req createBatchRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode batch request: %v", err)
			}
			if req.InputFileID != "file-in" {
				t.Errorf("expected input file file-in, got %q", req.InputFileID)
			}
			if req.Endpoint != Endpoint {
				t.Errorf("expected endpoint %s, got %q", Endpoint, req.Endpoint)
			}
			if req.CompletionWindow != "24h" {
				t.Errorf("expected 24h window, got %q", req.CompletionWindow)
			}
			if req.Metadata["description"] != "extraction part 00" {
				t.Errorf("unexpected metadata: %v", req.Metadata)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"id": "batch_1", "input_file_id": "file-in", "status": "validating",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewHTTPClient("test-key", "", 0, discardLogger())
	c.SetTestTransport(server.URL)

	job, err := c.Submit(context.Background(), testRequests(), "extraction part 00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.ID != "batch_1" || job.Status != StatusValidating {
		t.Errorf("unexpected job: %+v", job)
	}

	lines := strings.Split(strings.TrimSpace(uploaded), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 uploaded lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], `{"body":`) {
		t.Errorf("expected canonical key order, got %s", lines[0])
	}
}

func TestSubmit_RejectsInvalidRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s", r.URL.Path)
	}))
	defer server.Close()

	c := NewHTTPClient("test-key", "", 0, discardLogger())
	c.SetTestTransport(server.URL)

	bad := []Request{NewRequest("no-turn-segment", "test-model", []Message{{Role: "user", Content: "x"}}, 10)}
	_, err := c.Submit(context.Background(), bad, "bad")
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestPoll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/batches/batch_1" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "batch_1", "status": "completed", "output_file_id": "file-out",
		})
	}))
	defer server.Close()

	c := NewHTTPClient("test-key", "", 0, discardLogger())
	c.SetTestTransport(server.URL)

	job, err := c.Poll(context.Background(), "batch_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !job.Status.Completed() || job.OutputFileID != "file-out" {
		t.Errorf("unexpected job: %+v", job)
	}
}

func TestFetch_NotReady(t *testing.T) {
	c := NewHTTPClient("test-key", "", 0, discardLogger())
	_, err := c.Fetch(context.Background(), Job{ID: "batch_1", Status: StatusInProgress})
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestFetch_MergesOutputAndErrorFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/file-out/content":
			io.WriteString(w, `{"custom_id":"conv_a_1","response":{"status_code":200,"body":{"choices":[{"message":{"content":"[\"A\"]"}}]}},"error":null}`+"\n")
			io.WriteString(w, "not json\n")
		case "/files/file-err/content":
			io.WriteString(w, `{"custom_id":"conv_a_3","response":null,"error":{"code":"server_error","message":"boom"}}`+"\n")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewHTTPClient("test-key", "", 0, discardLogger())
	c.SetTestTransport(server.URL)

	results, err := c.Fetch(context.Background(), Job{
		ID: "batch_1", Status: StatusCompleted, OutputFileID: "file-out", ErrorFileID: "file-err",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Content != `["A"]` {
		t.Errorf("expected content, got %q", results[0].Content)
	}
	if results[1].Err != "boom" {
		t.Errorf("expected error boom, got %q", results[1].Err)
	}
}

func TestDo_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "invalid_request_error", "message": "bad key"},
		})
	}))
	defer server.Close()

	c := NewHTTPClient("wrong", "", 0, discardLogger())
	c.SetTestTransport(server.URL)

	_, err := c.Poll(context.Background(), "batch_1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "bad key") {
		t.Errorf("unexpected error: %v", err)
	}
}
