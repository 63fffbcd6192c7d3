package hermes

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJobEventParsing(t *testing.T) {
	raw := `{
		"record_id": "5f0c7c1e-2f0b-4c55-9a8e-1d2f3a4b5c6d",
		"chunk": "extraction_part_01",
		"job_id": "batch_abc",
		"from": "TRACKED",
		"to": "FAILED",
		"status": "expired",
		"request_count": 120,
		"error": "job expired",
		"timestamp": "2026-03-01T12:00:00Z"
	}`

	var ev JobEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("failed to parse JobEvent: %v", err)
	}
	if ev.Chunk != "extraction_part_01" {
		t.Errorf("expected chunk 'extraction_part_01', got '%s'", ev.Chunk)
	}
	if ev.To != "FAILED" {
		t.Errorf("expected to 'FAILED', got '%s'", ev.To)
	}
	if ev.RequestCount != 120 {
		t.Errorf("expected request_count 120, got %d", ev.RequestCount)
	}
	if !ev.Timestamp.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected timestamp %v", ev.Timestamp)
	}
}

func TestJobEventOmitsEmptyError(t *testing.T) {
	data, err := json.Marshal(JobEvent{Chunk: "c", To: "TRACKED"})
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if _, ok := m["error"]; ok {
		t.Errorf("expected no error field, got %s", data)
	}
}

func TestJobSubject(t *testing.T) {
	if got := JobSubject("FETCHED"); got != "cwbatch.job.fetched" {
		t.Errorf("expected 'cwbatch.job.fetched', got '%s'", got)
	}
	if SubjectJobAll != "cwbatch.job.>" {
		t.Errorf("expected 'cwbatch.job.>', got '%s'", SubjectJobAll)
	}
}
