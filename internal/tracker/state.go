package tracker

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/cwbatch/internal/batch"
)

// State is the local lifecycle of one chunk's batch job.
type State string

const (
	StateNew     State = "NEW"
	StateTracked State = "TRACKED"
	StateFetched State = "FETCHED"
	StateDone    State = "DONE"
	StateFailed  State = "FAILED"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotFound          = errors.New("job record not found")
)

var transitions = map[State][]State{
	StateNew:     {StateTracked},
	StateTracked: {StateTracked, StateFetched, StateFailed},
	StateFetched: {StateDone},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further step changes the record.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// HasOutput reports whether fetched results are on disk.
func (s State) HasOutput() bool { return s == StateFetched || s == StateDone }

// Record is the persisted identity and status of one chunk's job.
type Record struct {
	ID           uuid.UUID    `json:"id"`
	Chunk        string       `json:"chunk"`
	JobID        string       `json:"job_id"`
	InputFileID  string       `json:"input_file_id"`
	Status       batch.Status `json:"status"`
	State        State        `json:"state"`
	OutputFileID string       `json:"output_file_id,omitempty"`
	ErrorFileID  string       `json:"error_file_id,omitempty"`
	OutputPath   string       `json:"output_path,omitempty"`
	RequestCount int          `json:"request_count"`
	SubmittedAt  time.Time    `json:"submitted_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	Error        string       `json:"error,omitempty"`
}

// Job rebuilds the provider handle from the record.
func (r Record) Job() batch.Job {
	return batch.Job{
		ID:           r.JobID,
		InputFileID:  r.InputFileID,
		Status:       r.Status,
		OutputFileID: r.OutputFileID,
		ErrorFileID:  r.ErrorFileID,
	}
}
