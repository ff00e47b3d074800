package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payload describes the input to one transcription call. It crosses the
// process boundary, so it must stay JSON-serializable: a file path plus a
// small parameter set, never in-memory object graphs.
type Payload struct {
	AudioPath string            `json:"audio_path"`
	Language  string            `json:"language,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
}

// WorkUnit is one dispatchable job. Immutable once constructed; exactly one
// Outcome is ever produced per ID.
type WorkUnit struct {
	ID          string
	Payload     Payload
	SubmittedAt time.Time
}

// NewWorkUnit builds a WorkUnit with a fresh correlation ID.
func NewWorkUnit(p Payload) WorkUnit {
	return WorkUnit{
		ID:          uuid.New().String(),
		Payload:     p,
		SubmittedAt: time.Now().UTC(),
	}
}
