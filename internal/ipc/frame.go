// Package ipc defines the frame protocol spoken between the pool supervisor
// and its worker processes: newline-delimited JSON envelopes over the
// worker's stdin (requests in) and stdout (frames out). Stderr is left alone
// so worker logs pass straight through to the parent.
//
// Closing the worker's stdin is the graceful shutdown signal; EOF on its
// stdout means the process is gone. No error ever crosses this boundary
// unclassified — the worker loop folds every failure into a Result frame.
package ipc

import (
	"encoding/json"
	"time"

	"github.com/voxserve/voxserve/internal/domain"
)

// Frame types emitted on the worker's stdout.
const (
	TypeHello  = "hello"
	TypeResult = "result"
)

// Hello is sent exactly once, after the worker finished its one-time engine
// init. The supervisor treats a worker as live only after seeing it.
type Hello struct {
	PID int `json:"pid"`
}

// Request carries one WorkUnit into a worker. Timeout is the child-side
// execution deadline; the supervisor keeps its own, slightly longer timer.
type Request struct {
	ID      string         `json:"id"`
	Payload domain.Payload `json:"payload"`
	Timeout time.Duration  `json:"timeout,omitempty"`
}

// Result answers exactly one Request. On OK the raw result passes through
// untouched; otherwise ErrKind carries the classified failure.
type Result struct {
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Result  json.RawMessage `json:"result,omitempty"`
	ErrKind string          `json:"err_kind,omitempty"`
	ErrMsg  string          `json:"err_msg,omitempty"`
}

// Envelope wraps the frames a worker writes on stdout.
type Envelope struct {
	Type   string  `json:"type"`
	Hello  *Hello  `json:"hello,omitempty"`
	Result *Result `json:"result,omitempty"`
}
