package executor

import (
	"context"
	"encoding/json"

	"github.com/voxserve/voxserve/internal/domain"
)

// Echo returns the payload back as the result. Diagnostics engine: exercises
// the full pool path (spawn, dispatch, recycle) without a native transcriber.
type Echo struct{}

func (Echo) Init(context.Context) error { return nil }

func (Echo) Execute(_ context.Context, p domain.Payload) (json.RawMessage, error) {
	return json.Marshal(p)
}
