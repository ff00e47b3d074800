package workerloop

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxserve/voxserve/internal/domain"
	"github.com/voxserve/voxserve/internal/executor"
	"github.com/voxserve/voxserve/internal/ipc"
)

type funcExecutor struct {
	initErr error
	fn      func(ctx context.Context, p domain.Payload) (json.RawMessage, error)
}

func (f *funcExecutor) Init(context.Context) error { return f.initErr }
func (f *funcExecutor) Execute(ctx context.Context, p domain.Payload) (json.RawMessage, error) {
	return f.fn(ctx, p)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func requestStream(t *testing.T, reqs ...ipc.Request) io.Reader {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range reqs {
		require.NoError(t, enc.Encode(r))
	}
	return &buf
}

func decodeFrames(t *testing.T, out *bytes.Buffer) []ipc.Envelope {
	t.Helper()
	var frames []ipc.Envelope
	dec := json.NewDecoder(out)
	for {
		var f ipc.Envelope
		if err := dec.Decode(&f); err != nil {
			require.ErrorIs(t, err, io.EOF)
			return frames
		}
		frames = append(frames, f)
	}
}

func TestRun_HelloThenResults(t *testing.T) {
	in := requestStream(t,
		ipc.Request{ID: "u1", Payload: domain.Payload{AudioPath: "/a.wav"}},
		ipc.Request{ID: "u2", Payload: domain.Payload{AudioPath: "/b.wav"}},
	)
	var out bytes.Buffer

	err := Run(context.Background(), executor.Echo{}, in, &out, discardLogger())
	require.NoError(t, err, "EOF must be a clean exit")

	frames := decodeFrames(t, &out)
	require.Len(t, frames, 3)

	require.Equal(t, ipc.TypeHello, frames[0].Type)
	require.NotNil(t, frames[0].Hello)
	assert.NotZero(t, frames[0].Hello.PID)

	for i, id := range []string{"u1", "u2"} {
		f := frames[i+1]
		require.Equal(t, ipc.TypeResult, f.Type)
		require.NotNil(t, f.Result)
		assert.Equal(t, id, f.Result.ID, "results must answer requests in order")
		assert.True(t, f.Result.OK)
	}
}

func TestRun_InitFailureAborts(t *testing.T) {
	ex := &funcExecutor{initErr: assert.AnError}
	err := Run(context.Background(), ex, strings.NewReader(""), &bytes.Buffer{}, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executor init")
}

func TestRun_ClassifiesInvalidInput(t *testing.T) {
	ex := &funcExecutor{fn: func(context.Context, domain.Payload) (json.RawMessage, error) {
		return nil, &domain.InvalidInputError{Reason: "not a wav file"}
	}}
	in := requestStream(t, ipc.Request{ID: "u1"})
	var out bytes.Buffer

	require.NoError(t, Run(context.Background(), ex, in, &out, discardLogger()))

	frames := decodeFrames(t, &out)
	require.Len(t, frames, 2)
	res := frames[1].Result
	require.NotNil(t, res)
	assert.False(t, res.OK)
	assert.Equal(t, domain.FailInvalidInput, res.ErrKind)
	assert.Contains(t, res.ErrMsg, "not a wav file")
}

func TestRun_ClassifiesDeadline(t *testing.T) {
	ex := &funcExecutor{fn: func(ctx context.Context, _ domain.Payload) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	in := requestStream(t, ipc.Request{ID: "u1", Timeout: 10 * time.Millisecond})
	var out bytes.Buffer

	require.NoError(t, Run(context.Background(), ex, in, &out, discardLogger()))

	frames := decodeFrames(t, &out)
	require.Len(t, frames, 2)
	assert.Equal(t, domain.FailTimeout, frames[1].Result.ErrKind)
}

func TestRun_RecoversExecutorPanic(t *testing.T) {
	ex := &funcExecutor{fn: func(context.Context, domain.Payload) (json.RawMessage, error) {
		panic("native library went sideways")
	}}
	in := requestStream(t, ipc.Request{ID: "u1"}, ipc.Request{ID: "u2"})
	var out bytes.Buffer

	// The loop must survive the panic and still serve the second request.
	require.NoError(t, Run(context.Background(), ex, in, &out, discardLogger()))

	frames := decodeFrames(t, &out)
	require.Len(t, frames, 3)
	assert.Equal(t, domain.FailInternal, frames[1].Result.ErrKind)
	assert.Contains(t, frames[1].Result.ErrMsg, "panic")
	assert.Equal(t, domain.FailInternal, frames[2].Result.ErrKind)
}

func TestRun_MalformedRequestIsFatal(t *testing.T) {
	err := Run(context.Background(), executor.Echo{}, strings.NewReader("not-json\n"), &bytes.Buffer{}, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request")
}
