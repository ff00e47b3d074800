package procpool

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxserve/voxserve/internal/domain"
	"github.com/voxserve/voxserve/internal/ipc"
)

// writeScript drops an executable shell script standing in for the worker
// binary, so the pipe plumbing is exercised against a real child process.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script worker stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-worker.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestSpawnCommand_HandshakeAndRoundTrip(t *testing.T) {
	script := writeScript(t, `
printf '%s\n' '{"type":"hello","hello":{"pid":1}}'
while read -r line; do
  printf '%s\n' '{"type":"result","result":{"id":"r1","ok":true,"result":{"text":"hi"}}}'
done
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	proc, err := spawnCommand(ctx, script, nil, SpawnConfig{}, 0, quiet())
	require.NoError(t, err)
	assert.Greater(t, proc.PID(), 0)

	require.NoError(t, proc.Send(ipc.Request{ID: "r1", Payload: domain.Payload{AudioPath: "/tmp/a.wav"}}))

	select {
	case res, ok := <-proc.Results():
		require.True(t, ok, "results closed before a frame arrived")
		assert.Equal(t, "r1", res.ID)
		assert.True(t, res.OK)
		assert.JSONEq(t, `{"text":"hi"}`, string(res.Result))
	case <-time.After(2 * time.Second):
		t.Fatal("no result frame from child")
	}

	// Closing stdin is the graceful stop signal.
	require.NoError(t, proc.Close())
	select {
	case <-proc.Wait():
	case <-time.After(2 * time.Second):
		t.Fatal("child did not exit after stdin close")
	}
	_, open := <-proc.Results()
	assert.False(t, open, "results must be closed once the child exits")
}

func TestSpawnCommand_ExitBeforeHelloIsSpawnError(t *testing.T) {
	script := writeScript(t, "exit 3\n")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := spawnCommand(ctx, script, nil, SpawnConfig{}, 0, quiet())
	require.Error(t, err)

	var spawnErr *domain.SpawnError
	assert.ErrorAs(t, err, &spawnErr)
}

func TestSpawnCommand_HandshakeTimeoutKillsChild(t *testing.T) {
	script := writeScript(t, "sleep 30\n")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := spawnCommand(ctx, script, nil, SpawnConfig{}, 0, quiet())
	require.Error(t, err)

	var spawnErr *domain.SpawnError
	assert.ErrorAs(t, err, &spawnErr)
	assert.Less(t, time.Since(start), 5*time.Second, "a silent child must not stall the spawner")
}

func TestSpawnCommand_MalformedFramesAreSkipped(t *testing.T) {
	script := writeScript(t, `
printf '%s\n' 'not json at all'
printf '%s\n' '{"type":"hello","hello":{"pid":1}}'
while read -r line; do :; done
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	proc, err := spawnCommand(ctx, script, nil, SpawnConfig{}, 0, quiet())
	require.NoError(t, err, "garbage before the hello frame must not break the handshake")
	_ = proc.Kill()
}
