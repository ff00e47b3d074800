package executor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxserve/voxserve/internal/domain"
)

func TestNew_SelectsEngine(t *testing.T) {
	ex, err := New("echo", CommandConfig{})
	require.NoError(t, err)
	assert.IsType(t, Echo{}, ex)

	ex, err = New("command", CommandConfig{Path: "/usr/bin/true"})
	require.NoError(t, err)
	assert.IsType(t, &Command{}, ex)

	_, err = New("telepathy", CommandConfig{})
	require.Error(t, err)
}

func TestEcho_RoundTripsPayload(t *testing.T) {
	raw, err := Echo{}.Execute(context.Background(), domain.Payload{AudioPath: "/tmp/x.wav", Language: "en"})
	require.NoError(t, err)

	var p domain.Payload
	require.NoError(t, json.Unmarshal(raw, &p))
	assert.Equal(t, "/tmp/x.wav", p.AudioPath)
	assert.Equal(t, "en", p.Language)
}

func TestCommand_InitRequiresBinary(t *testing.T) {
	require.Error(t, NewCommand(CommandConfig{}).Init(context.Background()))
	require.Error(t, NewCommand(CommandConfig{Path: "/no/such/transcriber"}).Init(context.Background()))
}

func TestCommand_MissingAudioIsInvalidInput(t *testing.T) {
	c := NewCommand(CommandConfig{Path: "/bin/true"})
	_, err := c.Execute(context.Background(), domain.Payload{AudioPath: "/no/such/file.wav"})

	var invalid *domain.InvalidInputError
	require.True(t, errors.As(err, &invalid), "missing file must classify as invalid input, got %v", err)
}

func TestCommand_ParsesEngineOutput(t *testing.T) {
	dir := t.TempDir()

	audio := filepath.Join(dir, "in.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o644))

	// Stand-in engine: ignores its input and prints a fixed result.
	script := filepath.Join(dir, "engine.sh")
	require.NoError(t, os.WriteFile(script, []byte(
		"#!/bin/sh\necho '{\"text\":\"hello world\",\"language\":\"en-US\"}'\n"), 0o755))

	c := NewCommand(CommandConfig{Path: script, DefaultLanguage: "en-US"})
	raw, err := c.Execute(context.Background(), domain.Payload{AudioPath: audio, Language: "auto"})
	require.NoError(t, err)

	var result domain.TranscriptionResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, "hello world", result.Text)
	assert.Equal(t, "en-US", result.Language)
}

func TestCommand_RejectsGarbageOutput(t *testing.T) {
	dir := t.TempDir()

	audio := filepath.Join(dir, "in.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o644))

	script := filepath.Join(dir, "engine.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho not-json\n"), 0o755))

	_, err := NewCommand(CommandConfig{Path: script}).Execute(context.Background(), domain.Payload{AudioPath: audio})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}
