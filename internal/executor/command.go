package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/voxserve/voxserve/internal/domain"
)

// CommandConfig points at the native transcriber binary. The binary receives
// the audio path as its last argument and must print a TranscriptionResult
// JSON document on stdout.
type CommandConfig struct {
	// Path is the transcriber binary. Required.
	Path string
	// Args are passed before the flags the executor adds itself.
	Args []string
	// DefaultLanguage is used when the payload carries no language.
	DefaultLanguage string
}

// Command shells out to the native transcriber for every call. All the
// memory the engine leaks stays inside this worker process and is handed
// back to the OS when the pool recycles it.
type Command struct {
	cfg CommandConfig
}

func NewCommand(cfg CommandConfig) *Command {
	return &Command{cfg: cfg}
}

func (c *Command) Init(_ context.Context) error {
	if c.cfg.Path == "" {
		return errors.New("transcriber command not configured")
	}
	if _, err := exec.LookPath(c.cfg.Path); err != nil {
		return fmt.Errorf("transcriber binary: %w", err)
	}
	return nil
}

func (c *Command) Execute(ctx context.Context, p domain.Payload) (json.RawMessage, error) {
	if _, err := os.Stat(p.AudioPath); err != nil {
		return nil, &domain.InvalidInputError{Reason: fmt.Sprintf("audio file not readable: %v", err)}
	}

	lang := p.Language
	if lang == "" || lang == "auto" {
		lang = c.cfg.DefaultLanguage
	}

	args := append([]string{}, c.cfg.Args...)
	if lang != "" {
		args = append(args, "--language", lang)
	}
	args = append(args, p.AudioPath)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.cfg.Path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("transcriber exited: %w (stderr: %s)", err, tail(stderr.Bytes(), 512))
	}

	// Validate the engine output before passing it upstream.
	var result domain.TranscriptionResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("transcriber produced invalid JSON: %w", err)
	}
	return json.RawMessage(bytes.TrimSpace(stdout.Bytes())), nil
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return bytes.TrimSpace(b)
	}
	return bytes.TrimSpace(b[len(b)-n:])
}
