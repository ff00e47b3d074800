package procpool

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/voxserve/voxserve/internal/domain"
	"github.com/voxserve/voxserve/internal/ipc"
)

// Result frames can carry full transcripts with per-segment detail.
const maxFrameBytes = 16 * 1024 * 1024

// SpawnConfig describes how to start worker processes: the current binary is
// re-executed with the hidden worker subcommand, configured through the
// environment. Stderr is inherited so worker logs land in the parent's
// stream; stdout belongs to the frame protocol.
type SpawnConfig struct {
	Engine          string
	TranscriberPath string
	TranscriberArgs []string
	DefaultLanguage string
	LogLevel        string
}

// NewExecSpawner returns the production SpawnFunc.
func NewExecSpawner(sc SpawnConfig, logger *slog.Logger) SpawnFunc {
	return func(ctx context.Context, slot int) (WorkerProc, error) {
		exe, err := os.Executable()
		if err != nil {
			return nil, &domain.SpawnError{Err: err}
		}
		return spawnCommand(ctx, exe, []string{"worker"}, sc, slot, logger)
	}
}

func spawnCommand(ctx context.Context, path string, args []string, sc SpawnConfig, slot int, logger *slog.Logger) (WorkerProc, error) {
	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(),
		"VOXSERVE_WORKER_SLOT="+strconv.Itoa(slot),
		"VOXSERVE_WORKER_ENGINE="+sc.Engine,
		"VOXSERVE_WORKER_TRANSCRIBER_PATH="+sc.TranscriberPath,
		"VOXSERVE_WORKER_DEFAULT_LANGUAGE="+sc.DefaultLanguage,
		"VOXSERVE_WORKER_LOG_LEVEL="+sc.LogLevel,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &domain.SpawnError{Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &domain.SpawnError{Err: err}
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, &domain.SpawnError{Err: err}
	}

	ep := &execProc{
		cmd:     cmd,
		stdin:   stdin,
		logger:  logger.With(slog.Int("worker_slot", slot), slog.Int("worker_pid", cmd.Process.Pid)),
		results: make(chan ipc.Result, 1),
		hello:   make(chan ipc.Hello, 1),
		exited:  make(chan struct{}),
	}

	go func() {
		// Drain stdout fully before Wait so frames in flight are not lost
		// when Wait closes the pipe.
		ep.readLoop(stdout)
		_ = cmd.Wait()
		close(ep.exited)
	}()

	// Ready handshake. The worker does its one-time engine init before the
	// hello frame, so a slow init surfaces here, not on the first call.
	select {
	case <-ep.hello:
		return ep, nil
	case <-ep.exited:
		_ = ep.Close()
		return nil, &domain.SpawnError{Err: errors.New("worker exited before reporting ready")}
	case <-ctx.Done():
		_ = ep.Kill()
		return nil, &domain.SpawnError{Err: fmt.Errorf("worker did not report ready: %w", ctx.Err())}
	}
}

// execProc runs a worker as a child OS process, speaking newline-delimited
// JSON frames over its stdin/stdout.
type execProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error

	results chan ipc.Result
	hello   chan ipc.Hello
	exited  chan struct{}
}

func (ep *execProc) PID() int { return ep.cmd.Process.Pid }

func (ep *execProc) Send(req ipc.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	data = append(data, '\n')

	ep.wmu.Lock()
	defer ep.wmu.Unlock()
	if _, err := ep.stdin.Write(data); err != nil {
		return fmt.Errorf("write to worker stdin: %w", err)
	}
	return nil
}

func (ep *execProc) Results() <-chan ipc.Result { return ep.results }

func (ep *execProc) Wait() <-chan struct{} { return ep.exited }

// Close closes stdin, which the worker loop treats as a graceful stop.
func (ep *execProc) Close() error {
	ep.closeOnce.Do(func() {
		ep.closeErr = ep.stdin.Close()
	})
	return ep.closeErr
}

func (ep *execProc) Kill() error {
	_ = ep.Close()
	return ep.cmd.Process.Kill()
}

func (ep *execProc) readLoop(r io.Reader) {
	defer close(ep.results)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxFrameBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var env ipc.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			ep.logger.Warn("dropping malformed frame from worker", slog.String("error", err.Error()))
			continue
		}
		switch env.Type {
		case ipc.TypeHello:
			if env.Hello != nil {
				select {
				case ep.hello <- *env.Hello:
				default:
				}
			}
		case ipc.TypeResult:
			if env.Result != nil {
				// Buffered for the single outstanding call; never blocks.
				ep.results <- *env.Result
			}
		default:
			ep.logger.Warn("unknown frame type from worker", slog.String("type", env.Type))
		}
	}
	if err := sc.Err(); err != nil {
		ep.logger.Warn("worker stdout read error", slog.String("error", err.Error()))
	}
}
