package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/voxserve/voxserve/internal/domain"
	"github.com/voxserve/voxserve/internal/procpool"
	"github.com/voxserve/voxserve/pkg/telemetry"
)

// Submitter is the slice of the pool the REST layer needs.
type Submitter interface {
	Submit(ctx context.Context, p domain.Payload) domain.Outcome
	Stats() procpool.Stats
}

// REST handles HTTP requests for the transcriber service.
type REST struct {
	pool      Submitter
	logger    *slog.Logger
	tempDir   string
	maxUpload int64
}

// NewREST creates a new REST handler. tempDir receives uploaded audio for
// the duration of the call; empty means the OS default.
func NewREST(pool Submitter, tempDir string, maxUpload int64, logger *slog.Logger) *REST {
	return &REST{pool: pool, logger: logger, tempDir: tempDir, maxUpload: maxUpload}
}

// errorResponse is the JSON body for every non-2xx answer.
type errorResponse struct {
	Error   string `json:"error"`
	Outcome string `json:"outcome,omitempty"`
}

// CreateTranscription handles POST /api/v1/transcriptions. The audio arrives
// as multipart form data under the "audio" field; the call blocks until a
// terminal outcome exists, so the response carries the transcript itself
// rather than a job id.
func (h *REST) CreateTranscription(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("transcriber").Start(r.Context(), "transcriber.create_transcription")
	defer span.End()

	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'audio' is required")
		return
	}
	defer file.Close()

	audioPath, err := h.saveUpload(file, header.Filename)
	if err != nil {
		h.logger.Error("failed to store upload", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	defer os.Remove(audioPath)

	payload := domain.Payload{
		AudioPath: audioPath,
		Language:  r.FormValue("language"),
	}
	span.SetAttributes(
		attribute.String("audio.filename", header.Filename),
		attribute.Int64("audio.size_bytes", header.Size),
		attribute.String("audio.language", payload.Language),
	)

	start := time.Now()
	out := h.pool.Submit(ctx, payload)
	telemetry.APITranscriptionsTotal.WithLabelValues(string(out.Kind)).Inc()

	log := h.logger.With(
		slog.String("outcome", string(out.Kind)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	if out.OK() {
		log.Info("transcription completed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out.Result)
		return
	}

	status := statusFor(out)
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, string(out.Kind))
		log.Error("transcription failed", slog.String("message", out.Message))
	} else {
		log.Warn("transcription rejected", slog.String("message", out.Message))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: out.Message, Outcome: string(out.Kind)})
}

// saveUpload copies the multipart stream to a temp file the worker process
// can open by path. The original extension is kept for format sniffing.
func (h *REST) saveUpload(file io.Reader, filename string) (string, error) {
	ext := filepath.Ext(filename)
	if ext == "" || len(ext) > 8 || strings.ContainsAny(ext, "/\\") {
		ext = ".bin"
	}
	tmp, err := os.CreateTemp(h.tempDir, "voxserve-upload-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// statusFor maps a non-success outcome onto an HTTP status. Caller faults go
// 4xx, capacity problems 503, everything that smells like a server defect 5xx.
func statusFor(out domain.Outcome) int {
	switch out.Kind {
	case domain.OutcomeFailure:
		if out.CallerFault() {
			return http.StatusUnprocessableEntity
		}
		return http.StatusInternalServerError
	case domain.OutcomeTimeout:
		return http.StatusGatewayTimeout
	case domain.OutcomeQueueTimeout, domain.OutcomeDisabled,
		domain.OutcomeShuttingDown, domain.OutcomePoolUnavailable:
		return http.StatusServiceUnavailable
	case domain.OutcomeWorkerCrashed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// PoolStats handles GET /api/v1/pool/stats.
func (h *REST) PoolStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.pool.Stats())
}

// Health handles GET /api/v1/health.
func (h *REST) Health(w http.ResponseWriter, _ *http.Request) {
	st := h.pool.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"pool": map[string]any{
			"enabled":     st.Enabled,
			"live":        st.Live,
			"queue_depth": st.QueueDepth,
		},
	})
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Readyz handles GET /readyz.
func (h *REST) Readyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
