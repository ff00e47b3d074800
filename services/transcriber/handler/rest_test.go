package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxserve/voxserve/internal/domain"
	"github.com/voxserve/voxserve/internal/procpool"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeSubmitter struct {
	outcome  domain.Outcome
	stats    procpool.Stats
	payloads []domain.Payload
}

func (f *fakeSubmitter) Submit(_ context.Context, p domain.Payload) domain.Outcome {
	f.payloads = append(f.payloads, p)
	return f.outcome
}

func (f *fakeSubmitter) Stats() procpool.Stats { return f.stats }

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHandler(t *testing.T, out domain.Outcome) (*REST, *fakeSubmitter) {
	t.Helper()
	sub := &fakeSubmitter{outcome: out}
	return NewREST(sub, t.TempDir(), 32<<20, quiet()), sub
}

func audioRequest(t *testing.T, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "meeting.wav")
	require.NoError(t, err)
	_, err = fw.Write([]byte("RIFF fake audio bytes"))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestCreateTranscription_Success(t *testing.T) {
	result := json.RawMessage(`{"text":"hello world","language":"en"}`)
	h, sub := newHandler(t, domain.SuccessOutcome(result))

	rec := httptest.NewRecorder()
	h.CreateTranscription(rec, audioRequest(t, map[string]string{"language": "en"}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, string(result), rec.Body.String())

	require.Len(t, sub.payloads, 1)
	assert.Equal(t, "en", sub.payloads[0].Language)
	assert.NotEmpty(t, sub.payloads[0].AudioPath)

	// The upload is deleted once the call resolves.
	_, err := os.Stat(sub.payloads[0].AudioPath)
	assert.True(t, os.IsNotExist(err))
}

func TestCreateTranscription_UploadReadableDuringCall(t *testing.T) {
	sub := &fakeSubmitter{outcome: domain.SuccessOutcome(json.RawMessage(`{}`))}

	var seen []byte
	probe := &probeSubmitter{inner: sub, onSubmit: func(p domain.Payload) {
		data, err := os.ReadFile(p.AudioPath)
		require.NoError(t, err)
		seen = data
	}}
	h := NewREST(probe, t.TempDir(), 32<<20, quiet())

	rec := httptest.NewRecorder()
	h.CreateTranscription(rec, audioRequest(t, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []byte("RIFF fake audio bytes"), seen)
}

type probeSubmitter struct {
	inner    *fakeSubmitter
	onSubmit func(p domain.Payload)
}

func (p *probeSubmitter) Submit(ctx context.Context, payload domain.Payload) domain.Outcome {
	p.onSubmit(payload)
	return p.inner.Submit(ctx, payload)
}

func (p *probeSubmitter) Stats() procpool.Stats { return p.inner.Stats() }

func TestCreateTranscription_MissingAudioField(t *testing.T) {
	h, sub := newHandler(t, domain.SuccessOutcome(nil))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("language", "en"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := httptest.NewRecorder()
	h.CreateTranscription(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, sub.payloads, "nothing should reach the pool")
}

func TestCreateTranscription_OutcomeStatusMapping(t *testing.T) {
	cases := []struct {
		name    string
		outcome domain.Outcome
		status  int
	}{
		{"invalid input", domain.FailureOutcome(domain.FailInvalidInput, "bad file"), http.StatusUnprocessableEntity},
		{"internal failure", domain.FailureOutcome(domain.FailInternal, "engine blew up"), http.StatusInternalServerError},
		{"timeout", domain.TimeoutOutcome("too slow"), http.StatusGatewayTimeout},
		{"worker crashed", domain.CrashedOutcome("worker died"), http.StatusInternalServerError},
		{"queue timeout", domain.QueueTimeoutOutcome("queue full"), http.StatusServiceUnavailable},
		{"disabled", domain.Outcome{Kind: domain.OutcomeDisabled, Message: "off"}, http.StatusServiceUnavailable},
		{"shutting down", domain.Outcome{Kind: domain.OutcomeShuttingDown, Message: "bye"}, http.StatusServiceUnavailable},
		{"pool unavailable", domain.Outcome{Kind: domain.OutcomePoolUnavailable, Message: "no workers"}, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := newHandler(t, tc.outcome)
			rec := httptest.NewRecorder()
			h.CreateTranscription(rec, audioRequest(t, nil))

			assert.Equal(t, tc.status, rec.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, string(tc.outcome.Kind), body.Outcome)
			assert.Equal(t, tc.outcome.Message, body.Error)
		})
	}
}

func TestPoolStats(t *testing.T) {
	h, sub := newHandler(t, domain.Outcome{})
	sub.stats = procpool.Stats{
		Enabled:    true,
		MaxWorkers: 4,
		Live:       2,
		Idle:       1,
		Busy:       1,
		QueueDepth: 3,
		Workers: []procpool.WorkerStats{
			{Slot: 0, Generation: 2, PID: 4242, Status: procpool.StatusBusy, TasksCompleted: 7},
		},
	}

	rec := httptest.NewRecorder()
	h.PoolStats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pool/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var got procpool.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, sub.stats.MaxWorkers, got.MaxWorkers)
	assert.Equal(t, sub.stats.QueueDepth, got.QueueDepth)
	require.Len(t, got.Workers, 1)
	assert.Equal(t, 4242, got.Workers[0].PID)
}

func TestHealth_ReportsPoolSummary(t *testing.T) {
	h, sub := newHandler(t, domain.Outcome{})
	sub.stats = procpool.Stats{Enabled: true, Live: 3, QueueDepth: 1}

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status string `json:"status"`
		Pool   struct {
			Enabled    bool `json:"enabled"`
			Live       int  `json:"live"`
			QueueDepth int  `json:"queue_depth"`
		} `json:"pool"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.Pool.Enabled)
	assert.Equal(t, 3, body.Pool.Live)
	assert.Equal(t, 1, body.Pool.QueueDepth)
}
