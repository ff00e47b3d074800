package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxserve/voxserve/internal/domain"
)

func TestNewWorkUnit_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		u := domain.NewWorkUnit(domain.Payload{AudioPath: "/tmp/a.wav"})
		require.NotEmpty(t, u.ID)
		assert.False(t, seen[u.ID], "work unit IDs must be unique")
		seen[u.ID] = true
	}
}

func TestPayload_RoundTripsAcrossProcessBoundary(t *testing.T) {
	p := domain.Payload{
		AudioPath: "/data/call.wav",
		Language:  "ar-SA",
		Options:   map[string]string{"diarization": "on"},
	}
	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var got domain.Payload
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, p, got)
}

func TestOutcome_ExactlyOneVariant(t *testing.T) {
	ok := domain.SuccessOutcome(json.RawMessage(`{"text":"hi"}`))
	assert.True(t, ok.OK())
	assert.Empty(t, ok.FailureKind)
	assert.Empty(t, ok.Message)

	fail := domain.FailureOutcome(domain.FailInvalidInput, "bad wav header")
	assert.False(t, fail.OK())
	assert.Nil(t, fail.Result)
	assert.True(t, fail.CallerFault())

	to := domain.TimeoutOutcome("call exceeded 5m0s")
	assert.Equal(t, domain.OutcomeTimeout, to.Kind)
	assert.False(t, to.CallerFault())
}

func TestTranscriptionResult_DurationFromSegments(t *testing.T) {
	r := domain.TranscriptionResult{
		Segments: []domain.Segment{
			{Text: "hello", StartTime: 0, EndTime: 1.2},
			{Text: "world", StartTime: 1.3, EndTime: 4.7},
		},
	}
	assert.InDelta(t, 4.7, r.Duration(), 1e-9)

	r.AudioDurationSec = 10
	assert.InDelta(t, 10, r.Duration(), 1e-9)
}
