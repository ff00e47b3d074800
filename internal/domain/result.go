package domain

// Segment is one recognized utterance within a transcription.
type Segment struct {
	Text       string  `json:"text"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Confidence float64 `json:"confidence"`
	SpeakerID  string  `json:"speaker_id,omitempty"`
	Language   string  `json:"language,omitempty"`
}

// TranscriptionResult is the structured output of the transcribe engine.
// The pool itself treats results as opaque JSON; this type is shared by the
// engine that produces it and the API layer that returns it.
type TranscriptionResult struct {
	Text               string    `json:"text"`
	Language           string    `json:"language"`
	Segments           []Segment `json:"segments,omitempty"`
	SpeakerCount       int       `json:"speaker_count,omitempty"`
	AudioDurationSec   float64   `json:"audio_duration_seconds,omitempty"`
	ProcessingTimeSec  float64   `json:"processing_time_seconds,omitempty"`
	ConfidenceAverage  float64   `json:"confidence_average,omitempty"`
}

// Duration returns the audio length derived from segments when the engine
// did not fill AudioDurationSec itself.
func (r *TranscriptionResult) Duration() float64 {
	if r.AudioDurationSec > 0 {
		return r.AudioDurationSec
	}
	var max float64
	for _, s := range r.Segments {
		if s.EndTime > max {
			max = s.EndTime
		}
	}
	return max
}
