package pipeline

import (
	"time"

	"github.com/loqalabs/loqa-translate/internal/translate"
	"github.com/loqalabs/loqa-translate/internal/tts"
)

// Request is one transport-agnostic pipeline invocation.
type Request struct {
	ID             string
	Origin         string
	Filename       string
	Audio          []byte
	Targets        []string
	SourceLanguage string
	CloneVoice     bool
	Synthesize     bool
}

// StageStatus summarizes a stage across all languages.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageSucceeded StageStatus = "succeeded"
	StagePartial   StageStatus = "partial"
	StageFailed    StageStatus = "failed"
	StageTimedOut  StageStatus = "timed_out"
	StageSkipped   StageStatus = "skipped"
)

type StageReport struct {
	Status     StageStatus `json:"status"`
	DurationMS int64       `json:"duration_ms"`
	Error      string      `json:"error,omitempty"`
}

// SynthesisView is the per-language synthesis entry returned to callers.
type SynthesisView struct {
	Status          tts.Status `json:"status"`
	ArtifactID      string     `json:"artifact_id,omitempty"`
	URL             string     `json:"url,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	VoiceCloned     bool       `json:"voice_cloned"`
	Error           string     `json:"error,omitempty"`
}

// Response is the request record. Once State is terminal it is not mutated.
type Response struct {
	RequestID        string                       `json:"request_id"`
	State            State                        `json:"state"`
	FailedStage      Stage                        `json:"failed_stage,omitempty"`
	Transcription    string                       `json:"transcription"`
	DetectedLanguage string                       `json:"detected_language"`
	LanguageFallback bool                         `json:"language_fallback"`
	Confidence       float64                      `json:"confidence"`
	AudioSeconds     float64                      `json:"audio_duration_seconds"`
	Targets          []string                     `json:"targets"`
	Translations     map[string]translate.Outcome `json:"translations"`
	Synthesis        map[string]SynthesisView     `json:"synthesis"`
	Stages           map[Stage]StageReport        `json:"stages"`
	Transitions      []Transition                 `json:"transitions"`
	Partial          bool                         `json:"partial"`
	CreatedAt        time.Time                    `json:"created_at"`
	CompletedAt      time.Time                    `json:"completed_at"`
}

// TextResponse is the result of a text-only translation.
type TextResponse struct {
	RequestID      string                       `json:"request_id"`
	SourceLanguage string                       `json:"source_language"`
	Translations   map[string]translate.Outcome `json:"translations"`
	Partial        bool                         `json:"partial"`
}

func newResponse(id string, now time.Time) *Response {
	return &Response{
		RequestID:    id,
		State:        StateReceived,
		Translations: map[string]translate.Outcome{},
		Synthesis:    map[string]SynthesisView{},
		Stages: map[Stage]StageReport{
			StageIngest:     {Status: StagePending},
			StageTranscribe: {Status: StagePending},
			StageTranslate:  {Status: StagePending},
			StageSynthesize: {Status: StagePending},
		},
		CreatedAt: now.UTC(),
	}
}

// fanoutStatus reduces per-language outcomes to a stage status.
func fanoutStatus(succeeded, timedOut, total int) StageStatus {
	switch {
	case total == 0:
		return StageSkipped
	case succeeded == total:
		return StageSucceeded
	case succeeded > 0:
		return StagePartial
	case timedOut > 0:
		return StageTimedOut
	default:
		return StageFailed
	}
}
