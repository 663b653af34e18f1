package stt

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/modelapi"
)

// Request is one clip handed to a recognizer. WAV holds the canonical bytes
// and AudioPath the same audio on disk.
type Request struct {
	AudioPath    string
	WAV          []byte
	SampleRate   int
	Channels     int
	LanguageHint string
}

// Transcript captures recognizer output.
type Transcript struct {
	Text       string
	Language   string
	Confidence float64
	Duration   time.Duration
}

// Recognizer abstracts STT backends.
type Recognizer interface {
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}

// NewRecognizer builds the backend selected by stt.mode.
func NewRecognizer(cfg config.STTConfig, ai config.OpenAIConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockRecognizer(cfg.MockText, cfg.MockLanguage, cfg.MockConfidence), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "openai":
		client, err := modelapi.NewOpenAIClient(ai)
		if err != nil {
			return nil, err
		}
		return NewOpenAIRecognizer(client, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
