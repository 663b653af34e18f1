package tts

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/modelapi"
)

// VoiceReference is a sample of the speaker to imitate.
type VoiceReference struct {
	Path string
	Data []byte
}

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID      string
	Text           string
	Language       string
	Voice          string
	VoiceReference *VoiceReference
}

// SynthChunk contains PCM data.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// VoiceCloner is implemented by synthesizers that can imitate a reference
// speaker.
type VoiceCloner interface {
	SupportsVoiceCloning() bool
}

// NewSynthesizer builds the backend selected by tts.mode.
func NewSynthesizer(cfg config.TTSConfig, ai config.OpenAIConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "openai":
		client, err := modelapi.NewOpenAIClient(ai)
		if err != nil {
			return nil, err
		}
		return NewOpenAISynth(client, cfg.Model, cfg.ChunkDurationMS), nil
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}

func send(ctx context.Context, ch chan<- SynthChunk, chunk SynthChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
