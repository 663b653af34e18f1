package tts

import (
	"context"
	"math"
	"time"

	"github.com/loqalabs/loqa-translate/internal/audio"
)

type mockSynth struct {
	sampleRate int
	channels   int
}

func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) SupportsVoiceCloning() bool { return true }

// Synthesize emits a tone whose length follows the text, in two chunks.
func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(50 * time.Millisecond):
		}

		frames := m.sampleRate / 20 * (1 + len([]rune(req.Text))/8)
		samples := make([]int, frames*m.channels)
		for f := 0; f < frames; f++ {
			v := int(4000 * math.Sin(2*math.Pi*330*float64(f)/float64(m.sampleRate)))
			for c := 0; c < m.channels; c++ {
				samples[f*m.channels+c] = v
			}
		}
		pcm := audio.SamplesToPCM16(samples)
		half := (len(pcm) / 2) &^ 1
		parts := [][]byte{pcm[:half], pcm[half:]}
		for i, part := range parts {
			if !send(ctx, chunks, SynthChunk{
				SessionID:  req.SessionID,
				Sequence:   i,
				SampleRate: m.sampleRate,
				Channels:   m.channels,
				PCM:        part,
				Final:      i == len(parts)-1,
			}) {
				errs <- ctx.Err()
				return
			}
		}
	}()
	return chunks, errs
}
