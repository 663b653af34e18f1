package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/capability"
	"github.com/loqalabs/loqa-translate/internal/fanout"
	"github.com/loqalabs/loqa-translate/internal/translate"
)

var ErrIncompleteStream = errors.New("synthesis stream ended without a final chunk")

type Status string

const (
	StatusSucceeded       Status = "succeeded"
	StatusFailed          Status = "failed"
	StatusTimedOut        Status = "timed_out"
	StatusSkippedUpstream Status = "skipped_upstream"
)

// Outcome is the per-language synthesis result. Audio is a complete WAV
// file; it is never serialized and is handed to the artifact store.
type Outcome struct {
	Status      Status        `json:"status"`
	Audio       []byte        `json:"-"`
	Duration    time.Duration `json:"duration,omitempty"`
	VoiceCloned bool          `json:"voice_cloned"`
	Error       string        `json:"error,omitempty"`
}

// Result has one entry per language present in the translation result.
type Result map[string]Outcome

// Succeeded returns languages with audio, sorted.
func (r Result) Succeeded() []string {
	var out []string
	for code, o := range r {
		if o.Status == StatusSucceeded {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out
}

// Service synthesizes every successful translation.
type Service struct {
	synth          Synthesizer
	gate           *capability.Gate
	voice          string
	maxConcurrency int
	logger         *slog.Logger
}

func NewService(synth Synthesizer, gate *capability.Gate, voice string, maxConcurrency int, log *slog.Logger) *Service {
	if gate == nil {
		gate = capability.NewGate(1)
	}
	return &Service{
		synth:          synth,
		gate:           gate,
		voice:          voice,
		maxConcurrency: maxConcurrency,
		logger:         log.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Available() bool { return s.synth != nil }

// SupportsVoiceCloning reports whether a reference voice will be used.
func (s *Service) SupportsVoiceCloning() bool {
	vc, ok := s.synth.(VoiceCloner)
	return ok && vc.SupportsVoiceCloning()
}

// SynthesizeAll renders each succeeded translation. Languages whose
// translation did not succeed are marked skipped_upstream and never reach
// the synthesizer. ref may be nil.
func (s *Service) SynthesizeAll(ctx context.Context, translations translate.Result, ref *VoiceReference) (Result, error) {
	if s.synth == nil {
		return nil, fmt.Errorf("synthesize: %w", capability.ErrUnavailable)
	}
	out := make(Result, len(translations))
	var eligible []string
	for code, t := range translations {
		if t.Status != translate.StatusSucceeded {
			out[code] = Outcome{Status: StatusSkippedUpstream, Error: fmt.Sprintf("translation %s", t.Status)}
			continue
		}
		eligible = append(eligible, code)
	}
	sort.Strings(eligible)
	if len(eligible) == 0 {
		return out, nil
	}

	cloning := ref != nil && s.SupportsVoiceCloning()
	if !cloning {
		ref = nil
	}

	results, pending := fanout.Run(ctx, eligible, s.maxConcurrency, func(ctx context.Context, code string) (Outcome, error) {
		var wavData []byte
		var duration time.Duration
		err := s.gate.Do(ctx, func(ctx context.Context) error {
			var err error
			wavData, duration, err = s.render(ctx, SynthRequest{
				SessionID:      code,
				Text:           translations[code].Text,
				Language:       code,
				Voice:          s.voice,
				VoiceReference: ref,
			})
			return err
		})
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Status: StatusSucceeded, Audio: wavData, Duration: duration, VoiceCloned: cloning}, nil
	})

	for _, code := range pending {
		out[code] = Outcome{Status: StatusTimedOut, Error: "synthesis did not finish before the request deadline"}
	}
	for code, r := range results {
		switch {
		case r.Err == nil:
			out[code] = r.Value
		case errors.Is(r.Err, context.DeadlineExceeded) || errors.Is(r.Err, context.Canceled):
			out[code] = Outcome{Status: StatusTimedOut, Error: r.Err.Error()}
		default:
			s.logger.Warn("synthesis failed", slog.String("language", code), slog.String("error", r.Err.Error()))
			out[code] = Outcome{Status: StatusFailed, Error: r.Err.Error()}
		}
	}
	return out, nil
}

// render drains one synthesis stream into a WAV file. Anything short of a
// final chunk without error produces no audio.
func (s *Service) render(ctx context.Context, req SynthRequest) ([]byte, time.Duration, error) {
	chunks, errs := s.synth.Synthesize(ctx, req)
	var pcm []byte
	sampleRate, channels := 0, 0
	final := false
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if sampleRate == 0 {
				sampleRate, channels = chunk.SampleRate, chunk.Channels
			}
			pcm = append(pcm, chunk.PCM...)
			if chunk.Final {
				final = true
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return nil, 0, err
			}
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	if !final {
		return nil, 0, ErrIncompleteStream
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, 0, fmt.Errorf("synthesis stream has no audio format")
	}
	samples, err := audio.PCM16ToSamples(pcm)
	if err != nil {
		return nil, 0, err
	}
	if len(samples) == 0 {
		return nil, 0, errors.New("synthesis produced no samples")
	}
	wavData, err := audio.EncodeWAV(samples, sampleRate, channels)
	if err != nil {
		return nil, 0, err
	}
	duration := audio.PCM{Samples: samples, SampleRate: sampleRate, Channels: channels}.Duration()
	return wavData, duration, nil
}
