package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/capability"
	"github.com/loqalabs/loqa-translate/internal/language"
)

var (
	ErrTranscriptionFailed = errors.New("transcription failed")
	// ErrNoSpeech means the model produced no text for the clip.
	ErrNoSpeech = errors.New("empty text: no speech recognized")
)

// Result is the immutable transcription of one clip.
type Result struct {
	Text             string        `json:"text"`
	Language         string        `json:"language"`
	Confidence       float64       `json:"confidence"`
	Duration         time.Duration `json:"duration"`
	LanguageFallback bool          `json:"language_fallback"`
	ReportedLanguage string        `json:"reported_language,omitempty"`
}

// Transcriber turns normalized clips into text and a detected language.
type Transcriber struct {
	recognizer      Recognizer
	gate            *capability.Gate
	languages       *language.Registry
	defaultLanguage string
	logger          *slog.Logger
}

// NewTranscriber wraps recognizer. A nil recognizer yields a transcriber
// whose every call fails with capability.ErrUnavailable.
func NewTranscriber(recognizer Recognizer, gate *capability.Gate, languages *language.Registry, defaultLanguage string, log *slog.Logger) *Transcriber {
	if gate == nil {
		gate = capability.NewGate(1)
	}
	return &Transcriber{
		recognizer:      recognizer,
		gate:            gate,
		languages:       languages,
		defaultLanguage: defaultLanguage,
		logger:          log.With(slog.String("component", "stt-transcriber")),
	}
}

func (t *Transcriber) Available() bool { return t.recognizer != nil }

// Transcribe runs the recognizer on clip. A non-empty hint must be a
// supported code and skips language detection.
func (t *Transcriber) Transcribe(ctx context.Context, clip *audio.Normalized, hint string) (Result, error) {
	if t.recognizer == nil {
		return Result{}, fmt.Errorf("transcribe: %w", capability.ErrUnavailable)
	}
	if clip == nil {
		return Result{}, fmt.Errorf("transcribe: %w", audio.ErrEmptyInput)
	}
	if hint != "" {
		code, err := t.languages.Lookup(hint)
		if err != nil {
			return Result{}, fmt.Errorf("source_language: %w", err)
		}
		hint = code
	}

	var tr Transcript
	err := t.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		tr, err = t.recognizer.Transcribe(ctx, Request{
			AudioPath:    clip.Path,
			WAV:          clip.Data,
			SampleRate:   clip.SampleRate,
			Channels:     clip.Channels,
			LanguageHint: hint,
		})
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		if errors.Is(err, capability.ErrUnavailable) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return Result{}, ErrNoSpeech
	}

	res := Result{
		Text:             text,
		Confidence:       tr.Confidence,
		Duration:         tr.Duration,
		ReportedLanguage: tr.Language,
	}
	if res.Duration == 0 {
		res.Duration = clip.Duration
	}
	switch {
	case hint != "":
		res.Language = hint
	default:
		if code, ok := t.languages.Resolve(tr.Language); ok {
			res.Language = code
		} else {
			res.Language = t.defaultLanguage
			res.LanguageFallback = true
			t.logger.Warn("language detection inconclusive, using default",
				slog.String("reported", tr.Language),
				slog.String("default", t.defaultLanguage))
		}
	}
	return res, nil
}
