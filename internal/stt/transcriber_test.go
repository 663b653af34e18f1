package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/capability"
	"github.com/loqalabs/loqa-translate/internal/language"
)

type fakeRecognizer struct {
	transcript Transcript
	err        error
	lastReq    Request
	calls      int
}

func (f *fakeRecognizer) Transcribe(_ context.Context, req Request) (Transcript, error) {
	f.calls++
	f.lastReq = req
	return f.transcript, f.err
}

func newTranscriber(t *testing.T, rec Recognizer) *Transcriber {
	t.Helper()
	langs, err := language.NewRegistry([]string{"en", "es", "fr"})
	if err != nil {
		t.Fatal(err)
	}
	return NewTranscriber(rec, capability.NewGate(1), langs, "en", slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func testClip() *audio.Normalized {
	return &audio.Normalized{
		Clip: audio.Clip{
			Filename:   "clip.wav",
			Format:     audio.FormatWAV,
			Data:       []byte("RIFF"),
			SampleRate: audio.CanonicalSampleRate,
			Channels:   1,
			Duration:   3 * time.Second,
		},
		Path: "/tmp/clip.wav",
	}
}

func TestTranscribeDetectsLanguage(t *testing.T) {
	rec := &fakeRecognizer{transcript: Transcript{Text: "  hola mundo ", Language: "spanish", Confidence: 0.8}}
	res, err := newTranscriber(t, rec).Transcribe(context.Background(), testClip(), "")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "hola mundo" || res.Language != "es" || res.LanguageFallback {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Duration != 3*time.Second {
		t.Fatalf("expected clip duration fallback, got %s", res.Duration)
	}
	if rec.lastReq.AudioPath != "/tmp/clip.wav" || rec.lastReq.SampleRate != audio.CanonicalSampleRate {
		t.Fatalf("unexpected request %+v", rec.lastReq)
	}
}

func TestTranscribeFallsBackToDefaultLanguage(t *testing.T) {
	rec := &fakeRecognizer{transcript: Transcript{Text: "hello", Language: ""}}
	res, err := newTranscriber(t, rec).Transcribe(context.Background(), testClip(), "")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Language != "en" || !res.LanguageFallback {
		t.Fatalf("expected explicit fallback to en, got %+v", res)
	}
}

func TestTranscribeUnsupportedDetectionFallsBack(t *testing.T) {
	rec := &fakeRecognizer{transcript: Transcript{Text: "hallo", Language: "de"}}
	res, err := newTranscriber(t, rec).Transcribe(context.Background(), testClip(), "")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if !res.LanguageFallback || res.ReportedLanguage != "de" {
		t.Fatalf("expected fallback with reported language kept, got %+v", res)
	}
}

func TestTranscribeHintSkipsDetection(t *testing.T) {
	rec := &fakeRecognizer{transcript: Transcript{Text: "bonjour", Language: "en"}}
	res, err := newTranscriber(t, rec).Transcribe(context.Background(), testClip(), "FR")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Language != "fr" || rec.lastReq.LanguageHint != "fr" {
		t.Fatalf("expected hint fr to be used, got %+v / %+v", res, rec.lastReq)
	}
	if _, err := newTranscriber(t, rec).Transcribe(context.Background(), testClip(), "xx"); !errors.Is(err, language.ErrUnsupported) {
		t.Fatalf("expected unsupported hint error, got %v", err)
	}
}

func TestTranscribeErrors(t *testing.T) {
	if _, err := newTranscriber(t, nil).Transcribe(context.Background(), testClip(), ""); !errors.Is(err, capability.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	failing := &fakeRecognizer{err: errors.New("model crashed")}
	if _, err := newTranscriber(t, failing).Transcribe(context.Background(), testClip(), ""); !errors.Is(err, ErrTranscriptionFailed) {
		t.Fatalf("expected ErrTranscriptionFailed, got %v", err)
	}

	silent := &fakeRecognizer{transcript: Transcript{Text: "   ", Language: "en"}}
	if _, err := newTranscriber(t, silent).Transcribe(context.Background(), testClip(), ""); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech, got %v", err)
	}
}

func TestTranscribeHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := NewMockRecognizer("hello", "en", 0.9)
	if _, err := newTranscriber(t, rec).Transcribe(ctx, testClip(), ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
