package stt

import (
	"context"
	"time"
)

type mockRecognizer struct {
	text       string
	language   string
	confidence float64
}

func NewMockRecognizer(text, language string, confidence float64) Recognizer {
	return &mockRecognizer{text: text, language: language, confidence: confidence}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, req Request) (Transcript, error) {
	select {
	case <-ctx.Done():
		return Transcript{}, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	lang := m.language
	if req.LanguageHint != "" {
		lang = req.LanguageHint
	}
	return Transcript{
		Text:       m.text,
		Language:   lang,
		Confidence: m.confidence,
	}, nil
}
