package stt

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type openAIRecognizer struct {
	client *openai.Client
	model  string
}

func NewOpenAIRecognizer(client *openai.Client, model string) Recognizer {
	if model == "" {
		model = openai.Whisper1
	}
	return &openAIRecognizer{client: client, model: model}
}

func (r *openAIRecognizer) Transcribe(ctx context.Context, req Request) (Transcript, error) {
	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    r.model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(req.WAV),
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: req.LanguageHint,
	})
	if err != nil {
		return Transcript{}, fmt.Errorf("openai transcription: %w", err)
	}
	return Transcript{
		Text:       resp.Text,
		Language:   resp.Language,
		Confidence: segmentConfidence(resp),
		Duration:   time.Duration(resp.Duration * float64(time.Second)),
	}, nil
}

// segmentConfidence averages exp(avg_logprob) over segments.
func segmentConfidence(resp openai.AudioResponse) float64 {
	if len(resp.Segments) == 0 {
		return 0
	}
	var sum float64
	for _, seg := range resp.Segments {
		sum += math.Exp(seg.AvgLogprob)
	}
	return sum / float64(len(resp.Segments))
}
