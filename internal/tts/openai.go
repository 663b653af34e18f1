package tts

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// The speech API returns raw PCM as 24 kHz mono 16-bit little-endian.
const (
	openAIPCMSampleRate = 24000
	openAIPCMChannels   = 1
)

type openAISynth struct {
	client    *openai.Client
	model     string
	chunkSize int
}

func NewOpenAISynth(client *openai.Client, model string, chunkDurationMS int) Synthesizer {
	if model == "" {
		model = string(openai.TTSModel1)
	}
	if chunkDurationMS <= 0 {
		chunkDurationMS = 400
	}
	chunkSize := openAIPCMSampleRate * openAIPCMChannels * 2 * chunkDurationMS / 1000
	return &openAISynth{client: client, model: model, chunkSize: chunkSize}
}

// SupportsVoiceCloning is false: the hosted voices are fixed presets.
func (o *openAISynth) SupportsVoiceCloning() bool { return false }

func (o *openAISynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		voice := req.Voice
		if voice == "" {
			voice = string(openai.VoiceAlloy)
		}
		body, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
			Model:          openai.SpeechModel(o.model),
			Input:          req.Text,
			Voice:          openai.SpeechVoice(voice),
			ResponseFormat: openai.SpeechResponseFormatPcm,
		})
		if err != nil {
			errs <- fmt.Errorf("openai speech: %w", err)
			return
		}
		defer body.Close()

		buf := make([]byte, o.chunkSize)
		var pending []byte
		sequence := 0
		for {
			n, readErr := io.ReadFull(body, buf)
			if n > 0 {
				if pending != nil {
					if !send(ctx, chunks, o.chunk(req, sequence, pending, false)) {
						errs <- ctx.Err()
						return
					}
					sequence++
				}
				pending = append([]byte(nil), buf[:n]...)
			}
			if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
				break
			}
			if readErr != nil {
				errs <- fmt.Errorf("read speech stream: %w", readErr)
				return
			}
		}
		if pending == nil {
			errs <- fmt.Errorf("openai speech returned no audio")
			return
		}
		if !send(ctx, chunks, o.chunk(req, sequence, pending, true)) {
			errs <- ctx.Err()
		}
	}()
	return chunks, errs
}

func (o *openAISynth) chunk(req SynthRequest, sequence int, pcm []byte, final bool) SynthChunk {
	return SynthChunk{
		SessionID:  req.SessionID,
		Sequence:   sequence,
		SampleRate: openAIPCMSampleRate,
		Channels:   openAIPCMChannels,
		PCM:        pcm,
		Final:      final,
	}
}
