package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

const maxStderr = 4 << 10

// execSynth drives a local voice model (e.g. an XTTS wrapper script). The
// request goes to stdin as one JSON document; audio comes back as
// newline-delimited JSON frames of base64 PCM.
type execSynth struct {
	argv       []string
	sampleRate int
	channels   int
}

type execInput struct {
	Text       string `json:"text"`
	Language   string `json:"language"`
	Voice      string `json:"voice,omitempty"`
	SpeakerWAV string `json:"speaker_wav,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execFrame struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
	Error     string `json:"error,omitempty"`
}

func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("tts command empty")
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("tts command %q: %w", argv[0], err)
	}
	return &execSynth{argv: argv, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) SupportsVoiceCloning() bool { return true }

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if err := e.run(ctx, req, chunks); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (e *execSynth) run(ctx context.Context, req SynthRequest, chunks chan<- SynthChunk) error {
	in := execInput{
		Text:       req.Text,
		Language:   req.Language,
		Voice:      req.Voice,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	}
	if req.VoiceReference != nil {
		in.SpeakerWAV = req.VoiceReference.Path
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.argv[0], e.argv[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr limitedBuffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start tts command: %w", err)
	}

	decodeErr := decodeFrames(stdout, func(pcm []byte, seq int, final bool) bool {
		return send(ctx, chunks, SynthChunk{
			SessionID:  req.SessionID,
			Sequence:   seq,
			SampleRate: e.sampleRate,
			Channels:   e.channels,
			PCM:        pcm,
			Final:      final,
		})
	})
	// Drain so the child never blocks on a full pipe before Wait.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case decodeErr != nil:
		return decodeErr
	case waitErr != nil:
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("tts command: %w: %s", waitErr, msg)
		}
		return fmt.Errorf("tts command: %w", waitErr)
	}
	return nil
}

var errStopped = errors.New("tts stream abandoned")

// decodeFrames reads execFrame lines and hands each PCM payload to emit.
// Blank lines are ignored. emit returning false stops decoding.
func decodeFrames(r io.Reader, emit func(pcm []byte, seq int, final bool) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	seq := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var frame execFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			return fmt.Errorf("decode tts frame %d: %w", seq, err)
		}
		if frame.Error != "" {
			return fmt.Errorf("tts exec: %s", frame.Error)
		}
		pcm, err := base64.StdEncoding.DecodeString(frame.PCMBase64)
		if err != nil {
			return fmt.Errorf("decode tts frame %d: %w", seq, err)
		}
		if !emit(pcm, seq, frame.Final) {
			return errStopped
		}
		seq++
		if frame.Final {
			return nil
		}
	}
	return scanner.Err()
}

// limitedBuffer keeps the first maxStderr bytes of a stream.
type limitedBuffer struct {
	bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := maxStderr - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}
