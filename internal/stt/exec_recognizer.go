package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/mattn/go-shellwords"
)

// execRecognizer runs a local speech model per clip. Callers serialize it
// through the stt gate.
type execRecognizer struct {
	cmd []string
	cfg config.STTConfig
}

type execResult struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
	Duration   float64 `json:"duration"`
}

func NewExecRecognizer(cfg config.STTConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("stt command %q: %w", args[0], err)
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, req Request) (Transcript, error) {
	path := req.AudioPath
	if path == "" {
		file, err := os.CreateTemp("", "loqa_stt_*.wav")
		if err != nil {
			return Transcript{}, fmt.Errorf("temp file: %w", err)
		}
		defer os.Remove(file.Name())
		_, err = file.Write(req.WAV)
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return Transcript{}, fmt.Errorf("write stt input: %w", err)
		}
		path = file.Name()
	}

	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", path)
	if r.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.ModelPath)
	}
	if req.LanguageHint != "" {
		cmdArgs = append(cmdArgs, "--language", req.LanguageHint)
	}

	command := exec.CommandContext(ctx, r.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Transcript{}, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Transcript{}, fmt.Errorf("decode stt response: %w", err)
	}
	return Transcript{
		Text:       resp.Text,
		Language:   resp.Language,
		Confidence: resp.Confidence,
		Duration:   time.Duration(resp.Duration * float64(time.Second)),
	}, nil
}
