package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/mattn/go-shellwords"
)

// Codec converts a supported container into canonical WAV.
type Codec interface {
	ToCanonicalForm(ctx context.Context, data []byte, format Format) ([]byte, error)
}

// NewCodec builds the codec selected by ingest.codec.
func NewCodec(cfg config.IngestConfig) (Codec, error) {
	switch cfg.Codec {
	case "", "native":
		return NativeCodec{}, nil
	case "exec":
		return NewExecCodec(cfg.Command, cfg.WorkDir)
	default:
		return nil, fmt.Errorf("unknown ingest codec %q", cfg.Codec)
	}
}

// NativeCodec converts PCM WAV in-process. Compressed containers need the
// exec codec.
type NativeCodec struct{}

func (NativeCodec) ToCanonicalForm(_ context.Context, data []byte, format Format) ([]byte, error) {
	if format != FormatWAV {
		return nil, fmt.Errorf("%w: native codec decodes wav only, got %s (set ingest.codec=exec)", ErrConversionFailed, format)
	}
	pcm, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	canon := ToCanonicalPCM(pcm)
	if len(canon.Samples) == 0 {
		return nil, fmt.Errorf("%w: no samples after resampling", ErrConversionFailed)
	}
	out, err := EncodeWAV(canon.Samples, canon.SampleRate, canon.Channels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	return out, nil
}

// CommandLog captures one external command invocation.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stderr   string   `json:"stderr,omitempty"`
}

type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (CommandLog, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (CommandLog, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	log := CommandLog{Command: name, Args: args, Stderr: strings.TrimSpace(stderr.String())}
	if err != nil {
		log.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.ExitCode = exitErr.ExitCode()
		}
	}
	return log, err
}

// ExecCodec shells out to ffmpeg (or a compatible binary).
type ExecCodec struct {
	cmd     []string
	workDir string
	runner  commandRunner
}

func NewExecCodec(command, workDir string) (*ExecCodec, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse ingest command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("ingest command is empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("ingest command %q: %w", args[0], err)
	}
	return &ExecCodec{cmd: args, workDir: workDir, runner: execRunner{}}, nil
}

func (c *ExecCodec) ToCanonicalForm(ctx context.Context, data []byte, format Format) ([]byte, error) {
	tmpDir, err := os.MkdirTemp(c.workDir, "loqa_codec_*")
	if err != nil {
		return nil, fmt.Errorf("create codec temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	ext := string(format)
	if ext == "" {
		ext = "bin"
	}
	inPath := filepath.Join(tmpDir, "input."+ext)
	outPath := filepath.Join(tmpDir, "canonical.wav")
	if err := os.WriteFile(inPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write codec input: %w", err)
	}

	args := append(append([]string{}, c.cmd[1:]...), buildFFmpegArgs(inPath, outPath)...)
	log, err := c.runner.Run(ctx, c.cmd[0], args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s exited %d: %s", ErrConversionFailed, log.Command, log.ExitCode, log.Stderr)
	}
	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %v", ErrConversionFailed, err)
	}
	return out, nil
}

func buildFFmpegArgs(inputPath, outputPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outputPath,
	}
}
