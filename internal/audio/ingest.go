package audio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/loqalabs/loqa-translate/internal/capability"
	"github.com/loqalabs/loqa-translate/internal/config"
)

// Ingestor validates uploads and produces canonical clips.
type Ingestor struct {
	cfg     config.IngestConfig
	codec   Codec
	gate    *capability.Gate
	allowed map[Format]struct{}
	logger  *slog.Logger
}

func NewIngestor(cfg config.IngestConfig, codec Codec, gate *capability.Gate, log *slog.Logger) *Ingestor {
	allowed := make(map[Format]struct{}, len(cfg.AllowedFormats))
	for _, name := range cfg.AllowedFormats {
		if f := ParseFormat(name); f != FormatUnknown {
			allowed[f] = struct{}{}
		}
	}
	if gate == nil {
		gate = capability.NewGate(1)
	}
	return &Ingestor{
		cfg:     cfg,
		codec:   codec,
		gate:    gate,
		allowed: allowed,
		logger:  log.With(slog.String("component", "audio-ingest")),
	}
}

// Validate checks the upload without converting it and returns the
// container format that will be decoded.
func (i *Ingestor) Validate(raw []byte, filename string) (Format, error) {
	if strings.TrimSpace(filename) == "" {
		return FormatUnknown, ErrMissingFilename
	}
	if len(raw) == 0 {
		return FormatUnknown, ErrEmptyInput
	}
	if i.cfg.MaxBytes > 0 && int64(len(raw)) > i.cfg.MaxBytes {
		return FormatUnknown, fmt.Errorf("%w: %s exceeds limit of %s", ErrTooLarge,
			humanize.Bytes(uint64(len(raw))), humanize.Bytes(uint64(i.cfg.MaxBytes)))
	}
	declared := FormatFromFilename(filename)
	if _, ok := i.allowed[declared]; !ok || declared == FormatUnknown {
		return FormatUnknown, fmt.Errorf("%w: extension of %q", ErrUnsupportedFormat, filename)
	}
	sniffed := Sniff(raw)
	if sniffed == FormatUnknown {
		return FormatUnknown, fmt.Errorf("%w: content of %q is not a recognized audio container", ErrUnsupportedFormat, filename)
	}
	if _, ok := i.allowed[sniffed]; !ok {
		return FormatUnknown, fmt.Errorf("%w: content of %q is %s", ErrUnsupportedFormat, filename, sniffed)
	}
	if sniffed != declared {
		i.logger.Info("upload extension does not match content",
			slog.String("declared", string(declared)),
			slog.String("sniffed", string(sniffed)))
	}
	return sniffed, nil
}

// Normalize validates raw and converts it to canonical form inside a fresh
// workspace. On error the workspace has already been released.
func (i *Ingestor) Normalize(ctx context.Context, raw []byte, filename string) (_ *Normalized, err error) {
	format, err := i.Validate(raw, filename)
	if err != nil {
		return nil, err
	}

	ws, err := NewWorkspace(i.cfg.WorkDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = ws.Release()
		}
	}()

	data := raw
	if format != FormatWAV || !IsCanonical(raw) {
		if i.codec == nil {
			return nil, fmt.Errorf("audio codec: %w", capability.ErrUnavailable)
		}
		err = i.gate.Do(ctx, func(ctx context.Context) error {
			var convErr error
			data, convErr = i.codec.ToCanonicalForm(ctx, raw, format)
			return convErr
		})
		if err != nil {
			return nil, err
		}
		if !IsCanonical(data) {
			return nil, fmt.Errorf("%w: codec output is not canonical wav", ErrConversionFailed)
		}
	}

	pcm, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	if len(pcm.Samples) == 0 {
		return nil, fmt.Errorf("%w: wav carries no samples", ErrEmptyInput)
	}

	path, err := ws.WriteFile("normalized.wav", data)
	if err != nil {
		return nil, err
	}

	n := &Normalized{
		Clip: Clip{
			Filename:   filename,
			Format:     FormatWAV,
			Data:       data,
			SampleRate: pcm.SampleRate,
			Channels:   pcm.Channels,
			Duration:   pcm.Duration(),
		},
		SourceFormat: format,
		Path:         path,
		workspace:    ws,
	}
	i.logger.Debug("audio normalized",
		slog.String("source_format", string(format)),
		slog.String("size", humanize.Bytes(uint64(len(data)))),
		slog.Duration("duration", n.Duration))
	return n, nil
}
