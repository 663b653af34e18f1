package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/loqalabs/loqa-translate/internal/capability"
	"github.com/loqalabs/loqa-translate/internal/fanout"
	"github.com/loqalabs/loqa-translate/internal/language"
)

var ErrEmptyText = errors.New("empty text")

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Request asks for text in source to be rendered in every target.
type Request struct {
	Text    string
	Source  string
	Targets []string
}

// Outcome is the per-language result.
type Outcome struct {
	Status Status `json:"status"`
	Text   string `json:"text,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result has exactly one entry per requested target.
type Result map[string]Outcome

// Succeeded returns target codes with a translation, sorted.
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

// Service fans one text out to every target language.
type Service struct {
	backend        Backend
	gate           *capability.Gate
	maxConcurrency int
	logger         *slog.Logger
}

func NewService(backend Backend, gate *capability.Gate, maxConcurrency int, log *slog.Logger) *Service {
	if gate == nil {
		gate = capability.NewGate(1)
	}
	return &Service{
		backend:        backend,
		gate:           gate,
		maxConcurrency: maxConcurrency,
		logger:         log.With(slog.String("component", "translate-service")),
	}
}

func (s *Service) Available() bool { return s.backend != nil }

// TranslateAll translates req.Text into each target independently. A
// failing or slow language never affects the others; only an unavailable
// backend fails the whole call.
func (s *Service) TranslateAll(ctx context.Context, req Request) (Result, error) {
	if s.backend == nil {
		return nil, fmt.Errorf("translate: %w", capability.ErrUnavailable)
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if len(req.Targets) == 0 {
		return nil, language.ErrNoTargets
	}

	results, pending := fanout.Run(ctx, req.Targets, s.maxConcurrency, func(ctx context.Context, target string) (string, error) {
		if target == req.Source {
			return text, nil
		}
		var translated string
		err := s.gate.Do(ctx, func(ctx context.Context) error {
			var err error
			translated, err = s.backend.Translate(ctx, text, req.Source, target)
			return err
		})
		if err != nil {
			return "", err
		}
		translated = strings.TrimSpace(translated)
		if translated == "" {
			return "", errors.New("backend returned empty translation")
		}
		return translated, nil
	})

	out := make(Result, len(req.Targets))
	for _, target := range pending {
		out[target] = Outcome{Status: StatusTimedOut, Error: "translation did not finish before the request deadline"}
	}
	for target, r := range results {
		switch {
		case r.Err == nil:
			out[target] = Outcome{Status: StatusSucceeded, Text: r.Value}
		case errors.Is(r.Err, context.DeadlineExceeded) || errors.Is(r.Err, context.Canceled):
			out[target] = Outcome{Status: StatusTimedOut, Error: r.Err.Error()}
		default:
			s.logger.Warn("translation failed",
				slog.String("source", req.Source),
				slog.String("target", target),
				slog.String("error", r.Err.Error()))
			out[target] = Outcome{Status: StatusFailed, Error: r.Err.Error()}
		}
	}
	return out, nil
}
