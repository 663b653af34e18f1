package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/capability"
	"github.com/loqalabs/loqa-translate/internal/language"
	"github.com/loqalabs/loqa-translate/internal/stt"
	"github.com/loqalabs/loqa-translate/internal/translate"
)

// ErrorKind classifies request-fatal failures.
type ErrorKind string

const (
	KindInput       ErrorKind = "input"
	KindUnavailable ErrorKind = "unavailable"
	KindStage       ErrorKind = "stage"
	KindTimeout     ErrorKind = "timeout"
)

// Error is returned by Process when the request cannot complete. Per-language
// failures never produce an Error; they are reported inline in the Response.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Stage, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Stage, e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var ErrMissingSource = errors.New("source_language is required")

var inputErrors = []error{
	audio.ErrUnsupportedFormat,
	audio.ErrConversionFailed,
	audio.ErrEmptyInput,
	audio.ErrMissingFilename,
	audio.ErrTooLarge,
	stt.ErrNoSpeech,
	translate.ErrEmptyText,
	language.ErrUnsupported,
	language.ErrNoTargets,
	language.ErrTooManyTargets,
	ErrMissingSource,
}

// classify maps err raised during stage onto an Error.
func classify(stage Stage, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	e := &Error{Stage: stage, Err: err}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		e.Kind = KindTimeout
		e.Message = "request deadline exceeded"
	case errors.Is(err, capability.ErrUnavailable):
		e.Kind = KindUnavailable
		e.Message = "capability unavailable"
	case isInput(err):
		e.Kind = KindInput
		e.Message = "invalid input"
	default:
		e.Kind = KindStage
		e.Message = "stage failed"
	}
	return e
}

func isInput(err error) bool {
	for _, target := range inputErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
