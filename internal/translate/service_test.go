package translate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-translate/internal/capability"
	"github.com/loqalabs/loqa-translate/internal/language"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type countingBackend struct {
	inner Backend
	calls atomic.Int32
}

func (c *countingBackend) Translate(ctx context.Context, text, source, target string) (string, error) {
	c.calls.Add(1)
	return c.inner.Translate(ctx, text, source, target)
}

type panicBackend struct{}

func (panicBackend) Translate(_ context.Context, text, _ string, target string) (string, error) {
	if target == "fr" {
		panic("runtime exploded")
	}
	return "ok " + target, nil
}

func TestTranslateAllReturnsOneKeyPerTarget(t *testing.T) {
	svc := NewService(NewMockBackend(nil), capability.NewGate(2), 4, discardLogger())
	res, err := svc.TranslateAll(context.Background(), Request{Text: "hello", Source: "en", Targets: []string{"es", "fr", "de"}})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(res))
	}
	if res["es"].Status != StatusSucceeded || res["es"].Text != "[es] hello" {
		t.Fatalf("unexpected es outcome %+v", res["es"])
	}
}

func TestTranslateAllIsolatesFailures(t *testing.T) {
	svc := NewService(NewMockBackend([]string{"zh"}), capability.NewGate(2), 4, discardLogger())
	res, err := svc.TranslateAll(context.Background(), Request{Text: "hello", Source: "en", Targets: []string{"es", "zh"}})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if res["es"].Status != StatusSucceeded {
		t.Fatalf("expected es success, got %+v", res["es"])
	}
	if res["zh"].Status != StatusFailed || res["zh"].Error == "" {
		t.Fatalf("expected zh failure with error, got %+v", res["zh"])
	}
	if got := res.Succeeded(); len(got) != 1 || got[0] != "es" {
		t.Fatalf("expected only es succeeded, got %v", got)
	}
}

func TestTranslateAllRecoversPanics(t *testing.T) {
	svc := NewService(panicBackend{}, capability.NewGate(2), 2, discardLogger())
	res, err := svc.TranslateAll(context.Background(), Request{Text: "hello", Source: "en", Targets: []string{"es", "fr"}})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if res["fr"].Status != StatusFailed || res["es"].Status != StatusSucceeded {
		t.Fatalf("unexpected outcomes %+v", res)
	}
}

func TestTranslateAllSkipsModelForSourceLanguage(t *testing.T) {
	backend := &countingBackend{inner: NewMockBackend(nil)}
	svc := NewService(backend, capability.NewGate(1), 4, discardLogger())
	res, err := svc.TranslateAll(context.Background(), Request{Text: "hello", Source: "en", Targets: []string{"en"}})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if res["en"].Text != "hello" || backend.calls.Load() != 0 {
		t.Fatalf("expected passthrough without a model call, got %+v calls=%d", res["en"], backend.calls.Load())
	}
}

func TestTranslateAllMarksTimeouts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	svc := NewService(NewMockBackend(nil), capability.NewGate(1), 4, discardLogger())
	res, err := svc.TranslateAll(ctx, Request{Text: "hello", Source: "en", Targets: []string{"es", "fr"}})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	for _, code := range []string{"es", "fr"} {
		if res[code].Status != StatusTimedOut {
			t.Fatalf("expected %s timed out, got %+v", code, res[code])
		}
	}
}

func TestTranslateAllErrors(t *testing.T) {
	svc := NewService(nil, nil, 4, discardLogger())
	if _, err := svc.TranslateAll(context.Background(), Request{Text: "x", Source: "en", Targets: []string{"es"}}); !errors.Is(err, capability.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	svc = NewService(NewMockBackend(nil), nil, 4, discardLogger())
	if _, err := svc.TranslateAll(context.Background(), Request{Text: "x", Source: "en"}); !errors.Is(err, language.ErrNoTargets) {
		t.Fatalf("expected ErrNoTargets, got %v", err)
	}
	if _, err := svc.TranslateAll(context.Background(), Request{Text: "  ", Source: "en", Targets: []string{"es"}}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestOllamaBackend(t *testing.T) {
	var got ollamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(ollamaResponse{Response: " hola \n", Done: true})
	}))
	defer server.Close()

	backend := NewOllamaBackend(server.URL+"/", "llama3.2:latest", 0.2)
	out, err := backend.Translate(context.Background(), "hello", "en", "es")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if out != "hola" {
		t.Fatalf("expected trimmed translation, got %q", out)
	}
	if got.Stream || got.Prompt != "hello" || got.Model != "llama3.2:latest" {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.System == "" {
		t.Fatal("expected a system prompt naming the languages")
	}
}

func TestOllamaBackendReportsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := NewOllamaBackend(server.URL, "", 0).Translate(context.Background(), "hello", "en", "es"); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestSystemPromptUsesLanguageNames(t *testing.T) {
	prompt := systemPrompt("en", "es")
	if want := "from English to Spanish"; !strings.Contains(prompt, want) {
		t.Fatalf("expected %q in %q", want, prompt)
	}
}
