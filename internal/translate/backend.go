package translate

import (
	"context"
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/modelapi"
)

// Backend translates one text into one target language.
type Backend interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// NewBackend builds the backend selected by translate.mode.
func NewBackend(cfg config.TranslateConfig, ai config.OpenAIConfig) (Backend, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockBackend(cfg.MockFailLanguages), nil
	case "exec":
		return NewExecBackend(cfg.Command)
	case "ollama":
		return NewOllamaBackend(cfg.Endpoint, cfg.Model, cfg.Temperature), nil
	case "openai":
		client, err := modelapi.NewOpenAIClient(ai)
		if err != nil {
			return nil, err
		}
		return NewOpenAIBackend(client, cfg.Model, cfg.Temperature), nil
	default:
		return nil, fmt.Errorf("unknown translate mode %q", cfg.Mode)
	}
}

func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}

func systemPrompt(source, target string) string {
	return fmt.Sprintf(
		"You are a translation engine. Translate the user's text from %s to %s. "+
			"Reply with the translation only, without quotes, notes or explanations.",
		languageName(source), languageName(target))
}
