// Package modelapi builds clients for hosted model APIs shared by the
// speech, translation and synthesis backends.
package modelapi

import (
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loqalabs/loqa-translate/internal/config"
)

// NewOpenAIClient returns a client for the OpenAI API or any compatible
// endpoint set in openai.base_url.
func NewOpenAIClient(cfg config.OpenAIConfig) (*openai.Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai.api_key not set")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return openai.NewClientWithConfig(clientCfg), nil
}
