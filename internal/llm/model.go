// Package llm adapts text-generation providers to registry.TextGenerator.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/JakeFAU/capability-registry/internal/config"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

// ErrFatalAPI marks provider errors that will not clear up on their own
// (bad credentials, exhausted credit).
var ErrFatalAPI = errors.New("fatal llm api error")

const temperature = 0.1

// Model wraps a langchaingo model. The model name on each Prompt selects the
// variant per call, so one Model serves both fast and deep passes.
type Model struct {
	llm llms.Model
}

// NewModel creates a langchaingo-backed generator for the configured provider.
func NewModel(cfg config.LLMConfig) (*Model, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case config.LLMAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic api key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.FastModel),
		)
	case config.LLMOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai api key required")
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey), openai.WithModel(cfg.FastModel)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case config.LLMOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.FastModel)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", cfg.Provider, err)
	}
	return &Model{llm: model}, nil
}

// Generate implements registry.TextGenerator.
func (m *Model) Generate(ctx context.Context, prompt registry.Prompt) (string, error) {
	opts := []llms.CallOption{llms.WithTemperature(temperature)}
	if prompt.Model != "" {
		opts = append(opts, llms.WithModel(prompt.Model))
	}
	if prompt.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(prompt.MaxTokens))
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, m.llm, prompt.Text, opts...)
	if err != nil {
		return "", fmt.Errorf("generate: %w", wrapFatal(err))
	}
	return out, nil
}

// New selects the provider named in cfg.
func New(ctx context.Context, cfg config.LLMConfig) (registry.TextGenerator, error) {
	if cfg.Provider == config.LLMGemini {
		return NewGemini(ctx, cfg.APIKey)
	}
	return NewModel(cfg)
}

var fatalMarkers = []string{
	"credit balance",
	"quota exceeded",
	"billing",
	"invalid api key",
	"invalid x-api-key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

func isFatal(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func wrapFatal(err error) error {
	if isFatal(err) {
		return fmt.Errorf("%w: %w", ErrFatalAPI, err)
	}
	return err
}
