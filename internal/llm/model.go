// Package llm wraps the text-completion providers used by the fallback stage.
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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/helpdesk-query/internal/config"
)

// ErrUnavailable wraps every failed or empty completion.
var ErrUnavailable = errors.New("language model unavailable")

// Completer produces a single-turn chat completion.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Model is a Completer backed by a langchaingo model.
type Model struct {
	llm       llms.Model
	modelName string
	// temperature is passed on every call; zero leaves the provider default.
	temperature float64
}

// NewModel creates a model for the configured provider.
func NewModel(cfg config.LLMConfig) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	return &Model{llm: model, modelName: cfg.Model, temperature: 0.2}, nil
}

// NewFromLLM wraps an existing langchaingo model.
func NewFromLLM(m llms.Model, name string) *Model {
	return &Model{llm: m, modelName: name}
}

// Complete sends system and user as one exchange and returns the first choice.
func (m *Model) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, span := otel.Tracer("llm").Start(ctx, "Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", m.modelName),
		attribute.Int("llm.system_chars", len(system)),
	)

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	var opts []llms.CallOption
	if m.temperature > 0 {
		opts = append(opts, llms.WithTemperature(m.temperature))
	}

	resp, err := m.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no response choices", ErrUnavailable)
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	return text, nil
}

// Name returns the model name.
func (m *Model) Name() string { return m.modelName }
