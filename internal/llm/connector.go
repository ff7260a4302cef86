package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// Provider represents an AI provider type
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
	ProviderCohere    Provider = "cohere"
	ProviderOllama    Provider = "ollama"
)

// ConnectorOptions contains options for creating a connector
type ConnectorOptions struct {
	Provider    Provider
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	// Timeout bounds every call; zero means 90 seconds.
	Timeout time.Duration
	// RequestsPerSecond throttles outbound calls; zero disables throttling.
	RequestsPerSecond float64
}

// Connector is a Handler backed by a langchaingo model.
type Connector struct {
	model   llms.Model
	options ConnectorOptions
	limiter *rate.Limiter
}

// NewConnector creates a new connector for the specified provider
func NewConnector(ctx context.Context, options ConnectorOptions) (*Connector, error) {
	log.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.Model).
		Msg("Creating LLM connector")

	var model llms.Model
	var err error
	switch options.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(options.Model), openai.WithToken(options.APIKey)}
		if options.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(options.BaseURL))
		}
		model, err = openai.New(opts...)
	case ProviderGemini:
		model, err = googleai.New(ctx, googleai.WithAPIKey(options.APIKey), googleai.WithDefaultModel(options.Model))
	case ProviderAnthropic:
		model, err = anthropic.New(anthropic.WithToken(options.APIKey), anthropic.WithModel(options.Model))
	case ProviderCohere:
		opts := []cohere.Option{cohere.WithToken(options.APIKey), cohere.WithModel(options.Model)}
		if options.BaseURL != "" {
			opts = append(opts, cohere.WithBaseURL(options.BaseURL))
		}
		model, err = cohere.New(opts...)
	case ProviderOllama:
		serverURL := options.BaseURL
		if serverURL == "" {
			serverURL = "http://localhost:11434"
		}
		model, err = ollama.New(ollama.WithServerURL(serverURL), ollama.WithModel(options.Model))
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s model: %w", options.Provider, err)
	}

	return newConnector(model, options), nil
}

func newConnector(model llms.Model, options ConnectorOptions) *Connector {
	if options.Timeout <= 0 {
		options.Timeout = 90 * time.Second
	}
	c := &Connector{model: model, options: options}
	if options.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(options.RequestsPerSecond), 1)
	}
	return c
}

// Generate sends the request to the model.
func (c *Connector) Generate(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.options.Timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Response{}, fmt.Errorf("rate limiter: %w", err)
		}
	}

	callOptions := []llms.CallOption{llms.WithTemperature(c.options.Temperature)}
	maxTokens := c.options.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		callOptions = append(callOptions, llms.WithMaxTokens(maxTokens))
	}

	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, messages, callOptions...)
	if err != nil {
		return Response{}, fmt.Errorf("%s generate: %w", c.options.Provider, err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("%s generate: empty response", c.options.Provider)
	}

	choice := resp.Choices[0]
	tokens := tokenCount(choice.GenerationInfo)
	log.Debug().
		Str("provider", string(c.options.Provider)).
		Dur("elapsed", time.Since(start)).
		Int("tokens", tokens).
		Msg("LLM call completed")

	return Response{
		Text:       choice.Content,
		Model:      c.options.Model,
		TokensUsed: tokens,
	}, nil
}

// tokenCount reads the total token usage providers report in GenerationInfo.
// Key names and value types differ by provider.
func tokenCount(info map[string]any) int {
	for _, key := range []string{"TotalTokens", "total_tokens"} {
		switch v := info[key].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
