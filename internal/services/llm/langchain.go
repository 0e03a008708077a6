package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"ticketflow/internal/config"
	"ticketflow/internal/services"
)

// LangChainClient serves JSON completions through langchaingo's OpenAI
// provider. It is selected with llm.provider = "openai".
type LangChainClient struct {
	model   llms.Model
	limiter *rate.Limiter
	timeout time.Duration
}

// NewLangChainClient builds an OpenAI-backed completer.
func NewLangChainClient(cfg Config) (*LangChainClient, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimSpace(cfg.APIKey)),
		openai.WithModel(strings.TrimSpace(cfg.Model)),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, openai.WithBaseURL(base))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "llm", "init openai", "", err)
	}
	client := &LangChainClient{model: model, timeout: defaultHTTPTimeout}
	if cfg.TimeoutSeconds > 0 {
		client.timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.RequestsPerMinute > 0 {
		client.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return client, nil
}

// CompleteJSON issues a JSON-mode chat completion.
func (c *LangChainClient) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	systemPrompt = strings.TrimSpace(systemPrompt)
	userPrompt = strings.TrimSpace(userPrompt)
	if systemPrompt == "" || userPrompt == "" {
		return "", services.Wrap(services.ErrValidation, "llm", "complete", "system and user prompts required", nil)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("llm request: rate limit wait: %w", err)
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}
	resp, err := c.model.GenerateContent(callCtx, messages, llms.WithTemperature(0), llms.WithJSONMode())
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return "", err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", services.Wrap(services.ErrTimeout, "llm", "complete", "", err)
		}
		return "", services.Wrap(services.ErrTransient, "llm", "complete", "", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", services.Wrap(services.ErrTransient, "llm", "complete", "empty choices", nil)
	}
	content := strings.TrimSpace(resp.Choices[0].Content)
	if content == "" {
		return "", services.Wrap(services.ErrTransient, "llm", "complete", "empty completion", nil)
	}
	return content, nil
}

// HealthCheck verifies the provider answers a trivial JSON prompt.
func (c *LangChainClient) HealthCheck(ctx context.Context) error {
	content, err := c.CompleteJSON(ctx, "You must respond with JSON only.", `Respond with {"ok":true}`)
	if err != nil {
		return err
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		return fmt.Errorf("llm health: parse payload: %w", err)
	}
	if !parsed.OK {
		return errors.New("llm health: unexpected response")
	}
	return nil
}

// NewCompleter returns the completer for the configured provider.
func NewCompleter(cfg config.LLMConfig, opts ...Option) (Completer, error) {
	base := Config{
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.BaseURL,
		Model:             cfg.Model,
		Referer:           cfg.Referer,
		Title:             cfg.Title,
		TimeoutSeconds:    cfg.TimeoutSeconds,
		RequestsPerMinute: cfg.RequestsPerMinute,
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case config.LLMProviderOpenAI:
		return NewLangChainClient(base)
	case "", config.LLMProviderOpenRouter:
		return NewClient(base, opts...), nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}
