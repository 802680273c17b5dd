package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultOpenAIURL is a free, keyless chat-completions endpoint.
	DefaultOpenAIURL   = "https://ai.hackclub.com/chat/completions"
	defaultOpenAIModel = "gpt-3.5-turbo"
	openAITimeout      = 30 * time.Second
)

// ---------------------------------------------------------------------------
// openAIProvider speaks the OpenAI chat completions wire format. Any
// compatible server works (OpenAI, OpenRouter, vLLM, llama.cpp).
// ---------------------------------------------------------------------------

type openAIProvider struct {
	url          string
	apiKey       string
	httpClient   *http.Client
	defaultModel string
}

func newOpenAIProvider(cfg ProviderConfig) (*openAIProvider, error) {
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = openAITimeout
	}
	return &openAIProvider{
		url:          cfg.OpenAIURL,
		apiKey:       cfg.APIKey,
		httpClient:   &http.Client{Timeout: timeout},
		defaultModel: model,
	}, nil
}

// Name implements Provider.
func (p *openAIProvider) Name() string { return "openai" }

// Close implements Provider.
func (p *openAIProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
}

// Generate implements Provider.
func (p *openAIProvider) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*Message, error) {
	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}

	wire := openaiRequest{
		Model:       model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Stop:        opts.StopWords,
	}
	for _, m := range messages {
		wire.Messages = append(wire.Messages, openaiMessage{Role: string(m.Role), Content: m.Content})
	}

	var headers map[string]string
	if p.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + p.apiKey}
	}

	var resp openaiResponse
	if err := postJSON(ctx, p.httpClient, p.url, headers, wire, &resp); err != nil {
		return nil, fmt.Errorf("ai/openai: chat completions: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("ai/openai: %w", ErrEmptyCompletion)
	}

	return &Message{Role: RoleAssistant, Content: resp.Choices[0].Message.Content}, nil
}
