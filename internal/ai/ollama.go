package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaModel = "llama3"
	ollamaTimeout      = 120 * time.Second
)

// ---------------------------------------------------------------------------
// ollamaProvider calls the local Ollama HTTP API.
// ---------------------------------------------------------------------------

type ollamaProvider struct {
	baseURL      string
	httpClient   *http.Client
	defaultModel string
}

func newOllamaProvider(cfg ProviderConfig) (*ollamaProvider, error) {
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = ollamaTimeout
	}
	return &ollamaProvider{
		baseURL:      strings.TrimRight(cfg.OllamaURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		defaultModel: model,
	}, nil
}

// Name implements Provider.
func (o *ollamaProvider) Name() string { return "ollama" }

// Close implements Provider.
func (o *ollamaProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// ---------------------------------------------------------------------------
// Generate: POST /api/chat (non-streaming)
// ---------------------------------------------------------------------------

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  *ollamaOptions      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

// Generate implements Provider.
func (o *ollamaProvider) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*Message, error) {
	model := opts.Model
	if model == "" {
		model = o.defaultModel
	}

	msgs := make([]ollamaChatMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, ollamaChatMessage{Role: string(m.Role), Content: m.Content})
	}

	reqBody := ollamaChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   false,
		Options: &ollamaOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
			Stop:        opts.StopWords,
		},
	}

	var resp ollamaChatResponse
	if err := postJSON(ctx, o.httpClient, o.baseURL+"/api/chat", nil, reqBody, &resp); err != nil {
		return nil, fmt.Errorf("ai/ollama: chat: %w", err)
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return nil, fmt.Errorf("ai/ollama: %w", ErrEmptyCompletion)
	}

	return &Message{Role: RoleAssistant, Content: resp.Message.Content}, nil
}
