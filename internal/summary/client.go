package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vyuha/sensorfeed/internal/ai"
	"github.com/vyuha/sensorfeed/internal/sample"
)

// Request is the body of POST /api/summary.
type Request struct {
	Samples []sample.Sample `json:"samples"`
}

// Response is a successful answer from the summary endpoint.
type Response struct {
	Text string `json:"text"`
}

// ErrorResponse is an unsuccessful answer from the summary endpoint.
type ErrorResponse struct {
	Message string `json:"message"`
}

// ErrNoText is returned when the endpoint answers 2xx without text.
var ErrNoText = errors.New("summary: response has no text")

// ---------------------------------------------------------------------------
// Client calls a remote summary endpoint.
// ---------------------------------------------------------------------------

type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client for endpoint (a full URL ending in
// /api/summary or equivalent).
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Summarize implements Summarizer.
func (c *Client) Summarize(ctx context.Context, samples []sample.Sample) (string, error) {
	if samples == nil {
		samples = []sample.Sample{}
	}
	body, err := json.Marshal(Request{Samples: samples})
	if err != nil {
		return "", fmt.Errorf("summary: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("summary: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("summary: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("summary: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e ErrorResponse
		if json.Unmarshal(raw, &e) == nil && e.Message != "" {
			return "", fmt.Errorf("summary: status %d: %s", resp.StatusCode, e.Message)
		}
		return "", fmt.Errorf("summary: status %d", resp.StatusCode)
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("summary: decode response: %w", err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", ErrNoText
	}
	return out.Text, nil
}

// ---------------------------------------------------------------------------
// ProviderSummarizer asks an AI provider directly.
// ---------------------------------------------------------------------------

type ProviderSummarizer struct {
	provider ai.Provider
	opts     ai.GenerateOptions
}

// NewProviderSummarizer wraps provider with the default generate options.
func NewProviderSummarizer(provider ai.Provider) *ProviderSummarizer {
	return &ProviderSummarizer{provider: provider, opts: ai.DefaultGenerateOptions()}
}

// Summarize implements Summarizer.
func (p *ProviderSummarizer) Summarize(ctx context.Context, samples []sample.Sample) (string, error) {
	if samples == nil {
		samples = []sample.Sample{}
	}
	data, err := json.Marshal(samples)
	if err != nil {
		return "", fmt.Errorf("summary: marshal samples: %w", err)
	}
	msg, err := p.provider.Generate(ctx, ai.SummaryPrompt(data), p.opts)
	if err != nil {
		return "", fmt.Errorf("summary: %s: %w", p.provider.Name(), err)
	}
	return strings.TrimSpace(msg.Content), nil
}
