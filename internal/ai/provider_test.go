package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		cfg     ProviderConfig
		wantErr bool
	}{
		{ProviderConfig{Kind: ProviderBedrock, Region: "us-east-1"}, false},
		{ProviderConfig{Kind: ProviderBedrock}, true},
		{ProviderConfig{Kind: ProviderOllama, OllamaURL: "http://localhost:11434"}, false},
		{ProviderConfig{Kind: ProviderOllama}, true},
		{ProviderConfig{Kind: ProviderOpenAI, OpenAIURL: DefaultOpenAIURL}, false},
		{ProviderConfig{Kind: ProviderOpenAI}, true},
		{ProviderConfig{Kind: "gemini"}, true},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("Validate(%+v) error=%v, wantErr=%v", tc.cfg, err, tc.wantErr)
		}
	}
}

func TestSummaryPrompt(t *testing.T) {
	msgs := SummaryPrompt([]byte(`[{"timestamp":1,"data":{"t":1}}]`))
	if len(msgs) != 2 {
		t.Fatalf("expected system + user, got %d messages", len(msgs))
	}
	if msgs[0].Role != RoleSystem || !strings.Contains(msgs[0].Content, "data analyst") {
		t.Fatalf("unexpected system message %+v", msgs[0])
	}
	if !strings.HasSuffix(msgs[1].Content, `{"t":1}}]`) || !strings.Contains(msgs[1].Content, "60 words") {
		t.Fatalf("unexpected user message %q", msgs[1].Content)
	}
}

func TestOpenAIGenerate(t *testing.T) {
	var got openaiRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Temperature steady."},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p, err := NewProvider(context.Background(), ProviderConfig{Kind: ProviderOpenAI, OpenAIURL: srv.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	defer p.Close()

	opts := DefaultGenerateOptions()
	opts.StopWords = []string{"\n\n"}
	msg, err := p.Generate(context.Background(), SummaryPrompt([]byte("[]")), opts)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got.Stop) != 1 || got.Stop[0] != "\n\n" {
		t.Fatalf("expected stop words forwarded, got %q", got.Stop)
	}
	if msg.Content != "Temperature steady." {
		t.Fatalf("unexpected content %q", msg.Content)
	}
	if got.Model != defaultOpenAIModel || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected wire request %+v", got)
	}
	if auth != "Bearer k" {
		t.Fatalf("expected bearer auth, got %q", auth)
	}
}

func TestOpenAIGenerateErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		},
		"empty": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			p, _ := newOpenAIProvider(ProviderConfig{OpenAIURL: srv.URL})
			if _, err := p.Generate(context.Background(), nil, GenerateOptions{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("expected non-streaming request")
		}
		if req.Options == nil || len(req.Options.Stop) != 1 || req.Options.Stop[0] != "END" {
			t.Errorf("expected stop words in options, got %+v", req.Options)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"Humidity rising."},"done":true}`))
	}))
	defer srv.Close()

	p, err := NewProvider(context.Background(), ProviderConfig{Kind: ProviderOllama, OllamaURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	msg, err := p.Generate(context.Background(), SummaryPrompt([]byte("[]")), GenerateOptions{StopWords: []string{"END"}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if msg.Content != "Humidity rising." {
		t.Fatalf("unexpected content %q", msg.Content)
	}
}

type fakeInvoker struct {
	body []byte
	err  error
	req  *bedrockruntime.InvokeModelInput
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.req = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func TestBedrockGenerate(t *testing.T) {
	inv := &fakeInvoker{body: []byte(`{"content":[{"type":"text","text":"Light "},{"type":"text","text":"dropped."}],"stop_reason":"end_turn"}`)}
	p := &bedrockProvider{client: inv, defaultModel: defaultBedrockModel}

	msg, err := p.Generate(context.Background(), SummaryPrompt([]byte("[]")), GenerateOptions{StopWords: []string{"Human:"}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if msg.Content != "Light dropped." {
		t.Fatalf("unexpected content %q", msg.Content)
	}

	var req anthropicRequest
	if err := json.Unmarshal(inv.req.Body, &req); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if req.System == "" || len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("system prompt should be lifted out of messages: %+v", req)
	}
	if len(req.StopSequences) != 1 || req.StopSequences[0] != "Human:" {
		t.Fatalf("expected stop sequences, got %q", req.StopSequences)
	}
	if *inv.req.ModelId != defaultBedrockModel {
		t.Fatalf("unexpected model %q", *inv.req.ModelId)
	}
}

func TestBedrockEmptyCompletion(t *testing.T) {
	p := &bedrockProvider{client: &fakeInvoker{body: []byte(`{"content":[],"stop_reason":"max_tokens"}`)}}
	_, err := p.Generate(context.Background(), nil, GenerateOptions{})
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}
