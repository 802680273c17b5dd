package summary

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vyuha/sensorfeed/internal/ai"
	"github.com/vyuha/sensorfeed/internal/sample"
)

func TestFallback(t *testing.T) {
	decode := func(lines ...string) []sample.Sample {
		out := make([]sample.Sample, 0, len(lines))
		for i, l := range lines {
			s, err := sample.Decode(l, int64(i))
			if err != nil {
				t.Fatalf("decode %q: %v", l, err)
			}
			out = append(out, s)
		}
		return out
	}

	cases := []struct {
		name    string
		samples []sample.Sample
		want    string
	}{
		{"empty", nil, "No data available for analysis."},
		{"no numeric", decode(`{"status":"ok","on":true}`), "No numeric data available for analysis."},
		{
			"single field",
			decode(`{"temp":10}`, `{"temp":20}`),
			"Data summary: Temp: avg 15.0, range 10.0-20.0.",
		},
		{
			"key order and mixed types",
			decode(`{"hum":40,"label":"a","temp":21.5}`, `{"hum":"n/a","temp":22.5}`, `{"hum":50,"temp":23}`),
			"Data summary: Hum: avg 45.0, range 40.0-50.0. Temp: avg 22.3, range 21.5-23.0.",
		},
		{
			"fields beyond the first sample ignored",
			decode(`{"a":1}`, `{"a":3,"b":100}`),
			"Data summary: A: avg 2.0, range 1.0-3.0.",
		},
		{
			"out of range number only",
			decode(`{"t":1e400}`, `{"t":1e400}`),
			"No numeric data available for analysis.",
		},
		{
			"out of range number skipped",
			decode(`{"t":1e400,"v":2}`, `{"t":1,"v":4}`),
			"Data summary: V: avg 3.0, range 2.0-4.0.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Fallback(tc.samples); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestStatusText(t *testing.T) {
	if got := StatusText(false, nil); got != TextDisconnected {
		t.Fatalf("got %q", got)
	}
	if got := StatusText(true, nil); got != TextCollecting {
		t.Fatalf("got %q", got)
	}
	if got := StatusText(false, &Summary{Text: "done"}); got != "done" {
		t.Fatalf("got %q", got)
	}
}

func TestClientSummarize(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(Response{Text: "Readings stable."})
	}))
	defer srv.Close()

	s, _ := sample.Decode(`{"temp":21}`, 1700000000000)
	text, err := NewClient(srv.URL, 0).Summarize(context.Background(), []sample.Sample{s})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if text != "Readings stable." {
		t.Fatalf("unexpected text %q", text)
	}
	if len(got.Samples) != 1 || got.Samples[0].Timestamp != 1700000000000 {
		t.Fatalf("unexpected request %+v", got)
	}
	if v, ok := got.Samples[0].Numeric("temp"); !ok || v != 21 {
		t.Fatalf("sample data lost in transit: %v", got.Samples[0].Data.Keys())
	}
}

func TestClientErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		check   func(error) bool
	}{
		{
			"error status with message",
			func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"message":"Invalid samples data"}`))
			},
			func(err error) bool { return strings.Contains(err.Error(), "Invalid samples data") },
		},
		{
			"error status without body",
			func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			func(err error) bool { return strings.Contains(err.Error(), "502") },
		},
		{
			"missing text",
			func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"other":1}`)) },
			func(err error) bool { return errors.Is(err, ErrNoText) },
		},
		{
			"malformed body",
			func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`not json`)) },
			func(err error) bool { return strings.Contains(err.Error(), "decode response") },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			_, err := NewClient(srv.URL, 0).Summarize(context.Background(), nil)
			if err == nil || !tc.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

type stubProvider struct {
	msgs []ai.Message
	text string
	err  error
}

func (p *stubProvider) Generate(_ context.Context, msgs []ai.Message, _ ai.GenerateOptions) (*ai.Message, error) {
	p.msgs = msgs
	if p.err != nil {
		return nil, p.err
	}
	return &ai.Message{Role: ai.RoleAssistant, Content: p.text}, nil
}
func (p *stubProvider) Name() string { return "stub" }
func (p *stubProvider) Close() error { return nil }

func TestProviderSummarizer(t *testing.T) {
	p := &stubProvider{text: "  Temperature is rising.\n"}
	s, _ := sample.Decode(`{"temp":21}`, 5)

	text, err := NewProviderSummarizer(p).Summarize(context.Background(), []sample.Sample{s})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if text != "Temperature is rising." {
		t.Fatalf("expected trimmed text, got %q", text)
	}
	if len(p.msgs) != 2 || !strings.Contains(p.msgs[1].Content, `{"timestamp":5,"data":{"temp":21}}`) {
		t.Fatalf("prompt does not carry the samples: %+v", p.msgs)
	}

	p.err = errors.New("throttled")
	if _, err := NewProviderSummarizer(p).Summarize(context.Background(), nil); err == nil {
		t.Fatal("expected provider error")
	}
}
