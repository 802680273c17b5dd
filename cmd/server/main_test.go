package main

import (
	"context"
	"testing"

	"github.com/vyuha/sensorfeed/internal/config"
	"github.com/vyuha/sensorfeed/internal/summary"
)

func TestFlagsOverrideOnlyWhenSet(t *testing.T) {
	cfg, err := config.Read("", func(key string) (string, bool) {
		switch key {
		case config.EnvPrefix + "WINDOW_CAPACITY":
			return "120", true
		case config.EnvPrefix + "SOURCE":
			// Incomplete on its own; the flags supply the address.
			return "tcp", true
		}
		return "", false
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	fl, err := parseFlags([]string{"--tcp-addr", "bridge:4000", "--threshold", "5"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	fl.apply(cfg)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Source.Kind != config.SourceTCP || cfg.Source.Address != "bridge:4000" {
		t.Fatalf("unexpected source %+v", cfg.Source)
	}
	if cfg.Summary.Threshold != 5 {
		t.Fatalf("expected threshold 5, got %d", cfg.Summary.Threshold)
	}
	// --window was not given, so the environment value stands.
	if cfg.Window.Capacity != 120 {
		t.Fatalf("expected env capacity 120, got %d", cfg.Window.Capacity)
	}
}

func TestNewSource(t *testing.T) {
	cases := []struct {
		cfg  config.SourceConfig
		name string
	}{
		{config.SourceConfig{Kind: config.SourceSerial, Port: "/dev/ttyUSB0", BaudRate: 9600}, "serial:/dev/ttyUSB0"},
		{config.SourceConfig{Kind: config.SourceTCP, Address: "127.0.0.1:4000"}, "tcp:127.0.0.1:4000"},
		{config.SourceConfig{Kind: config.SourceStdin}, "stdin"},
		{config.SourceConfig{Kind: config.SourceFile, Path: "/tmp/capture.ndjson"}, "file:/tmp/capture.ndjson"},
		{config.SourceConfig{Kind: config.SourceFollow, Path: "/var/log/board.log"}, "follow:/var/log/board.log"},
		{config.SourceConfig{Kind: config.SourceSimulated}, "simulated"},
	}
	for _, tc := range cases {
		src, err := newSource(tc.cfg)
		if err != nil {
			t.Fatalf("%s: %v", tc.cfg.Kind, err)
		}
		if src.Name() != tc.name {
			t.Fatalf("%s: expected name %q, got %q", tc.cfg.Kind, tc.name, src.Name())
		}
	}
	if _, err := newSource(config.SourceConfig{Kind: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestSchedulerSummarizerSelection(t *testing.T) {
	if s := schedulerSummarizer(config.SummaryConfig{}, nil); s != nil {
		t.Fatalf("expected nil summarizer without endpoint or provider, got %T", s)
	}
	s := schedulerSummarizer(config.SummaryConfig{Endpoint: "http://localhost:9000/api/summary"}, nil)
	if _, ok := s.(*summary.Client); !ok {
		t.Fatalf("expected *summary.Client, got %T", s)
	}

	p, err := newProvider(context.Background(), config.AIConfig{Provider: config.ProviderNone})
	if err != nil || p != nil {
		t.Fatalf("provider none: expected nil provider, got %v (err %v)", p, err)
	}
}
