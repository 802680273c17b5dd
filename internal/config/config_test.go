package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func noEnv(string) (string, bool) { return "", false }

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sensorfeed.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
source:
  kind: serial
  port: /dev/ttyUSB0
summary:
  period: 30s
`)
	cfg, err := LoadWithEnv(path, noEnv)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Source.BaudRate != 9600 {
		t.Fatalf("expected default baud 9600, got %d", cfg.Source.BaudRate)
	}
	if cfg.Window.Capacity != 60 {
		t.Fatalf("expected default capacity 60, got %d", cfg.Window.Capacity)
	}
	if cfg.Summary.Threshold != 10 {
		t.Fatalf("expected default threshold 10, got %d", cfg.Summary.Threshold)
	}
	if cfg.Summary.Period != 30*time.Second {
		t.Fatalf("expected period 30s from file, got %s", cfg.Summary.Period)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected default addr :8080, got %s", cfg.Server.Addr)
	}
	if cfg.AI.Provider != "openai" || !strings.Contains(cfg.AI.OpenAIURL, "chat/completions") {
		t.Fatalf("unexpected ai defaults %+v", cfg.AI)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := LoadWithEnv("", noEnv)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Source.Kind != SourceSimulated {
		t.Fatalf("expected simulated source by default, got %s", cfg.Source.Kind)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
source:
  kind: simulated
window:
  capacity: 30
`)
	env := map[string]string{
		"SENSORFEED_SOURCE":          "tcp",
		"SENSORFEED_TCP_ADDR":        "127.0.0.1:7000",
		"SENSORFEED_WINDOW_CAPACITY": "120",
		"SENSORFEED_SUMMARY_PERIOD":  "2m",
		"SENSORFEED_LOG_LEVEL":       "debug",
	}
	cfg, err := LoadWithEnv(path, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Source.Kind != SourceTCP || cfg.Source.Address != "127.0.0.1:7000" {
		t.Fatalf("unexpected source %+v", cfg.Source)
	}
	if cfg.Window.Capacity != 120 {
		t.Fatalf("expected env capacity 120, got %d", cfg.Window.Capacity)
	}
	if cfg.Summary.Period != 2*time.Minute {
		t.Fatalf("expected env period 2m, got %s", cfg.Summary.Period)
	}
}

func TestBadEnvValue(t *testing.T) {
	_, err := LoadWithEnv("", func(k string) (string, bool) {
		if k == "SENSORFEED_WINDOW_CAPACITY" {
			return "lots", true
		}
		return "", false
	})
	if err == nil || !strings.Contains(err.Error(), "SENSORFEED_WINDOW_CAPACITY") {
		t.Fatalf("expected env parse error, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"serial without port":     "source:\n  kind: serial\n",
		"tcp without address":     "source:\n  kind: tcp\n",
		"file without path":       "source:\n  kind: file\n",
		"follow without path":     "source:\n  kind: follow\n",
		"unknown kind":            "source:\n  kind: bluetooth\n",
		"threshold over capacity": "window:\n  capacity: 5\nsummary:\n  threshold: 10\n",
		"unknown provider":        "ai:\n  provider: gemini\n",
		"unknown field":           "window:\n  size: 5\n",
		"bad level":               "log:\n  level: loud\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadWithEnv(writeConfig(t, data), noEnv); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := LoadWithEnv(filepath.Join(t.TempDir(), "nope.yaml"), noEnv); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestReadDefersValidation(t *testing.T) {
	cfg, err := Read(writeConfig(t, "source:\n  kind: serial\n"), noEnv)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error before the port is set")
	}
	cfg.Source.Port = "/dev/ttyACM0"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate after overlay: %v", err)
	}
}
