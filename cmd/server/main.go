package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/vyuha/sensorfeed/internal/ai"
	"github.com/vyuha/sensorfeed/internal/api"
	"github.com/vyuha/sensorfeed/internal/config"
	"github.com/vyuha/sensorfeed/internal/metrics"
	"github.com/vyuha/sensorfeed/internal/monitor"
	"github.com/vyuha/sensorfeed/internal/storage"
	"github.com/vyuha/sensorfeed/internal/stream"
	"github.com/vyuha/sensorfeed/internal/summary"
)

// initLogger configures the global slog default with JSON output.
func initLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	slog.SetDefault(slog.New(h))
}

// flags holds the command line. Only flags the user actually set
// override the file and environment.
type flags struct {
	set *pflag.FlagSet

	configPath string
	listPorts  bool

	addr        string
	source      string
	port        string
	baud        int
	address     string
	path        string
	capacity    int
	threshold   int
	endpoint    string
	aiProvider  string
	aiRegion    string
	aiModel     string
	ollamaURL   string
	openaiURL   string
	dbPath      string
	staticDir   string
	logLevel    string
	autoConnect bool
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{set: pflag.NewFlagSet("sensorfeed", pflag.ContinueOnError)}
	fs := f.set
	fs.StringVarP(&f.configPath, "config", "c", "", "Path to a YAML config file")
	fs.BoolVar(&f.listPorts, "list-ports", false, "Print available serial ports and exit")

	fs.StringVar(&f.addr, "addr", ":8080", "HTTP listen address")
	fs.StringVar(&f.source, "source", config.SourceSimulated, "Byte source: serial|tcp|stdin|file|follow|simulated")
	fs.StringVarP(&f.port, "port", "p", "", "Serial port device (serial source)")
	fs.IntVar(&f.baud, "baud", 9600, "Serial baud rate")
	fs.StringVar(&f.address, "tcp-addr", "", "host:port of a serial-over-TCP bridge (tcp source)")
	fs.StringVar(&f.path, "file", "", "File or named pipe to read (file and follow sources)")
	fs.IntVar(&f.capacity, "window", 60, "Number of samples kept in the window")
	fs.IntVar(&f.threshold, "threshold", 10, "Samples required before summarizing")
	fs.StringVar(&f.endpoint, "summary-endpoint", "", "Remote summary endpoint (empty = use the AI provider directly)")
	fs.StringVar(&f.aiProvider, "ai-provider", "openai", "AI provider: openai|ollama|bedrock|none")
	fs.StringVar(&f.aiRegion, "ai-region", "us-east-1", "AWS region for Bedrock provider")
	fs.StringVar(&f.aiModel, "ai-model", "", "LLM model ID (provider-specific)")
	fs.StringVar(&f.ollamaURL, "ollama-url", "http://localhost:11434", "Ollama API URL")
	fs.StringVar(&f.openaiURL, "openai-url", ai.DefaultOpenAIURL, "OpenAI-compatible chat completions URL")
	fs.StringVar(&f.dbPath, "db-path", "", "SQLite file for summary history (empty = disabled)")
	fs.StringVar(&f.staticDir, "static-dir", "", "Dashboard build to serve at /")
	fs.StringVar(&f.logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	fs.BoolVar(&f.autoConnect, "connect", false, "Connect to the source at startup")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// apply overlays explicitly set flags onto cfg.
func (f *flags) apply(cfg *config.Config) {
	str := func(name string, dst *string, v string) {
		if f.set.Changed(name) {
			*dst = v
		}
	}
	num := func(name string, dst *int, v int) {
		if f.set.Changed(name) {
			*dst = v
		}
	}
	str("addr", &cfg.Server.Addr, f.addr)
	str("source", &cfg.Source.Kind, f.source)
	str("port", &cfg.Source.Port, f.port)
	num("baud", &cfg.Source.BaudRate, f.baud)
	str("tcp-addr", &cfg.Source.Address, f.address)
	str("file", &cfg.Source.Path, f.path)
	num("window", &cfg.Window.Capacity, f.capacity)
	num("threshold", &cfg.Summary.Threshold, f.threshold)
	str("summary-endpoint", &cfg.Summary.Endpoint, f.endpoint)
	str("ai-provider", &cfg.AI.Provider, f.aiProvider)
	str("ai-region", &cfg.AI.Region, f.aiRegion)
	str("ai-model", &cfg.AI.Model, f.aiModel)
	str("ollama-url", &cfg.AI.OllamaURL, f.ollamaURL)
	str("openai-url", &cfg.AI.OpenAIURL, f.openaiURL)
	str("db-path", &cfg.Storage.Path, f.dbPath)
	str("static-dir", &cfg.Server.StaticDir, f.staticDir)
	str("log-level", &cfg.Log.Level, f.logLevel)
	if f.set.Changed("connect") {
		cfg.Source.AutoConnect = f.autoConnect
	}
}

// newSource builds the configured byte source.
func newSource(cfg config.SourceConfig) (stream.Source, error) {
	switch cfg.Kind {
	case config.SourceSerial:
		return stream.NewSerialSource(cfg.Port, cfg.BaudRate), nil
	case config.SourceTCP:
		return &stream.TCPSource{Address: cfg.Address}, nil
	case config.SourceStdin:
		return stream.StdinSource(), nil
	case config.SourceFile:
		return stream.FileSource(cfg.Path), nil
	case config.SourceFollow:
		return &stream.FollowSource{Path: cfg.Path, FromStart: cfg.FromStart}, nil
	case config.SourceSimulated:
		return &stream.SimulatedSource{Interval: cfg.Interval, Seed: cfg.Seed}, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// newProvider builds the AI provider, or returns nil when disabled.
func newProvider(ctx context.Context, cfg config.AIConfig) (ai.Provider, error) {
	if cfg.Provider == config.ProviderNone {
		return nil, nil
	}
	return ai.NewProvider(ctx, ai.ProviderConfig{
		Kind:      ai.ProviderKind(cfg.Provider),
		Region:    cfg.Region,
		Model:     cfg.Model,
		Timeout:   cfg.Timeout,
		OllamaURL: cfg.OllamaURL,
		OpenAIURL: cfg.OpenAIURL,
		APIKey:    cfg.APIKey(),
	})
}

// schedulerSummarizer picks what the background scheduler calls: a
// remote endpoint when configured, else the provider, else nothing
// (local fallback summaries).
func schedulerSummarizer(cfg config.SummaryConfig, provider ai.Provider) summary.Summarizer {
	switch {
	case cfg.Endpoint != "":
		return summary.NewClient(cfg.Endpoint, cfg.Timeout)
	case provider != nil:
		return summary.NewProviderSummarizer(provider)
	default:
		return nil
	}
}

func main() {
	// ---- Flags and config ------------------------------------------------
	fl, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("flags: %v", err)
	}

	if fl.listPorts {
		ports, err := stream.ListSerialPorts()
		if err != nil {
			log.Fatalf("list serial ports: %v", err)
		}
		if len(ports) == 0 {
			fmt.Println("no serial ports found")
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := config.Read(fl.configPath, os.LookupEnv)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	fl.apply(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	initLogger(cfg.Log.Level)
	ctx := context.Background()

	// ---- Source ----------------------------------------------------------
	src, err := newSource(cfg.Source)
	if err != nil {
		log.Fatalf("failed to build source: %v", err)
	}

	// ---- Storage (optional) ----------------------------------------------
	var store *storage.Storage
	var history monitor.History
	if cfg.Storage.Path != "" {
		store, err = storage.New(cfg.Storage.Path)
		if err != nil {
			log.Fatalf("failed to initialise storage: %v", err)
		}
		history = store
	}

	// ---- AI Provider (optional) ------------------------------------------
	provider, err := newProvider(ctx, cfg.AI)
	if err != nil {
		slog.Warn("AI provider init failed, summaries will use the local fallback", "error", err)
		provider = nil
	}
	var endpointSummarizer summary.Summarizer
	if provider != nil {
		slog.Info("AI provider ready", "provider", provider.Name())
		endpointSummarizer = summary.NewProviderSummarizer(provider)
	}

	// ---- Metrics, SSE, monitor -------------------------------------------
	met := metrics.New()
	sse := api.NewSSEBroadcaster(met)

	mon := monitor.New(monitor.Options{
		Source:         src,
		Capacity:       cfg.Window.Capacity,
		MaxLineBytes:   cfg.Source.MaxLineBytes,
		Threshold:      cfg.Summary.Threshold,
		Period:         cfg.Summary.Period,
		SummaryTimeout: cfg.Summary.Timeout,
		Summarizer:     schedulerSummarizer(cfg.Summary, provider),
		Metrics:        met,
		History:        history,
		Events:         api.NewMonitorBroadcaster(sse),
	})

	// ---- HTTP Server -----------------------------------------------------
	srv := api.NewServer(mon, sse, api.Options{
		Summarizer:   endpointSummarizer,
		Metrics:      met,
		SummaryRPS:   cfg.Server.SummaryRPS,
		SummaryBurst: cfg.Server.SummaryBurst,
		StaticDir:    cfg.Server.StaticDir,
	})
	srv.RegisterRoutes()

	// ---- Startup banner --------------------------------------------------
	aiStatus := "local fallback"
	if provider != nil {
		aiStatus = provider.Name()
	}
	if cfg.Summary.Endpoint != "" {
		aiStatus = cfg.Summary.Endpoint
	}
	historyStatus := "disabled"
	if store != nil {
		historyStatus = cfg.Storage.Path
	}
	banner := fmt.Sprintf(`
═══════════════════════════════
 SENSORFEED
 Addr:    %s
 Source:  %s
 Window:  %d samples
 Summary: %s
 History: %s
═══════════════════════════════`, cfg.Server.Addr, src.Name(), cfg.Window.Capacity, aiStatus, historyStatus)
	fmt.Println(banner)

	slog.Info("sensorfeed starting",
		"addr", cfg.Server.Addr,
		"source", src.Name(),
		"window", cfg.Window.Capacity,
		"threshold", cfg.Summary.Threshold,
		"period", cfg.Summary.Period,
		"summarizer", aiStatus,
		"history", historyStatus,
	)

	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	if cfg.Source.AutoConnect {
		if _, err := mon.Connect(ctx); err != nil {
			slog.Error("auto-connect failed", "source", src.Name(), "error", err)
		}
	}

	// ---- Graceful shutdown -----------------------------------------------
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	mon.Close()

	if provider != nil {
		provider.Close()
	}
	if store != nil {
		if err := store.Close(); err != nil {
			slog.Error("storage close error", "error", err)
		}
	}

	slog.Info("sensorfeed shutdown complete")
}
