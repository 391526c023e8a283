// Command earshot is the main entry point for the earshot speaker
// identification server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/earshot-audio/earshot/internal/app"
	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/gateway"
	"github.com/earshot-audio/earshot/internal/mcpserver"
	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/internal/resilience"
	"github.com/earshot-audio/earshot/pkg/audio/discord"
	"github.com/earshot-audio/earshot/pkg/provider/diarizer"
	"github.com/earshot-audio/earshot/pkg/provider/diarizer/pyannote"
	"github.com/earshot-audio/earshot/pkg/provider/embedder"
	"github.com/earshot-audio/earshot/pkg/provider/embedder/wespeaker"
	"github.com/earshot-audio/earshot/pkg/provider/llm"
	"github.com/earshot-audio/earshot/pkg/provider/llm/anyllm"
	oaillm "github.com/earshot-audio/earshot/pkg/provider/llm/openai"
	"github.com/earshot-audio/earshot/pkg/provider/stt"
	oaistt "github.com/earshot-audio/earshot/pkg/provider/stt/openai"
	"github.com/earshot-audio/earshot/pkg/provider/stt/whisper"
)

// version is overridden at release build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	mcpStdio := flag.Bool("mcp", false, "speak MCP on stdin/stdout instead of serving HTTP")
	flag.Parse()

	// A .env file keeps API keys out of the YAML config. Absent files are fine;
	// the config loader expands ${VAR} references against the environment.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Logs always go to stderr, which keeps stdout clean for MCP stdio mode.
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("earshot starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Must come before app.New so the metrics set binds to the configured
	// meter provider.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "earshot",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Discord capture (optional) ────────────────────────────────────────────
	if cfg.Discord.Enabled() {
		if cfg.Discord.BotToken == "" || cfg.Discord.GuildID == "" {
			slog.Error("discord capture requires bot_token and guild_id alongside channel_id")
			return 1
		}
		session, err := discordgo.New("Bot " + cfg.Discord.BotToken)
		if err != nil {
			slog.Error("failed to create discord session", "err", err)
			return 1
		}
		// The members intent fills the state cache so usernames resolve in
		// join events.
		session.Identify.Intents = discordgo.IntentsGuilds |
			discordgo.IntentsGuildVoiceStates |
			discordgo.IntentsGuildMembers
		if err := session.Open(); err != nil {
			slog.Error("failed to connect to discord", "err", err)
			return 1
		}
		defer session.Close()

		providers.Capture = discord.New(session, cfg.Discord.GuildID)
		slog.Info("discord session connected", "guild_id", cfg.Discord.GuildID)
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	if !*mcpStdio {
		printStartupSummary(cfg)
	}

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Log level and similarity threshold apply without a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.Empty() {
			return
		}
		if d.LogLevelChanged {
			slog.SetDefault(newLogger(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.ThresholdChanged {
			if err := application.Sessions().SetThreshold(d.NewThreshold); err != nil {
				slog.Warn("threshold retune rejected", "err", err)
			}
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	mcpSrv := mcpserver.New(application)

	// ── Serve ─────────────────────────────────────────────────────────────────
	ret := 0
	if *mcpStdio {
		// An agent host spawned this process and owns stdin/stdout. The
		// capture loop still runs when configured; the HTTP gateway does not.
		go func() {
			if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("run error", "err", err)
			}
		}()
		if err := mcpSrv.Run(ctx, &mcpsdk.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("mcp server error", "err", err)
			ret = 1
		}
	} else {
		gw := gateway.New(cfg.Server, application, gateway.WithMCP(mcpSrv.Handler()))

		gwErr := make(chan error, 1)
		go func() { gwErr <- gw.Run(ctx) }()

		appErr := make(chan error, 1)
		go func() { appErr <- application.Run(ctx) }()

		slog.Info("server ready, press Ctrl+C to shut down")

		select {
		case err := <-gwErr:
			if err != nil {
				slog.Error("gateway error", "err", err)
				ret = 1
			}
		case err := <-appErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("run error", "err", err)
				ret = 1
			}
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return ret
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Diarizer ──────────────────────────────────────────────────────────────

	reg.RegisterDiarizer("pyannote", func(entry config.ProviderEntry) (diarizer.Provider, error) {
		var opts []pyannote.Option
		if entry.Model != "" {
			opts = append(opts, pyannote.WithModel(entry.Model))
		}
		if n := optInt(entry.Options, "max_speakers"); n > 0 {
			opts = append(opts, pyannote.WithMaxSpeakers(n))
		}
		return pyannote.New(entry.BaseURL, opts...)
	})

	// ── Embedder ──────────────────────────────────────────────────────────────

	reg.RegisterEmbedder("wespeaker", func(entry config.ProviderEntry) (embedder.Provider, error) {
		var opts []wespeaker.Option
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, wespeaker.WithDimensions(dims))
		}
		return wespeaker.New(entry.BaseURL, entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai uses the native client; the rest go through any-llm. ollama is a
	// local server and takes BaseURL for the address, not an API key.

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates every provider named in cfg using the registry
// and returns them in an [app.Providers] struct. An unknown provider name is
// an error rather than a silent skip; a typo must not quietly disable STT.
// Entries with fallbacks are wrapped in circuit-breaking failover groups.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if entry := cfg.Providers.Diarizer; entry.Name != "" {
		p, err := buildDiarizer(reg, entry)
		if err != nil {
			return nil, fmt.Errorf("create diarizer provider %q: %w", entry.Name, err)
		}
		ps.Diarizer = p
		slog.Info("provider created", "kind", "diarizer", "name", entry.Name, "fallbacks", len(entry.Fallbacks))
	}

	if entry := cfg.Providers.Embedder; entry.Name != "" {
		p, err := buildEmbedder(reg, entry)
		if err != nil {
			return nil, fmt.Errorf("create embedder provider %q: %w", entry.Name, err)
		}
		ps.Embedder = p
		slog.Info("provider created", "kind", "embedder", "name", entry.Name, "fallbacks", len(entry.Fallbacks))
	}

	if entry := cfg.Providers.STT; entry.Name != "" {
		p, err := buildSTT(reg, entry)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "fallbacks", len(entry.Fallbacks))
	}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		p, err := buildLLM(reg, entry)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "fallbacks", len(entry.Fallbacks))
	}

	return ps, nil
}

func buildDiarizer(reg *config.Registry, entry config.ProviderEntry) (diarizer.Provider, error) {
	p, err := reg.CreateDiarizer(entry)
	if err != nil || len(entry.Fallbacks) == 0 {
		return p, err
	}
	group := resilience.NewDiarizerFallback(p, entry.Name, resilience.FallbackConfig{})
	for _, fe := range entry.Fallbacks {
		fp, err := reg.CreateDiarizer(fe)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", fe.Name, err)
		}
		group.AddFallback(fe.Name, fp)
	}
	return group, nil
}

func buildEmbedder(reg *config.Registry, entry config.ProviderEntry) (embedder.Provider, error) {
	p, err := reg.CreateEmbedder(entry)
	if err != nil || len(entry.Fallbacks) == 0 {
		return p, err
	}
	group := resilience.NewEmbedderFallback(p, entry.Name, resilience.FallbackConfig{})
	for _, fe := range entry.Fallbacks {
		fp, err := reg.CreateEmbedder(fe)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", fe.Name, err)
		}
		if err := group.AddFallback(fe.Name, fp); err != nil {
			return nil, fmt.Errorf("fallback %q: %w", fe.Name, err)
		}
	}
	return group, nil
}

func buildSTT(reg *config.Registry, entry config.ProviderEntry) (stt.Transcriber, error) {
	p, err := reg.CreateSTT(entry)
	if err != nil || len(entry.Fallbacks) == 0 {
		return p, err
	}
	group := resilience.NewTranscriberFallback(p, entry.Name, resilience.FallbackConfig{})
	for _, fe := range entry.Fallbacks {
		fp, err := reg.CreateSTT(fe)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", fe.Name, err)
		}
		group.AddFallback(fe.Name, fp)
	}
	return group, nil
}

func buildLLM(reg *config.Registry, entry config.ProviderEntry) (llm.Provider, error) {
	p, err := reg.CreateLLM(entry)
	if err != nil || len(entry.Fallbacks) == 0 {
		return p, err
	}
	group := resilience.NewLLMFallback(p, entry.Name, resilience.FallbackConfig{})
	for _, fe := range entry.Fallbacks {
		fp, err := reg.CreateLLM(fe)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", fe.Name, err)
		}
		group.AddFallback(fe.Name, fp)
	}
	return group, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═════════════════════════════════════════╗")
	fmt.Println("║         earshot startup summary         ║")
	fmt.Println("╠═════════════════════════════════════════╣")
	printSummaryRow("Diarizer", providerLabel(cfg.Providers.Diarizer))
	printSummaryRow("Embedder", providerLabel(cfg.Providers.Embedder))
	printSummaryRow("STT", providerLabel(cfg.Providers.STT))
	printSummaryRow("LLM", providerLabel(cfg.Providers.LLM))

	backend := cfg.Profiles.Backend
	if backend == "" {
		backend = config.StoreMemory
	}
	printSummaryRow("Profile store", string(backend))

	if cfg.Discord.Enabled() {
		printSummaryRow("Discord", "channel "+cfg.Discord.ChannelID)
	} else {
		printSummaryRow("Discord", "(disabled)")
	}
	printSummaryRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═════════════════════════════════════════╝")
}

func printSummaryRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 22 {
		value = value[:21] + "…"
	}
	fmt.Printf("║  %-13s : %-22s ║\n", label, value)
}

func providerLabel(entry config.ProviderEntry) string {
	if entry.Name == "" {
		return ""
	}
	if entry.Model != "" {
		return entry.Name + " / " + entry.Model
	}
	return entry.Name
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optInt extracts an integer value from a provider Options map. The YAML
// decoder delivers whole numbers as int.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	v, ok := opts[key]
	if !ok {
		return 0
	}
	n, ok := v.(int)
	if !ok {
		return 0
	}
	return n
}
