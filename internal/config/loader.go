package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per capability.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"diarizer": {"pyannote"},
	"embedder": {"wespeaker"},
	"stt":      {"whisper", "whisper-native", "openai"},
	"llm":      {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Environment references in the file are expanded first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data)
}

// parse expands environment references, decodes the YAML strictly (unknown
// keys are rejected) and validates the result.
func parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(expandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// An empty file is a valid all-defaults config.
			return cfg, nil
		}
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv substitutes ${VAR} and $VAR references with environment values
// so secrets like bot tokens and DSN passwords can stay out of the file.
// Unset variables expand to the empty string; $$ yields a literal dollar.
func expandEnv(data []byte) []byte {
	return []byte(os.Expand(string(data), func(key string) string {
		if key == "$" {
			return "$"
		}
		return os.Getenv(key)
	}))
}

// Validate checks that cfg contains a coherent set of values. Hard failures
// are returned as a joined error listing everything found; recoverable
// oddities are logged as warnings.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
		}
	}

	// Recognition knobs
	rec := cfg.Recognition
	if rec.SimilarityThreshold < 0 || rec.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("recognition.similarity_threshold %v is out of range [0, 1]", rec.SimilarityThreshold))
	}
	if rec.SilenceRMSThreshold < 0 {
		errs = append(errs, fmt.Errorf("recognition.silence_rms_threshold %v must not be negative", rec.SilenceRMSThreshold))
	}
	if rec.ChunkDurationSeconds < 0 {
		errs = append(errs, fmt.Errorf("recognition.chunk_duration_seconds %v must not be negative", rec.ChunkDurationSeconds))
	}
	if rec.MinSegmentDurationSeconds < 0 {
		errs = append(errs, fmt.Errorf("recognition.min_segment_duration_seconds %v must not be negative", rec.MinSegmentDurationSeconds))
	}
	if rec.MinEnrollmentDurationSeconds < 0 {
		errs = append(errs, fmt.Errorf("recognition.min_enrollment_duration_seconds %v must not be negative", rec.MinEnrollmentDurationSeconds))
	}
	if rec.EmbedParallelism < 0 {
		errs = append(errs, fmt.Errorf("recognition.embed_parallelism %d must not be negative", rec.EmbedParallelism))
	}
	if rec.MinSegmentDuration() > rec.ChunkDuration() {
		slog.Warn("recognition.min_segment_duration_seconds exceeds chunk_duration_seconds; every segment will be reported as low confidence",
			"min_segment", rec.MinSegmentDuration(),
			"chunk", rec.ChunkDuration(),
		)
	}

	// Provider name validation — warn for unknown provider names, fallbacks
	// included.
	for kind, entry := range map[string]ProviderEntry{
		"diarizer": cfg.Providers.Diarizer,
		"embedder": cfg.Providers.Embedder,
		"stt":      cfg.Providers.STT,
		"llm":      cfg.Providers.LLM,
	} {
		validateProviderName(kind, entry.Name)
		for _, fb := range entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks entries need a name", kind))
				continue
			}
			validateProviderName(kind, fb.Name)
		}
	}

	// Recognition needs both halves of the pipeline.
	if cfg.Providers.Diarizer.Name == "" {
		slog.Warn("providers.diarizer is not configured; recognition sessions cannot start")
	}
	if cfg.Providers.Embedder.Name == "" {
		slog.Warn("providers.embedder is not configured; recognition sessions and enrollment cannot work")
	}

	// Profile store
	if cfg.Profiles.Backend != "" && !cfg.Profiles.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("profiles.backend %q is invalid; valid values: memory, file, postgres", cfg.Profiles.Backend))
	}
	if cfg.Profiles.Backend == StoreFile && cfg.Profiles.Dir == "" {
		errs = append(errs, fmt.Errorf("profiles.dir is required when profiles.backend is file"))
	}
	if cfg.Profiles.Backend == StorePostgres {
		if cfg.Profiles.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("profiles.postgres_dsn is required when profiles.backend is postgres"))
		}
		if cfg.Profiles.EmbeddingDimensions <= 0 {
			slog.Warn("profiles.embedding_dimensions is not set; the embedder's reported dimensions will be used for the schema")
		}
	}
	if cfg.Profiles.Backend == StoreMemory || cfg.Profiles.Backend == "" {
		if cfg.Profiles.Dir != "" || cfg.Profiles.PostgresDSN != "" {
			slog.Warn("profiles.dir and profiles.postgres_dsn are ignored by the memory backend")
		}
	}

	// Discord capture
	if cfg.Discord.Enabled() {
		if cfg.Discord.BotToken == "" {
			errs = append(errs, fmt.Errorf("discord.bot_token is required when discord.channel_id is set"))
		}
		if cfg.Discord.GuildID == "" {
			errs = append(errs, fmt.Errorf("discord.guild_id is required when discord.channel_id is set"))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
