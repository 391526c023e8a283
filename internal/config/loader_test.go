package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/earshot-audio/earshot/internal/config"
)

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_ThresholdOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
recognition:
  similarity_threshold: 1.2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range similarity_threshold, got nil")
	}
	if !strings.Contains(err.Error(), "similarity_threshold") {
		t.Errorf("error should mention similarity_threshold, got: %v", err)
	}
}

func TestValidate_NegativeDurations(t *testing.T) {
	t.Parallel()
	yaml := `
recognition:
  chunk_duration_seconds: -5
  min_segment_duration_seconds: -0.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative durations, got nil")
	}
	if !strings.Contains(err.Error(), "chunk_duration_seconds") {
		t.Errorf("error should mention chunk_duration_seconds, got: %v", err)
	}
	if !strings.Contains(err.Error(), "min_segment_duration_seconds") {
		t.Errorf("error should mention min_segment_duration_seconds, got: %v", err)
	}
}

func TestValidate_InvalidStoreBackend(t *testing.T) {
	t.Parallel()
	yaml := `
profiles:
  backend: redis
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid profiles.backend, got nil")
	}
	if !strings.Contains(err.Error(), "backend") {
		t.Errorf("error should mention backend, got: %v", err)
	}
}

func TestValidate_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()
	yaml := `
profiles:
  backend: postgres
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for postgres backend without DSN, got nil")
	}
	if !strings.Contains(err.Error(), "postgres_dsn") {
		t.Errorf("error should mention postgres_dsn, got: %v", err)
	}
}

func TestValidate_FileBackendRequiresDir(t *testing.T) {
	t.Parallel()
	yaml := `
profiles:
  backend: file
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for file backend without dir, got nil")
	}
	if !strings.Contains(err.Error(), "profiles.dir") {
		t.Errorf("error should mention profiles.dir, got: %v", err)
	}
}

func TestValidate_DiscordRequiresTokenAndGuild(t *testing.T) {
	t.Parallel()
	yaml := `
discord:
  channel_id: "300400"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for discord capture without token, got nil")
	}
	if !strings.Contains(err.Error(), "bot_token") {
		t.Errorf("error should mention bot_token, got: %v", err)
	}
	if !strings.Contains(err.Error(), "guild_id") {
		t.Errorf("error should mention guild_id, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
recognition:
  similarity_threshold: -1
profiles:
  backend: file
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected joined validation errors, got nil")
	}
	for _, want := range []string{"log_level", "similarity_threshold", "profiles.dir"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %s, got: %v", want, err)
		}
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
recognition:
  similarity_treshold: 0.8
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for misspelled field, got nil")
	}
}

func TestLoadFromReader_EnvExpansion(t *testing.T) {
	t.Setenv("EARSHOT_TEST_TOKEN", "tok-from-env")
	t.Setenv("EARSHOT_TEST_DSN", "postgres://env/earshot")

	yaml := `
profiles:
  backend: postgres
  postgres_dsn: ${EARSHOT_TEST_DSN}
discord:
  bot_token: ${EARSHOT_TEST_TOKEN}
  guild_id: "1"
  channel_id: "2"
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Profiles.PostgresDSN != "postgres://env/earshot" {
		t.Errorf("postgres_dsn: got %q, want the env value", cfg.Profiles.PostgresDSN)
	}
	if cfg.Discord.BotToken != "tok-from-env" {
		t.Errorf("bot_token: got %q, want the env value", cfg.Discord.BotToken)
	}
}

func TestLoadFromReader_EnvEscape(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
profiles:
  backend: file
  dir: /var/lib/earshot/$$weird
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Profiles.Dir != "/var/lib/earshot/$weird" {
		t.Errorf("dir: got %q, want a literal dollar", cfg.Profiles.Dir)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "earshot.yaml")
	content := `
server:
  listen_addr: ":9090"
  log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("loaded config: %+v", cfg.Server)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	// Every shipped provider constructor must be reachable from the name
	// table, and each capability the registry exposes must be listed.
	for _, kind := range []string{"diarizer", "embedder", "stt", "llm"} {
		names, ok := config.ValidProviderNames[kind]
		if !ok || len(names) == 0 {
			t.Errorf("no known provider names for %q", kind)
		}
	}
	if !slices.Contains(config.ValidProviderNames["stt"], "whisper-native") {
		t.Error("stt names should include whisper-native")
	}
}
