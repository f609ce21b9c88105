package config_test

import (
	"strings"
	"testing"

	"github.com/nkhattar/vaani/internal/config"
)

func TestLoadFromReader_ValidConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":9090"
  log_level: debug
speech:
  provider: google
  language: hi-IN
  credentials_file: /etc/vaani/google.json
database:
  postgres_dsn: "postgres://localhost/vaani"
matching:
  similarity: jaro-winkler
  fuzzy_threshold: 60
  alias_score: 90
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Speech.Provider != config.ProviderGoogle {
		t.Errorf("Provider = %q, want %q", cfg.Speech.Provider, config.ProviderGoogle)
	}
	if cfg.Matching.FuzzyThreshold != 60 {
		t.Errorf("FuzzyThreshold = %d, want 60", cfg.Matching.FuzzyThreshold)
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("{}\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("default ListenAddr = %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("default LogLevel = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Speech.Provider != config.ProviderMock {
		t.Errorf("default Provider = %q, want %q", cfg.Speech.Provider, config.ProviderMock)
	}
	if cfg.Speech.Language != "hi-IN" {
		t.Errorf("default Language = %q, want %q", cfg.Speech.Language, "hi-IN")
	}
	if len(cfg.Languages) != len(config.DefaultLanguages()) {
		t.Errorf("default Languages has %d entries, want %d", len(cfg.Languages), len(config.DefaultLanguages()))
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_address: ":8080"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_WhisperAPIRequiresKey(t *testing.T) {
	t.Parallel()
	yaml := `
speech:
  provider: whisper-api
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for whisper-api without api_key, got nil")
	}
	if !strings.Contains(err.Error(), "api_key") {
		t.Errorf("error should mention api_key, got: %v", err)
	}
}

func TestValidate_FallbackProvider(t *testing.T) {
	t.Parallel()

	yaml := `
speech:
  provider: mock
  fallback_provider: mock
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for fallback_provider equal to provider, got nil")
	}

	yaml = `
speech:
  provider: mock
  fallback_provider: alexa
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown fallback_provider, got nil")
	}

	yaml = `
speech:
  provider: mock
  fallback_provider: whisper-api
  api_key: sk-test
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Speech.FallbackProvider != config.ProviderWhisperAPI {
		t.Errorf("FallbackProvider = %q, want whisper-api", cfg.Speech.FallbackProvider)
	}
}

func TestValidate_MatchingRanges(t *testing.T) {
	t.Parallel()
	yaml := `
matching:
  fuzzy_threshold: 150
  alias_score: -5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range matching values, got nil")
	}
	if !strings.Contains(err.Error(), "fuzzy_threshold") {
		t.Errorf("error should mention fuzzy_threshold, got: %v", err)
	}
	if !strings.Contains(err.Error(), "alias_score") {
		t.Errorf("error should mention alias_score, got: %v", err)
	}
}

func TestValidate_InvalidSimilarity(t *testing.T) {
	t.Parallel()
	yaml := `
matching:
  similarity: soundex
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown similarity algorithm, got nil")
	}
}

func TestValidate_DuplicateLanguageCodes(t *testing.T) {
	t.Parallel()
	yaml := `
speech:
  language: hi-IN
languages:
  - code: hi-IN
    name: Hindi
    native_name: "हिन्दी"
  - code: hi-IN
    name: Hindi again
    native_name: "हिन्दी"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate language codes, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_DefaultLanguageMustBeOffered(t *testing.T) {
	t.Parallel()
	yaml := `
speech:
  language: fr-FR
languages:
  - code: hi-IN
    name: Hindi
    native_name: "हिन्दी"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for default language missing from list, got nil")
	}
	if !strings.Contains(err.Error(), "fr-FR") {
		t.Errorf("error should mention fr-FR, got: %v", err)
	}
}
