package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills the zero-valued fields of cfg that have a sensible
// default. Called by [LoadFromReader] before validation.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Speech.Provider == "" {
		cfg.Speech.Provider = ProviderMock
	}
	if cfg.Speech.Language == "" {
		cfg.Speech.Language = "hi-IN"
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = DefaultLanguages()
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Speech
	if !cfg.Speech.Provider.IsValid() {
		errs = append(errs, fmt.Errorf("speech.provider %q is invalid; valid values: google, whisper-api, mock", cfg.Speech.Provider))
	}
	if cfg.Speech.FallbackProvider != "" {
		if !cfg.Speech.FallbackProvider.IsValid() {
			errs = append(errs, fmt.Errorf("speech.fallback_provider %q is invalid; valid values: google, whisper-api, mock", cfg.Speech.FallbackProvider))
		} else if cfg.Speech.FallbackProvider == cfg.Speech.Provider {
			errs = append(errs, errors.New("speech.fallback_provider must differ from speech.provider"))
		}
	}
	if (cfg.Speech.Provider == ProviderWhisperAPI || cfg.Speech.FallbackProvider == ProviderWhisperAPI) && cfg.Speech.APIKey == "" {
		errs = append(errs, errors.New("speech.api_key is required when whisper-api is a configured provider"))
	}
	if cfg.Speech.Provider == ProviderGoogle && cfg.Speech.CredentialsFile == "" {
		slog.Warn("speech.credentials_file is empty; the google provider will rely on GOOGLE_APPLICATION_CREDENTIALS")
	}
	if cfg.Speech.MaxAudioBytes < 0 {
		errs = append(errs, fmt.Errorf("speech.max_audio_bytes %d must not be negative", cfg.Speech.MaxAudioBytes))
	}

	// Database
	if cfg.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn is empty; catalog and metrics run on in-memory stores")
	}

	// Matching
	switch cfg.Matching.Similarity {
	case "", SimilarityJaroWinkler, SimilarityLevenshtein, SimilarityPhonetic:
	default:
		errs = append(errs, fmt.Errorf("matching.similarity %q is invalid; valid values: jaro-winkler, levenshtein, phonetic", cfg.Matching.Similarity))
	}
	if cfg.Matching.FuzzyThreshold < 0 || cfg.Matching.FuzzyThreshold > 100 {
		errs = append(errs, fmt.Errorf("matching.fuzzy_threshold %d is out of range [0, 100]", cfg.Matching.FuzzyThreshold))
	}
	if cfg.Matching.AliasScore < 0 || cfg.Matching.AliasScore > 100 {
		errs = append(errs, fmt.Errorf("matching.alias_score %d is out of range [0, 100]", cfg.Matching.AliasScore))
	}
	if cfg.Matching.FuzzyLimit < 0 {
		errs = append(errs, fmt.Errorf("matching.fuzzy_limit %d must not be negative", cfg.Matching.FuzzyLimit))
	}

	// Languages: unique non-empty codes, default language present.
	codesSeen := make(map[string]int, len(cfg.Languages))
	for i, l := range cfg.Languages {
		prefix := fmt.Sprintf("languages[%d]", i)
		if l.Code == "" {
			errs = append(errs, fmt.Errorf("%s.code is required", prefix))
			continue
		}
		if prev, ok := codesSeen[l.Code]; ok {
			errs = append(errs, fmt.Errorf("%s.code %q is a duplicate of languages[%d]", prefix, l.Code, prev))
		}
		codesSeen[l.Code] = i
	}
	if cfg.Speech.Language != "" {
		if _, ok := codesSeen[cfg.Speech.Language]; !ok {
			errs = append(errs, fmt.Errorf("speech.language %q is not in the languages list", cfg.Speech.Language))
		}
	}

	return errors.Join(errs...)
}
