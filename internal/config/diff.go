package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// MatchingChanged is true when any reconciliation tuning field changed.
	MatchingChanged bool
	NewMatching     MatchingConfig

	// LanguagesChanged is true when the offered language list changed.
	LanguagesChanged bool
	NewLanguages     []LanguageConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; speech
// provider, database, and listener changes need a restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Matching != new.Matching {
		d.MatchingChanged = true
		d.NewMatching = new.Matching
	}

	if !equalLanguages(old.Languages, new.Languages) {
		d.LanguagesChanged = true
		d.NewLanguages = new.Languages
	}

	return d
}

// equalLanguages compares two language lists in order.
func equalLanguages(a, b []LanguageConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
