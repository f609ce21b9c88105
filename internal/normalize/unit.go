package normalize

import (
	"sort"
	"strings"
)

// Unit is a canonical unit token. Every recognised spoken unit maps to
// exactly one Unit value.
type Unit string

const (
	UnitKilogram Unit = "kg"
	UnitGram     Unit = "g"
	UnitQuintal  Unit = "quintal"
	UnitLiter    Unit = "ltr"
	UnitMillilit Unit = "ml"
	UnitPiece    Unit = "pc"
	UnitDozen    Unit = "dozen"
	UnitPacket   Unit = "packet"
)

// IsValid reports whether u is a recognised canonical unit.
func (u Unit) IsValid() bool {
	switch u {
	case UnitKilogram, UnitGram, UnitQuintal, UnitLiter, UnitMillilit,
		UnitPiece, UnitDozen, UnitPacket:
		return true
	}
	return false
}

// unitSynonyms maps lowercased spoken unit tokens — English words,
// abbreviations, plurals, Devanagari and romanised Hindi — to canonical units.
var unitSynonyms = map[string]Unit{
	// weight
	"kg":        UnitKilogram,
	"kgs":       UnitKilogram,
	"kilo":      UnitKilogram,
	"kilos":     UnitKilogram,
	"kilogram":  UnitKilogram,
	"kilograms": UnitKilogram,
	"किलो":      UnitKilogram,
	"किलोग्राम": UnitKilogram,
	"केजी":      UnitKilogram,
	"g":         UnitGram,
	"gm":        UnitGram,
	"gms":       UnitGram,
	"gram":      UnitGram,
	"grams":     UnitGram,
	"ग्राम":     UnitGram,
	"quintal":   UnitQuintal,
	"quintals":  UnitQuintal,
	"क्विंटल":   UnitQuintal,

	// volume
	"l":      UnitLiter,
	"ltr":    UnitLiter,
	"litre":  UnitLiter,
	"litres": UnitLiter,
	"liter":  UnitLiter,
	"liters": UnitLiter,
	"लीटर":   UnitLiter,
	"ml":     UnitMillilit,
	"मिली":   UnitMillilit,

	// count
	"pc":      UnitPiece,
	"pcs":     UnitPiece,
	"piece":   UnitPiece,
	"pieces":  UnitPiece,
	"nag":     UnitPiece,
	"नग":      UnitPiece,
	"पीस":     UnitPiece,
	"dozen":   UnitDozen,
	"dozens":  UnitDozen,
	"darjan":  UnitDozen,
	"दर्जन":   UnitDozen,
	"packet":  UnitPacket,
	"packets": UnitPacket,
	"pack":    UnitPacket,
	"पैकेट":   UnitPacket,
}

// CanonicalUnit maps a raw spoken unit token to its canonical [Unit].
// Matching is case-insensitive. ok is false when the token is not in the
// synonym table; callers must keep the raw token in that case rather than
// dropping the item.
func CanonicalUnit(token string) (u Unit, ok bool) {
	u, ok = unitSynonyms[strings.ToLower(strings.TrimSpace(token))]
	return u, ok
}

// UnitPattern returns a regular-expression alternation matching every known
// unit synonym, longest token first so that partial prefixes never win.
func UnitPattern() string {
	return alternation(unitTokens())
}

func unitTokens() []string {
	tokens := make([]string, 0, len(unitSynonyms))
	for t := range unitSynonyms {
		tokens = append(tokens, t)
	}
	return tokens
}

// alternation joins tokens into a non-capturing regex group.
func alternation(tokens []string) string {
	return "(?:" + alternationBody(tokens) + ")"
}

// alternationBody joins tokens with "|", ordered longest first then lexically,
// so partial prefixes never win and the generated pattern is deterministic.
func alternationBody(tokens []string) string {
	sort.Slice(tokens, func(i, j int) bool {
		if len(tokens[i]) != len(tokens[j]) {
			return len(tokens[i]) > len(tokens[j])
		}
		return tokens[i] < tokens[j]
	})
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(regexpEscape(t))
	}
	return b.String()
}

// regexpEscape quotes regex metacharacters in t. The synonym and numeral
// tables contain plain words, but escaping keeps pattern construction safe
// if punctuation ever lands in a table.
func regexpEscape(t string) string {
	const meta = `\.+*?()|[]{}^$`
	var b strings.Builder
	for _, r := range t {
		if strings.ContainsRune(meta, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
