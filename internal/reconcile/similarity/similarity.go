// Package similarity provides the string-similarity primitive used by
// product reconciliation.
//
// The scorer is deliberately a narrow, storage-independent interface: fuzzy
// matching never leans on a database similarity operator, so the primitive
// can be swapped (Jaro-Winkler, normalised edit distance, q-gram overlap)
// without touching the catalog layer.
package similarity

import (
	"math"
	"strings"

	"github.com/antzucaro/matchr"
)

// Scorer computes a normalised similarity score between two strings.
//
// Scores are integers in [0, 100]; 100 means the strings are identical
// (case-insensitively). Implementations must be deterministic and safe for
// concurrent use.
type Scorer interface {
	Name() string
	Score(a, b string) int
}

// New returns the scorer registered under name, or nil when the name is
// unknown. Recognised names: "jaro-winkler", "levenshtein", "phonetic".
func New(name string) Scorer {
	switch name {
	case "jaro-winkler", "":
		return JaroWinkler{}
	case "levenshtein":
		return Levenshtein{}
	case "phonetic":
		return Phonetic{}
	}
	return nil
}

// JaroWinkler scores by Jaro-Winkler similarity, which favours shared
// prefixes — a good fit for misheard product names where the leading sounds
// usually survive transcription.
type JaroWinkler struct{}

// Name implements [Scorer].
func (JaroWinkler) Name() string { return "jaro-winkler" }

// Score implements [Scorer].
func (JaroWinkler) Score(a, b string) int {
	a, b = fold(a), fold(b)
	if a == b {
		return 100
	}
	if a == "" || b == "" {
		return 0
	}
	return clamp(int(math.Round(matchr.JaroWinkler(a, b, false) * 100)))
}

// Levenshtein scores by normalised edit distance:
// 100 * (1 - distance/maxLen).
type Levenshtein struct{}

// Name implements [Scorer].
func (Levenshtein) Name() string { return "levenshtein" }

// Score implements [Scorer].
func (Levenshtein) Score(a, b string) int {
	a, b = fold(a), fold(b)
	if a == b {
		return 100
	}
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 100
	}
	d := matchr.Levenshtein(a, b)
	return clamp(int(math.Round(100 * (1 - float64(d)/float64(longest)))))
}

// phoneticFloor is the minimum score assigned when two terms share a Double
// Metaphone code, whatever their spelling distance.
const phoneticFloor = 85

// Phonetic scores by Jaro-Winkler but floors the score at [phoneticFloor]
// when the two strings share a Double Metaphone code. Useful for romanized
// name variants ("pyaaz" vs "pyaz") that sound alike but drift in spelling.
// Double Metaphone only encodes Latin letters, so Devanagari terms fall
// through to the plain Jaro-Winkler score.
type Phonetic struct{}

// Name implements [Scorer].
func (Phonetic) Name() string { return "phonetic" }

// Score implements [Scorer].
func (Phonetic) Score(a, b string) int {
	score := JaroWinkler{}.Score(a, b)
	if score >= phoneticFloor || score == 0 {
		return score
	}
	if soundsAlike(fold(a), fold(b)) {
		return phoneticFloor
	}
	return score
}

// soundsAlike reports whether a and b share a non-empty Double Metaphone
// code (primary or secondary, either side).
func soundsAlike(a, b string) bool {
	p1, s1 := matchr.DoubleMetaphone(a)
	p2, s2 := matchr.DoubleMetaphone(b)
	if p1 == "" && s1 == "" {
		return false
	}
	for _, x := range []string{p1, s1} {
		if x == "" {
			continue
		}
		if x == p2 || x == s2 {
			return true
		}
	}
	return false
}

// EditDistance returns the Levenshtein distance between the case-folded
// strings. Reconciliation uses it as a tie-breaker between equally scored
// candidates.
func EditDistance(a, b string) int {
	return matchr.Levenshtein(fold(a), fold(b))
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
