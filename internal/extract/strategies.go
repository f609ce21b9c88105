package extract

import (
	"regexp"
	"strings"

	"github.com/nkhattar/vaani/internal/normalize"
)

// noiseWords are tokens that can never be part of a product name or unit:
// currency words, phrase separators, and rate markers.
var noiseWords = map[string]struct{}{
	"रुपये": {}, "रुपए": {}, "रूपये": {}, "रूपए": {},
	"rupees": {}, "rupaye": {}, "rs": {}, "rs.": {}, "₹": {},
	"और": {}, "and": {}, "aur": {},
	"at": {}, "per": {}, "प्रति": {}, "रेट": {},
}

// Pattern fragments shared by all grammars. Separators are consumed as part
// of a match so they never pollute the leftover text. A blanked byte (\x1f,
// see blankByte) also terminates a phrase, so a grammar can still close a
// match that sits right before an already-consumed span.
const (
	namePat = `(?P<name>(?:[\p{L}\p{M}]+\s+){0,2}?[\p{L}\p{M}]+)`
	sepPat  = `\s*(?:[,;।|\x1f]|और|and|aur|$)`
)

func qtyPat() string {
	return `(?P<qty>` + normalize.NumberPattern() + `)`
}

func unitPat() string {
	return `(?P<unit>` + normalize.UnitPattern() + `)`
}

// ratePat matches an optional trailing rate: an optional marker (@, at, रेट),
// the rate numeral, an optional currency word, and an optional per-unit tail
// ("40 रुपये किलो").
func ratePat() string {
	return `(?:\s*(?:@\s*|at\s+|रेट\s+)?(?P<rate>` + normalize.NumberPattern() + `)` +
		`\s*(?:रुपये|रुपए|रूपये|रूपए|rupees|rupaye|rs\.?|₹)?` +
		`(?:\s*(?:per\s+|प्रति\s*)?` + normalize.UnitPattern() + `)?)?`
}

// DefaultStrategies returns the built-in grammar set in priority order:
//
//  1. quantity, known unit, name, optional rate ("5 किलो आलू 40 रुपये किलो")
//  2. name, quantity, known unit, optional rate ("आलू 5 किलो 40")
//  3. quantity, unrecognised unit token, name, optional rate ("5 बोरी आलू 40");
//     the raw unit token is kept and flagged downstream
//  4. quantity, name, optional rate — no unit spoken ("पांच आलू चालीस रुपये")
func DefaultStrategies() []Strategy {
	return []Strategy{
		newGrammarStrategy("qty-unit-name-rate",
			qtyPat()+`\s+`+unitPat()+`\s+`+namePat+ratePat()+sepPat),
		newGrammarStrategy("name-qty-unit-rate",
			namePat+`\s+`+qtyPat()+`\s+`+unitPat()+ratePat()+sepPat),
		newGrammarStrategy("qty-rawunit-name-rate",
			qtyPat()+`\s+(?P<unit>[\p{L}\p{M}]+)\s+`+namePat+ratePat()+sepPat),
		newGrammarStrategy("qty-name-rate",
			qtyPat()+`\s+`+namePat+ratePat()+sepPat),
	}
}

// grammarStrategy is a regex-backed [Strategy]. The pattern must define the
// named groups qty and name; unit and rate are optional.
type grammarStrategy struct {
	id      string
	re      *regexp.Regexp
	qtyIdx  int
	unitIdx int
	nameIdx int
	rateIdx int
}

var _ Strategy = (*grammarStrategy)(nil)

func newGrammarStrategy(id, pattern string) *grammarStrategy {
	re := regexp.MustCompile(pattern)
	return &grammarStrategy{
		id:      id,
		re:      re,
		qtyIdx:  re.SubexpIndex("qty"),
		unitIdx: re.SubexpIndex("unit"),
		nameIdx: re.SubexpIndex("name"),
		rateIdx: re.SubexpIndex("rate"),
	}
}

// ID implements [Strategy].
func (s *grammarStrategy) ID() string { return s.id }

// Apply implements [Strategy]. Structural matches that fail semantic
// validation (a numeral or currency word captured as a name, for instance)
// are skipped without consuming their span, so a lower-priority grammar can
// still claim the text.
func (s *grammarStrategy) Apply(text string) []Candidate {
	var out []Candidate
	for _, m := range s.re.FindAllStringSubmatchIndex(text, -1) {
		c, ok := s.build(text, m)
		if !ok {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s *grammarStrategy) build(text string, m []int) (Candidate, bool) {
	group := func(idx int) string {
		if idx < 0 || m[2*idx] < 0 {
			return ""
		}
		return text[m[2*idx]:m[2*idx+1]]
	}

	qty, ok := normalize.ParseNumber(group(s.qtyIdx))
	if !ok {
		return Candidate{}, false
	}

	name := strings.TrimSpace(group(s.nameIdx))
	if name == "" || !validName(name) {
		return Candidate{}, false
	}

	rawUnit := strings.TrimSpace(group(s.unitIdx))
	if rawUnit != "" && !validUnitToken(rawUnit) {
		return Candidate{}, false
	}

	// Report the span up to the last byte of real phrase text: trailing
	// whitespace and blanked bytes swallowed by the separator pattern
	// belong to no candidate.
	end := m[1]
	for end > m[0] && (text[end-1] == ' ' || text[end-1] == '\t' || text[end-1] == blankByte) {
		end--
	}

	c := Candidate{
		Name:     name,
		Quantity: qty,
		RawUnit:  rawUnit,
		Strategy: s.id,
		Start:    m[0],
		End:      end,
	}
	if raw := group(s.rateIdx); raw != "" {
		if v, ok := normalize.ParseNumber(raw); ok {
			c.Rate = &v
		}
	}
	return c, true
}

// validName reports whether every token of name is a plausible product-name
// word: not a numeral, not a noise word, not a unit synonym.
func validName(name string) bool {
	for _, tok := range strings.Fields(strings.ToLower(name)) {
		if _, isNum := normalize.ParseNumber(tok); isNum {
			return false
		}
		if _, bad := noiseWords[tok]; bad {
			return false
		}
		if _, isUnit := normalize.CanonicalUnit(tok); isUnit {
			return false
		}
	}
	return true
}

// validUnitToken reports whether tok can stand as a (possibly unrecognised)
// unit token. Numerals and noise words cannot.
func validUnitToken(tok string) bool {
	l := strings.ToLower(tok)
	if _, isNum := normalize.ParseNumber(l); isNum {
		return false
	}
	if _, bad := noiseWords[l]; bad {
		return false
	}
	return true
}
