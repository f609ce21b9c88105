// Package extract turns a raw speech transcript into an ordered list of
// sale-line extraction candidates.
//
// Extraction is strategy-driven: each [Strategy] recognises one spoken phrase
// order (quantity-unit-name-rate, name-quantity-unit-rate, and so on) and
// strategies are applied in priority order against a mutable working copy of
// the transcript. Every successful match blanks its consumed span in the
// working copy before the next strategy runs, so one spoken phrase can never
// produce duplicate candidates. Text claimed by no strategy is returned as
// leftover for diagnostics and metrics.
//
// Adding a locale or grammar means adding a Strategy, not editing the
// extractor.
package extract

import (
	"sort"
	"strings"
)

// Candidate is one extracted sale-line candidate. Quantities are already
// numeric (spelled-out numerals are converted at match time); the unit token
// is kept raw for the normaliser.
type Candidate struct {
	// Name is the raw product name span as spoken.
	Name string

	// Quantity is the numeric quantity parsed from the quantity token.
	Quantity float64

	// RawUnit is the unit token as spoken. Empty when the phrase carried no
	// unit at all.
	RawUnit string

	// Rate is the spoken per-unit rate, or nil when the phrase carried none.
	Rate *float64

	// Strategy is the ID of the strategy that produced this candidate.
	Strategy string

	// Start and End are the byte bounds of the consumed transcript span.
	// Candidate spans are pairwise disjoint.
	Start, End int
}

// Strategy recognises one phrase grammar. Apply scans text and returns every
// non-overlapping candidate it can extract, in order of appearance, with
// span bounds relative to text.
//
// Implementations must be safe for concurrent use.
type Strategy interface {
	ID() string
	Apply(text string) []Candidate
}

// Result is the output of one extraction pass.
type Result struct {
	// Candidates are the extracted sale lines ordered by transcript position.
	Candidates []Candidate

	// Leftover is the transcript text claimed by no strategy, with phrase
	// separators stripped. Whitespace-only leftover means the whole
	// transcript was consumed.
	Leftover string
}

// Extractor applies a priority-ordered strategy list to transcripts.
// It is read-only after construction and safe for concurrent use.
type Extractor struct {
	strategies []Strategy
}

// New returns an [Extractor] using the given strategies in priority order.
// With no arguments the default grammar set ([DefaultStrategies]) is used.
func New(strategies ...Strategy) *Extractor {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Extractor{strategies: strategies}
}

// Extract runs every strategy against transcript and returns the candidates
// plus the leftover text.
//
// Extract never fails: a transcript no grammar matches yields zero candidates
// and the whole transcript as leftover, though with phrase separators
// stripped and whitespace collapsed like any other leftover. Empty or
// whitespace-only input returns an empty candidate list and the input itself
// as leftover.
func (e *Extractor) Extract(transcript string) Result {
	if strings.TrimSpace(transcript) == "" {
		return Result{Candidates: []Candidate{}, Leftover: transcript}
	}

	working := []byte(transcript)
	var candidates []Candidate

	for _, s := range e.strategies {
		found := s.Apply(string(working))
		for _, c := range found {
			candidates = append(candidates, c)
			blank(working, c.Start, c.End)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Start < candidates[j].Start
	})
	if candidates == nil {
		candidates = []Candidate{}
	}

	return Result{
		Candidates: candidates,
		Leftover:   cleanLeftover(string(working)),
	}
}

// blankByte marks a consumed byte in the working copy. It matches neither
// \s nor \p{L}, so no later grammar can extend a match across a consumed
// span; spans stay pairwise disjoint. Byte-wise blanking keeps every other
// span's bounds stable across strategies.
const blankByte = '\x1f'

func blank(working []byte, start, end int) {
	for i := start; i < end && i < len(working); i++ {
		working[i] = blankByte
	}
}

// cleanLeftover strips phrase separators and blanked bytes, then collapses
// whitespace so that a fully consumed transcript reports an empty leftover.
func cleanLeftover(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ',', ';', '।', '|', blankByte:
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
