// Package normalize maps locale numeral words and spoken unit tokens to
// canonical numeric values and unit tokens, and builds the normalised sale
// line items consumed by the reconciler.
//
// Three numeral vocabularies are supported (English, Devanagari Hindi,
// romanised Hindi) plus ASCII and Devanagari digit strings. Unit synonyms
// cover the weight, volume and count families including plurals and
// abbreviations. An unrecognised unit token is never a reason to drop an
// item — the raw token is kept and flagged for downstream review.
package normalize

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNonPositiveQuantity is returned by [Item] when the quantity is zero or
// negative. Such lines are rejected outright, never silently coerced.
var ErrNonPositiveQuantity = errors.New("normalize: quantity must be greater than zero")

// NormalizedItem is one sale-line candidate after numeral and unit
// normalisation.
type NormalizedItem struct {
	// Name is the trimmed product name as spoken.
	Name string

	// Quantity is the numeric quantity. Always > 0.
	Quantity float64

	// Unit is the canonical unit token. Empty when the spoken unit was not
	// recognised (see RawUnit) or no unit was spoken at all.
	Unit Unit

	// RawUnit is the unit token as spoken. Preserved verbatim when the token
	// is not in the synonym table so a reviewer can see what was said.
	RawUnit string

	// UnitKnown reports whether Unit carries a recognised canonical value.
	UnitKnown bool

	// Rate is the spoken per-unit rate, or nil when no rate was spoken.
	// Pricing then falls to the reconciler.
	Rate *float64
}

// Item builds a [NormalizedItem] from raw extraction output.
//
// The name is whitespace-trimmed and must be non-empty. Quantities must be
// strictly positive; zero and negative values return
// [ErrNonPositiveQuantity]. An unrecognised unit token yields an item with
// UnitKnown=false and the raw token preserved.
func Item(name string, quantity float64, rawUnit string, rate *float64) (NormalizedItem, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return NormalizedItem{}, errors.New("normalize: item name must not be empty")
	}
	if quantity <= 0 {
		return NormalizedItem{}, fmt.Errorf("%w (got %v for %q)", ErrNonPositiveQuantity, quantity, name)
	}

	item := NormalizedItem{
		Name:     name,
		Quantity: quantity,
		RawUnit:  strings.TrimSpace(rawUnit),
		Rate:     rate,
	}
	if item.RawUnit != "" {
		if u, ok := CanonicalUnit(item.RawUnit); ok {
			item.Unit = u
			item.UnitKnown = true
		}
	}
	return item, nil
}
