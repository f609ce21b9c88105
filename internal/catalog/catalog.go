// Package catalog defines the product/price store consumed by voice
// reconciliation.
//
// The store surface is batched by design: one exact/alias lookup and one
// fuzzy lookup cover every item of a request, so catalog round-trips stay
// bounded regardless of item count. Fuzzy scoring runs in-process through an
// injected [similarity.Scorer] rather than a database similarity operator,
// keeping the primitive swappable and the results reproducible across
// backends.
//
// Products and price records are long-lived and mutated only by external
// administration flows; this package reads them as a point-in-time snapshot
// with no locking — minor staleness during concurrent price updates is
// acceptable.
package catalog

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/nkhattar/vaani/internal/reconcile/similarity"
)

// Product is one catalog row.
type Product struct {
	ID          int64
	Name        string
	Aliases     []string
	DefaultUnit string
}

// PriceRecord is one append-only price entry. The current price of a product
// is the record with the latest effective date, ties broken by most recent
// write.
type PriceRecord struct {
	ProductID     int64
	Price         float64
	EffectiveDate time.Time
	RecordedAt    time.Time
}

// FuzzyMatch pairs a catalog product with the similarity score of its
// best-scoring name or alias against one query.
type FuzzyMatch struct {
	Product Product

	// Score is the similarity score in [0, 100].
	Score int

	// Term is the product name or alias that produced Score. Kept for
	// deterministic tie-breaking.
	Term string
}

// Store is the catalog surface consumed by reconciliation. All lookups are
// batched over the full name list of one request.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// FindExactOrAlias returns, per query name, every product whose
	// canonical name or alias case-insensitively equals or contains that
	// name. Classification into the exact and alias tiers is the
	// reconciler's job. Names with no hits are absent from the map.
	FindExactOrAlias(ctx context.Context, names []string) (map[string][]Product, error)

	// FindFuzzy returns, per query name, the limit best-scoring products by
	// string similarity, ordered best first. No threshold is applied here;
	// the reconciler decides what is good enough.
	FindFuzzy(ctx context.Context, names []string, limit int) (map[string][]FuzzyMatch, error)

	// CurrentPrices returns the current price per product ID. Products with
	// no price record are absent from the map.
	CurrentPrices(ctx context.Context, productIDs []int64) (map[int64]float64, error)
}

// matchesQuery reports whether the lowercased query equals or is contained
// in p's name or any alias.
func matchesQuery(p Product, query string) bool {
	if strings.Contains(strings.ToLower(p.Name), query) {
		return true
	}
	for _, a := range p.Aliases {
		if strings.Contains(strings.ToLower(a), query) {
			return true
		}
	}
	return false
}

// rankFuzzy scores name against every product's name and aliases and returns
// the limit best matches. Ordering is total: score descending, then edit
// distance ascending, then term lexically, then product ID — identical
// inputs always rank identically.
func rankFuzzy(products []Product, name string, limit int, scorer similarity.Scorer) []FuzzyMatch {
	matches := make([]FuzzyMatch, 0, len(products))
	for _, p := range products {
		best := FuzzyMatch{Product: p, Score: -1}
		for _, term := range append([]string{p.Name}, p.Aliases...) {
			if s := scorer.Score(name, term); s > best.Score {
				best.Score = s
				best.Term = term
			}
		}
		if best.Score >= 0 {
			matches = append(matches, best)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		da := similarity.EditDistance(name, a.Term)
		db := similarity.EditDistance(name, b.Term)
		if da != db {
			return da < db
		}
		if a.Term != b.Term {
			return a.Term < b.Term
		}
		return a.Product.ID < b.Product.ID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
