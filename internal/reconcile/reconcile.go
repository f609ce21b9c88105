// Package reconcile resolves normalised sale-line items against the product
// catalog through tiered matching.
//
// Tiers are tried in order per item: exact (case-insensitive equality with a
// canonical name or alias, score 100), alias (case-insensitive containment,
// configurable score, default 90), then fuzzy (string similarity, accepted
// at or above a configurable threshold, default 60). Tie-breaking is total —
// tier first, then score, then edit distance, then lexical order, then
// product ID — so an identical catalog snapshot and query always produce an
// identical result.
//
// Reconciliation has no side effects and batches its catalog lookups: one
// exact/alias query and one fuzzy query cover all items of a request.
package reconcile

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nkhattar/vaani/internal/catalog"
	"github.com/nkhattar/vaani/internal/normalize"
	"github.com/nkhattar/vaani/internal/observe"
	"github.com/nkhattar/vaani/internal/reconcile/similarity"
)

// Type classifies how an item was matched.
type Type string

const (
	TypeExact Type = "exact"
	TypeAlias Type = "alias"
	TypeFuzzy Type = "fuzzy"
	TypeNone  Type = "none"
)

// Defaults for the tunable matching constants. Both were carried over from
// accuracy tuning and are plain configuration, not law.
const (
	DefaultAliasScore     = 90
	DefaultFuzzyThreshold = 60
	DefaultFuzzyLimit     = 5
)

// ErrTagCatalog is the per-item error tag set when a catalog read failure
// left the item unresolved.
const ErrTagCatalog = "catalog_read"

// Match is the reconciliation result for one item.
type Match struct {
	// Item is the normalised input item.
	Item normalize.NormalizedItem

	// ProductID identifies the matched catalog product. Nil when Type is
	// [TypeNone].
	ProductID *int64

	// MatchedName is the canonical name of the matched product.
	MatchedName string

	// ResolvedUnit is the unit for the sale line: the spoken canonical unit
	// when recognised, else the matched product's default unit, else the raw
	// spoken token.
	ResolvedUnit string

	// Type is the match tier.
	Type Type

	// Score is the match confidence in [0, 100]. Exact matches score 100.
	Score int

	// Rate is the resolved per-unit rate: the product's current price when
	// available, else the rate extracted from the transcript, else nil.
	Rate *float64

	// NeedsPrice flags a line whose resolved rate is nil.
	NeedsPrice bool

	// ErrTag carries a non-empty tag when a catalog failure degraded this
	// item's resolution. The rest of the batch is unaffected.
	ErrTag string
}

// Option configures a [Reconciler].
type Option func(*Reconciler)

// WithScorer sets the similarity primitive for the fuzzy tier tie-breaks.
func WithScorer(s similarity.Scorer) Option {
	return func(r *Reconciler) { r.scorer = s }
}

// WithFuzzyThreshold sets the minimum fuzzy score kept as a match.
// Default: 60.
func WithFuzzyThreshold(t int) Option {
	return func(r *Reconciler) { r.fuzzyThreshold = t }
}

// WithAliasScore sets the score assigned to alias/containment matches.
// Default: 90.
func WithAliasScore(s int) Option {
	return func(r *Reconciler) { r.aliasScore = s }
}

// WithFuzzyLimit sets how many fuzzy candidates are fetched per name.
// Default: 5.
func WithFuzzyLimit(n int) Option {
	return func(r *Reconciler) { r.fuzzyLimit = n }
}

// WithMetrics overrides the OTel instrument set, for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// Reconciler resolves items against a [catalog.Store]. It is read-only after
// construction and safe for concurrent use.
type Reconciler struct {
	store          catalog.Store
	scorer         similarity.Scorer
	metrics        *observe.Metrics
	fuzzyThreshold int
	aliasScore     int
	fuzzyLimit     int
}

// New returns a [Reconciler] over store with the supplied options.
func New(store catalog.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:          store,
		scorer:         similarity.JaroWinkler{},
		fuzzyThreshold: DefaultFuzzyThreshold,
		aliasScore:     DefaultAliasScore,
		fuzzyLimit:     DefaultFuzzyLimit,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Reconcile resolves every item and returns one [Match] per item, in input
// order. A catalog failure never aborts the batch: affected items come back
// as [TypeNone] with [ErrTagCatalog] while the rest resolve normally.
func (r *Reconciler) Reconcile(ctx context.Context, items []normalize.NormalizedItem) []Match {
	matches := make([]Match, len(items))
	if len(items) == 0 {
		return matches
	}

	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.Name)
	}

	// One batched exact/alias lookup and one batched fuzzy lookup, issued
	// concurrently. Errors are recorded, not propagated: a failed batch
	// only degrades the tiers it serves.
	var (
		exactHits map[string][]catalog.Product
		fuzzyHits map[string][]catalog.FuzzyMatch
		exactErr  error
		fuzzyErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		exactHits, exactErr = r.store.FindExactOrAlias(gctx, names)
		return nil
	})
	g.Go(func() error {
		fuzzyHits, fuzzyErr = r.store.FindFuzzy(gctx, names, r.fuzzyLimit)
		return nil
	})
	_ = g.Wait()

	if exactErr != nil {
		r.metrics.CatalogErrors.Add(ctx, 1)
		slog.Warn("exact/alias catalog lookup failed", "err", exactErr)
	}
	if fuzzyErr != nil {
		r.metrics.CatalogErrors.Add(ctx, 1)
		slog.Warn("fuzzy catalog lookup failed", "err", fuzzyErr)
	}

	for i, item := range items {
		matches[i] = r.matchItem(item, exactHits[item.Name], fuzzyHits[item.Name])
		if matches[i].Type == TypeNone && (exactErr != nil || fuzzyErr != nil) {
			matches[i].ErrTag = ErrTagCatalog
		}
	}

	r.resolvePrices(ctx, matches)
	return matches
}

// matchItem classifies one item against its candidate sets.
func (r *Reconciler) matchItem(item normalize.NormalizedItem, hits []catalog.Product, fuzzy []catalog.FuzzyMatch) Match {
	m := Match{Item: item, Type: TypeNone}
	query := strings.ToLower(item.Name)

	// Tier 1: exact equality with a canonical name or alias. Equal rows tie
	// on the lowest product ID, and hits arrive ID-ordered from the store.
	for _, p := range hits {
		if equalsQuery(p, query) {
			r.bind(&m, p, TypeExact, 100)
			return m
		}
	}

	// Tier 2: containment of the query within a name or alias.
	if best, _, ok := bestContainment(hits, query); ok {
		r.bind(&m, best, TypeAlias, r.aliasScore)
		return m
	}

	// Tier 3: best fuzzy candidate at or above the threshold. The store
	// returns candidates fully ordered, so the head is the winner.
	if len(fuzzy) > 0 && fuzzy[0].Score >= r.fuzzyThreshold {
		r.bind(&m, fuzzy[0].Product, TypeFuzzy, fuzzy[0].Score)
		return m
	}

	m.ResolvedUnit = spokenUnit(item)
	return m
}

// bind fills m with the matched product.
func (r *Reconciler) bind(m *Match, p catalog.Product, t Type, score int) {
	id := p.ID
	m.ProductID = &id
	m.MatchedName = p.Name
	m.Type = t
	m.Score = score
	m.ResolvedUnit = spokenUnit(m.Item)
	if m.ResolvedUnit == "" || !m.Item.UnitKnown {
		if p.DefaultUnit != "" {
			m.ResolvedUnit = p.DefaultUnit
		}
	}
}

// resolvePrices performs the batched current-price lookup and settles each
// match's rate: current price first, extracted rate second, otherwise nil
// with the needs-price flag raised.
func (r *Reconciler) resolvePrices(ctx context.Context, matches []Match) {
	var ids []int64
	for _, m := range matches {
		if m.ProductID != nil {
			ids = append(ids, *m.ProductID)
		}
	}

	var prices map[int64]float64
	if len(ids) > 0 {
		var err error
		prices, err = r.store.CurrentPrices(ctx, ids)
		if err != nil {
			r.metrics.CatalogErrors.Add(ctx, 1)
			slog.Warn("current-price lookup failed, falling back to spoken rates", "err", err)
			prices = nil
		}
	}

	for i := range matches {
		m := &matches[i]
		if m.ProductID != nil {
			if price, ok := prices[*m.ProductID]; ok {
				p := price
				m.Rate = &p
				continue
			}
		}
		if m.Item.Rate != nil {
			rate := *m.Item.Rate
			m.Rate = &rate
			continue
		}
		m.NeedsPrice = true
	}
}

// equalsQuery reports whether query equals p's lowercased name or an alias.
func equalsQuery(p catalog.Product, query string) bool {
	if strings.ToLower(p.Name) == query {
		return true
	}
	for _, a := range p.Aliases {
		if strings.ToLower(a) == query {
			return true
		}
	}
	return false
}

// bestContainment picks the containment match with the smallest edit
// distance between the query and the containing term, breaking remaining
// ties by term lexical order and then product ID.
func bestContainment(hits []catalog.Product, query string) (catalog.Product, string, bool) {
	var (
		found    bool
		best     catalog.Product
		bestTerm string
		bestDist int
	)
	for _, p := range hits {
		for _, term := range append([]string{p.Name}, p.Aliases...) {
			if !strings.Contains(strings.ToLower(term), query) {
				continue
			}
			d := similarity.EditDistance(query, term)
			switch {
			case !found,
				d < bestDist,
				d == bestDist && term < bestTerm,
				d == bestDist && term == bestTerm && p.ID < best.ID:
				found = true
				best = p
				bestTerm = term
				bestDist = d
			}
		}
	}
	return best, bestTerm, found
}

// spokenUnit returns the unit token to carry for an item before any catalog
// default applies.
func spokenUnit(item normalize.NormalizedItem) string {
	if item.UnitKnown {
		return string(item.Unit)
	}
	return item.RawUnit
}
