package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/nkhattar/vaani/internal/reconcile/similarity"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory [Store]. It is suitable for tests and
// for running the pipeline without a database.
type MemStore struct {
	scorer similarity.Scorer

	mu       sync.RWMutex
	nextID   int64
	products map[int64]Product
	prices   []priceEntry
}

// priceEntry wraps a PriceRecord with an insertion sequence number so that
// the "most recent write" tie-break is well defined even when RecordedAt
// timestamps collide.
type priceEntry struct {
	PriceRecord
	seq int64
}

// NewMemStore returns an initialised [MemStore] scoring fuzzy lookups with
// scorer. A nil scorer defaults to [similarity.JaroWinkler].
func NewMemStore(scorer similarity.Scorer) *MemStore {
	if scorer == nil {
		scorer = similarity.JaroWinkler{}
	}
	return &MemStore{
		scorer:   scorer,
		nextID:   1,
		products: make(map[int64]Product),
	}
}

// AddProduct inserts a product and returns it with its assigned ID. A zero
// ID is assigned the next free one. Intended for test seeding and standalone
// runs; production catalogs are administered externally.
func (s *MemStore) AddProduct(_ context.Context, p Product) (Product, error) {
	if strings.TrimSpace(p.Name) == "" {
		return Product{}, errors.New("catalog: product name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		p.ID = s.nextID
	}
	if p.ID >= s.nextID {
		s.nextID = p.ID + 1
	}
	if _, exists := s.products[p.ID]; exists {
		return Product{}, errors.New("catalog: duplicate product id")
	}
	s.products[p.ID] = p
	return p, nil
}

// SetPrice appends a price record. Prices must be strictly positive.
func (s *MemStore) SetPrice(_ context.Context, rec PriceRecord) error {
	if rec.Price <= 0 {
		return errors.New("catalog: price must be greater than zero")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[rec.ProductID]; !ok {
		return errors.New("catalog: unknown product id")
	}
	s.prices = append(s.prices, priceEntry{PriceRecord: rec, seq: int64(len(s.prices))})
	return nil
}

// FindExactOrAlias implements [Store].
func (s *MemStore) FindExactOrAlias(_ context.Context, names []string) (map[string][]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]Product, len(names))
	for _, name := range names {
		query := strings.ToLower(strings.TrimSpace(name))
		if query == "" {
			continue
		}
		var hits []Product
		for _, p := range s.products {
			if matchesQuery(p, query) {
				hits = append(hits, p)
			}
		}
		if len(hits) > 0 {
			sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
			out[name] = hits
		}
	}
	return out, nil
}

// FindFuzzy implements [Store].
func (s *MemStore) FindFuzzy(_ context.Context, names []string, limit int) (map[string][]FuzzyMatch, error) {
	s.mu.RLock()
	all := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		all = append(all, p)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	out := make(map[string][]FuzzyMatch, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		if ranked := rankFuzzy(all, name, limit, s.scorer); len(ranked) > 0 {
			out[name] = ranked
		}
	}
	return out, nil
}

// CurrentPrices implements [Store]. The current price is the record with the
// latest effective date; ties go to the most recent write.
func (s *MemStore) CurrentPrices(_ context.Context, productIDs []int64) (map[int64]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]struct{}, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = struct{}{}
	}

	best := make(map[int64]priceEntry, len(wanted))
	for _, e := range s.prices {
		if _, ok := wanted[e.ProductID]; !ok {
			continue
		}
		cur, seen := best[e.ProductID]
		if !seen || e.EffectiveDate.After(cur.EffectiveDate) ||
			(e.EffectiveDate.Equal(cur.EffectiveDate) && e.seq > cur.seq) {
			best[e.ProductID] = e
		}
	}

	out := make(map[int64]float64, len(best))
	for id, e := range best {
		out[id] = e.Price
	}
	return out, nil
}
