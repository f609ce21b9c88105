package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkhattar/vaani/internal/reconcile/similarity"
)

// Schema is the SQL DDL for the catalog tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment. The
// price_board table is append-only; the current price of a product is
// resolved at query time.
const Schema = `
CREATE TABLE IF NOT EXISTS products (
    id           BIGSERIAL PRIMARY KEY,
    name         TEXT NOT NULL,
    aliases      TEXT[] NOT NULL DEFAULT '{}',
    default_unit TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_products_lower_name ON products(lower(name));

CREATE TABLE IF NOT EXISTS price_board (
    id             BIGSERIAL PRIMARY KEY,
    product_id     BIGINT NOT NULL REFERENCES products(id),
    price          NUMERIC(12,2) NOT NULL CHECK (price > 0),
    effective_date DATE NOT NULL,
    recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_price_board_product ON price_board(product_id, effective_date DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. It only reads the catalog;
// product and price administration happens through external flows.
type PostgresStore struct {
	db     DB
	scorer similarity.Scorer
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] over the given connection or
// pool, scoring fuzzy lookups with scorer. A nil scorer defaults to
// [similarity.JaroWinkler]. Call [PostgresStore.Migrate] to ensure the
// schema exists before issuing queries.
func NewPostgresStore(db DB, scorer similarity.Scorer) *PostgresStore {
	if scorer == nil {
		scorer = similarity.JaroWinkler{}
	}
	return &PostgresStore{db: db, scorer: scorer}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

// FindExactOrAlias implements [Store]. One batched query fetches every
// product whose name or alias contains any of the queried names; rows are
// then distributed to the names they match.
func (s *PostgresStore) FindExactOrAlias(ctx context.Context, names []string) (map[string][]Product, error) {
	queries := lowerNonEmpty(names)
	if len(queries) == 0 {
		return map[string][]Product{}, nil
	}

	const query = `
		SELECT id, name, aliases, default_unit
		FROM products
		WHERE EXISTS (
			SELECT 1 FROM unnest($1::text[]) q
			WHERE lower(name) LIKE '%' || q || '%'
			   OR EXISTS (SELECT 1 FROM unnest(aliases) a WHERE lower(a) LIKE '%' || q || '%')
		)
		ORDER BY id`

	rows, err := s.db.Query(ctx, query, queries)
	if err != nil {
		return nil, fmt.Errorf("catalog: find exact/alias: %w", err)
	}
	defer rows.Close()

	var hits []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Aliases, &p.DefaultUnit); err != nil {
			return nil, fmt.Errorf("catalog: find exact/alias scan: %w", err)
		}
		hits = append(hits, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: find exact/alias: %w", err)
	}

	out := make(map[string][]Product, len(names))
	for _, name := range names {
		query := strings.ToLower(strings.TrimSpace(name))
		if query == "" {
			continue
		}
		for _, p := range hits {
			if matchesQuery(p, query) {
				out[name] = append(out[name], p)
			}
		}
	}
	return out, nil
}

// FindFuzzy implements [Store]. The full product list is fetched in one
// query and similarity is computed in-process with the injected scorer, so
// scores do not depend on database extensions.
func (s *PostgresStore) FindFuzzy(ctx context.Context, names []string, limit int) (map[string][]FuzzyMatch, error) {
	const query = `SELECT id, name, aliases, default_unit FROM products ORDER BY id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog: find fuzzy: %w", err)
	}
	defer rows.Close()

	var all []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Aliases, &p.DefaultUnit); err != nil {
			return nil, fmt.Errorf("catalog: find fuzzy scan: %w", err)
		}
		all = append(all, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: find fuzzy: %w", err)
	}

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

// CurrentPrices implements [Store]. DISTINCT ON picks the record with the
// latest effective date per product, ties broken by most recent write.
func (s *PostgresStore) CurrentPrices(ctx context.Context, productIDs []int64) (map[int64]float64, error) {
	if len(productIDs) == 0 {
		return map[int64]float64{}, nil
	}

	const query = `
		SELECT DISTINCT ON (product_id) product_id, price
		FROM price_board
		WHERE product_id = ANY($1)
		ORDER BY product_id, effective_date DESC, recorded_at DESC, id DESC`

	rows, err := s.db.Query(ctx, query, productIDs)
	if err != nil {
		return nil, fmt.Errorf("catalog: current prices: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]float64, len(productIDs))
	for rows.Next() {
		var id int64
		var price float64
		if err := rows.Scan(&id, &price); err != nil {
			return nil, fmt.Errorf("catalog: current prices scan: %w", err)
		}
		out[id] = price
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: current prices: %w", err)
	}
	return out, nil
}

// lowerNonEmpty lowercases and de-duplicates names, dropping blanks.
func lowerNonEmpty(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		l := strings.ToLower(strings.TrimSpace(n))
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
