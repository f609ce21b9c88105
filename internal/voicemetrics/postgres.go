package voicemetrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the voice_metrics table. Execute it via
// [PostgresRecorder.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS voice_metrics (
    id                     BIGSERIAL PRIMARY KEY,
    audio_file_size        BIGINT NOT NULL DEFAULT 0,
    audio_duration_ms      BIGINT NOT NULL DEFAULT 0,
    audio_format           TEXT NOT NULL DEFAULT 'unknown',
    language_code          TEXT NOT NULL DEFAULT 'unknown',
    raw_transcript         TEXT NOT NULL DEFAULT '',
    transcript_chars       INT NOT NULL DEFAULT 0,
    transcript_words       INT NOT NULL DEFAULT 0,
    attempted_extractions  INT NOT NULL DEFAULT 0,
    successful_extractions INT NOT NULL DEFAULT 0,
    items_identified       INT NOT NULL DEFAULT 0,
    items_matched          INT NOT NULL DEFAULT 0,
    items_added            INT NOT NULL DEFAULT 0,
    error_type             TEXT,
    error_message          TEXT,
    slip_id                BIGINT,
    shop_id                BIGINT,
    created_by             BIGINT,
    success                BOOLEAN NOT NULL DEFAULT false,
    confidence_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
    processing_time_ms     BIGINT NOT NULL DEFAULT 0,
    recognized_text        TEXT NOT NULL DEFAULT '',
    unrecognized_text      TEXT,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_voice_metrics_shop_time ON voice_metrics(shop_id, created_at);
`

// DB is the database interface used by [PostgresRecorder]. Both
// *pgxpool.Pool and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRecorder is a [Recorder] backed by PostgreSQL.
type PostgresRecorder struct {
	db DB
}

// Compile-time interface check.
var _ Recorder = (*PostgresRecorder)(nil)

// NewPostgresRecorder creates a [PostgresRecorder] over the given connection
// or pool. Call [PostgresRecorder.Migrate] to ensure the schema exists.
func NewPostgresRecorder(db DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (r *PostgresRecorder) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("voicemetrics: migrate: %w", err)
	}
	return nil
}

// Record implements [Recorder].
func (r *PostgresRecorder) Record(ctx context.Context, rec *Record) error {
	const query = `
		INSERT INTO voice_metrics (
			audio_file_size, audio_duration_ms, audio_format, language_code,
			raw_transcript, transcript_chars, transcript_words,
			attempted_extractions, successful_extractions,
			items_identified, items_matched, items_added,
			error_type, error_message,
			slip_id, shop_id, created_by,
			success, confidence_score, processing_time_ms,
			recognized_text, unrecognized_text
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9,
			$10, $11, $12,
			$13, $14,
			$15, $16, $17,
			$18, $19, $20,
			$21, $22
		) RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		rec.AudioBytes, rec.AudioDurationMs, rec.AudioFormat, rec.LanguageCode,
		rec.Transcript, rec.TranscriptChars, rec.TranscriptWords,
		rec.AttemptedExtractions, rec.SuccessfulExtractions,
		rec.ItemsIdentified, rec.ItemsMatched, rec.ItemsAdded,
		nullIfEmpty(rec.ErrorType), nullIfEmpty(rec.ErrorMessage),
		rec.SlipID, rec.ShopID, rec.UserID,
		rec.Success, rec.ConfidenceScore, rec.ProcessingTimeMs,
		rec.RecognizedText, nullIfEmpty(rec.UnrecognizedText),
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("voicemetrics: record: %w", err)
	}
	return nil
}

// Analytics implements [Recorder]. Every ratio denominator is wrapped in
// NULLIF so an empty or item-free result set yields NULL rates, never a
// division error.
func (r *PostgresRecorder) Analytics(ctx context.Context, f Filters) (*Analytics, error) {
	whereSQL, params := buildFilter(f)

	summaryQuery := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
			ROUND(AVG(confidence_score)::numeric, 2),
			ROUND((AVG(processing_time_ms) / 1000)::numeric, 2),
			COALESCE(SUM(items_identified), 0),
			COALESCE(SUM(items_matched), 0),
			COALESCE(SUM(items_added), 0),
			ROUND((SUM(items_matched)::numeric / NULLIF(SUM(items_identified), 0)) * 100, 2),
			ROUND((SUM(items_added)::numeric / NULLIF(SUM(items_identified), 0)) * 100, 2)
		FROM voice_metrics ` + whereSQL

	var s Summary
	err := r.db.QueryRow(ctx, summaryQuery, params...).Scan(
		&s.TotalAttempts, &s.SuccessfulAttempts,
		&s.AvgConfidence, &s.AvgProcessingSeconds,
		&s.TotalItemsIdentified, &s.TotalItemsMatched, &s.TotalItemsAdded,
		&s.ProductMatchRate, &s.SlipAdditionRate,
	)
	if err != nil {
		return nil, fmt.Errorf("voicemetrics: analytics summary: %w", err)
	}

	errorQuery := `
		SELECT
			error_type,
			COUNT(*),
			ROUND((COUNT(*)::numeric / NULLIF((SELECT COUNT(*) FROM voice_metrics ` + whereSQL + `), 0)) * 100, 2)
		FROM voice_metrics ` + whereSQL + andErrorType(whereSQL) + `
		GROUP BY error_type
		ORDER BY COUNT(*) DESC, error_type`

	rows, err := r.db.Query(ctx, errorQuery, params...)
	if err != nil {
		return nil, fmt.Errorf("voicemetrics: analytics errors: %w", err)
	}
	defer rows.Close()

	var breakdown []ErrorBreakdown
	for rows.Next() {
		var b ErrorBreakdown
		if err := rows.Scan(&b.Type, &b.Count, &b.Percentage); err != nil {
			return nil, fmt.Errorf("voicemetrics: analytics errors scan: %w", err)
		}
		breakdown = append(breakdown, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("voicemetrics: analytics errors: %w", err)
	}

	return &Analytics{Summary: s, Errors: breakdown}, nil
}

// buildFilter assembles the WHERE clause and positional parameters for f.
func buildFilter(f Filters) (string, []any) {
	var (
		clauses []string
		params  []any
	)
	if f.ShopID != nil {
		params = append(params, *f.ShopID)
		clauses = append(clauses, fmt.Sprintf("shop_id = $%d", len(params)))
	}
	if f.StartDate != nil {
		params = append(params, *f.StartDate)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(params)))
	}
	if f.EndDate != nil {
		params = append(params, *f.EndDate)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(params)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), params
}

// andErrorType appends the error_type IS NOT NULL condition with the right
// connective for whether a WHERE clause already exists.
func andErrorType(whereSQL string) string {
	if whereSQL == "" {
		return " WHERE error_type IS NOT NULL"
	}
	return " AND error_type IS NOT NULL"
}

// nullIfEmpty maps an empty string to SQL NULL.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
