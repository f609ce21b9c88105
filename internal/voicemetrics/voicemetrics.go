// Package voicemetrics persists one immutable record per voice-processing
// attempt and serves aggregate accuracy analytics.
//
// Recording is fire-and-forget from the pipeline's point of view: a write
// failure is logged and swallowed, never propagated to the caller. Analytics
// ratios guard every denominator — an empty record set yields zero counts
// and nil rates, not a divide-by-zero fault.
package voicemetrics

import (
	"context"
	"time"
)

// Record captures everything measured about one end-to-end attempt. Records
// are append-only and never updated.
type Record struct {
	// Audio details.
	AudioBytes      int64
	AudioDurationMs int64
	AudioFormat     string
	LanguageCode    string

	// Transcript stats.
	Transcript      string
	TranscriptChars int
	TranscriptWords int

	// Extraction counts.
	AttemptedExtractions  int
	SuccessfulExtractions int

	// Matching counts.
	ItemsIdentified int
	ItemsMatched    int
	ItemsAdded      int

	// Error info; empty when the attempt succeeded cleanly.
	ErrorType    string
	ErrorMessage string

	// Context identifiers.
	SlipID *int64
	ShopID *int64
	UserID *int64

	// Outcome.
	Success          bool
	ConfidenceScore  float64
	ProcessingTimeMs int64

	// Recognised items and unconsumed transcript text, for review.
	RecognizedText   string
	UnrecognizedText string

	CreatedAt time.Time
}

// Filters restricts an analytics query. Nil fields match everything.
type Filters struct {
	ShopID    *int64
	StartDate *time.Time
	EndDate   *time.Time
}

// Summary is the aggregate section of an analytics response. Rate and
// average fields are nil when no record (or no item) contributes to them.
type Summary struct {
	TotalAttempts        int64    `json:"total_attempts"`
	SuccessfulAttempts   int64    `json:"successful_attempts"`
	AvgConfidence        *float64 `json:"avg_confidence"`
	AvgProcessingSeconds *float64 `json:"avg_processing_seconds"`
	TotalItemsIdentified int64    `json:"total_items_identified"`
	TotalItemsMatched    int64    `json:"total_items_matched"`
	TotalItemsAdded      int64    `json:"total_items_added"`

	// ProductMatchRate and SlipAdditionRate are computed from summed item
	// counts, not attempt counts.
	ProductMatchRate *float64 `json:"product_match_rate"`
	SlipAdditionRate *float64 `json:"slip_addition_rate"`
}

// ErrorBreakdown is one row of the per-error-type analytics section.
type ErrorBreakdown struct {
	Type       string  `json:"type"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Analytics is the full response of [Recorder.Analytics].
type Analytics struct {
	Summary Summary          `json:"summary"`
	Errors  []ErrorBreakdown `json:"errors"`
}

// Recorder persists attempt records and answers analytics queries.
//
// Implementations must be safe for concurrent use.
type Recorder interface {
	// Record persists one attempt record.
	Record(ctx context.Context, rec *Record) error

	// Analytics aggregates all records matching filters.
	Analytics(ctx context.Context, f Filters) (*Analytics, error)
}

// round2 rounds v to two decimal places, matching the precision the
// analytics SQL produces.
func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// ratio returns a*100/b rounded to two decimals, or nil when b is zero.
func ratio(a, b int64) *float64 {
	if b == 0 {
		return nil
	}
	r := round2(float64(a) / float64(b) * 100)
	return &r
}
