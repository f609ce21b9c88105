package voicemetrics

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time assertion that MemRecorder satisfies the Recorder interface.
var _ Recorder = (*MemRecorder)(nil)

// MemRecorder is a thread-safe in-memory [Recorder] for tests and
// database-free runs. The zero value is ready to use.
type MemRecorder struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemRecorder returns an initialised [MemRecorder].
func NewMemRecorder() *MemRecorder {
	return &MemRecorder{}
}

// Record implements [Recorder].
func (r *MemRecorder) Record(_ context.Context, rec *Record) error {
	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, cp)
	return nil
}

// Records returns a copy of all stored records, in insertion order.
func (r *MemRecorder) Records() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Analytics implements [Recorder]. All aggregation happens in Go with the
// same zero-denominator guards the SQL recorder relies on NULLIF for.
func (r *MemRecorder) Analytics(_ context.Context, f Filters) (*Analytics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		s              Summary
		sumConfidence  float64
		sumProcessing  float64
		errorCounts    = map[string]int64{}
		matchedRecords int64
	)

	for _, rec := range r.records {
		if !matches(rec, f) {
			continue
		}
		matchedRecords++

		s.TotalAttempts++
		if rec.Success {
			s.SuccessfulAttempts++
		}
		sumConfidence += rec.ConfidenceScore
		sumProcessing += float64(rec.ProcessingTimeMs) / 1000
		s.TotalItemsIdentified += int64(rec.ItemsIdentified)
		s.TotalItemsMatched += int64(rec.ItemsMatched)
		s.TotalItemsAdded += int64(rec.ItemsAdded)

		if rec.ErrorType != "" {
			errorCounts[rec.ErrorType]++
		}
	}

	if s.TotalAttempts > 0 {
		avgConf := round2(sumConfidence / float64(s.TotalAttempts))
		avgProc := round2(sumProcessing / float64(s.TotalAttempts))
		s.AvgConfidence = &avgConf
		s.AvgProcessingSeconds = &avgProc
	}
	s.ProductMatchRate = ratio(s.TotalItemsMatched, s.TotalItemsIdentified)
	s.SlipAdditionRate = ratio(s.TotalItemsAdded, s.TotalItemsIdentified)

	breakdown := make([]ErrorBreakdown, 0, len(errorCounts))
	for typ, count := range errorCounts {
		pct := float64(0)
		if p := ratio(count, matchedRecords); p != nil {
			pct = *p
		}
		breakdown = append(breakdown, ErrorBreakdown{Type: typ, Count: count, Percentage: pct})
	}
	sort.Slice(breakdown, func(i, j int) bool {
		if breakdown[i].Count != breakdown[j].Count {
			return breakdown[i].Count > breakdown[j].Count
		}
		return breakdown[i].Type < breakdown[j].Type
	})

	return &Analytics{Summary: s, Errors: breakdown}, nil
}

// matches reports whether rec satisfies every filter in f.
func matches(rec Record, f Filters) bool {
	if f.ShopID != nil && (rec.ShopID == nil || *rec.ShopID != *f.ShopID) {
		return false
	}
	if f.StartDate != nil && rec.CreatedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && rec.CreatedAt.After(*f.EndDate) {
		return false
	}
	return true
}
