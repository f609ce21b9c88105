package resilience

import (
	"context"

	"github.com/nkhattar/vaani/pkg/speech"
)

// SpeechFallback implements [speech.Transcriber] with automatic failover
// across multiple speech providers. Each provider has its own circuit
// breaker; when the primary fails or its breaker is open, the next healthy
// fallback is tried.
//
// Even with a single provider the wrapper is useful: the breaker stops a
// flapping speech API from being hammered by every upload.
type SpeechFallback struct {
	group *FallbackGroup[speech.Transcriber]
}

// Compile-time interface assertion.
var _ speech.Transcriber = (*SpeechFallback)(nil)

// NewSpeechFallback creates a [SpeechFallback] with primary as the preferred
// provider.
func NewSpeechFallback(primary speech.Transcriber, primaryName string, cfg FallbackConfig) *SpeechFallback {
	return &SpeechFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional speech provider as a fallback.
func (f *SpeechFallback) AddFallback(name string, tr speech.Transcriber) {
	f.group.AddFallback(name, tr)
}

// Transcribe sends the request to the first healthy provider and returns its
// result. A failed or circuit-open primary hands the request to the next
// fallback in registration order.
func (f *SpeechFallback) Transcribe(ctx context.Context, req speech.Request) (*speech.Result, error) {
	return ExecuteWithResult(f.group, func(tr speech.Transcriber) (*speech.Result, error) {
		return tr.Transcribe(ctx, req)
	})
}
