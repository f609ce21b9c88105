// Package mock provides a test double for the speech package interfaces.
//
// Pre-populate Result (or Err) with what Transcribe should return, then
// inspect Calls to verify what the caller sent.
//
// Example:
//
//	tr := &mock.Transcriber{Result: &speech.Result{Text: "5 kg aloo 40"}}
//	res, _ := tr.Transcribe(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/nkhattar/vaani/pkg/speech"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the request passed to Transcribe.
	Req speech.Request
}

// Transcriber is a mock implementation of speech.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned from Transcribe when Err is nil. If both are nil,
	// Transcribe returns an empty Result.
	Result *speech.Result

	// Err, if non-nil, is returned as the error from every Transcribe call.
	Err error

	// Delay, if non-nil, is selected against ctx.Done() before responding,
	// letting tests exercise cancellation mid-transcription.
	Delay <-chan struct{}

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Result, Err.
func (t *Transcriber) Transcribe(ctx context.Context, req speech.Request) (*speech.Result, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, TranscribeCall{Ctx: ctx, Req: req})
	delay := t.Delay
	t.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return nil, t.Err
	}
	if t.Result != nil {
		res := *t.Result
		return &res, nil
	}
	return &speech.Result{}, nil
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
}

// Ensure Transcriber implements speech.Transcriber at compile time.
var _ speech.Transcriber = (*Transcriber)(nil)
