// Package speech defines the Transcriber interface for batch speech-to-text
// backends.
//
// A Transcriber wraps a recognition service (Google Cloud Speech-to-Text, an
// OpenAI-compatible Whisper API, or a test mock) behind a uniform
// one-shot interface: a complete audio clip in, a transcript out. Streaming
// recognition is out of scope; voice slips are short utterances and batch
// recognition keeps the providers interchangeable.
//
// Implementations must be safe for concurrent use.
package speech

import "context"

// Request describes one audio clip to transcribe.
type Request struct {
	// Audio is the complete encoded audio payload.
	Audio []byte

	// Format is the container format, normally derived from the uploaded
	// file's extension: "wav", "mp3", "flac", "ogg", "webm". Providers that
	// cannot infer the codec themselves use it to pick the decoder.
	Format string

	// Language is the BCP-47 language tag for recognition (e.g. "hi-IN",
	// "en-IN"). An empty string lets the provider auto-detect, if supported.
	Language string
}

// Result is the recognition outcome for one Request.
type Result struct {
	// Text is the full transcript, joined over all recognition segments.
	// Empty when the provider heard nothing intelligible.
	Text string

	// Confidence is the provider's own recognition confidence in [0, 1].
	// Providers that do not report one leave it at zero.
	Confidence float64
}

// Transcriber is the abstraction over any batch speech-to-text backend.
type Transcriber interface {
	// Transcribe recognizes one complete audio clip. It blocks until the
	// provider responds or ctx is done.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}
