package pipeline

import "errors"

// Kind classifies a pipeline failure. The string value doubles as the
// error_type recorded in voice metrics and as the metrics attribute, so
// analytics and Prometheus agree on taxonomy.
type Kind string

const (
	// KindInput marks a request rejected before any processing: missing
	// audio, oversized payload, or an unsupported language.
	KindInput Kind = "input_error"

	// KindTranscription marks a speech provider failure.
	KindTranscription Kind = "transcription_error"

	// KindIncomplete marks an attempt cancelled after transcript acquisition.
	// Work already done (transcript, extraction counts) is still recorded.
	KindIncomplete Kind = "incomplete"

	// KindInternal marks any other failure.
	KindInternal Kind = "internal_error"
)

// Error is the error type returned by [Pipeline.Process]. It wraps the
// underlying cause and carries the failure classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, or KindInternal when err is not
// a pipeline [Error].
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}
