// Package whisperapi provides a speech.Transcriber backed by an
// OpenAI-compatible Whisper transcription endpoint.
package whisperapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nkhattar/vaani/pkg/speech"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "whisper-1"

// Transcriber implements speech.Transcriber using the OpenAI audio
// transcription API. Any server implementing the same API surface works via
// WithBaseURL.
type Transcriber struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the transcriber.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL points the client at a self-hosted Whisper-compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Transcriber.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("whisperapi: apiKey must not be empty")
	}

	cfg := &config{model: DefaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Transcriber{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Transcribe implements speech.Transcriber. Whisper does not report a
// recognition confidence, so Result.Confidence is always zero.
func (t *Transcriber) Transcribe(ctx context.Context, req speech.Request) (*speech.Result, error) {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(req.Audio), fileName(req.Format), contentType(req.Format)),
		Model: oai.AudioModel(t.model),
	}
	if req.Language != "" {
		// Whisper expects an ISO-639-1 code, not a full BCP-47 tag.
		params.Language = oai.String(baseLanguage(req.Language))
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("whisperapi: transcribe: %w", err)
	}
	return &speech.Result{Text: resp.Text}, nil
}

// fileName gives the multipart upload a plausible name so the server can
// infer the codec.
func fileName(format string) string {
	if format == "" {
		format = "webm"
	}
	return "audio." + format
}

func contentType(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "mp3":
		return "audio/mpeg"
	case "flac":
		return "audio/flac"
	case "ogg":
		return "audio/ogg"
	default:
		return "audio/webm"
	}
}

// baseLanguage strips a region subtag: "hi-IN" becomes "hi".
func baseLanguage(tag string) string {
	for i := 0; i < len(tag); i++ {
		if tag[i] == '-' {
			return tag[:i]
		}
	}
	return tag
}

var _ speech.Transcriber = (*Transcriber)(nil)
