// Package google provides a speech.Transcriber backed by Google Cloud
// Speech-to-Text batch recognition.
package google

import (
	"context"
	"fmt"
	"strings"

	gspeech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"github.com/nkhattar/vaani/pkg/speech"
)

// Transcriber implements speech.Transcriber using the Google Cloud
// Speech-to-Text v1 API.
type Transcriber struct {
	client *gspeech.Client
}

// config holds optional configuration for the transcriber.
type config struct {
	credentialsFile string
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithCredentialsFile authenticates with a service account key file instead
// of the GOOGLE_APPLICATION_CREDENTIALS environment default.
func WithCredentialsFile(path string) Option {
	return func(c *config) {
		c.credentialsFile = path
	}
}

// New constructs a Transcriber. The caller owns it and must call Close when
// done.
func New(ctx context.Context, opts ...Option) (*Transcriber, error) {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	var clientOpts []option.ClientOption
	if cfg.credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.credentialsFile))
	}

	client, err := gspeech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("google: create speech client: %w", err)
	}
	return &Transcriber{client: client}, nil
}

// Transcribe implements speech.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, req speech.Request) (*speech.Result, error) {
	resp, err := t.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   encodingFor(req.Format),
			LanguageCode:               req.Language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: req.Audio},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("google: recognize: %w", err)
	}

	var (
		sb         strings.Builder
		confSum    float64
		confCount  int
		confResult float64
	)
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		alt := result.Alternatives[0]
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(alt.Transcript)
		confSum += float64(alt.Confidence)
		confCount++
	}
	if confCount > 0 {
		confResult = confSum / float64(confCount)
	}

	return &speech.Result{
		Text:       strings.TrimSpace(sb.String()),
		Confidence: confResult,
	}, nil
}

// Close releases the underlying gRPC connection.
func (t *Transcriber) Close() error {
	return t.client.Close()
}

// encodingFor maps a container format to the recognition encoding. Unknown
// formats fall back to WEBM_OPUS, the format browsers record in.
func encodingFor(format string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "wav":
		return speechpb.RecognitionConfig_LINEAR16
	case "mp3":
		return speechpb.RecognitionConfig_MP3
	case "flac":
		return speechpb.RecognitionConfig_FLAC
	case "ogg":
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		return speechpb.RecognitionConfig_WEBM_OPUS
	}
}

var _ speech.Transcriber = (*Transcriber)(nil)
