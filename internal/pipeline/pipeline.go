// Package pipeline orchestrates the end-to-end voice slip flow: audio in,
// reconciled sale lines out.
//
// A single [Pipeline.Process] call runs transcription, grammar extraction,
// normalization, and catalog reconciliation in sequence, then records one
// voice-metrics row describing the attempt. Metrics recording is
// fire-and-forget: a write failure is counted and logged, never surfaced to
// the caller, so an analytics outage cannot take voice processing down with
// it.
//
// Cancellation semantics follow what work was already paid for. A context
// cancelled before or during transcription aborts with no metrics record;
// once a transcript exists, cancellation still produces a record tagged
// "incomplete" so partial work shows up in analytics.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nkhattar/vaani/internal/extract"
	"github.com/nkhattar/vaani/internal/normalize"
	"github.com/nkhattar/vaani/internal/observe"
	"github.com/nkhattar/vaani/internal/reconcile"
	"github.com/nkhattar/vaani/internal/voicemetrics"
	"github.com/nkhattar/vaani/pkg/speech"
)

const (
	// DefaultMaxAudioBytes caps uploaded audio payloads at 10 MiB.
	DefaultMaxAudioBytes = 10 << 20

	// recordTimeout bounds the detached metrics write after a Process call
	// returns.
	recordTimeout = 5 * time.Second
)

// Input is one voice slip processing request.
type Input struct {
	// Audio is the complete encoded audio payload.
	Audio []byte

	// Format is the audio container format, e.g. "wav" or "webm".
	Format string

	// DurationMs is the client-reported audio duration in milliseconds.
	// Zero when the client did not report one; the server never decodes
	// audio to measure it.
	DurationMs int64

	// Language is the BCP-47 recognition language, e.g. "hi-IN".
	Language string

	// ShopID and UserID identify the requesting shop and user for the
	// metrics record. Either may be nil.
	ShopID *int64
	UserID *int64

	// Cleanup, when non-nil, is invoked exactly once before Process returns,
	// on every path. Use it to release temporary upload storage.
	Cleanup func()
}

// Line is one reconciled sale line of the response.
type Line struct {
	Name       string   `json:"name"`
	Quantity   float64  `json:"quantity"`
	Unit       string   `json:"unit"`
	Rate       *float64 `json:"rate"`
	ProductID  *int64   `json:"product_id"`
	MatchType  string   `json:"match_type"`
	Score      int      `json:"score"`
	NeedsPrice bool     `json:"needs_price"`
}

// Output is the result of a successful [Pipeline.Process] call.
type Output struct {
	// Transcript is the full recognized text.
	Transcript string `json:"transcript"`

	// Lines are the reconciled sale lines, in transcript order. Empty when
	// the provider heard nothing or no grammar matched.
	Lines []Line `json:"lines"`

	// Leftover is transcript text no grammar could claim. Surfaced so the
	// user can correct what the parser missed.
	Leftover string `json:"leftover,omitempty"`

	// Confidence is the mean match score over all lines, scaled to [0, 1].
	Confidence float64 `json:"confidence"`

	// ItemsMatched counts lines resolved to a catalog product.
	ItemsMatched int `json:"items_matched"`
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithMaxAudioBytes overrides [DefaultMaxAudioBytes].
func WithMaxAudioBytes(n int64) Option {
	return func(p *Pipeline) { p.maxAudioBytes = n }
}

// WithLanguages restricts recognition to the given BCP-47 tags. An empty
// list accepts any language.
func WithLanguages(tags []string) Option {
	return func(p *Pipeline) {
		p.languages = make(map[string]struct{}, len(tags))
		for _, t := range tags {
			p.languages[t] = struct{}{}
		}
	}
}

// WithDefaultLanguage sets the recognition language used when a request
// carries none.
func WithDefaultLanguage(tag string) Option {
	return func(p *Pipeline) { p.defaultLanguage = tag }
}

// WithMetrics overrides the OTel instrument set, for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithProviderName sets the provider label used on transcriber error
// counters. Default "unknown".
func WithProviderName(name string) Option {
	return func(p *Pipeline) { p.providerName = name }
}

// Pipeline wires the processing stages together. It is read-only after
// construction and safe for concurrent use.
type Pipeline struct {
	transcriber speech.Transcriber
	extractor   *extract.Extractor
	reconciler  *reconcile.Reconciler
	recorder    voicemetrics.Recorder
	metrics     *observe.Metrics

	maxAudioBytes   int64
	languages       map[string]struct{}
	defaultLanguage string
	providerName    string
}

// New constructs a Pipeline. All four collaborators are required.
func New(tr speech.Transcriber, ex *extract.Extractor, rc *reconcile.Reconciler, rec voicemetrics.Recorder, opts ...Option) *Pipeline {
	p := &Pipeline{
		transcriber:   tr,
		extractor:     ex,
		reconciler:    rc,
		recorder:      rec,
		maxAudioBytes: DefaultMaxAudioBytes,
		providerName:  "unknown",
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Process runs one voice slip attempt end to end.
//
// On failure the returned error is an [*Error] whose Kind classifies the
// stage that failed. A nil error always carries a non-nil Output, even when
// the transcript was empty or no grammar matched.
func (p *Pipeline) Process(ctx context.Context, in Input) (*Output, error) {
	start := time.Now()
	if in.Cleanup != nil {
		defer in.Cleanup()
	}
	if in.Language == "" {
		in.Language = p.defaultLanguage
	}

	rec := &voicemetrics.Record{
		AudioBytes:      int64(len(in.Audio)),
		AudioDurationMs: in.DurationMs,
		AudioFormat:     in.Format,
		LanguageCode:    in.Language,
		ShopID:          in.ShopID,
		UserID:          in.UserID,
	}

	if err := p.validate(in); err != nil {
		rec.ErrorType = string(KindInput)
		rec.ErrorMessage = err.Error()
		p.finish(ctx, rec, start)
		return nil, &Error{Kind: KindInput, Err: err}
	}

	// Nothing is recorded for work that never started.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	transcript, conf, err := p.transcribe(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.metrics.RecordTranscriberError(ctx, p.providerName)
		rec.ErrorType = string(KindTranscription)
		rec.ErrorMessage = err.Error()
		p.finish(ctx, rec, start)
		return nil, &Error{Kind: KindTranscription, Err: fmt.Errorf("transcribe: %w", err)}
	}

	rec.Transcript = transcript
	rec.TranscriptChars = utf8.RuneCountInString(transcript)
	rec.TranscriptWords = len(strings.Fields(transcript))

	if strings.TrimSpace(transcript) == "" {
		rec.Success = true
		p.finish(ctx, rec, start)
		return &Output{}, nil
	}

	items, leftover := p.extractItems(ctx, transcript, rec)

	// The transcript is paid for at this point, so a cancelled attempt is
	// still worth a record.
	if ctx.Err() != nil {
		rec.ErrorType = string(KindIncomplete)
		rec.ErrorMessage = ctx.Err().Error()
		p.finish(ctx, rec, start)
		return nil, &Error{Kind: KindIncomplete, Err: ctx.Err()}
	}

	recStart := time.Now()
	matches := p.reconciler.Reconcile(ctx, items)
	p.metrics.ReconciliationDuration.Record(ctx, time.Since(recStart).Seconds())

	out := p.assemble(transcript, leftover, matches, conf)

	rec.ItemsMatched = out.ItemsMatched
	rec.ItemsAdded = countResolved(matches)
	rec.ConfidenceScore = out.Confidence
	rec.RecognizedText = recognizedText(matches)
	rec.UnrecognizedText = leftover
	rec.Success = true

	p.recordStageCounters(ctx, matches)
	p.finish(ctx, rec, start)
	return out, nil
}

// validate rejects a request before any processing starts.
func (p *Pipeline) validate(in Input) error {
	if len(in.Audio) == 0 {
		return fmt.Errorf("empty audio payload")
	}
	if int64(len(in.Audio)) > p.maxAudioBytes {
		return fmt.Errorf("audio payload %d bytes exceeds limit %d", len(in.Audio), p.maxAudioBytes)
	}
	if len(p.languages) > 0 && in.Language != "" {
		if _, ok := p.languages[in.Language]; !ok {
			return fmt.Errorf("unsupported language %q", in.Language)
		}
	}
	return nil
}

// transcribe runs the speech provider under the transcription timer.
func (p *Pipeline) transcribe(ctx context.Context, in Input) (string, float64, error) {
	sttStart := time.Now()
	res, err := p.transcriber.Transcribe(ctx, speech.Request{
		Audio:    in.Audio,
		Format:   in.Format,
		Language: in.Language,
	})
	p.metrics.TranscriptionDuration.Record(ctx, time.Since(sttStart).Seconds())
	if err != nil {
		return "", 0, err
	}
	return res.Text, res.Confidence, nil
}

// extractItems runs grammar extraction and normalization, filling the
// extraction counters of rec as it goes.
func (p *Pipeline) extractItems(ctx context.Context, transcript string, rec *voicemetrics.Record) ([]normalize.NormalizedItem, string) {
	exStart := time.Now()
	result := p.extractor.Extract(transcript)

	items := make([]normalize.NormalizedItem, 0, len(result.Candidates))
	for _, c := range result.Candidates {
		item, err := normalize.Item(c.Name, c.Quantity, c.RawUnit, c.Rate)
		if err != nil {
			slog.Debug("candidate rejected during normalization",
				slog.String("name", c.Name),
				slog.String("strategy", c.Strategy),
				slog.Any("error", err))
			continue
		}
		items = append(items, item)
	}

	p.metrics.ExtractionDuration.Record(ctx, time.Since(exStart).Seconds())
	p.metrics.ItemsExtracted.Add(ctx, int64(len(items)))

	rec.AttemptedExtractions = len(result.Candidates)
	rec.SuccessfulExtractions = len(items)
	rec.ItemsIdentified = len(items)
	return items, result.Leftover
}

// assemble builds the API output from reconciliation results.
func (p *Pipeline) assemble(transcript, leftover string, matches []reconcile.Match, sttConf float64) *Output {
	out := &Output{
		Transcript: transcript,
		Leftover:   leftover,
		Lines:      make([]Line, 0, len(matches)),
	}

	var scoreSum int
	for _, m := range matches {
		name := m.Item.Name
		if m.MatchedName != "" {
			name = m.MatchedName
		}
		out.Lines = append(out.Lines, Line{
			Name:       name,
			Quantity:   m.Item.Quantity,
			Unit:       m.ResolvedUnit,
			Rate:       m.Rate,
			ProductID:  m.ProductID,
			MatchType:  string(m.Type),
			Score:      m.Score,
			NeedsPrice: m.NeedsPrice,
		})
		if m.Type != reconcile.TypeNone {
			out.ItemsMatched++
		}
		scoreSum += m.Score
	}
	if len(matches) > 0 {
		out.Confidence = float64(scoreSum) / float64(len(matches)) / 100
	} else {
		out.Confidence = sttConf
	}
	return out
}

// recordStageCounters feeds the per-match-type OTel counters.
func (p *Pipeline) recordStageCounters(ctx context.Context, matches []reconcile.Match) {
	byType := map[string]int64{}
	for _, m := range matches {
		if m.Type != reconcile.TypeNone {
			byType[string(m.Type)]++
		}
	}
	for typ, n := range byType {
		p.metrics.RecordItemsMatched(ctx, typ, n)
	}
}

// finish stamps the processing time, bumps the attempt counter, and hands
// the record to the detached writer.
func (p *Pipeline) finish(ctx context.Context, rec *voicemetrics.Record, start time.Time) {
	elapsed := time.Since(start)
	rec.ProcessingTimeMs = elapsed.Milliseconds()
	p.metrics.PipelineDuration.Record(ctx, elapsed.Seconds())

	status := "success"
	if !rec.Success {
		status = rec.ErrorType
	}
	p.metrics.RecordAttempt(ctx, status, rec.LanguageCode)

	// Detach from the request context so a cancelled or finished request
	// cannot abort the write mid-flight.
	go func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if err := p.recorder.Record(ctx, rec); err != nil {
			p.metrics.MetricsWriteFailures.Add(ctx, 1)
			slog.Warn("voice metrics write failed", slog.Any("error", err))
		}
	}(ctx)
}

// countResolved counts lines matched to a product with a resolved rate,
// i.e. lines ready to land on a slip without further input.
func countResolved(matches []reconcile.Match) int {
	n := 0
	for _, m := range matches {
		if m.ProductID != nil && m.Rate != nil {
			n++
		}
	}
	return n
}

// recognizedText renders the reconciled lines as one reviewable string,
// e.g. "aloo 5 kg @40, pyaz 2 kg".
func recognizedText(matches []reconcile.Match) string {
	var sb strings.Builder
	for i, m := range matches {
		if i > 0 {
			sb.WriteString(", ")
		}
		name := m.Item.Name
		if m.MatchedName != "" {
			name = m.MatchedName
		}
		sb.WriteString(name)
		sb.WriteString(" ")
		sb.WriteString(strconv.FormatFloat(m.Item.Quantity, 'f', -1, 64))
		if m.ResolvedUnit != "" {
			sb.WriteString(" ")
			sb.WriteString(m.ResolvedUnit)
		}
		if m.Rate != nil {
			sb.WriteString(" @")
			sb.WriteString(strconv.FormatFloat(*m.Rate, 'f', -1, 64))
		}
	}
	return sb.String()
}
