package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/nkhattar/vaani/internal/catalog"
	"github.com/nkhattar/vaani/internal/extract"
	"github.com/nkhattar/vaani/internal/observe"
	"github.com/nkhattar/vaani/internal/pipeline"
	"github.com/nkhattar/vaani/internal/reconcile"
	"github.com/nkhattar/vaani/internal/voicemetrics"
	"github.com/nkhattar/vaani/pkg/speech"
	speechmock "github.com/nkhattar/vaani/pkg/speech/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func seedStore(t *testing.T) *catalog.MemStore {
	t.Helper()
	ctx := context.Background()
	s := catalog.NewMemStore(nil)

	for _, p := range []catalog.Product{
		{Name: "आलू", Aliases: []string{"aloo"}, DefaultUnit: "kg"},
		{Name: "प्याज", Aliases: []string{"pyaz"}, DefaultUnit: "kg"},
	} {
		if _, err := s.AddProduct(ctx, p); err != nil {
			t.Fatalf("AddProduct(%q): %v", p.Name, err)
		}
	}
	if err := s.SetPrice(ctx, catalog.PriceRecord{
		ProductID: 1, Price: 42, EffectiveDate: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}
	return s
}

func newPipeline(t *testing.T, tr speech.Transcriber, rec voicemetrics.Recorder, opts ...pipeline.Option) *pipeline.Pipeline {
	t.Helper()
	opts = append([]pipeline.Option{pipeline.WithMetrics(testMetrics(t))}, opts...)
	return pipeline.New(tr, extract.New(), reconcile.New(seedStore(t)), rec, opts...)
}

// waitRecords polls until rec holds want records or the deadline passes.
func waitRecords(t *testing.T, rec *voicemetrics.MemRecorder, want int) []voicemetrics.Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := rec.Records()
		if len(got) >= want {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("recorded %d records, want %d", len(got), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProcess_HappyPath(t *testing.T) {
	t.Parallel()
	tr := &speechmock.Transcriber{Result: &speech.Result{Text: "5 kg aloo 40, 2 kg pyaz", Confidence: 0.95}}
	rec := voicemetrics.NewMemRecorder()
	p := newPipeline(t, tr, rec)

	shop := int64(7)
	out, err := p.Process(context.Background(), pipeline.Input{
		Audio:      []byte("fake-audio"),
		Format:     "wav",
		DurationMs: 2500,
		Language:   "hi-IN",
		ShopID:     &shop,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if out.Transcript != "5 kg aloo 40, 2 kg pyaz" {
		t.Errorf("transcript = %q", out.Transcript)
	}
	if len(out.Lines) != 2 {
		t.Fatalf("lines = %+v, want 2", out.Lines)
	}
	first, second := out.Lines[0], out.Lines[1]
	if first.Name != "आलू" || first.MatchType != "exact" || first.Quantity != 5 || first.Unit != "kg" {
		t.Errorf("first line = %+v, want आलू 5 kg exact", first)
	}
	// The catalog's current price beats the spoken rate.
	if first.Rate == nil || *first.Rate != 42 {
		t.Errorf("first rate = %v, want 42", first.Rate)
	}
	if second.Name != "प्याज" || second.Rate != nil || !second.NeedsPrice {
		t.Errorf("second line = %+v, want unpriced प्याज", second)
	}
	if out.ItemsMatched != 2 {
		t.Errorf("items matched = %d, want 2", out.ItemsMatched)
	}
	if out.Confidence != 1 {
		t.Errorf("confidence = %v, want 1 (two exact matches)", out.Confidence)
	}
	if out.Leftover != "" {
		t.Errorf("leftover = %q, want empty", out.Leftover)
	}

	stored := waitRecords(t, rec, 1)[0]
	if !stored.Success {
		t.Error("record not marked successful")
	}
	if stored.ItemsIdentified != 2 || stored.ItemsMatched != 2 || stored.ItemsAdded != 1 {
		t.Errorf("record items = %d/%d/%d, want 2/2/1",
			stored.ItemsIdentified, stored.ItemsMatched, stored.ItemsAdded)
	}
	if stored.ShopID == nil || *stored.ShopID != 7 {
		t.Errorf("record shop id = %v, want 7", stored.ShopID)
	}
	if stored.AudioDurationMs != 2500 {
		t.Errorf("record audio duration = %d, want 2500", stored.AudioDurationMs)
	}
	if stored.RecognizedText != "आलू 5 kg @42, प्याज 2 kg" {
		t.Errorf("recognized text = %q", stored.RecognizedText)
	}
	if stored.TranscriptWords != 7 {
		t.Errorf("transcript words = %d, want 7", stored.TranscriptWords)
	}
}

func TestProcess_InputValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   pipeline.Input
		opts []pipeline.Option
	}{
		{name: "empty audio", in: pipeline.Input{Format: "wav"}},
		{
			name: "oversize audio",
			in:   pipeline.Input{Audio: []byte("0123456789"), Format: "wav"},
			opts: []pipeline.Option{pipeline.WithMaxAudioBytes(4)},
		},
		{
			name: "unsupported language",
			in:   pipeline.Input{Audio: []byte("a"), Format: "wav", Language: "xx-YY"},
			opts: []pipeline.Option{pipeline.WithLanguages([]string{"hi-IN"})},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr := &speechmock.Transcriber{}
			rec := voicemetrics.NewMemRecorder()
			p := newPipeline(t, tr, rec, tc.opts...)

			out, err := p.Process(context.Background(), tc.in)
			if out != nil {
				t.Errorf("output = %+v, want nil", out)
			}
			if got := pipeline.KindOf(err); got != pipeline.KindInput {
				t.Fatalf("kind = %q (err %v), want input_error", got, err)
			}
			if len(tr.Calls) != 0 {
				t.Error("transcriber called despite invalid input")
			}
			stored := waitRecords(t, rec, 1)[0]
			if stored.Success || stored.ErrorType != string(pipeline.KindInput) {
				t.Errorf("record = success %v type %q, want failed input_error",
					stored.Success, stored.ErrorType)
			}
		})
	}
}

func TestProcess_TranscriberError(t *testing.T) {
	t.Parallel()
	tr := &speechmock.Transcriber{Err: errors.New("stt unavailable")}
	rec := voicemetrics.NewMemRecorder()
	p := newPipeline(t, tr, rec)

	_, err := p.Process(context.Background(), pipeline.Input{Audio: []byte("a"), Format: "wav"})
	if got := pipeline.KindOf(err); got != pipeline.KindTranscription {
		t.Fatalf("kind = %q (err %v), want transcription_error", got, err)
	}
	stored := waitRecords(t, rec, 1)[0]
	if stored.Success || stored.ErrorType != string(pipeline.KindTranscription) {
		t.Errorf("record = success %v type %q, want failed transcription_error",
			stored.Success, stored.ErrorType)
	}
}

// A silent recording is a success with an empty result, not an error.
func TestProcess_EmptyTranscript(t *testing.T) {
	t.Parallel()
	tr := &speechmock.Transcriber{Result: &speech.Result{Text: "  "}}
	rec := voicemetrics.NewMemRecorder()
	p := newPipeline(t, tr, rec)

	out, err := p.Process(context.Background(), pipeline.Input{Audio: []byte("a"), Format: "wav"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out.Lines) != 0 || out.Transcript != "" {
		t.Errorf("output = %+v, want empty", out)
	}
	stored := waitRecords(t, rec, 1)[0]
	if !stored.Success || stored.ErrorType != "" {
		t.Errorf("record = success %v type %q, want clean success", stored.Success, stored.ErrorType)
	}
}

func TestProcess_NoGrammarMatch(t *testing.T) {
	t.Parallel()
	tr := &speechmock.Transcriber{Result: &speech.Result{Text: "hello there", Confidence: 0.8}}
	rec := voicemetrics.NewMemRecorder()
	p := newPipeline(t, tr, rec)

	out, err := p.Process(context.Background(), pipeline.Input{Audio: []byte("a"), Format: "wav"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out.Lines) != 0 {
		t.Errorf("lines = %+v, want none", out.Lines)
	}
	if out.Leftover != "hello there" {
		t.Errorf("leftover = %q, want full transcript", out.Leftover)
	}
	// With no lines, confidence falls back to the provider's.
	if out.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", out.Confidence)
	}
	stored := waitRecords(t, rec, 1)[0]
	if stored.UnrecognizedText != "hello there" {
		t.Errorf("unrecognized text = %q", stored.UnrecognizedText)
	}
}

func TestProcess_CancelledBeforeStart(t *testing.T) {
	t.Parallel()
	tr := &speechmock.Transcriber{}
	rec := voicemetrics.NewMemRecorder()
	p := newPipeline(t, tr, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Process(ctx, pipeline.Input{Audio: []byte("a"), Format: "wav"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(tr.Calls) != 0 {
		t.Error("transcriber called despite cancelled context")
	}
	// Work that never started leaves no record.
	time.Sleep(50 * time.Millisecond)
	if got := rec.Records(); len(got) != 0 {
		t.Errorf("records = %+v, want none", got)
	}
}

func TestProcess_CancelledDuringTranscription(t *testing.T) {
	t.Parallel()
	tr := &speechmock.Transcriber{Delay: make(chan struct{})} // never closed
	rec := voicemetrics.NewMemRecorder()
	p := newPipeline(t, tr, rec)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(20*time.Millisecond, cancel)
	defer timer.Stop()

	_, err := p.Process(ctx, pipeline.Input{Audio: []byte("a"), Format: "wav"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := rec.Records(); len(got) != 0 {
		t.Errorf("records = %+v, want none", got)
	}
}

// Once the transcript exists the attempt is worth a record: cancellation
// after transcription fails with the incomplete kind and still records.
func TestProcess_CancelledAfterTranscription(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &cancellingTranscriber{cancel: cancel, text: "5 kg aloo"}
	rec := voicemetrics.NewMemRecorder()
	p := newPipeline(t, tr, rec)

	_, err := p.Process(ctx, pipeline.Input{Audio: []byte("a"), Format: "wav"})
	if got := pipeline.KindOf(err); got != pipeline.KindIncomplete {
		t.Fatalf("kind = %q (err %v), want incomplete", got, err)
	}
	stored := waitRecords(t, rec, 1)[0]
	if stored.Success || stored.ErrorType != string(pipeline.KindIncomplete) {
		t.Errorf("record = success %v type %q, want incomplete", stored.Success, stored.ErrorType)
	}
	if stored.Transcript != "5 kg aloo" {
		t.Errorf("record transcript = %q, want the paid-for transcript", stored.Transcript)
	}
}

// A metrics store outage must never fail voice processing.
func TestProcess_RecorderFailureTolerated(t *testing.T) {
	t.Parallel()
	tr := &speechmock.Transcriber{Result: &speech.Result{Text: "5 kg aloo"}}
	rec := &failingRecorder{}
	p := newPipeline(t, tr, rec)

	out, err := p.Process(context.Background(), pipeline.Input{Audio: []byte("a"), Format: "wav"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out.Lines) != 1 {
		t.Fatalf("lines = %+v, want 1", out.Lines)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.calls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("recorder never invoked")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProcess_DefaultLanguage(t *testing.T) {
	t.Parallel()
	tr := &speechmock.Transcriber{Result: &speech.Result{Text: ""}}
	rec := voicemetrics.NewMemRecorder()
	p := newPipeline(t, tr, rec, pipeline.WithDefaultLanguage("hi-IN"))

	if _, err := p.Process(context.Background(), pipeline.Input{Audio: []byte("a"), Format: "wav"}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(tr.Calls) != 1 || tr.Calls[0].Req.Language != "hi-IN" {
		t.Fatalf("transcriber calls = %+v, want one with hi-IN", tr.Calls)
	}
	stored := waitRecords(t, rec, 1)[0]
	if stored.LanguageCode != "hi-IN" {
		t.Errorf("record language = %q, want hi-IN", stored.LanguageCode)
	}
}

func TestProcess_CleanupRuns(t *testing.T) {
	t.Parallel()
	rec := voicemetrics.NewMemRecorder()

	var cleaned bool
	p := newPipeline(t, &speechmock.Transcriber{Result: &speech.Result{Text: ""}}, rec)
	if _, err := p.Process(context.Background(), pipeline.Input{
		Audio: []byte("a"), Format: "wav", Cleanup: func() { cleaned = true },
	}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !cleaned {
		t.Error("cleanup not invoked on success")
	}

	cleaned = false
	if _, err := p.Process(context.Background(), pipeline.Input{
		Cleanup: func() { cleaned = true },
	}); err == nil {
		t.Fatal("Process accepted empty audio")
	}
	if !cleaned {
		t.Error("cleanup not invoked on input error")
	}
}

// cancellingTranscriber returns a transcript and cancels the request context
// on its way out, simulating a client that disconnects right after speech
// recognition completes.
type cancellingTranscriber struct {
	cancel context.CancelFunc
	text   string
}

func (c *cancellingTranscriber) Transcribe(context.Context, speech.Request) (*speech.Result, error) {
	c.cancel()
	return &speech.Result{Text: c.text}, nil
}

// failingRecorder errors on every write and counts attempts.
type failingRecorder struct {
	mu sync.Mutex
	n  int
}

var _ voicemetrics.Recorder = (*failingRecorder)(nil)

func (f *failingRecorder) Record(context.Context, *voicemetrics.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return errors.New("metrics store down")
}

func (f *failingRecorder) Analytics(context.Context, voicemetrics.Filters) (*voicemetrics.Analytics, error) {
	return nil, errors.New("metrics store down")
}

func (f *failingRecorder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}
