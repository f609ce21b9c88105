package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/nkhattar/vaani/internal/catalog"
	"github.com/nkhattar/vaani/internal/config"
	"github.com/nkhattar/vaani/internal/extract"
	"github.com/nkhattar/vaani/internal/health"
	"github.com/nkhattar/vaani/internal/observe"
	"github.com/nkhattar/vaani/internal/pipeline"
	"github.com/nkhattar/vaani/internal/reconcile"
	"github.com/nkhattar/vaani/internal/server"
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

// newTestServer wires a full server over an in-memory catalog and recorder.
func newTestServer(t *testing.T, tr speech.Transcriber, rec voicemetrics.Recorder) *server.Server {
	t.Helper()
	ctx := context.Background()

	store := catalog.NewMemStore(nil)
	if _, err := store.AddProduct(ctx, catalog.Product{
		Name: "आलू", Aliases: []string{"aloo"}, DefaultUnit: "kg",
	}); err != nil {
		t.Fatalf("AddProduct: %v", err)
	}
	if err := store.SetPrice(ctx, catalog.PriceRecord{
		ProductID: 1, Price: 42, EffectiveDate: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}

	m := testMetrics(t)
	p := pipeline.New(tr, extract.New(), reconcile.New(store), rec, pipeline.WithMetrics(m))
	return server.New(server.Config{
		Pipeline:  p,
		Recorder:  rec,
		Health:    health.New(),
		Metrics:   m,
		Languages: config.DefaultLanguages(),
	})
}

// multipartBody builds an upload form with an audio part and extra fields.
func multipartBody(t *testing.T, filename string, audio []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(audio); err != nil {
		t.Fatalf("write audio part: %v", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField(%s): %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestProcessEndpoint(t *testing.T) {
	t.Parallel()
	tr := &speechmock.Transcriber{Result: &speech.Result{Text: "5 kg aloo"}}
	srv := newTestServer(t, tr, voicemetrics.NewMemRecorder())
	h := srv.Handler()

	body, contentType := multipartBody(t, "slip.WAV", []byte("fake-audio"), map[string]string{
		"language": "hi-IN",
		"shop_id":  "7",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/voice/process", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var out pipeline.Output
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if out.Transcript != "5 kg aloo" {
		t.Errorf("transcript = %q", out.Transcript)
	}
	if len(out.Lines) != 1 || out.Lines[0].Name != "आलू" || out.Lines[0].MatchType != "exact" {
		t.Errorf("lines = %+v, want one exact आलू", out.Lines)
	}

	if len(tr.Calls) != 1 {
		t.Fatalf("transcriber calls = %d, want 1", len(tr.Calls))
	}
	got := tr.Calls[0].Req
	if got.Format != "wav" {
		t.Errorf("format = %q, want wav (lowered from filename)", got.Format)
	}
	if got.Language != "hi-IN" {
		t.Errorf("language = %q, want hi-IN", got.Language)
	}
}

func TestProcessEndpoint_MissingAudio(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &speechmock.Transcriber{}, voicemetrics.NewMemRecorder())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("language", "hi-IN"); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/voice/process", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	assertErrorType(t, rr, "input_error")
}

func TestProcessEndpoint_RejectsNonAudioPart(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &speechmock.Transcriber{}, voicemetrics.NewMemRecorder())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="audio"; filename="notes.txt"`)
	hdr.Set("Content-Type", "text/plain")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := part.Write([]byte("not audio")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/voice/process", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	assertErrorType(t, rr, "input_error")
}

func TestProcessEndpoint_TranscriberFailure(t *testing.T) {
	t.Parallel()
	tr := &speechmock.Transcriber{Err: errors.New("stt unavailable")}
	srv := newTestServer(t, tr, voicemetrics.NewMemRecorder())

	body, contentType := multipartBody(t, "a.wav", []byte("audio"), nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/voice/process", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
	assertErrorType(t, rr, "transcription_error")
}

func TestLanguagesEndpoint(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &speechmock.Transcriber{}, voicemetrics.NewMemRecorder())

	req := httptest.NewRequest(http.MethodGet, "/v1/voice/languages", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		Languages []config.LanguageConfig `json:"languages"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Languages) != len(config.DefaultLanguages()) {
		t.Fatalf("languages = %d, want %d", len(resp.Languages), len(config.DefaultLanguages()))
	}
	if resp.Languages[0].Code != "hi-IN" {
		t.Errorf("first language = %q, want hi-IN", resp.Languages[0].Code)
	}
}

func TestLanguagesEndpoint_HotSwap(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &speechmock.Transcriber{}, voicemetrics.NewMemRecorder())
	srv.SetLanguages([]config.LanguageConfig{{Code: "en-IN", Name: "English (India)"}})

	req := httptest.NewRequest(http.MethodGet, "/v1/voice/languages", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	var resp struct {
		Languages []config.LanguageConfig `json:"languages"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Languages) != 1 || resp.Languages[0].Code != "en-IN" {
		t.Fatalf("languages = %+v, want swapped single en-IN", resp.Languages)
	}
}

func TestAnalyticsEndpoint(t *testing.T) {
	t.Parallel()
	rec := voicemetrics.NewMemRecorder()
	shop := int64(7)
	for i := 0; i < 3; i++ {
		if err := rec.Record(context.Background(), &voicemetrics.Record{
			ShopID:    &shop,
			Success:   true,
			CreatedAt: time.Date(2026, time.August, 10+i, 12, 0, 0, 0, time.UTC),
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	srv := newTestServer(t, &speechmock.Transcriber{}, rec)

	req := httptest.NewRequest(http.MethodGet,
		"/v1/voice/analytics?shop_id=7&start_date=2026-08-10&end_date=2026-08-11", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp voicemetrics.Analytics
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// The end date is inclusive: records on the 10th and 11th count.
	if resp.Summary.TotalAttempts != 2 {
		t.Errorf("total attempts = %d, want 2", resp.Summary.TotalAttempts)
	}
}

func TestAnalyticsEndpoint_BadDate(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &speechmock.Transcriber{}, voicemetrics.NewMemRecorder())

	for _, q := range []string{"start_date=10-08-2026", "end_date=notadate"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/voice/analytics?"+q, nil)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rr.Code)
		}
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &speechmock.Transcriber{}, voicemetrics.NewMemRecorder())
	h := srv.Handler()

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rr.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &speechmock.Transcriber{}, voicemetrics.NewMemRecorder())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestMethodRouting(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &speechmock.Transcriber{}, voicemetrics.NewMemRecorder())

	req := httptest.NewRequest(http.MethodGet, "/v1/voice/process", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /v1/voice/process status = %d, want 405", rr.Code)
	}
}

func assertErrorType(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	var body struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body %q: %v", rr.Body.String(), err)
	}
	if body.Error.Type != want {
		t.Fatalf("error type = %q, want %q (message %q)", body.Error.Type, want, body.Error.Message)
	}
}
