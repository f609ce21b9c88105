// Package server exposes the Vaani HTTP API.
//
// Endpoints:
//
//   - POST /v1/voice/process    — multipart audio upload, returns reconciled sale lines
//   - GET  /v1/voice/languages  — supported recognition languages
//   - GET  /v1/voice/analytics  — aggregate accuracy analytics
//   - GET  /healthz, /readyz    — probes
//   - GET  /metrics             — Prometheus scrape endpoint
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nkhattar/vaani/internal/config"
	"github.com/nkhattar/vaani/internal/health"
	"github.com/nkhattar/vaani/internal/observe"
	"github.com/nkhattar/vaani/internal/pipeline"
	"github.com/nkhattar/vaani/internal/voicemetrics"
)

// Config assembles the collaborators of a [Server].
type Config struct {
	// Pipeline processes voice uploads. Required.
	Pipeline *pipeline.Pipeline

	// Recorder answers analytics queries. Required.
	Recorder voicemetrics.Recorder

	// Health serves the probe endpoints. Required.
	Health *health.Handler

	// Metrics is the OTel instrument set used by the HTTP middleware.
	// Nil falls back to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Languages is the initial recognition language list.
	Languages []config.LanguageConfig

	// MaxUploadBytes caps the multipart form size. 0 means the pipeline's
	// 10 MiB default plus form overhead.
	MaxUploadBytes int64
}

// Server is the HTTP front of the voice slip service. Config hot-reload
// swaps the language list and the pipeline through their setters; everything
// else is read-only after construction.
type Server struct {
	recorder voicemetrics.Recorder
	health   *health.Handler
	metrics  *observe.Metrics

	maxUploadBytes int64

	mu        sync.RWMutex
	pipe      *pipeline.Pipeline
	languages []config.LanguageConfig
}

// New constructs a Server from cfg.
func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	max := cfg.MaxUploadBytes
	if max == 0 {
		max = pipeline.DefaultMaxAudioBytes + 1<<20
	}
	return &Server{
		pipe:           cfg.Pipeline,
		recorder:       cfg.Recorder,
		health:         cfg.Health,
		metrics:        m,
		maxUploadBytes: max,
		languages:      cfg.Languages,
	}
}

// SetLanguages replaces the served language list. Safe to call while serving.
func (s *Server) SetLanguages(langs []config.LanguageConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.languages = langs
}

// SetPipeline swaps the processing pipeline, used when matching thresholds
// are hot-reloaded. Safe to call while serving; in-flight requests finish on
// the pipeline they started with.
func (s *Server) SetPipeline(p *pipeline.Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipe = p
}

// pipeline returns the current processing pipeline.
func (s *Server) pipeline() *pipeline.Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pipe
}

// Handler returns the full route tree wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/voice/process", s.handleProcess)
	mux.HandleFunc("GET /v1/voice/languages", s.handleLanguages)
	mux.HandleFunc("GET /v1/voice/analytics", s.handleAnalytics)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)
	return observe.Middleware(s.metrics)(mux)
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// handleProcess accepts a multipart form with an "audio" file part plus
// optional "language", "shop_id", "user_id", and "duration_ms" values, and
// runs the pipeline on it.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, string(pipeline.KindInput), "missing audio file part")
		return
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); !acceptableAudioType(ct) {
		writeError(w, http.StatusBadRequest, string(pipeline.KindInput),
			fmt.Sprintf("unsupported content type %q for audio part", ct))
		return
	}

	audio, err := io.ReadAll(file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, string(pipeline.KindInput), "audio upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, string(pipeline.KindInput), "cannot read audio file part")
		return
	}

	in := pipeline.Input{
		Audio:    audio,
		Format:   formatFromName(header.Filename),
		Language: r.FormValue("language"),
	}
	if id, ok := parseID(r.FormValue("shop_id")); ok {
		in.ShopID = &id
	}
	if id, ok := parseID(r.FormValue("user_id")); ok {
		in.UserID = &id
	}
	if ms, ok := parseID(r.FormValue("duration_ms")); ok {
		in.DurationMs = ms
	}

	out, err := s.pipeline().Process(r.Context(), in)
	if err != nil {
		s.writeProcessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// writeProcessError maps a pipeline failure onto an HTTP status.
func (s *Server) writeProcessError(w http.ResponseWriter, r *http.Request, err error) {
	kind := pipeline.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case pipeline.KindInput:
		status = http.StatusBadRequest
	case pipeline.KindTranscription:
		status = http.StatusBadGateway
	case pipeline.KindIncomplete:
		// The client went away; the status is best effort.
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("voice processing failed",
			slog.String("kind", string(kind)),
			slog.Any("error", err))
	}
	writeError(w, status, string(kind), err.Error())
}

// languagesResponse is the JSON body of GET /v1/voice/languages.
type languagesResponse struct {
	Languages []config.LanguageConfig `json:"languages"`
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	langs := s.languages
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, languagesResponse{Languages: langs})
}

// handleAnalytics serves aggregate metrics, filtered by the optional
// shop_id, start_date, and end_date (YYYY-MM-DD) query parameters.
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	var f voicemetrics.Filters

	if id, ok := parseID(r.URL.Query().Get("shop_id")); ok {
		f.ShopID = &id
	}
	start, err := parseDate(r.URL.Query().Get("start_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(pipeline.KindInput), "start_date must be YYYY-MM-DD")
		return
	}
	f.StartDate = start
	end, err := parseDate(r.URL.Query().Get("end_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(pipeline.KindInput), "end_date must be YYYY-MM-DD")
		return
	}
	if end != nil {
		// Make the end date inclusive of the whole day.
		e := end.Add(24*time.Hour - time.Nanosecond)
		end = &e
	}
	f.EndDate = end

	analytics, err := s.recorder.Analytics(r.Context(), f)
	if err != nil {
		observe.Logger(r.Context()).Error("analytics query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, string(pipeline.KindInternal), "analytics query failed")
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

// acceptableAudioType admits audio/* parts plus the generic types browsers
// attach to recorded blobs. An absent content type is accepted; the format
// still comes from the filename.
func acceptableAudioType(ct string) bool {
	switch {
	case ct == "", ct == "application/octet-stream", ct == "video/webm":
		return true
	default:
		return strings.HasPrefix(ct, "audio/")
	}
}

// formatFromName extracts a lowercase extension: "slip.WAV" yields "wav".
func formatFromName(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// parseID parses a positive decimal identifier. Empty or malformed input
// reports ok=false.
func parseID(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// parseDate parses a YYYY-MM-DD value. Empty input is not an error.
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", s, err)
	}
	return &t, nil
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	var body errorBody
	body.Error.Type = typ
	body.Error.Message = msg
	writeJSON(w, status, body)
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", slog.Any("error", err))
	}
}
