// Command vaani is the main entry point for the Vaani voice slip server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkhattar/vaani/internal/catalog"
	"github.com/nkhattar/vaani/internal/config"
	"github.com/nkhattar/vaani/internal/extract"
	"github.com/nkhattar/vaani/internal/health"
	"github.com/nkhattar/vaani/internal/observe"
	"github.com/nkhattar/vaani/internal/pipeline"
	"github.com/nkhattar/vaani/internal/reconcile"
	"github.com/nkhattar/vaani/internal/reconcile/similarity"
	"github.com/nkhattar/vaani/internal/resilience"
	"github.com/nkhattar/vaani/internal/server"
	"github.com/nkhattar/vaani/internal/voicemetrics"
	"github.com/nkhattar/vaani/pkg/speech"
	googlespeech "github.com/nkhattar/vaani/pkg/speech/google"
	speechmock "github.com/nkhattar/vaani/pkg/speech/mock"
	"github.com/nkhattar/vaani/pkg/speech/whisperapi"
)

func main() {
	os.Exit(run())
}

// logLevel is adjustable at runtime through config hot-reload.
var logLevel = new(slog.LevelVar)

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vaani: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vaani: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	setLogLevel(cfg.Server.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("vaani starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"speech_provider", cfg.Speech.Provider,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "vaani"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Speech provider ───────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinTranscribers(reg)

	transcriber, err := reg.Create(ctx, cfg.Speech)
	if err != nil {
		slog.Error("failed to build speech provider", "err", err)
		return 1
	}
	if closer, ok := transcriber.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// The breaker shields a flapping speech API even without a fallback
	// configured.
	guarded := resilience.NewSpeechFallback(transcriber, string(cfg.Speech.Provider), resilience.FallbackConfig{})
	if cfg.Speech.FallbackProvider != "" {
		fbCfg := cfg.Speech
		fbCfg.Provider = cfg.Speech.FallbackProvider
		secondary, err := reg.Create(ctx, fbCfg)
		if err != nil {
			slog.Error("failed to build fallback speech provider", "err", err)
			return 1
		}
		if closer, ok := secondary.(interface{ Close() error }); ok {
			defer closer.Close()
		}
		guarded.AddFallback(string(fbCfg.Provider), secondary)
	}
	transcriber = guarded

	// ── Stores ────────────────────────────────────────────────────────────────
	scorer := similarity.New(cfg.Matching.Similarity)

	var (
		store    catalog.Store
		recorder voicemetrics.Recorder
		checkers []health.Checker
	)
	if cfg.Database.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			slog.Error("failed to create database pool", "err", err)
			return 1
		}
		defer pool.Close()

		pgStore := catalog.NewPostgresStore(pool, scorer)
		if err := pgStore.Migrate(ctx); err != nil {
			slog.Error("catalog migration failed", "err", err)
			return 1
		}
		pgRecorder := voicemetrics.NewPostgresRecorder(pool)
		if err := pgRecorder.Migrate(ctx); err != nil {
			slog.Error("voice metrics migration failed", "err", err)
			return 1
		}

		store = pgStore
		recorder = pgRecorder
		checkers = append(checkers, health.Ping("database", pool.Ping))
	} else {
		slog.Warn("no database configured; using in-memory stores")
		store = catalog.NewMemStore(scorer)
		recorder = voicemetrics.NewMemRecorder()
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	pipe := buildPipeline(cfg, transcriber, store, recorder, scorer)

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := server.New(server.Config{
		Pipeline:  pipe,
		Recorder:  recorder,
		Health:    health.New(checkers...),
		Languages: cfg.Languages,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			setLogLevel(d.NewLogLevel)
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.LanguagesChanged {
			srv.SetLanguages(d.NewLanguages)
		}
		if d.MatchingChanged || d.LanguagesChanged {
			srv.SetPipeline(buildPipeline(new, transcriber, store, recorder, similarity.New(new.Matching.Similarity)))
			slog.Info("pipeline rebuilt from updated config")
		}
	})
	if err != nil {
		slog.Warn("config hot-reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", cfg.Server.ListenAddr)
		if cfg.Server.TLS != nil {
			errCh <- httpSrv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			errCh <- httpSrv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinTranscribers wires the transcriber factories that ship with
// Vaani into reg.
func registerBuiltinTranscribers(reg *config.Registry) {
	reg.Register(config.ProviderGoogle, func(ctx context.Context, cfg config.SpeechConfig) (speech.Transcriber, error) {
		var opts []googlespeech.Option
		if cfg.CredentialsFile != "" {
			opts = append(opts, googlespeech.WithCredentialsFile(cfg.CredentialsFile))
		}
		return googlespeech.New(ctx, opts...)
	})

	reg.Register(config.ProviderWhisperAPI, func(_ context.Context, cfg config.SpeechConfig) (speech.Transcriber, error) {
		var opts []whisperapi.Option
		if cfg.BaseURL != "" {
			opts = append(opts, whisperapi.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, whisperapi.WithModel(cfg.Model))
		}
		return whisperapi.New(cfg.APIKey, opts...)
	})

	reg.Register(config.ProviderMock, func(_ context.Context, _ config.SpeechConfig) (speech.Transcriber, error) {
		return &speechmock.Transcriber{}, nil
	})
}

// buildPipeline assembles a processing pipeline from the current config.
func buildPipeline(cfg *config.Config, tr speech.Transcriber, store catalog.Store, rec voicemetrics.Recorder, scorer similarity.Scorer) *pipeline.Pipeline {
	recOpts := []reconcile.Option{reconcile.WithScorer(scorer)}
	if cfg.Matching.FuzzyThreshold > 0 {
		recOpts = append(recOpts, reconcile.WithFuzzyThreshold(cfg.Matching.FuzzyThreshold))
	}
	if cfg.Matching.AliasScore > 0 {
		recOpts = append(recOpts, reconcile.WithAliasScore(cfg.Matching.AliasScore))
	}
	if cfg.Matching.FuzzyLimit > 0 {
		recOpts = append(recOpts, reconcile.WithFuzzyLimit(cfg.Matching.FuzzyLimit))
	}

	pipeOpts := []pipeline.Option{
		pipeline.WithLanguages(cfg.LanguageCodes()),
		pipeline.WithDefaultLanguage(cfg.Speech.Language),
		pipeline.WithProviderName(string(cfg.Speech.Provider)),
	}
	if cfg.Speech.MaxAudioBytes > 0 {
		pipeOpts = append(pipeOpts, pipeline.WithMaxAudioBytes(cfg.Speech.MaxAudioBytes))
	}

	return pipeline.New(tr, extract.New(), reconcile.New(store, recOpts...), rec, pipeOpts...)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func setLogLevel(level config.LogLevel) {
	switch level {
	case config.LogDebug:
		logLevel.Set(slog.LevelDebug)
	case config.LogWarn:
		logLevel.Set(slog.LevelWarn)
	case config.LogError:
		logLevel.Set(slog.LevelError)
	default:
		logLevel.Set(slog.LevelInfo)
	}
}
