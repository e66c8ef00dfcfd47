// Command voiceloop runs the voice-session orchestration service: a
// webhook endpoint that turns live call transcripts into AI-generated
// spoken replies.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voiceloop/voiceloop/assets"
	"github.com/voiceloop/voiceloop/assets/s3"
	"github.com/voiceloop/voiceloop/config"
	"github.com/voiceloop/voiceloop/llm/openai"
	"github.com/voiceloop/voiceloop/meeting"
	"github.com/voiceloop/voiceloop/meeting/memstore"
	"github.com/voiceloop/voiceloop/meeting/postgres"
	"github.com/voiceloop/voiceloop/notify"
	"github.com/voiceloop/voiceloop/obs"
	"github.com/voiceloop/voiceloop/platform"
	"github.com/voiceloop/voiceloop/session"
	"github.com/voiceloop/voiceloop/tts"
	"github.com/voiceloop/voiceloop/tts/elevenlabs"
	"github.com/voiceloop/voiceloop/turn"
	"github.com/voiceloop/voiceloop/webhook"
)

func main() {
	if err := run(); err != nil {
		slog.Error("voiceloop exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	// .env is a dev convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownObs, err := obs.Init(ctx, obs.Options{
		ServiceName: cfg.Obs.ServiceName,
		Exporter:    obs.ExporterType(cfg.Obs.Exporter),
		Endpoint:    cfg.Obs.Endpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownObs(shutdownCtx)
	}()

	meetings, closeMeetings, err := openMeetingStore(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer closeMeetings()

	provider := platform.New(
		platform.WithBaseURL(cfg.Platform.BaseURL),
		platform.WithAPIKey(cfg.Platform.APIKey),
		platform.WithAPISecret(cfg.Platform.APISecret),
	)

	model := openai.New(
		openai.WithAPIKey(cfg.LLM.APIKey),
		openai.WithBaseURL(cfg.LLM.BaseURL),
		openai.WithModel(cfg.LLM.Model),
	)

	var voice tts.Provider
	if cfg.TTS.APIKey != "" {
		voice = elevenlabs.New(
			elevenlabs.WithAPIKey(cfg.TTS.APIKey),
			elevenlabs.WithVoice(cfg.TTS.Voice),
			elevenlabs.WithModel(cfg.TTS.Model),
		)
	} else {
		slog.Info("speech synthesis unconfigured, running text-only")
	}

	var publisher assets.Publisher
	if cfg.Assets.Bucket != "" {
		p, err := s3.New(ctx, cfg.Assets.Bucket, cfg.Assets.Region,
			s3.WithPublicBaseURL(cfg.Assets.PublicBaseURL))
		if err != nil {
			return err
		}
		publisher = p
	} else {
		slog.Info("asset store unconfigured, audio responses keep no URL")
	}

	sessions := session.NewStore()
	lifecycle := session.NewManager(sessions, meetings, provider)
	turns := turn.NewProcessor(sessions, model, voice, publisher, tts.Options{
		Voice:  cfg.TTS.Voice,
		Model:  cfg.TTS.Model,
		Format: tts.FormatMP3,
	})
	notifier := notify.New(cfg.Notify.Endpoint)

	router := webhook.NewRouter(meetings, sessions, lifecycle, turns, provider, provider, notifier)
	handler := webhook.NewHandler(router, cfg.Webhook.Secret, cfg.Webhook.APIKey)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("voiceloop listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openMeetingStore selects Postgres when a DSN is configured, falling
// back to the in-memory store for development.
func openMeetingStore(ctx context.Context, dsn string) (meeting.Store, func(), error) {
	if dsn == "" {
		slog.Info("no database configured, using in-memory meeting store")
		return memstore.New(), func() {}, nil
	}
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}
