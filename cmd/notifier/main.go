package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signal-notifier-go/internal/config"
	"signal-notifier-go/internal/database"
	"signal-notifier-go/internal/feed"
	"signal-notifier-go/internal/logger"
	"signal-notifier-go/internal/pipeline"
	"signal-notifier-go/internal/prefs"

	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Preference store for the configured session user
	store := prefs.NewStore(db, log)
	if cfg.Notifier.UserID == "" {
		log.Warn("No user configured; all delivery will be suspended until notifier.user_id is set")
	}

	// Signals REST client, used once to backfill currently-open signals
	restClient := feed.NewRestClient(&cfg.Feed, log)
	if _, err := restClient.GetServerTime(); err != nil {
		// Not fatal: the live socket reconnects on its own and the session
		// simply starts without a backfill wave.
		log.Warn("Signals API unreachable, skipping backfill", zap.Error(err))
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Live feed and the session's single subscription
	live := feed.NewLiveClient(&cfg.Feed, log)
	sub := live.Subscribe(cfg.Feed.Instrument)
	go live.Run(ctx)

	// Delivery channels. Headless build: the toast presenter and the audio
	// player log what the UI shell would render/play.
	toast := pipeline.NewToastChannel(db, func(t pipeline.Toast) {
		log.Info("Toast",
			zap.String("instrument", t.Instrument),
			zap.String("kind", string(t.Kind)),
			zap.String("message", t.Message))
	}, log)
	audio := pipeline.NewAudioChannel(func(src string, volume float64) error {
		log.Info("Audio cue", zap.String("src", src), zap.Float64("volume", volume))
		return nil
	}, cfg.Notifier.AudioSource, cfg.Notifier.AudioVolume)

	var extras []pipeline.Channel
	if cfg.Telegram.Enabled {
		extras = append(extras, pipeline.NewTelegramChannel(&cfg.Telegram, log))
		log.Info("Telegram channel enabled", zap.Int64("chat_id", cfg.Telegram.ChatID))
	}

	gate := pipeline.NewSoundGate(time.Duration(cfg.Notifier.SoundDebounceMs) * time.Millisecond)
	fanout := pipeline.NewFanout(log, store, gate, cfg.Notifier.UserID, toast, audio, extras...)

	// One pipeline per session: the single authoritative delivery trigger.
	p := pipeline.New(log, store, fanout, sub)

	// Backfill the currently-open signals so the session starts coherent.
	// They classify as started, the documented (re)connect behavior.
	if snaps, err := restClient.GetOpenSignals(); err != nil {
		log.Warn("Open-signal backfill failed", zap.Error(err))
	} else {
		p.Bootstrap(ctx, snaps)
	}

	p.Run(ctx)

	log.Info("Notifier has been shut down.")
}
