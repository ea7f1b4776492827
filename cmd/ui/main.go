package main

import (
	"fmt"
	"net/http"
	"os"

	"signal-notifier-go/internal/config"
	"signal-notifier-go/internal/database"
	"signal-notifier-go/internal/logger"
	"signal-notifier-go/internal/prefs"

	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to the database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	store := prefs.NewStore(db, log)

	// Setup HTTP server
	mux := http.NewServeMux()

	// Create a handler that has access to the logger, db and preference store
	apiHandler := NewAPIHandler(log, db, store, cfg.Notifier.UserID)

	// API endpoints
	mux.HandleFunc("GET /api/status", apiHandler.StatusHandler)
	mux.HandleFunc("GET /api/notifications", apiHandler.NotificationsHandler)
	mux.HandleFunc("GET /api/preferences", apiHandler.PreferencesHandler)
	mux.HandleFunc("PUT /api/preferences/{instrument}", apiHandler.UpdatePreferenceHandler)
	mux.HandleFunc("PUT /api/mute", apiHandler.MuteHandler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info("Starting API server", zap.String("address", addr))

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal("API server failed", zap.Error(err))
	}
}
