package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"signal-notifier-go/internal/models"
	"signal-notifier-go/internal/prefs"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log       *zap.Logger
	db        *gorm.DB
	store     *prefs.Store
	userID    string
	startTime time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, db *gorm.DB, store *prefs.Store, userID string) *APIHandler {
	return &APIHandler{log: log, db: db, store: store, userID: userID, startTime: time.Now()}
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to write response", zap.Error(err))
	}
}

// writeStoreError maps preference store failures onto HTTP statuses.
func (h *APIHandler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, prefs.ErrNotAuthenticated):
		http.Error(w, "no user configured", http.StatusUnauthorized)
	case errors.Is(err, prefs.ErrStoreUnavailable):
		http.Error(w, "preference store unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

// StatusHandler reports basic service information.
func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	status := struct {
		UserID    string `json:"user_id"`
		StartTime string `json:"start_time"`
		Uptime    string `json:"uptime"`
	}{
		UserID:    h.userID,
		StartTime: h.startTime.Format(time.RFC3339),
		Uptime:    time.Since(h.startTime).String(),
	}
	h.writeJSON(w, status)
}

// NotificationsHandler returns the inbox, most recent first.
func (h *APIHandler) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
	var notifications []models.Notification
	if err := h.db.Where("user_id = ?", h.userID).
		Order("timestamp desc").
		Limit(100).
		Find(&notifications).Error; err != nil {
		h.log.Error("Failed to get notifications from database", zap.Error(err))
		http.Error(w, "Failed to get notifications", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, notifications)
}

// PreferencesHandler returns the full preference mapping plus the mute switch.
func (h *APIHandler) PreferencesHandler(w http.ResponseWriter, r *http.Request) {
	prefMap, err := h.store.Preferences(h.userID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	response := struct {
		Muted       bool                 `json:"muted"`
		Preferences models.PreferenceMap `json:"preferences"`
	}{
		Muted:       h.store.Muted(h.userID),
		Preferences: prefMap,
	}
	h.writeJSON(w, response)
}

// UpdatePreferenceHandler applies a partial update to one instrument's record.
func (h *APIHandler) UpdatePreferenceHandler(w http.ResponseWriter, r *http.Request) {
	instrument := r.PathValue("instrument")

	var patch prefs.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	record, err := h.store.UpdatePreference(h.userID, instrument, patch)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, record)
}

// MuteHandler sets the global mute switch.
func (h *APIHandler) MuteHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Muted bool `json:"muted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.store.SetGlobalMute(h.userID, body.Muted); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, map[string]bool{"muted": body.Muted})
}
