package prefs

import (
	"errors"
	"fmt"
	"sync"

	"signal-notifier-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotAuthenticated is returned when no user is signed in. Callers
	// treat it as "suspend all delivery", not as a failure.
	ErrNotAuthenticated = errors.New("no authenticated user")

	// ErrStoreUnavailable is returned when the backing store cannot be read
	// or written. Reads degrade to "no preferences" (fail closed); writes
	// surface the error to the initiating action.
	ErrStoreUnavailable = errors.New("preference store unavailable")
)

// Patch is a partial preference update. Nil fields are left untouched, so two
// successive patches to different fields never clobber each other.
type Patch struct {
	NotificationsEnabled *bool `json:"notifications_enabled"`
	SoundEnabled         *bool `json:"sound_enabled"`
	Favorite             *bool `json:"favorite"`
}

func (p Patch) apply(rec models.InstrumentPrefs) models.InstrumentPrefs {
	if p.NotificationsEnabled != nil {
		rec.NotificationsEnabled = *p.NotificationsEnabled
	}
	if p.SoundEnabled != nil {
		rec.SoundEnabled = *p.SoundEnabled
	}
	if p.Favorite != nil {
		rec.Favorite = *p.Favorite
	}
	return rec
}

type cachedProfile struct {
	prefs models.PreferenceMap
	muted bool
}

// Store exposes the current user's notification preferences and accepts
// atomic, optimistic updates. The profile row is the source of truth and
// every read goes through to it, so a toggle written by another process
// (the web UI runs separately from the notifier) applies to the session's
// very next event. The in-memory mirror only carries the optimistic write
// state between a local update and its commit, and is what gets rolled back
// when the write fails. Writes go read-merge-write against the row so
// concurrent updates to different instruments are never lost.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger

	mu       sync.Mutex
	profiles map[string]*cachedProfile

	watchMu  sync.Mutex
	watchers []func(userID string)
}

// NewStore creates a preference store backed by db.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:       db,
		logger:   logger.Named("prefs"),
		profiles: make(map[string]*cachedProfile),
	}
}

// OnChange registers a callback invoked (with the user id) after every
// successful preference or mute write through this store instance. Changes
// written by other processes need no callback: they are picked up by the
// read-through on the next event.
func (s *Store) OnChange(fn func(userID string)) {
	s.watchMu.Lock()
	s.watchers = append(s.watchers, fn)
	s.watchMu.Unlock()
}

func (s *Store) notify(userID string) {
	s.watchMu.Lock()
	watchers := make([]func(string), len(s.watchers))
	copy(watchers, s.watchers)
	s.watchMu.Unlock()

	for _, fn := range watchers {
		fn(userID)
	}
}

// refreshLocked reloads the mirror for userID from the database. Caller
// holds s.mu.
func (s *Store) refreshLocked(userID string) (*cachedProfile, error) {
	var profile models.Profile
	err := s.db.Where("user_id = ?", userID).First(&profile).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Row absent: lazily created on first write; until then the user simply
	// has no preferences.
	if profile.Preferences == nil {
		profile.Preferences = models.PreferenceMap{}
	}

	cp, ok := s.profiles[userID]
	if !ok {
		cp = &cachedProfile{}
		s.profiles[userID] = cp
	}
	cp.prefs = profile.Preferences
	cp.muted = profile.Muted
	return cp, nil
}

// Preferences returns the full instrument-to-settings mapping for userID,
// as currently persisted.
func (s *Store) Preferences(userID string) (models.PreferenceMap, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.refreshLocked(userID)
	if err != nil {
		s.logger.Error("Failed to load preferences", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	// Copy so callers never observe a concurrent update mid-read.
	out := make(models.PreferenceMap, len(cp.prefs))
	for k, v := range cp.prefs {
		out[k] = v
	}
	return out, nil
}

// Muted reports the user's global mute switch as currently persisted. Load
// failures report false; the sound gate still fails closed on the
// per-instrument flag.
func (s *Store) Muted(userID string) bool {
	if userID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.refreshLocked(userID)
	if err != nil {
		return false
	}
	return cp.muted
}

// UpdatePreference merges patch into the record for (userID, instrument),
// creating it if absent, persists the result, and returns the merged record.
// The in-memory mirror is updated optimistically and rolled back if the
// write fails, so a failed toggle never leaves phantom state behind.
func (s *Store) UpdatePreference(userID, instrument string, patch Patch) (models.InstrumentPrefs, error) {
	if userID == "" {
		return models.InstrumentPrefs{}, ErrNotAuthenticated
	}
	if instrument == "" {
		return models.InstrumentPrefs{}, fmt.Errorf("instrument id is required")
	}

	s.mu.Lock()
	cp, err := s.refreshLocked(userID)
	if err != nil {
		s.mu.Unlock()
		return models.InstrumentPrefs{}, err
	}

	prev, existed := cp.prefs[instrument]
	merged := patch.apply(prev)

	// Optimistic update, rolled back below on write failure.
	cp.prefs[instrument] = merged
	s.mu.Unlock()

	if err := s.persistPreference(userID, instrument, merged); err != nil {
		s.mu.Lock()
		if existed {
			cp.prefs[instrument] = prev
		} else {
			delete(cp.prefs, instrument)
		}
		s.mu.Unlock()
		s.logger.Error("Failed to persist preference, rolled back",
			zap.String("user_id", userID),
			zap.String("instrument", instrument),
			zap.Error(err))
		return models.InstrumentPrefs{}, err
	}

	s.notify(userID)
	return merged, nil
}

// persistPreference writes one instrument record via read-merge-write on the
// profile row, so a stale mirror can never wipe out keys written elsewhere.
func (s *Store) persistPreference(userID, instrument string, rec models.InstrumentPrefs) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var profile models.Profile
		err := tx.Where("user_id = ?", userID).First(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			profile = models.Profile{UserID: userID, Preferences: models.PreferenceMap{}}
		} else if err != nil {
			return err
		}

		if profile.Preferences == nil {
			profile.Preferences = models.PreferenceMap{}
		}
		profile.Preferences[instrument] = rec
		return tx.Save(&profile).Error
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// SetGlobalMute persists the user's global mute switch. The fan-out reads
// the row per event, so the switch takes effect on the next sound decision
// no matter which process flipped it.
func (s *Store) SetGlobalMute(userID string, muted bool) error {
	if userID == "" {
		return ErrNotAuthenticated
	}

	s.mu.Lock()
	cp, err := s.refreshLocked(userID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	prev := cp.muted
	cp.muted = muted
	s.mu.Unlock()

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var profile models.Profile
		err := tx.Where("user_id = ?", userID).First(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			profile = models.Profile{UserID: userID, Preferences: models.PreferenceMap{}}
		} else if err != nil {
			return err
		}
		profile.Muted = muted
		return tx.Save(&profile).Error
	})
	if err != nil {
		s.mu.Lock()
		cp.muted = prev
		s.mu.Unlock()
		s.logger.Error("Failed to persist mute switch, rolled back",
			zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.notify(userID)
	return nil
}
