package models

import "gorm.io/gorm"

// InstrumentPrefs are the per-instrument delivery settings for one user.
// All three default to false: a user who never touched an instrument gets
// nothing for it.
type InstrumentPrefs struct {
	NotificationsEnabled bool `json:"notifications_enabled"`
	SoundEnabled         bool `json:"sound_enabled"`
	Favorite             bool `json:"favorite"`
}

// PreferenceMap maps an instrument identifier to its settings.
type PreferenceMap map[string]InstrumentPrefs

// Profile is the per-user settings row. The preference mapping is stored as a
// single JSON column on the profile, mirroring how the hosted profile record
// keeps it; updates must merge per key, never overwrite the whole blob.
type Profile struct {
	gorm.Model
	UserID      string        `gorm:"uniqueIndex;not null"`
	Muted       bool          `gorm:"default:false"`
	Preferences PreferenceMap `gorm:"serializer:json"`
}
