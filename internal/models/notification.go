package models

import "gorm.io/gorm"

// Notification is a delivered toast logged to the inbox table.
type Notification struct {
	gorm.Model
	EventID    string  `gorm:"uniqueIndex" json:"event_id"`
	UserID     string  `gorm:"index" json:"user_id"`
	Kind       string  `json:"kind"`
	Instrument string  `gorm:"index" json:"instrument"`
	Direction  string  `json:"direction"`
	Price      float64 `json:"price"`
	Timestamp  int64   `json:"timestamp"`
	Message    string  `json:"message"`
}
