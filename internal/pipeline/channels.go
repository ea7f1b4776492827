package pipeline

import (
	"context"
	"fmt"

	"signal-notifier-go/internal/models"
	"signal-notifier-go/internal/signal"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Toast is the structured payload handed to the in-app toast presenter.
// It carries enough detail for the UI to jump to the instrument view.
type Toast struct {
	EventID    string
	Kind       signal.Kind
	Instrument string
	Direction  signal.Direction
	Price      float64
	Message    string
}

// eventMessage renders the human-readable one-liner for an event.
func eventMessage(ev signal.Event) string {
	switch ev.Kind {
	case signal.KindStarted:
		return fmt.Sprintf("%s %s signal started at %g", ev.Instrument, ev.Direction, ev.Price)
	case signal.KindCompleted:
		if entry, ok := ev.Details["entry_price"]; ok {
			return fmt.Sprintf("%s %s signal completed at %g (entry %s)", ev.Instrument, ev.Direction, ev.Price, entry)
		}
		return fmt.Sprintf("%s %s signal completed at %g", ev.Instrument, ev.Direction, ev.Price)
	default:
		return fmt.Sprintf("%s alert at %g", ev.Instrument, ev.Price)
	}
}

// ToastChannel shows an in-app toast and logs a copy of it to the inbox
// table so the notification survives for the inbox view.
type ToastChannel struct {
	db     *gorm.DB
	show   func(Toast)
	logger *zap.Logger
}

// NewToastChannel creates the toast channel. show may be nil in headless
// runs; the inbox row is written either way.
func NewToastChannel(db *gorm.DB, show func(Toast), logger *zap.Logger) *ToastChannel {
	return &ToastChannel{db: db, show: show, logger: logger.Named("toast")}
}

func (c *ToastChannel) Name() string { return "toast" }

func (c *ToastChannel) Deliver(_ context.Context, userID string, ev signal.Event) error {
	msg := eventMessage(ev)

	row := models.Notification{
		EventID:    ev.ID.String(),
		UserID:     userID,
		Kind:       string(ev.Kind),
		Instrument: ev.Instrument,
		Direction:  string(ev.Direction),
		Price:      ev.Price,
		Timestamp:  ev.Timestamp.UnixMilli(),
		Message:    msg,
	}
	if err := c.db.Create(&row).Error; err != nil {
		// The toast itself still shows; only the inbox copy is lost.
		c.logger.Warn("Failed to log notification to inbox", zap.Error(err))
	}

	if c.show != nil {
		c.show(Toast{
			EventID:    ev.ID.String(),
			Kind:       ev.Kind,
			Instrument: ev.Instrument,
			Direction:  ev.Direction,
			Price:      ev.Price,
			Message:    msg,
		})
	}
	return nil
}

// AudioChannel plays the notification cue through an injected player. The
// player can fail (platform audio blocked, device missing); the error is
// reported to the fan-out which logs and moves on.
type AudioChannel struct {
	play   func(src string, volume float64) error
	src    string
	volume float64
}

// NewAudioChannel creates the audio channel around a player function.
func NewAudioChannel(play func(src string, volume float64) error, src string, volume float64) *AudioChannel {
	return &AudioChannel{play: play, src: src, volume: volume}
}

func (c *AudioChannel) Name() string { return "audio" }

func (c *AudioChannel) Deliver(_ context.Context, _ string, _ signal.Event) error {
	if c.play == nil {
		return nil
	}
	if err := c.play(c.src, c.volume); err != nil {
		return fmt.Errorf("audio playback failed: %w", err)
	}
	return nil
}
