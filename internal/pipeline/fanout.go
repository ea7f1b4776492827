package pipeline

import (
	"context"
	"errors"
	"time"

	"signal-notifier-go/internal/prefs"
	"signal-notifier-go/internal/signal"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Channel is one delivery backend (toast, audio, Telegram, ...). Deliver
// failures are contained by the fan-out; a channel error never stops the
// pipeline or the other channels.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, userID string, ev signal.Event) error
}

// SoundGate is the shared audio rate limiter. One gate serves the whole
// session across all instruments: when several instruments report in the
// same tick, only the first sound within the window plays and the rest are
// dropped, not queued. Built on a token bucket with burst 1, so "allow"
// means "at least window elapsed since the last allowed sound".
type SoundGate struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewSoundGate creates a gate with the given debounce window.
func NewSoundGate(window time.Duration) *SoundGate {
	return newSoundGateWithClock(window, time.Now)
}

func newSoundGateWithClock(window time.Duration, now func() time.Time) *SoundGate {
	return &SoundGate{
		limiter: rate.NewLimiter(rate.Every(window), 1),
		now:     now,
	}
}

// Allow reports whether a sound may play now, consuming the window if so.
func (g *SoundGate) Allow() bool {
	return g.limiter.AllowN(g.now(), 1)
}

// Fanout routes classified events to delivery channels according to the
// user's preferences. It reads the preference store on every event, so a
// toggle flipped mid-session applies to the very next event.
type Fanout struct {
	logger *zap.Logger
	store  *prefs.Store
	gate   *SoundGate
	userID string
	toast  Channel
	audio  Channel
	extras []Channel
}

// NewFanout creates the delivery fan-out for one user session. toast and
// audio may be nil when a channel is not configured; extras (e.g. Telegram)
// follow the toast gating.
func NewFanout(logger *zap.Logger, store *prefs.Store, gate *SoundGate, userID string, toast, audio Channel, extras ...Channel) *Fanout {
	return &Fanout{
		logger: logger.Named("fanout"),
		store:  store,
		gate:   gate,
		userID: userID,
		toast:  toast,
		audio:  audio,
		extras: extras,
	}
}

// Dispatch delivers one event to zero or more channels. Never returns an
// error: per-event failures are logged and contained so one bad event or
// channel cannot halt processing of the next.
func (f *Fanout) Dispatch(ctx context.Context, ev signal.Event) {
	prefMap, err := f.store.Preferences(f.userID)
	if err != nil {
		if errors.Is(err, prefs.ErrNotAuthenticated) {
			// No user, no delivery. Not an error.
			f.logger.Debug("No authenticated user, suppressing event",
				zap.String("instrument", ev.Instrument))
			return
		}
		// Fail closed: with the store unreadable, treat every instrument as
		// not subscribed. Global alerts are not preference-gated and still
		// pass below.
		f.logger.Warn("Preference store unavailable, failing closed", zap.Error(err))
		prefMap = nil
	}

	rec := prefMap[ev.Instrument]

	// Gate 1: relevance. Favorites and global alerts bypass the
	// per-instrument notification toggle.
	if !rec.NotificationsEnabled && !rec.Favorite && ev.Kind != signal.KindAlert {
		f.logger.Debug("Event suppressed by preferences",
			zap.String("instrument", ev.Instrument),
			zap.String("kind", string(ev.Kind)))
		return
	}

	l := f.logger.With(
		zap.String("event_id", ev.ID.String()),
		zap.String("instrument", ev.Instrument),
		zap.String("kind", string(ev.Kind)),
	)

	f.deliver(ctx, l, f.toast, ev)
	for _, ch := range f.extras {
		f.deliver(ctx, l, ch, ev)
	}

	// Gate 2: sound. Global mute dominates the per-instrument flag, and the
	// shared debounce drops (never queues) bursts.
	if f.audio == nil {
		return
	}
	if f.store.Muted(f.userID) {
		l.Debug("Sound skipped: globally muted")
		return
	}
	if !rec.SoundEnabled {
		return
	}
	if !f.gate.Allow() {
		l.Debug("Sound dropped by debounce window")
		return
	}
	f.deliver(ctx, l, f.audio, ev)
}

func (f *Fanout) deliver(ctx context.Context, l *zap.Logger, ch Channel, ev signal.Event) {
	if ch == nil {
		return
	}
	if err := ch.Deliver(ctx, f.userID, ev); err != nil {
		l.Warn("Channel delivery failed", zap.String("channel", ch.Name()), zap.Error(err))
	}
}
