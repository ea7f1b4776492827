package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"signal-notifier-go/internal/models"
	"signal-notifier-go/internal/prefs"
	"signal-notifier-go/internal/signal"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// recordingChannel captures delivered events for assertions.
type recordingChannel struct {
	name   string
	events []signal.Event
	err    error
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Deliver(_ context.Context, _ string, ev signal.Event) error {
	c.events = append(c.events, ev)
	return c.err
}

// fakeClock drives the sound gate deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

const testUser = "user-1"

func setupFanout(t *testing.T) (*Fanout, *prefs.Store, *recordingChannel, *recordingChannel, *fakeClock) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&models.Profile{}))

	store := prefs.NewStore(db, zap.NewNop())
	clock := &fakeClock{t: time.UnixMilli(1700000000000)}
	gate := newSoundGateWithClock(500*time.Millisecond, clock.now)

	toast := &recordingChannel{name: "toast"}
	audio := &recordingChannel{name: "audio"}
	f := NewFanout(zap.NewNop(), store, gate, testUser, toast, audio)
	return f, store, toast, audio, clock
}

func enableAll(t *testing.T, store *prefs.Store, instrument string) {
	on := true
	_, err := store.UpdatePreference(testUser, instrument, prefs.Patch{
		NotificationsEnabled: &on,
		SoundEnabled:         &on,
	})
	assert.NoError(t, err)
}

func startedEvent(instrument string) signal.Event {
	return signal.Event{
		ID:         uuid.New(),
		Kind:       signal.KindStarted,
		Instrument: instrument,
		Direction:  signal.DirectionLong,
		Price:      1.0820,
		Timestamp:  time.UnixMilli(1700000000000),
	}
}

func TestDispatch_SuppressedWhenNotificationsDisabled(t *testing.T) {
	f, _, toast, audio, _ := setupFanout(t)

	// No preferences at all for GBPUSD: nothing fires.
	f.Dispatch(context.Background(), startedEvent("GBPUSD"))

	assert.Empty(t, toast.events)
	assert.Empty(t, audio.events)
}

func TestDispatch_ToastAndSoundWhenEnabled(t *testing.T) {
	f, store, toast, audio, _ := setupFanout(t)
	enableAll(t, store, "USDJPY")

	f.Dispatch(context.Background(), startedEvent("USDJPY"))

	assert.Len(t, toast.events, 1)
	assert.Len(t, audio.events, 1)
}

// The web UI mutates preferences through its own store instance in another
// process. The fan-out must observe those writes on the very next event,
// without a restart.
func TestDispatch_PicksUpExternalPreferenceChange(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&models.Profile{}))

	store := prefs.NewStore(db, zap.NewNop())
	toast := &recordingChannel{name: "toast"}
	audio := &recordingChannel{name: "audio"}
	f := NewFanout(zap.NewNop(), store, NewSoundGate(0), testUser, toast, audio)

	// Nothing enabled yet: suppressed.
	f.Dispatch(context.Background(), startedEvent("EURUSD"))
	assert.Empty(t, toast.events)

	// A second store over the same database (the UI process) flips the
	// toggles mid-session.
	uiStore := prefs.NewStore(db, zap.NewNop())
	on := true
	_, err = uiStore.UpdatePreference(testUser, "EURUSD", prefs.Patch{
		NotificationsEnabled: &on,
		SoundEnabled:         &on,
	})
	assert.NoError(t, err)

	f.Dispatch(context.Background(), startedEvent("EURUSD"))
	assert.Len(t, toast.events, 1)
	assert.Len(t, audio.events, 1)

	// And a mute flipped from the UI silences the next sound immediately.
	assert.NoError(t, uiStore.SetGlobalMute(testUser, true))
	f.Dispatch(context.Background(), startedEvent("EURUSD"))
	assert.Len(t, toast.events, 2)
	assert.Len(t, audio.events, 1)
}

func TestDispatch_MuteDominatesSoundEnabled(t *testing.T) {
	f, store, toast, audio, _ := setupFanout(t)
	enableAll(t, store, "USDJPY")
	assert.NoError(t, store.SetGlobalMute(testUser, true))

	f.Dispatch(context.Background(), startedEvent("USDJPY"))

	// Toast still fires; sound is silenced across all instruments.
	assert.Len(t, toast.events, 1)
	assert.Empty(t, audio.events)
}

func TestDispatch_SoundDebounce(t *testing.T) {
	f, store, toast, audio, clock := setupFanout(t)
	enableAll(t, store, "EURUSD")
	enableAll(t, store, "USDJPY")

	// Two qualifying events inside the window: one sound.
	f.Dispatch(context.Background(), startedEvent("EURUSD"))
	clock.advance(100 * time.Millisecond)
	f.Dispatch(context.Background(), startedEvent("USDJPY"))

	assert.Len(t, toast.events, 2) // toast is independent of the debounce
	assert.Len(t, audio.events, 1)

	// Past the window the sound plays again.
	clock.advance(500 * time.Millisecond)
	f.Dispatch(context.Background(), startedEvent("EURUSD"))
	assert.Len(t, audio.events, 2)
}

func TestDispatch_CompletedSignalScenario(t *testing.T) {
	f, store, toast, audio, clock := setupFanout(t)
	enableAll(t, store, "USDJPY")

	engine := NewDiffEngine()
	started := engine.Classify(runningSnap("USDJPY", 150.00))
	assert.NotNil(t, started)
	f.Dispatch(context.Background(), *started)

	clock.advance(time.Second)
	completed := engine.Classify(completedSnap("USDJPY", 150.00, 110.25))
	assert.NotNil(t, completed)
	f.Dispatch(context.Background(), *completed)

	assert.Len(t, toast.events, 2)
	assert.Len(t, audio.events, 2)
	assert.Equal(t, signal.KindCompleted, toast.events[1].Kind)
	assert.Equal(t, 110.25, toast.events[1].Price)
}

func TestDispatch_FavoriteBypassesNotificationToggle(t *testing.T) {
	f, store, toast, audio, _ := setupFanout(t)
	fav := true
	_, err := store.UpdatePreference(testUser, "EURUSD", prefs.Patch{Favorite: &fav})
	assert.NoError(t, err)

	f.Dispatch(context.Background(), startedEvent("EURUSD"))

	assert.Len(t, toast.events, 1)
	assert.Empty(t, audio.events) // sound still requires the per-instrument flag
}

func TestDispatch_AlertBypassesPreferences(t *testing.T) {
	f, _, toast, audio, _ := setupFanout(t)

	ev := startedEvent("XAUUSD")
	ev.Kind = signal.KindAlert
	f.Dispatch(context.Background(), ev)

	assert.Len(t, toast.events, 1)
	assert.Empty(t, audio.events)
}

func TestDispatch_StoreUnavailableFailsClosed(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&models.Profile{}))

	store := prefs.NewStore(db, zap.NewNop())
	enableAll(t, store, "EURUSD")

	// New store, broken table: every preference read fails.
	assert.NoError(t, db.Migrator().DropTable(&models.Profile{}))
	broken := prefs.NewStore(db, zap.NewNop())

	toast := &recordingChannel{name: "toast"}
	audio := &recordingChannel{name: "audio"}
	f := NewFanout(zap.NewNop(), broken, NewSoundGate(500*time.Millisecond), testUser, toast, audio)

	f.Dispatch(context.Background(), startedEvent("EURUSD"))
	assert.Empty(t, toast.events)
	assert.Empty(t, audio.events)

	// Global alerts are not preference-gated and still pass.
	ev := startedEvent("EURUSD")
	ev.Kind = signal.KindAlert
	f.Dispatch(context.Background(), ev)
	assert.Len(t, toast.events, 1)
}

func TestDispatch_NoUserSuspendsDelivery(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&models.Profile{}))

	store := prefs.NewStore(db, zap.NewNop())
	toast := &recordingChannel{name: "toast"}
	f := NewFanout(zap.NewNop(), store, NewSoundGate(500*time.Millisecond), "", toast, nil)

	ev := startedEvent("EURUSD")
	ev.Kind = signal.KindAlert
	f.Dispatch(context.Background(), ev)

	// Even global alerts stay quiet without a signed-in user.
	assert.Empty(t, toast.events)
}

func TestDispatch_ChannelFailureIsContained(t *testing.T) {
	f, store, toast, audio, _ := setupFanout(t)
	enableAll(t, store, "USDJPY")
	toast.err = errors.New("render blocked")

	f.Dispatch(context.Background(), startedEvent("USDJPY"))

	// The failing toast does not stop the sound, nor the next event.
	assert.Len(t, audio.events, 1)

	f.Dispatch(context.Background(), startedEvent("USDJPY"))
	assert.Len(t, toast.events, 2)
}

func TestSoundGate_SharedAcrossCallers(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(1700000000000)}
	gate := newSoundGateWithClock(500*time.Millisecond, clock.now)

	assert.True(t, gate.Allow())
	assert.False(t, gate.Allow())
	clock.advance(499 * time.Millisecond)
	assert.False(t, gate.Allow())
	clock.advance(1 * time.Millisecond)
	assert.True(t, gate.Allow())
}
