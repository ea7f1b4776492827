package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"signal-notifier-go/internal/models"
	"signal-notifier-go/internal/signal"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupInboxDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&models.Notification{}))
	return db
}

func TestToastChannel_ShowsAndLogsToInbox(t *testing.T) {
	db := setupInboxDB(t)

	var shown []Toast
	ch := NewToastChannel(db, func(tst Toast) { shown = append(shown, tst) }, zap.NewNop())

	ev := signal.Event{
		ID:         uuid.New(),
		Kind:       signal.KindCompleted,
		Instrument: "USDJPY",
		Direction:  signal.DirectionShort,
		Price:      110.25,
		Timestamp:  time.UnixMilli(1700000500000),
		Details:    map[string]string{"entry_price": "150"},
	}
	assert.NoError(t, ch.Deliver(context.Background(), "user-1", ev))

	assert.Len(t, shown, 1)
	assert.Equal(t, "USDJPY", shown[0].Instrument)
	assert.Contains(t, shown[0].Message, "completed at 110.25")
	assert.Contains(t, shown[0].Message, "entry 150")

	var rows []models.Notification
	assert.NoError(t, db.Find(&rows).Error)
	assert.Len(t, rows, 1)
	assert.Equal(t, ev.ID.String(), rows[0].EventID)
	assert.Equal(t, "user-1", rows[0].UserID)
	assert.Equal(t, 110.25, rows[0].Price)
}

func TestToastChannel_InboxFailureDoesNotBlockToast(t *testing.T) {
	db := setupInboxDB(t)
	assert.NoError(t, db.Migrator().DropTable(&models.Notification{}))

	var shown int
	ch := NewToastChannel(db, func(Toast) { shown++ }, zap.NewNop())

	ev := signal.Event{ID: uuid.New(), Kind: signal.KindStarted, Instrument: "EURUSD", Direction: signal.DirectionLong, Price: 1.08}
	assert.NoError(t, ch.Deliver(context.Background(), "user-1", ev))
	assert.Equal(t, 1, shown)
}

func TestAudioChannel(t *testing.T) {
	t.Run("PlaysWithConfiguredSource", func(t *testing.T) {
		var gotSrc string
		var gotVol float64
		ch := NewAudioChannel(func(src string, volume float64) error {
			gotSrc, gotVol = src, volume
			return nil
		}, "sounds/alert.mp3", 0.8)

		err := ch.Deliver(context.Background(), "user-1", signal.Event{ID: uuid.New()})
		assert.NoError(t, err)
		assert.Equal(t, "sounds/alert.mp3", gotSrc)
		assert.Equal(t, 0.8, gotVol)
	})

	t.Run("PlaybackErrorIsReported", func(t *testing.T) {
		ch := NewAudioChannel(func(string, float64) error {
			return errors.New("playback not allowed")
		}, "sounds/alert.mp3", 1.0)

		err := ch.Deliver(context.Background(), "user-1", signal.Event{ID: uuid.New()})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "playback not allowed")
	})

	t.Run("NilPlayerIsNoop", func(t *testing.T) {
		ch := NewAudioChannel(nil, "", 1.0)
		assert.NoError(t, ch.Deliver(context.Background(), "user-1", signal.Event{}))
	})
}

func TestTelegramChannel(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		ch := &TelegramChannel{
			client: resty.New().SetBaseURL(server.URL),
			chatID: 42,
			logger: zap.NewNop(),
		}

		ev := signal.Event{ID: uuid.New(), Kind: signal.KindStarted, Instrument: "EURUSD", Direction: signal.DirectionLong, Price: 1.08}
		assert.NoError(t, ch.Deliver(context.Background(), "user-1", ev))
		assert.Equal(t, "/sendMessage", gotPath)
	})

	t.Run("APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"ok": false, "description": "bot token invalid"}`))
		}))
		defer server.Close()

		ch := &TelegramChannel{
			client: resty.New().SetBaseURL(server.URL),
			chatID: 42,
			logger: zap.NewNop(),
		}

		err := ch.Deliver(context.Background(), "user-1", signal.Event{ID: uuid.New()})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "telegram send failed")
	})
}
