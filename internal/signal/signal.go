package signal

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Direction is the canonical side of a signal. Feed payloads use a zoo of
// aliases (BUY, buy, LONG, Sell, SHORT, ...); they are all folded to this
// two-value enum at the feed boundary and nowhere else.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// ParseDirection normalizes a raw direction string from the feed.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LONG", "BUY":
		return DirectionLong, nil
	case "SHORT", "SELL":
		return DirectionShort, nil
	default:
		return "", fmt.Errorf("unknown direction %q", raw)
	}
}

// Snapshot is the normalized state of one signal as observed on the feed.
// ExitPrice is nil while the signal is still running; once set it never
// reverts to nil.
type Snapshot struct {
	Instrument string
	Direction  Direction
	EntryPrice float64
	ExitPrice  *float64
	EntryTime  time.Time
	ExitTime   *time.Time
}

// Completed reports whether the signal has an exit price.
func (s Snapshot) Completed() bool {
	return s.ExitPrice != nil
}

// Kind classifies a notification event.
type Kind string

const (
	KindStarted   Kind = "SIGNAL_STARTED"
	KindCompleted Kind = "SIGNAL_COMPLETED"
	KindAlert     Kind = "ALERT"
)

// Event is one classified notification. Events are ephemeral: constructed by
// the diff engine, consumed by the delivery fan-out, then discarded (the toast
// channel may log a copy to the inbox table, but that is the channel's
// business).
type Event struct {
	ID         uuid.UUID
	Kind       Kind
	Instrument string
	Direction  Direction
	Price      float64
	Timestamp  time.Time
	Details    map[string]string
}
