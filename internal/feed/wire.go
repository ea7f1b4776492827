package feed

import (
	"fmt"
	"strconv"
	"time"

	"signal-notifier-go/internal/signal"
)

// WireSignal is the raw signal payload as it arrives from the feed, both on
// the REST backfill endpoint and on the live socket. Prices come over the
// wire as strings and directions in whatever casing the upstream publisher
// felt like; Normalize is the single place where both are folded into the
// canonical snapshot shape.
type WireSignal struct {
	InstrumentID string  `json:"instrument_id"`
	Direction    string  `json:"direction"`
	EntryPrice   string  `json:"entry_price"`
	ExitPrice    *string `json:"exit_price"`
	EntryTime    int64   `json:"entry_time"` // unix milliseconds
	ExitTime     *int64  `json:"exit_time"`
}

// Normalize converts the wire payload into a signal.Snapshot.
func (w WireSignal) Normalize() (signal.Snapshot, error) {
	if w.InstrumentID == "" {
		return signal.Snapshot{}, fmt.Errorf("signal payload missing instrument id")
	}

	dir, err := signal.ParseDirection(w.Direction)
	if err != nil {
		return signal.Snapshot{}, fmt.Errorf("signal %s: %w", w.InstrumentID, err)
	}

	entry, err := strconv.ParseFloat(w.EntryPrice, 64)
	if err != nil {
		return signal.Snapshot{}, fmt.Errorf("signal %s: bad entry price %q: %w", w.InstrumentID, w.EntryPrice, err)
	}

	snap := signal.Snapshot{
		Instrument: w.InstrumentID,
		Direction:  dir,
		EntryPrice: entry,
		EntryTime:  time.UnixMilli(w.EntryTime),
	}

	if w.ExitPrice != nil && *w.ExitPrice != "" {
		exit, err := strconv.ParseFloat(*w.ExitPrice, 64)
		if err != nil {
			return signal.Snapshot{}, fmt.Errorf("signal %s: bad exit price %q: %w", w.InstrumentID, *w.ExitPrice, err)
		}
		snap.ExitPrice = &exit
	}

	if w.ExitTime != nil {
		t := time.UnixMilli(*w.ExitTime)
		snap.ExitTime = &t
	}

	return snap, nil
}
