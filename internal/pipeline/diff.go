package pipeline

import (
	"strconv"

	"signal-notifier-go/internal/signal"

	"github.com/google/uuid"
)

// DiffEngine turns a stream of signal snapshots into classified notification
// events, firing each logical event exactly once per engine instance.
//
// previousExit tracks what the engine last knew about each instrument:
// key absent = never seen, nil = seen and still running, non-nil = seen and
// completed at that exit price. A fresh engine re-observes every open signal
// as started, which is the intended behavior after a reconnect.
type DiffEngine struct {
	previousExit map[string]*float64
}

// NewDiffEngine creates an engine with no observed state.
func NewDiffEngine() *DiffEngine {
	return &DiffEngine{previousExit: make(map[string]*float64)}
}

// Classify inspects one snapshot and returns the event it implies, or nil
// for a duplicate or unrelated update. Snapshots for one instrument must be
// fed in arrival order; ordering across instruments does not matter.
func (e *DiffEngine) Classify(snap signal.Snapshot) *signal.Event {
	prev, seen := e.previousExit[snap.Instrument]

	var ev *signal.Event
	switch {
	case !seen:
		// First sight is always "started", even when the snapshot arrives
		// already completed. A completion notice for a signal that closed
		// before we ever saw it open would have no "open" to refer back to.
		ev = &signal.Event{
			ID:         uuid.New(),
			Kind:       signal.KindStarted,
			Instrument: snap.Instrument,
			Direction:  snap.Direction,
			Price:      snap.EntryPrice,
			Timestamp:  snap.EntryTime,
		}
	case prev == nil && snap.ExitPrice != nil:
		ts := snap.EntryTime
		if snap.ExitTime != nil {
			ts = *snap.ExitTime
		}
		ev = &signal.Event{
			ID:         uuid.New(),
			Kind:       signal.KindCompleted,
			Instrument: snap.Instrument,
			Direction:  snap.Direction,
			Price:      *snap.ExitPrice,
			Timestamp:  ts,
			Details: map[string]string{
				"entry_price": strconv.FormatFloat(snap.EntryPrice, 'f', -1, 64),
			},
		}
	}

	// The exit price is terminal: once recorded it is never reset, so a
	// contract-violating completed-then-running snapshot cannot re-arm the
	// instrument for a second completion.
	if snap.ExitPrice != nil {
		exit := *snap.ExitPrice
		e.previousExit[snap.Instrument] = &exit
	} else if !seen {
		e.previousExit[snap.Instrument] = nil
	}

	return ev
}

// Tracked returns how many instruments the engine has observed. Used for
// status reporting only.
func (e *DiffEngine) Tracked() int {
	return len(e.previousExit)
}
