package pipeline

import (
	"context"

	"signal-notifier-go/internal/feed"
	"signal-notifier-go/internal/prefs"
	"signal-notifier-go/internal/signal"

	"go.uber.org/zap"
)

// Pipeline is the single authoritative trigger for one user session: it
// consumes the feed subscription, classifies each snapshot through the diff
// engine, and hands every resulting event to the fan-out. Exactly one
// Pipeline is constructed per session; everything else that wants delivery
// goes through its fan-out rather than wiring a second trigger.
type Pipeline struct {
	logger *zap.Logger
	engine *DiffEngine
	fanout *Fanout
	sub    *feed.Subscription
}

// New creates the pipeline for one session and hooks it to the preference
// store's change feed so mid-session toggles are visible in the logs (the
// fan-out itself reads the store per event, so no restart is needed).
func New(logger *zap.Logger, store *prefs.Store, fanout *Fanout, sub *feed.Subscription) *Pipeline {
	p := &Pipeline{
		logger: logger.Named("pipeline"),
		engine: NewDiffEngine(),
		fanout: fanout,
		sub:    sub,
	}
	store.OnChange(func(userID string) {
		p.logger.Debug("Preferences changed, applying to next event", zap.String("user_id", userID))
	})
	return p
}

// Bootstrap feeds the backfilled open signals through the engine before live
// consumption starts. They classify as started: after a (re)connect the
// session intentionally re-announces everything currently open.
func (p *Pipeline) Bootstrap(ctx context.Context, snaps []signal.Snapshot) {
	for _, snap := range snaps {
		if ev := p.engine.Classify(snap); ev != nil {
			p.fanout.Dispatch(ctx, *ev)
		}
	}
	p.logger.Info("Bootstrap complete", zap.Int("open_signals", len(snaps)))
}

// Run consumes the subscription until ctx is cancelled or the subscription
// is closed. On return the subscription is cancelled and the diff state dies
// with the pipeline, so a later session starts from a clean slate.
func (p *Pipeline) Run(ctx context.Context) {
	defer p.sub.Cancel()
	p.logger.Info("Pipeline running")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Pipeline stopping", zap.Int("tracked_instruments", p.engine.Tracked()))
			return
		case snap, ok := <-p.sub.Snapshots():
			if !ok {
				p.logger.Info("Subscription closed, pipeline stopping")
				return
			}
			if ev := p.engine.Classify(snap); ev != nil {
				p.fanout.Dispatch(ctx, *ev)
			}
		}
	}
}
