package feed

import (
	"context"
	"log/slog"
	"time"

	"tickwatch/internal/domain"
)

// Compile-time interface check.
var _ Feed = (*ReplayFeed)(nil)

// ReplayFeed plays a fixed tick sequence through the handler, for dry runs
// and tests. It reports a preset trading day and delivers ticks in order
// with an optional fixed delay between them.
type ReplayFeed struct {
	ticks      []domain.Tick
	tradingDay string
	delay      time.Duration
	handler    Handler
	log        *slog.Logger
}

// NewReplayFeed creates a ReplayFeed for the given ticks and trading day.
// A zero delay replays as fast as the watcher consumes.
func NewReplayFeed(ticks []domain.Tick, tradingDay string, delay time.Duration, handler Handler) *ReplayFeed {
	return &ReplayFeed{
		ticks:      ticks,
		tradingDay: tradingDay,
		delay:      delay,
		handler:    handler,
		log:        slog.Default().With("feed", "replay"),
	}
}

// Run signals a connect, replays every tick, then signals a disconnect and
// returns. It stops early when ctx is cancelled.
func (f *ReplayFeed) Run(ctx context.Context) error {
	f.handler.OnConnected()
	f.log.Info("replay started", "ticks", len(f.ticks), "tradingDay", f.tradingDay)

	for _, t := range f.ticks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.handler.OnTick(t)
		if f.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.delay):
			}
		}
	}

	f.handler.OnDisconnected("replay exhausted")
	f.log.Info("replay finished")
	return nil
}

// Subscribe is a no-op: the replay source already carries its instruments.
func (f *ReplayFeed) Subscribe(_ []string) error { return nil }

// TradingDay returns the preset trading day.
func (f *ReplayFeed) TradingDay() string { return f.tradingDay }
