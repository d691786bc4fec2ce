// Package watcher wires the session clock, per-instrument time validators,
// deadline scheduler, and flush engine into a single event-dispatch loop.
// Tick arrival, deadline firing, and subscription changes each run to
// completion on that loop, so validator state, tick buffers, and the
// timetable need no locking.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"tickwatch/internal/calendar"
	"tickwatch/internal/clock"
	"tickwatch/internal/domain"
	"tickwatch/internal/feed"
	"tickwatch/internal/scheduler"
	"tickwatch/internal/store"
	"tickwatch/internal/validator"
)

// Compile-time interface check: the watcher is the feed's callback sink.
var _ feed.Handler = (*Watcher)(nil)

// WeekendPolicy controls flush persistence on the Saturday that follows a
// trading Friday whose night session ran into the early morning. Before
// SaturdayCutoff such a flush still persists; after it, buffers are cleared
// without writing. The cutoff encodes an exchange convention, so it is
// injected rather than hard-coded.
type WeekendPolicy struct {
	Disabled       bool
	SaturdayCutoff domain.TimeOfDay
}

// DefaultWeekendPolicy matches the CN futures schedule: persist until
// 05:00 on a straddling Saturday.
func DefaultWeekendPolicy() WeekendPolicy {
	return WeekendPolicy{SaturdayCutoff: domain.TimeOfDay(5 * 3600)}
}

// Params collects the watcher's dependencies.
type Params struct {
	Log           *slog.Logger
	Loc           *time.Location
	Calendar      *calendar.Calendar
	Store         store.TickStore
	Subscriptions *store.SubscriptionStore // optional, persists subscribe calls
	Schedule      domain.Schedule
	Subscribe     []string
	SaveTicks     bool
	Grace         time.Duration
	Policy        *WeekendPolicy // nil applies DefaultWeekendPolicy
}

// Watcher is the session-aware tick validation and scheduled-flush engine.
type Watcher struct {
	log    *slog.Logger
	loc    *time.Location
	cal    *calendar.Calendar
	clock  *clock.SessionClock
	feed   feed.Feed
	store  store.TickStore
	subcfg *store.SubscriptionStore

	schedule  domain.Schedule
	saveTicks bool
	grace     time.Duration
	policy    WeekendPolicy

	events chan Event
	sched  *scheduler.Scheduler

	// State below is owned by the dispatch loop.
	timetable         *scheduler.Timetable
	validators        map[string]*validator.TimeValidator
	buffers           map[string][]store.TickRecord
	subscribeSet      map[string]bool
	currentTradingDay string

	ready atomic.Bool
	// Read-side snapshots for callers outside the dispatch loop.
	day      atomic.Value // string
	subsList atomic.Value // []string

	subs  *subscribers
	start time.Time
	nowFn func() time.Time
}

// New creates a Watcher. Call SetFeed before Run; the initial timetable is
// built from the given subscription set.
func New(p Params) *Watcher {
	if p.Log == nil {
		p.Log = slog.Default()
	}
	if p.Grace <= 0 {
		p.Grace = scheduler.DefaultGrace
	}
	if p.Policy == nil {
		// An explicit zero-value policy is honored: 00:00 is a valid cutoff.
		def := DefaultWeekendPolicy()
		p.Policy = &def
	}

	w := &Watcher{
		log:          p.Log.With("component", "watcher"),
		loc:          p.Loc,
		cal:          p.Calendar,
		clock:        clock.New(p.Loc),
		store:        p.Store,
		subcfg:       p.Subscriptions,
		schedule:     p.Schedule,
		saveTicks:    p.SaveTicks,
		grace:        p.Grace,
		policy:       *p.Policy,
		events:       make(chan Event, 1024),
		validators:   make(map[string]*validator.TimeValidator),
		buffers:      make(map[string][]store.TickRecord),
		subscribeSet: make(map[string]bool),
		subs:         newSubscribers(),
		start:        time.Now(),
		nowFn:        time.Now,
	}
	for _, id := range p.Subscribe {
		w.subscribeSet[id] = true
	}
	w.day.Store("")
	w.subsList.Store(sortedKeys(w.subscribeSet))
	w.sched = scheduler.New(p.Loc, w.log, func(f scheduler.Firing) {
		w.post(DeadlineFired{Firing: f})
	})
	w.rebuildTimetable()
	return w
}

// SetFeed attaches the market-data feed. The watcher is the feed's Handler.
func (w *Watcher) SetFeed(f feed.Feed) { w.feed = f }

// Status reports "Ready" while the feed front is connected and logged in.
func (w *Watcher) Status() string {
	if w.ready.Load() {
		return "Ready"
	}
	return "NotReady"
}

// Subscribe registers a consumer for accepted-tick notifications.
func (w *Watcher) Subscribe(buffer int) (int, <-chan MarketData) {
	return w.subs.subscribe(buffer)
}

// Unsubscribe removes a consumer and closes its channel.
func (w *Watcher) Unsubscribe(id int) { w.subs.unsubscribe(id) }

// AddInstruments adds instruments to the subscription set. Safe to call
// from any goroutine; the change is applied on the dispatch loop.
func (w *Watcher) AddInstruments(instruments []string) {
	w.post(SubscriptionChanged{Instruments: instruments})
}

// SubscribeList returns the instruments currently requested at startup or
// via AddInstruments, in sorted order. Safe to call from any goroutine.
func (w *Watcher) SubscribeList() []string {
	list, _ := w.subsList.Load().([]string)
	return list
}

// TradingDay returns the trading day (YYYYMMDD) the watcher is anchored
// to, or "" before the first connect.
func (w *Watcher) TradingDay() string {
	day, _ := w.day.Load().(string)
	return day
}

// Uptime reports how long the watcher has been running.
func (w *Watcher) Uptime() time.Duration {
	return w.nowFn().Sub(w.start)
}

// ---------------------------------------------------------------------------
// feed.Handler
// ---------------------------------------------------------------------------

// OnConnected posts a FrontConnected event.
func (w *Watcher) OnConnected() { w.post(FrontConnected{}) }

// OnDisconnected posts a FrontDisconnected event.
func (w *Watcher) OnDisconnected(reason string) { w.post(FrontDisconnected{Reason: reason}) }

// OnTick posts a DepthTick event.
func (w *Watcher) OnTick(t domain.Tick) { w.post(DepthTick{Tick: t}) }

func (w *Watcher) post(ev Event) { w.events <- ev }

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

// Run starts the scheduler and feed and dispatches events until ctx is
// cancelled. Each event runs to completion before the next is processed.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.clock.ResetEarliest(w.cal, w.nowFn().In(w.loc)); err != nil {
		// Unknown date: leave the cutover unestablished; the validator
		// rejects everything until a valid day is seen.
		w.log.Warn("earliest-time cutover not established", "error", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	go func() { errc <- w.sched.Run(runCtx) }()
	if w.feed != nil {
		go func() { errc <- w.feed.Run(runCtx) }()
	}

	for {
		select {
		case <-runCtx.Done():
			return runCtx.Err()
		case err := <-errc:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		case ev := <-w.events:
			w.dispatch(runCtx, ev)
		}
	}
}

func (w *Watcher) dispatch(ctx context.Context, ev Event) {
	switch ev := ev.(type) {
	case FrontConnected:
		w.onConnected()
	case FrontDisconnected:
		w.ready.Store(false)
		w.log.Info("front disconnected", "reason", ev.Reason)
	case DepthTick:
		w.onTick(ev.Tick)
	case DeadlineFired:
		w.onDeadline(ctx, ev.Firing)
	case SubscriptionChanged:
		w.onSubscriptionChanged(ctx, ev.Instruments)
	}
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

func (w *Watcher) onConnected() {
	w.ready.Store(true)
	day := w.feed.TradingDay()
	w.log.Info("front connected", "tradingDay", day)

	if day != w.currentTradingDay {
		today := w.nowFn().In(w.loc)
		if trading, err := w.cal.IsTradingDay(today); err != nil || !trading {
			// Reconnect inside a weekend or holiday gap: re-anchor the
			// cutover to the upcoming trading day.
			if err := w.clock.ResetEarliest(w.cal, today); err != nil {
				w.log.Warn("earliest-time recompute failed", "error", err)
			}
		}
		if err := w.clock.SetTradingDay(day); err != nil {
			w.log.Error("invalid trading day from feed", "tradingDay", day, "error", err)
			return
		}
		w.rebuildValidators()
		w.currentTradingDay = day
		w.day.Store(day)
		w.log.Info("trading day changed", "tradingDay", day)
	}

	if err := w.feed.Subscribe(sortedKeys(w.subscribeSet)); err != nil {
		w.log.Error("subscribe request failed", "error", err)
	}
}

// rebuildValidators derives fresh validator state for every subscribed
// instrument from the session schedule and the current trading-day anchor.
// Windows whose mapped start falls before the earliest-time cutover are
// dropped; instruments left with no windows stay unarmed.
func (w *Watcher) rebuildValidators() {
	w.validators = make(map[string]*validator.TimeValidator, len(w.subscribeSet))
	for id := range w.subscribeSet {
		var times []int64
		for _, win := range w.schedule.Windows(id) {
			mappedStart := w.clock.MapTime(win.Start.Seconds())
			if mappedStart >= w.clock.Earliest() {
				times = append(times, mappedStart, w.clock.MapTime(win.End.Seconds()))
			}
		}
		if len(times) == 0 {
			continue
		}
		sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
		w.validators[id] = validator.New(times)
	}
	w.log.Info("time validators rebuilt", "armed", len(w.validators), "subscribed", len(w.subscribeSet))
}

// ---------------------------------------------------------------------------
// Tick ingestion
// ---------------------------------------------------------------------------

func (w *Watcher) onTick(t domain.Tick) {
	sec, err := t.Seconds()
	if err != nil {
		w.log.Warn("malformed tick time", "instrument", t.Instrument, "updateTime", t.UpdateTime)
		return
	}

	v := w.validators[t.Instrument]
	if v == nil {
		return
	}
	final := v.Validate(w.clock.MapTime(sec), t.Millisec)
	if final == 0 {
		// Out of session or out of order; a normal outcome, not an error.
		return
	}

	w.subs.publish(MarketData{
		Instrument: t.Instrument,
		Timestamp:  final,
		LastPrice:  t.LastPrice,
		Volume:     t.Volume,
		AskPrice1:  t.AskPrice1,
		AskVolume1: t.AskVolume1,
		BidPrice1:  t.BidPrice1,
		BidVolume1: t.BidVolume1,
	})

	if w.saveTicks {
		w.buffers[t.Instrument] = append(w.buffers[t.Instrument], store.TickRecord{
			Instrument:   t.Instrument,
			Mapped:       final,
			UpdateTime:   t.UpdateTime,
			Millisec:     int32(t.Millisec),
			LastPrice:    t.LastPrice,
			Volume:       t.Volume,
			AskPrice1:    t.AskPrice1,
			AskVolume1:   t.AskVolume1,
			BidPrice1:    t.BidPrice1,
			BidVolume1:   t.BidVolume1,
			RecvOffsetMs: w.nowFn().Sub(w.start).Milliseconds(),
		})
	}
}

// ---------------------------------------------------------------------------
// Flush engine
// ---------------------------------------------------------------------------

func (w *Watcher) onDeadline(ctx context.Context, f scheduler.Firing) {
	if f.Generation != w.sched.Generation() {
		// Alarm armed under a replaced timetable.
		w.log.Debug("stale deadline dropped", "generation", f.Generation)
		return
	}
	if w.timetable == nil || f.Index >= w.timetable.Len() {
		return
	}

	now := w.nowFn().In(w.loc)
	group := w.timetable.Groups[f.Index]
	persist := w.shouldPersist(now)

	for _, id := range group.Instruments {
		buf := w.buffers[id]
		if len(buf) == 0 {
			continue
		}
		// Ownership of the buffer moves here; the next tick for this
		// instrument starts a fresh one.
		delete(w.buffers, id)

		if !persist {
			w.log.Info("flush suppressed, buffer cleared", "instrument", id, "ticks", len(buf))
			continue
		}
		if err := w.store.WriteTicks(ctx, id, now, buf); err != nil {
			// The buffer is gone either way; re-queueing would grow without
			// bound if the disk stays broken.
			w.log.Error("tick flush failed", "instrument", id, "ticks", len(buf), "error", err)
			continue
		}
		w.log.Info("ticks flushed", "instrument", id, "ticks", len(buf), "fireAt", group.FireAt.String())
	}

	if trading, err := w.cal.IsTradingDay(now); err != nil || !trading {
		// Start of a weekend or holiday gap: anchor the cutover to the
		// next trading day so pre-gap sessions drop out of its space.
		if err := w.clock.ResetEarliest(w.cal, now); err != nil {
			w.log.Warn("earliest-time recompute failed", "error", err)
		}
	}
}

// shouldPersist decides whether a firing writes buffers or only clears
// them. Non-trading days clear only, except the Saturday directly after a
// trading Friday with the following Monday trading: before the policy
// cutoff the Friday night session is still being closed out and persists
// normally.
func (w *Watcher) shouldPersist(now time.Time) bool {
	if !w.saveTicks {
		return false
	}
	trading, err := w.cal.IsTradingDay(now)
	if err != nil {
		w.log.Warn("calendar has no data for today, treating as non-trading", "error", err)
		return false
	}
	if trading {
		return true
	}
	if w.policy.Disabled {
		return false
	}

	fridayTrading, err := w.cal.IsTradingDay(now.AddDate(0, 0, -1))
	if err != nil || !fridayTrading {
		return false
	}
	next, err := w.cal.NextTradingDay(now)
	if err != nil {
		return false
	}
	monday := now.AddDate(0, 0, 2)
	if next.Year() != monday.Year() || next.YearDay() != monday.YearDay() {
		return false
	}

	tod := domain.TimeOfDay(now.Hour()*3600 + now.Minute()*60 + now.Second())
	return tod <= w.policy.SaturdayCutoff
}

// ---------------------------------------------------------------------------
// Subscription changes
// ---------------------------------------------------------------------------

func (w *Watcher) onSubscriptionChanged(ctx context.Context, instruments []string) {
	added := make([]string, 0, len(instruments))
	for _, id := range instruments {
		if !w.subscribeSet[id] {
			w.subscribeSet[id] = true
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return
	}
	w.subsList.Store(sortedKeys(w.subscribeSet))

	if w.subcfg != nil {
		if err := w.subcfg.Add(ctx, added...); err != nil {
			w.log.Error("persisting subscriptions failed", "error", err)
		}
	}

	w.rebuildTimetable()
	if w.ready.Load() {
		w.rebuildValidators()
		if err := w.feed.Subscribe(added); err != nil {
			w.log.Error("subscribe request failed", "error", err)
		}
	}
	w.log.Info("subscription set changed", "added", added, "total", len(w.subscribeSet))
}

// rebuildTimetable regroups the subscription set by session-end time and
// atomically swaps the scheduler's timetable. Alarms from the old table are
// cancelled; their firings, if already queued, are dropped by generation.
func (w *Watcher) rebuildTimetable() {
	sessions := make(map[string][]domain.SessionWindow)
	for id := range w.subscribeSet {
		if wins := w.schedule.Windows(id); len(wins) > 0 {
			sessions[id] = wins
		}
	}
	w.timetable = scheduler.Build(sessions, w.grace)
	gen := w.sched.Swap(w.timetable)
	w.log.Info("flush timetable rebuilt", "groups", w.timetable.Len(), "generation", gen)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
