package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"tickwatch/internal/calendar"
	"tickwatch/internal/domain"
	"tickwatch/internal/scheduler"
	"tickwatch/internal/store"
)

var cst = time.FixedZone("CST", 8*3600)

// Calendar fixture: no holidays, weekends non-trading.
// 2026-08-31 is a Monday; 2026-09-04 a Friday; 2026-09-07 the next Monday.
func testCalendar() *calendar.Calendar {
	return calendar.New(
		time.Date(2026, 8, 1, 0, 0, 0, 0, cst),
		time.Date(2026, 10, 31, 0, 0, 0, 0, cst),
		nil,
	)
}

func testSchedule(t *testing.T) domain.Schedule {
	t.Helper()
	specs := map[string][]string{
		"cu":     {"21:00-01:00", "09:00-10:15", "10:30-11:30", "13:30-15:00"},
		"au2312": {"09:30-15:15"},
	}
	sched := make(domain.Schedule)
	for key, wins := range specs {
		for _, spec := range wins {
			w, err := domain.ParseSessionWindow(spec)
			if err != nil {
				t.Fatalf("parsing window %q: %v", spec, err)
			}
			sched[key] = append(sched[key], w)
		}
	}
	return sched
}

// fakeStore records flushes in memory and can inject write failures.
type fakeStore struct {
	writes map[string][][]store.TickRecord
	err    error
}

var _ store.TickStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{writes: make(map[string][][]store.TickRecord)}
}

func (s *fakeStore) WriteTicks(_ context.Context, instrument string, _ time.Time, ticks []store.TickRecord) error {
	if s.err != nil {
		return s.err
	}
	s.writes[instrument] = append(s.writes[instrument], ticks)
	return nil
}

func (s *fakeStore) ReadTicks(context.Context, string) ([]store.TickRecord, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStore) ListFlushes(context.Context, string) ([]string, error) {
	return nil, nil
}

// stubFeed records subscription requests and reports a preset trading day.
type stubFeed struct {
	tradingDay string
	subscribed [][]string
}

func (f *stubFeed) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *stubFeed) Subscribe(instruments []string) error {
	f.subscribed = append(f.subscribed, instruments)
	return nil
}

func (f *stubFeed) TradingDay() string { return f.tradingDay }

// newTestWatcher builds a watcher pinned to *now, anchored to tradingDay,
// with validators armed, bypassing the feed connection sequence.
func newTestWatcher(t *testing.T, st store.TickStore, now *time.Time, tradingDay string) *Watcher {
	t.Helper()
	w := New(Params{
		Loc:       cst,
		Calendar:  testCalendar(),
		Store:     st,
		Schedule:  testSchedule(t),
		Subscribe: []string{"cu2312"},
		SaveTicks: true,
	})
	w.nowFn = func() time.Time { return *now }
	if err := w.clock.ResetEarliest(w.cal, *now); err != nil {
		t.Fatalf("ResetEarliest: %v", err)
	}
	if err := w.clock.SetTradingDay(tradingDay); err != nil {
		t.Fatalf("SetTradingDay: %v", err)
	}
	w.rebuildValidators()
	return w
}

func tick(instrument, updateTime string, ms int, price float64) domain.Tick {
	return domain.Tick{
		Instrument: instrument,
		UpdateTime: updateTime,
		Millisec:   ms,
		LastPrice:  price,
		Volume:     1,
	}
}

// groupIndex finds the timetable group firing at the given time of day.
func groupIndex(t *testing.T, w *Watcher, fireAt string) int {
	t.Helper()
	want, err := domain.ParseTimeOfDay(fireAt)
	if err != nil {
		t.Fatalf("parsing fire time: %v", err)
	}
	for i, g := range w.timetable.Groups {
		if g.FireAt == want {
			return i
		}
	}
	t.Fatalf("no timetable group fires at %s (groups: %v)", fireAt, w.timetable.Groups)
	return -1
}

// ---------------------------------------------------------------------------
// Tick ingestion
// ---------------------------------------------------------------------------

func TestTickAcceptedAndBuffered(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 2, 0, cst)
	w := newTestWatcher(t, newFakeStore(), &now, "20260831")

	_, ch := w.Subscribe(4)
	w.onTick(tick("cu2312", "09:00:01", 500, 68500))

	if len(w.buffers["cu2312"]) != 1 {
		t.Fatalf("buffer has %d ticks, want 1", len(w.buffers["cu2312"]))
	}
	wantMapped := w.clock.MapTime(9*3600+1)*1000 + 500
	rec := w.buffers["cu2312"][0]
	if rec.Mapped != wantMapped {
		t.Errorf("buffered Mapped = %d, want %d", rec.Mapped, wantMapped)
	}

	select {
	case md := <-ch:
		if md.Instrument != "cu2312" || md.Timestamp != wantMapped || md.LastPrice != 68500 {
			t.Errorf("published %+v, want cu2312 at %d", md, wantMapped)
		}
	default:
		t.Error("accepted tick was not published")
	}
}

func TestDuplicateTickPublishedOnce(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 2, 0, cst)
	w := newTestWatcher(t, newFakeStore(), &now, "20260831")

	_, ch := w.Subscribe(4)
	w.onTick(tick("cu2312", "09:00:01", 500, 68500))
	w.onTick(tick("cu2312", "09:00:01", 500, 68500))

	if got := len(w.buffers["cu2312"]); got != 1 {
		t.Errorf("buffer has %d ticks after duplicate, want 1", got)
	}
	if got := len(ch); got != 1 {
		t.Errorf("%d ticks published after duplicate, want 1", got)
	}
}

func TestTickInLunchGapRejected(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 20, 0, 0, cst)
	w := newTestWatcher(t, newFakeStore(), &now, "20260831")

	_, ch := w.Subscribe(4)
	// 10:20 falls between the 10:15 close and the 10:30 reopen.
	w.onTick(tick("cu2312", "10:20:00", 0, 68500))

	if len(w.buffers["cu2312"]) != 0 {
		t.Error("out-of-session tick was buffered")
	}
	if len(ch) != 0 {
		t.Error("out-of-session tick was published")
	}
}

func TestTickForUnarmedInstrumentIgnored(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 30, 0, 0, cst)
	w := newTestWatcher(t, newFakeStore(), &now, "20260831")

	w.onTick(tick("rb2312", "09:30:00", 0, 3500))
	if len(w.buffers) != 0 {
		t.Error("tick for unsubscribed instrument was buffered")
	}
}

func TestMalformedTickTimeIgnored(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 30, 0, 0, cst)
	w := newTestWatcher(t, newFakeStore(), &now, "20260831")

	w.onTick(tick("cu2312", "garbage", 0, 68500))
	if len(w.buffers) != 0 {
		t.Error("malformed tick was buffered")
	}
}

// ---------------------------------------------------------------------------
// Flush engine
// ---------------------------------------------------------------------------

func TestDeadlinePersistsOnTradingDay(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 2, 0, cst)
	st := newFakeStore()
	w := newTestWatcher(t, st, &now, "20260831")

	w.onTick(tick("cu2312", "09:00:01", 500, 68500))
	w.onTick(tick("cu2312", "09:00:02", 0, 68505))

	now = time.Date(2026, 8, 31, 10, 16, 0, 0, cst)
	idx := groupIndex(t, w, "10:16")
	w.onDeadline(context.Background(), scheduler.Firing{Generation: w.sched.Generation(), Index: idx})

	flushes := st.writes["cu2312"]
	if len(flushes) != 1 {
		t.Fatalf("store received %d flushes, want 1", len(flushes))
	}
	if len(flushes[0]) != 2 {
		t.Errorf("flush carried %d ticks, want 2", len(flushes[0]))
	}
	if len(w.buffers["cu2312"]) != 0 {
		t.Error("buffer not cleared after flush")
	}
}

func TestEmptyBufferNotFlushed(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 16, 0, 0, cst)
	st := newFakeStore()
	w := newTestWatcher(t, st, &now, "20260831")

	idx := groupIndex(t, w, "10:16")
	w.onDeadline(context.Background(), scheduler.Firing{Generation: w.sched.Generation(), Index: idx})

	if len(st.writes) != 0 {
		t.Errorf("empty buffer produced %d writes", len(st.writes))
	}
}

func TestStaleGenerationFiringDropped(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 2, 0, cst)
	st := newFakeStore()
	w := newTestWatcher(t, st, &now, "20260831")

	w.onTick(tick("cu2312", "09:00:01", 500, 68500))

	now = time.Date(2026, 8, 31, 10, 16, 0, 0, cst)
	w.onDeadline(context.Background(), scheduler.Firing{Generation: w.sched.Generation() + 7, Index: 0})

	if len(st.writes) != 0 {
		t.Error("stale firing caused a flush")
	}
	if len(w.buffers["cu2312"]) != 1 {
		t.Error("stale firing consumed the buffer")
	}
}

func TestPersistFailureStillClearsBuffer(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 2, 0, cst)
	st := newFakeStore()
	st.err = errors.New("disk full")
	w := newTestWatcher(t, st, &now, "20260831")

	w.onTick(tick("cu2312", "09:00:01", 500, 68500))

	now = time.Date(2026, 8, 31, 10, 16, 0, 0, cst)
	idx := groupIndex(t, w, "10:16")
	w.onDeadline(context.Background(), scheduler.Firing{Generation: w.sched.Generation(), Index: idx})

	if len(w.buffers["cu2312"]) != 0 {
		t.Error("buffer kept after failed flush; must not grow without bound")
	}
}

// The Saturday after a trading Friday: the 01:01 deadline closes out the
// Friday night session and persists because it fires before the cutoff.
func TestSaturdayFlushBeforeCutoffPersists(t *testing.T) {
	now := time.Date(2026, 9, 4, 21, 0, 2, 0, cst) // trading Friday evening
	st := newFakeStore()
	w := newTestWatcher(t, st, &now, "20260907")

	w.onTick(tick("cu2312", "21:00:01", 500, 68500))
	if len(w.buffers["cu2312"]) != 1 {
		t.Fatal("night tick not buffered")
	}

	now = time.Date(2026, 9, 5, 1, 1, 0, 0, cst) // Saturday 01:01
	idx := groupIndex(t, w, "01:01")
	w.onDeadline(context.Background(), scheduler.Firing{Generation: w.sched.Generation(), Index: idx})

	if len(st.writes["cu2312"]) != 1 {
		t.Errorf("Saturday pre-cutoff flush wrote %d times, want 1", len(st.writes["cu2312"]))
	}
}

func TestSaturdayFlushAfterCutoffClearsOnly(t *testing.T) {
	now := time.Date(2026, 9, 4, 21, 0, 2, 0, cst)
	st := newFakeStore()
	w := newTestWatcher(t, st, &now, "20260907")

	w.onTick(tick("cu2312", "21:00:01", 500, 68500))

	now = time.Date(2026, 9, 5, 6, 0, 0, 0, cst) // Saturday 06:00, past the 05:00 cutoff
	idx := groupIndex(t, w, "01:01")
	w.onDeadline(context.Background(), scheduler.Firing{Generation: w.sched.Generation(), Index: idx})

	if len(st.writes) != 0 {
		t.Error("post-cutoff Saturday flush persisted")
	}
	if len(w.buffers["cu2312"]) != 0 {
		t.Error("post-cutoff Saturday flush did not clear the buffer")
	}

	// Firing on a non-trading day re-anchors the cutover to Monday 08:00.
	wantEarliest := time.Date(2026, 9, 7, 8, 0, 0, 0, cst).Unix()
	if got := w.clock.Earliest(); got != wantEarliest {
		t.Errorf("earliest after weekend firing = %d, want %d", got, wantEarliest)
	}
}

func TestWeekendPolicyDisabledClearsOnly(t *testing.T) {
	st := newFakeStore()
	now := time.Date(2026, 9, 4, 21, 0, 2, 0, cst)
	w := New(Params{
		Loc:       cst,
		Calendar:  testCalendar(),
		Store:     st,
		Schedule:  testSchedule(t),
		Subscribe: []string{"cu2312"},
		SaveTicks: true,
		Policy:    &WeekendPolicy{Disabled: true},
	})
	w.nowFn = func() time.Time { return now }
	if err := w.clock.ResetEarliest(w.cal, now); err != nil {
		t.Fatalf("ResetEarliest: %v", err)
	}
	if err := w.clock.SetTradingDay("20260907"); err != nil {
		t.Fatalf("SetTradingDay: %v", err)
	}
	w.rebuildValidators()

	w.onTick(tick("cu2312", "21:00:01", 500, 68500))

	now = time.Date(2026, 9, 5, 1, 1, 0, 0, cst)
	idx := groupIndex(t, w, "01:01")
	w.onDeadline(context.Background(), scheduler.Firing{Generation: w.sched.Generation(), Index: idx})

	if len(st.writes) != 0 {
		t.Error("disabled weekend policy still persisted on Saturday")
	}
}

// An explicit midnight cutoff is a real configuration, not "unset": the
// 01:01 Saturday firing is past it and must clear without persisting.
func TestExplicitMidnightCutoffHonored(t *testing.T) {
	st := newFakeStore()
	now := time.Date(2026, 9, 4, 21, 0, 2, 0, cst)
	w := New(Params{
		Loc:       cst,
		Calendar:  testCalendar(),
		Store:     st,
		Schedule:  testSchedule(t),
		Subscribe: []string{"cu2312"},
		SaveTicks: true,
		Policy:    &WeekendPolicy{SaturdayCutoff: 0},
	})
	w.nowFn = func() time.Time { return now }
	if err := w.clock.ResetEarliest(w.cal, now); err != nil {
		t.Fatalf("ResetEarliest: %v", err)
	}
	if err := w.clock.SetTradingDay("20260907"); err != nil {
		t.Fatalf("SetTradingDay: %v", err)
	}
	w.rebuildValidators()

	w.onTick(tick("cu2312", "21:00:01", 500, 68500))

	now = time.Date(2026, 9, 5, 1, 1, 0, 0, cst)
	idx := groupIndex(t, w, "01:01")
	w.onDeadline(context.Background(), scheduler.Firing{Generation: w.sched.Generation(), Index: idx})

	if len(st.writes) != 0 {
		t.Error("00:00 cutoff was replaced by the default; Saturday 01:01 persisted")
	}
	if len(w.buffers["cu2312"]) != 0 {
		t.Error("suppressed firing did not clear the buffer")
	}
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

func TestOnConnectedArmsValidatorsAndSubscribes(t *testing.T) {
	now := time.Date(2026, 8, 31, 8, 50, 0, 0, cst)
	st := newFakeStore()
	w := New(Params{
		Loc:       cst,
		Calendar:  testCalendar(),
		Store:     st,
		Schedule:  testSchedule(t),
		Subscribe: []string{"cu2312"},
		SaveTicks: true,
	})
	w.nowFn = func() time.Time { return now }
	if err := w.clock.ResetEarliest(w.cal, now); err != nil {
		t.Fatalf("ResetEarliest: %v", err)
	}

	f := &stubFeed{tradingDay: "20260831"}
	w.SetFeed(f)
	w.onConnected()

	if w.Status() != "Ready" {
		t.Errorf("Status = %s, want Ready", w.Status())
	}
	if w.validators["cu2312"] == nil {
		t.Error("validator not armed after connect")
	}
	if len(f.subscribed) != 1 || len(f.subscribed[0]) != 1 || f.subscribed[0][0] != "cu2312" {
		t.Errorf("feed subscriptions = %v, want [[cu2312]]", f.subscribed)
	}

	w.dispatch(context.Background(), FrontDisconnected{Reason: "front lost"})
	if w.Status() != "NotReady" {
		t.Errorf("Status after disconnect = %s, want NotReady", w.Status())
	}
}

// Reconnecting inside the weekend gap must not admit the pre-weekend night
// session into the upcoming trading day's coordinate space.
func TestWeekendReconnectDropsNightWindow(t *testing.T) {
	now := time.Date(2026, 9, 5, 10, 0, 0, 0, cst) // Saturday morning
	st := newFakeStore()
	w := New(Params{
		Loc:       cst,
		Calendar:  testCalendar(),
		Store:     st,
		Schedule:  testSchedule(t),
		Subscribe: []string{"cu2312"},
		SaveTicks: true,
	})
	w.nowFn = func() time.Time { return now }

	f := &stubFeed{tradingDay: "20260907"}
	w.SetFeed(f)
	w.onConnected()

	// The night window maps below Monday's 08:00 cutover and is dropped;
	// Monday's day sessions remain armed.
	w.onTick(tick("cu2312", "21:00:01", 500, 68500))
	if len(w.buffers) != 0 {
		t.Error("pre-weekend night tick accepted into the new week")
	}
	w.onTick(tick("cu2312", "09:00:01", 500, 68500))
	if len(w.buffers["cu2312"]) != 1 {
		t.Error("Monday day-session tick rejected")
	}
}

// ---------------------------------------------------------------------------
// Subscription changes
// ---------------------------------------------------------------------------

func TestSubscriptionChangeRebuildsTimetable(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, cst)
	w := newTestWatcher(t, newFakeStore(), &now, "20260831")

	before := w.timetable.Len()
	gen := w.sched.Generation()

	w.onSubscriptionChanged(context.Background(), []string{"au2312"})

	if w.timetable.Len() != before+1 {
		t.Errorf("timetable has %d groups, want %d", w.timetable.Len(), before+1)
	}
	if w.sched.Generation() != gen+1 {
		t.Errorf("generation = %d, want %d", w.sched.Generation(), gen+1)
	}
	list := w.SubscribeList()
	if len(list) != 2 || list[0] != "au2312" || list[1] != "cu2312" {
		t.Errorf("SubscribeList = %v, want [au2312 cu2312]", list)
	}
}

func TestSubscriptionChangeIgnoresDuplicates(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, cst)
	w := newTestWatcher(t, newFakeStore(), &now, "20260831")

	gen := w.sched.Generation()
	w.onSubscriptionChanged(context.Background(), []string{"cu2312"})
	if w.sched.Generation() != gen {
		t.Error("duplicate subscription rebuilt the timetable")
	}
}

// ---------------------------------------------------------------------------
// Pub/sub
// ---------------------------------------------------------------------------

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 10, 0, cst)
	w := newTestWatcher(t, newFakeStore(), &now, "20260831")

	_, ch := w.Subscribe(1)
	w.onTick(tick("cu2312", "09:00:01", 0, 68500))
	w.onTick(tick("cu2312", "09:00:02", 0, 68505))
	w.onTick(tick("cu2312", "09:00:03", 0, 68510))

	if len(ch) != 1 {
		t.Fatalf("slow subscriber channel holds %d, want 1", len(ch))
	}
	md := <-ch
	if md.LastPrice != 68500 {
		t.Errorf("subscriber got price %v, want the first accepted tick", md.LastPrice)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, cst)
	w := newTestWatcher(t, newFakeStore(), &now, "20260831")

	id, ch := w.Subscribe(1)
	w.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
}

// ---------------------------------------------------------------------------
// End to end with the real store
// ---------------------------------------------------------------------------

func TestFlushRoundTripWithParquetStore(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 4, 0, cst)
	ps := store.NewParquetStore(t.TempDir())
	w := newTestWatcher(t, ps, &now, "20260831")

	w.onTick(tick("cu2312", "09:00:01", 500, 68500))
	w.onTick(tick("cu2312", "09:00:02", 0, 68505))
	w.onTick(tick("cu2312", "09:00:03", 250, 68510))

	now = time.Date(2026, 8, 31, 10, 16, 0, 0, cst)
	idx := groupIndex(t, w, "10:16")
	w.onDeadline(context.Background(), scheduler.Firing{Generation: w.sched.Generation(), Index: idx})

	ctx := context.Background()
	paths, err := ps.ListFlushes(ctx, "cu2312")
	if err != nil {
		t.Fatalf("ListFlushes: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("flush produced %d files, want 1", len(paths))
	}
	recs, err := ps.ReadTicks(ctx, paths[0])
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("read %d records, want 3", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Mapped <= recs[i-1].Mapped {
			t.Errorf("mapped timestamps not increasing: %d then %d", recs[i-1].Mapped, recs[i].Mapped)
		}
	}
}
