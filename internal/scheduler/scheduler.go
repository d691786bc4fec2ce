// Package scheduler fires daily-recurring alarms at the flush deadlines
// shared by groups of instruments. Instruments whose sessions end at the
// same time of day coalesce into one deadline group; the sorted list of
// distinct fire times forms the day's timetable, driven by a single timer.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"tickwatch/internal/domain"
)

// DefaultGrace is how long after a session end its flush deadline fires.
const DefaultGrace = 60 * time.Second

// Group is one deadline group: the instruments whose sessions end together,
// and the time of day their flush fires.
type Group struct {
	FireAt      domain.TimeOfDay
	Instruments []string
}

// Timetable is the immutable sorted list of deadline groups for one
// subscription set. Rebuilding produces a fresh Timetable which replaces
// the previous one atomically via Scheduler.Swap.
type Timetable struct {
	Groups []Group
}

// Build groups instruments by identical session-end time of day and orders
// the distinct fire times (end + grace) ascending.
func Build(sessions map[string][]domain.SessionWindow, grace time.Duration) *Timetable {
	byEnd := make(map[domain.TimeOfDay]map[string]bool)
	for id, wins := range sessions {
		for _, w := range wins {
			if byEnd[w.End] == nil {
				byEnd[w.End] = make(map[string]bool)
			}
			byEnd[w.End][id] = true
		}
	}

	ends := make([]domain.TimeOfDay, 0, len(byEnd))
	for end := range byEnd {
		ends = append(ends, end)
	}
	sort.Slice(ends, func(i, j int) bool { return ends[i] < ends[j] })

	graceSec := int(grace / time.Second)
	tt := &Timetable{Groups: make([]Group, 0, len(ends))}
	for _, end := range ends {
		ids := make([]string, 0, len(byEnd[end]))
		for id := range byEnd[end] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fire := domain.TimeOfDay((end.Seconds() + graceSec) % domain.SecondsPerDay)
		tt.Groups = append(tt.Groups, Group{FireAt: fire, Instruments: ids})
	}
	return tt
}

// Len returns the number of deadline groups.
func (tt *Timetable) Len() int { return len(tt.Groups) }

// NextFire returns the earliest fire instant strictly after t, and the
// index of the group that fires then. A fire time already past today rolls
// over to tomorrow.
func (tt *Timetable) NextFire(t time.Time, loc *time.Location) (time.Time, int) {
	var best time.Time
	bestIdx := -1
	local := t.In(loc)
	for i, g := range tt.Groups {
		sec := g.FireAt.Seconds()
		cand := time.Date(local.Year(), local.Month(), local.Day(),
			sec/3600, sec/60%60, sec%60, 0, loc)
		if !cand.After(t) {
			cand = cand.AddDate(0, 0, 1)
		}
		if bestIdx == -1 || cand.Before(best) {
			best = cand
			bestIdx = i
		}
	}
	return best, bestIdx
}

// Firing identifies one alarm: the index into the timetable's sorted
// groups, stamped with the timetable generation it was armed under so that
// fires from a replaced timetable can be discarded.
type Firing struct {
	Generation uint64
	Index      int
}

// Scheduler arms a single timer for the next deadline of the current
// timetable and re-arms every day. Swapping in a new timetable cancels the
// outstanding alarm before anything from the new table is armed.
type Scheduler struct {
	loc    *time.Location
	log    *slog.Logger
	notify func(Firing)
	now    func() time.Time

	mu   sync.Mutex
	tt   *Timetable
	gen  uint64
	kick chan struct{}
}

// New creates a Scheduler that delivers firings through notify. The
// scheduler starts with an empty timetable; call Swap to install one.
func New(loc *time.Location, log *slog.Logger, notify func(Firing)) *Scheduler {
	return &Scheduler{
		loc:    loc,
		log:    log,
		notify: notify,
		now:    time.Now,
		kick:   make(chan struct{}, 1),
	}
}

// Swap atomically replaces the timetable, invalidating any outstanding
// alarm, and returns the new generation. Firings carrying an older
// generation must be ignored by the consumer.
func (s *Scheduler) Swap(tt *Timetable) uint64 {
	s.mu.Lock()
	s.tt = tt
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
	return gen
}

// Generation returns the current timetable generation.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Scheduler) snapshot() (*Timetable, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tt, s.gen
}

// Run drives the alarm loop until ctx is cancelled. A deadline whose
// instant passed while the process was suspended fires immediately on
// resume; rearming always targets the next future instant.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		tt, gen := s.snapshot()
		if tt == nil || tt.Len() == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.kick:
				continue
			}
		}

		at, idx := tt.NextFire(s.now(), s.loc)
		timer.Reset(at.Sub(s.now()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.kick:
			// Timetable replaced; cancel the outstanding alarm.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
			s.log.Debug("deadline fired", "index", idx, "at", at, "generation", gen)
			s.notify(Firing{Generation: gen, Index: idx})
		}
	}
}
