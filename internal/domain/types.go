// Package domain holds the shared market-data types: ticks, time-of-day
// values, session windows, and per-product session schedules.
package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// TimeOfDay
// ---------------------------------------------------------------------------

// TimeOfDay is a wall-clock time expressed as seconds since local midnight,
// in the range [0, 86400).
type TimeOfDay int

// SecondsPerDay is the number of seconds in one calendar day.
const SecondsPerDay = 24 * 60 * 60

// ParseTimeOfDay parses "HH:MM:SS" or "HH:MM" into a TimeOfDay. Every
// field must be numeric in full; trailing text is rejected.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("parsing time of day %q: want HH:MM or HH:MM:SS", s)
	}
	var fields [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("parsing time of day %q: %w", s, err)
		}
		fields[i] = n
	}
	h, m, sec := fields[0], fields[1], fields[2]
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return TimeOfDay(h*3600 + m*60 + sec), nil
}

// String formats the time of day as "HH:MM:SS".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(t)/3600, int(t)/60%60, int(t)%60)
}

// Seconds returns the value as plain seconds since midnight.
func (t TimeOfDay) Seconds() int { return int(t) }

// ---------------------------------------------------------------------------
// SessionWindow
// ---------------------------------------------------------------------------

// SessionWindow is one contiguous trading interval for an instrument,
// expressed as a pair of times of day. A window whose End is smaller than
// its Start spans midnight (e.g. the 21:00-02:30 night session).
type SessionWindow struct {
	Start TimeOfDay
	End   TimeOfDay
}

// ParseSessionWindow parses "HH:MM-HH:MM" (seconds optional on either side)
// into a SessionWindow.
func ParseSessionWindow(s string) (SessionWindow, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return SessionWindow{}, fmt.Errorf("parsing session window %q: want START-END", s)
	}
	start, err := ParseTimeOfDay(strings.TrimSpace(parts[0]))
	if err != nil {
		return SessionWindow{}, err
	}
	end, err := ParseTimeOfDay(strings.TrimSpace(parts[1]))
	if err != nil {
		return SessionWindow{}, err
	}
	return SessionWindow{Start: start, End: end}, nil
}

// String formats the window as "HH:MM:SS-HH:MM:SS".
func (w SessionWindow) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// ---------------------------------------------------------------------------
// Schedule
// ---------------------------------------------------------------------------

// Schedule maps an instrument ID or a product code (the leading letters of
// an instrument ID, e.g. "cu" for "cu2312") to its session windows.
type Schedule map[string][]SessionWindow

// Windows returns the session windows for an instrument. An exact match on
// the instrument ID wins; otherwise the product code derived from the ID is
// looked up. Returns nil for unknown instruments.
func (s Schedule) Windows(instrument string) []SessionWindow {
	if wins, ok := s[instrument]; ok {
		return wins
	}
	if wins, ok := s[ProductCode(instrument)]; ok {
		return wins
	}
	return nil
}

// Instruments returns the configured keys in sorted order.
func (s Schedule) Instruments() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ProductCode returns the leading non-digit prefix of an instrument ID:
// "cu2312" -> "cu", "IF2403" -> "IF".
func ProductCode(instrument string) string {
	for i, r := range instrument {
		if r >= '0' && r <= '9' {
			return instrument[:i]
		}
	}
	return instrument
}

// ---------------------------------------------------------------------------
// Tick
// ---------------------------------------------------------------------------

// Tick is one parsed depth market-data record handed to the core by the
// feed collaborator. UpdateTime is the exchange time of day ("HH:MM:SS");
// Millisec carries the sub-second part.
type Tick struct {
	Instrument string
	UpdateTime string
	Millisec   int
	LastPrice  float64
	Volume     int64
	AskPrice1  float64
	AskVolume1 int64
	BidPrice1  float64
	BidVolume1 int64
}

// Seconds parses the tick's UpdateTime into seconds since midnight.
func (t Tick) Seconds() (int, error) {
	tod, err := ParseTimeOfDay(t.UpdateTime)
	if err != nil {
		return 0, err
	}
	return tod.Seconds(), nil
}
