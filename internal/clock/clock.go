// Package clock maps exchange times of day onto a per-trading-day monotonic
// coordinate. A trading day's night session takes place the evening before
// the day itself, so times at or after the night cutover are anchored to the
// previous calendar day, keeping the coordinate increasing across midnight.
package clock

import (
	"fmt"
	"time"

	"tickwatch/internal/calendar"
	"tickwatch/internal/domain"
)

const (
	// nightCutover is the time of day at or after which a tick belongs to
	// the evening before the trading day. No session runs between the day
	// close and this point.
	nightCutover = 17 * 3600

	// anchorHour anchors the earliest-time cutover at 08:00 local, before
	// any day session opens and after any night session closes.
	anchorHour = 8
)

// tradingDayLayout is the feed's trading-day format (YYYYMMDD).
const tradingDayLayout = "20060102"

// SessionClock converts seconds-since-midnight values into mapped
// timestamps for the current trading day. Two mapped timestamps are only
// comparable when produced under the same trading-day anchor.
type SessionClock struct {
	loc        *time.Location
	tradingDay string
	dayBase    int64 // unix seconds of the trading day's local midnight
	earliest   int64 // cutover: first mapped second admitted to this day's space
}

// New creates a SessionClock operating in the given local zone. The clock
// is unanchored until SetTradingDay is called; MapTime then returns values
// below any established earliest time, which the validator treats as
// not yet valid.
func New(loc *time.Location) *SessionClock {
	return &SessionClock{loc: loc}
}

// SetTradingDay anchors the clock to the trading day reported by the feed
// (YYYYMMDD).
func (c *SessionClock) SetTradingDay(day string) error {
	t, err := time.ParseInLocation(tradingDayLayout, day, c.loc)
	if err != nil {
		return fmt.Errorf("parsing trading day %q: %w", day, err)
	}
	c.tradingDay = day
	c.dayBase = t.Unix()
	return nil
}

// TradingDay returns the current anchor day (YYYYMMDD), or "" before the
// first SetTradingDay.
func (c *SessionClock) TradingDay() string { return c.tradingDay }

// MapTime maps a time of day (seconds since midnight) onto the trading
// day's coordinate. Times at or after the night cutover land on the
// previous calendar day, so a 21:00 night open maps below the following
// 09:00 day open and below everything after midnight.
func (c *SessionClock) MapTime(secondsSinceMidnight int) int64 {
	if secondsSinceMidnight >= nightCutover {
		return c.dayBase - domain.SecondsPerDay + int64(secondsSinceMidnight)
	}
	return c.dayBase + int64(secondsSinceMidnight)
}

// Earliest returns the current cutover value. Session windows whose mapped
// start falls below it must not be installed.
func (c *SessionClock) Earliest() int64 { return c.earliest }

// ResetEarliest recomputes the cutover from the trading calendar. On a
// trading day the anchor is that day itself at 08:00 local (a process
// starting mid-session must not admit the overnight session that began the
// previous evening); on a weekend or holiday it is the next trading day at
// 08:00, excluding every pre-gap session from the upcoming day's space.
func (c *SessionClock) ResetEarliest(cal *calendar.Calendar, today time.Time) error {
	today = today.In(c.loc)
	trading, err := cal.IsTradingDay(today)
	if err != nil {
		return err
	}
	anchor := today
	if !trading {
		anchor, err = cal.NextTradingDay(today)
		if err != nil {
			return err
		}
	}
	base := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), anchorHour, 0, 0, 0, c.loc)
	c.earliest = base.Unix()
	return nil
}
