// Package calendar provides the trading-day calendar: a precomputed
// holiday/weekend table over a bounded date range, with explicit signaling
// for dates outside that range.
package calendar

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownDate is returned for dates outside the calendar's table range.
// Callers must treat an unknown date as non-trading.
var ErrUnknownDate = errors.New("calendar: no data for date")

const dateLayout = "2006-01-02"

// Calendar answers trading-day queries over a fixed [first, last] range.
// Weekends and listed holidays are non-trading; everything else trades.
// Queried times are converted into the zone the table was built in, so a
// query expressed in another zone still lands on the intended table day.
type Calendar struct {
	loc     *time.Location
	first   time.Time
	last    time.Time
	trading map[string]bool
}

// New builds a Calendar covering [first, last] where every weekday trades
// except the given holidays. The table's zone is taken from first.
func New(first, last time.Time, holidays []time.Time) *Calendar {
	c := &Calendar{
		loc:     first.Location(),
		first:   midnight(first),
		last:    midnight(last),
		trading: make(map[string]bool),
	}
	skip := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		skip[h.Format(dateLayout)] = true
	}
	for d := c.first; !d.After(c.last); d = d.AddDate(0, 0, 1) {
		key := d.Format(dateLayout)
		wd := d.Weekday()
		c.trading[key] = wd != time.Saturday && wd != time.Sunday && !skip[key]
	}
	return c
}

// fromTradingDates builds a Calendar from an explicit set of trading dates
// (everything else in range is non-trading).
func fromTradingDates(first, last time.Time, dates map[string]bool) *Calendar {
	c := &Calendar{
		loc:     first.Location(),
		first:   midnight(first),
		last:    midnight(last),
		trading: make(map[string]bool),
	}
	for d := c.first; !d.After(c.last); d = d.AddDate(0, 0, 1) {
		key := d.Format(dateLayout)
		c.trading[key] = dates[key]
	}
	return c
}

// IsTradingDay reports whether date is a trading day. Dates outside the
// table range return ErrUnknownDate.
func (c *Calendar) IsTradingDay(date time.Time) (bool, error) {
	d := midnight(date.In(c.loc))
	if d.Before(c.first) || d.After(c.last) {
		return false, fmt.Errorf("%w: %s", ErrUnknownDate, d.Format(dateLayout))
	}
	return c.trading[d.Format(dateLayout)], nil
}

// NextTradingDay returns the smallest trading day strictly after date.
// Scanning past the table's last date returns ErrUnknownDate.
func (c *Calendar) NextTradingDay(date time.Time) (time.Time, error) {
	for d := midnight(date.In(c.loc)).AddDate(0, 0, 1); !d.After(c.last); d = d.AddDate(0, 0, 1) {
		if d.Before(c.first) {
			continue
		}
		if c.trading[d.Format(dateLayout)] {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: no trading day after %s", ErrUnknownDate, date.Format(dateLayout))
}

// midnight truncates t to the start of its calendar day, keeping the zone.
func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ---------------------------------------------------------------------------
// YAML table loading
// ---------------------------------------------------------------------------

// tableFile is the on-disk YAML schema for the holiday table.
type tableFile struct {
	First    string   `yaml:"first"`
	Last     string   `yaml:"last"`
	Holidays []string `yaml:"holidays"`
}

// Load reads a holiday table from a YAML file, interpreting its dates in
// loc (the watcher's zone, so table days line up with the times the watcher
// queries with):
//
//	first: 2026-01-01
//	last: 2026-12-31
//	holidays:
//	  - 2026-10-01
func Load(path string, loc *time.Location) (*Calendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading calendar table: %w", err)
	}

	var tf tableFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing calendar table: %w", err)
	}

	first, err := time.ParseInLocation(dateLayout, tf.First, loc)
	if err != nil {
		return nil, fmt.Errorf("parsing calendar first date %q: %w", tf.First, err)
	}
	last, err := time.ParseInLocation(dateLayout, tf.Last, loc)
	if err != nil {
		return nil, fmt.Errorf("parsing calendar last date %q: %w", tf.Last, err)
	}
	if last.Before(first) {
		return nil, fmt.Errorf("calendar range inverted: %s after %s", tf.First, tf.Last)
	}

	holidays := make([]time.Time, 0, len(tf.Holidays))
	for _, h := range tf.Holidays {
		d, err := time.ParseInLocation(dateLayout, h, loc)
		if err != nil {
			return nil, fmt.Errorf("parsing holiday %q: %w", h, err)
		}
		holidays = append(holidays, d)
	}

	return New(first, last, holidays), nil
}
