// Package quiethours decides when a notification may be delivered given a
// user's do-not-disturb window. Every function fails open: bad input means
// "deliver now", never "hold forever".
package quiethours

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/dukerupert/budgetbell/internal/model"
)

// NextAllowed returns the earliest instant at or after now at which a
// notification may be delivered.
func NextAllowed(now time.Time, qh model.QuietHours) time.Time {
	w, ok := parse(qh)
	if !ok {
		return now
	}

	local := now.In(w.loc)
	cur := local.Hour()*60 + local.Minute()

	var endDay time.Time
	switch {
	case w.start < w.end:
		if cur < w.start || cur >= w.end {
			return now
		}
		endDay = local
	default:
		if cur < w.start && cur >= w.end {
			return now
		}
		endDay = local
		if cur >= w.start {
			endDay = local.AddDate(0, 0, 1)
		}
	}

	next := time.Date(endDay.Year(), endDay.Month(), endDay.Day(), w.end/60, w.end%60, 0, 0, w.loc)
	if !next.After(now) {
		return now
	}
	return next
}

// Active reports whether now falls inside the quiet window and, if so, when
// the window ends.
func Active(now time.Time, qh model.QuietHours) (time.Time, bool) {
	next := NextAllowed(now, qh)
	if !next.After(now) {
		return time.Time{}, false
	}
	return next, true
}

// Validate reports configuration errors so callers can reject bad input
// before it is stored. NextAllowed itself never fails.
func Validate(qh model.QuietHours) error {
	if !qh.Enabled {
		return nil
	}
	start, err := parseClock(qh.Start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, err := parseClock(qh.End)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	if start == end {
		return fmt.Errorf("start and end must differ")
	}
	if qh.Timezone != "" {
		if _, err := time.LoadLocation(qh.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	return nil
}

type window struct {
	start, end int // minutes since local midnight
	loc        *time.Location
}

func parse(qh model.QuietHours) (window, bool) {
	if !qh.Enabled || qh.Start == "" || qh.End == "" {
		return window{}, false
	}
	start, err := parseClock(qh.Start)
	if err != nil {
		return window{}, false
	}
	end, err := parseClock(qh.End)
	if err != nil || start == end {
		return window{}, false
	}
	loc := time.UTC
	if qh.Timezone != "" {
		if loc, err = time.LoadLocation(qh.Timezone); err != nil {
			return window{}, false
		}
	}
	return window{start: start, end: end, loc: loc}, true
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
