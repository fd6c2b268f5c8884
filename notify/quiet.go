package notify

import (
	"strconv"
	"strings"
	"time"

	"github.com/openhearth/hearth/errors"
	"github.com/openhearth/hearth/msg"
)

// Window is a daily time range in minutes since midnight. A window may
// wrap past midnight (start > end, e.g. 22:00-06:30).
type Window struct {
	StartMin int
	EndMin   int
}

// Contains reports whether the minute-of-day falls inside the window.
func (w Window) Contains(minute int) bool {
	if w.StartMin <= w.EndMin {
		return minute >= w.StartMin && minute < w.EndMin
	}
	return minute >= w.StartMin || minute < w.EndMin
}

// QuietHours suppresses non-urgent dispatch during configured windows.
// Lifecycle bookkeeping events (deleted, expired) always pass, as do
// messages at or above MinLevel.
type QuietHours struct {
	Windows  []Window
	MinLevel msg.Level
	TZ       *time.Location
	Now      func() time.Time
}

// ParseWindows parses "HH:MM-HH:MM" window specs.
func ParseWindows(specs []string) ([]Window, error) {
	var out []Window
	for _, spec := range specs {
		parts := strings.SplitN(spec, "-", 2)
		if len(parts) != 2 {
			return nil, errors.Newf("malformed quiet-hours window %q", spec)
		}
		start, err := parseMinute(parts[0])
		if err != nil {
			return nil, errors.Wrapf(err, "malformed quiet-hours window %q", spec)
		}
		end, err := parseMinute(parts[1])
		if err != nil {
			return nil, errors.Wrapf(err, "malformed quiet-hours window %q", spec)
		}
		out = append(out, Window{StartMin: start, EndMin: end})
	}
	return out, nil
}

func parseMinute(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, errors.Newf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, errors.Newf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, errors.Newf("bad minute in %q", s)
	}
	return h*60 + m, nil
}

// Active reports whether the current time falls in a quiet window.
func (q *QuietHours) Active() bool {
	if q == nil || len(q.Windows) == 0 {
		return false
	}
	now := time.Now
	if q.Now != nil {
		now = q.Now
	}
	t := now()
	if q.TZ != nil {
		t = t.In(q.TZ)
	}
	minute := t.Hour()*60 + t.Minute()
	for _, w := range q.Windows {
		if w.Contains(minute) {
			return true
		}
	}
	return false
}

// FilterBatch drops the messages whose delivery the quiet window
// suppresses. Deleted and expired events always pass.
func (q *QuietHours) FilterBatch(ev msg.Event, batch []*msg.Message) []*msg.Message {
	if ev == msg.EventDeleted || ev == msg.EventExpired {
		return batch
	}
	if !q.Active() {
		return batch
	}
	var out []*msg.Message
	for _, m := range batch {
		if m.Level >= q.MinLevel {
			out = append(out, m)
		}
	}
	return out
}
