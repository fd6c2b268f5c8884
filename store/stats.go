package store

import (
	"time"

	"github.com/openhearth/hearth/archive"
	"github.com/openhearth/hearth/msg"
	"github.com/openhearth/hearth/storage"
)

// CurrentStats breaks the full list down by kind, lifecycle state, and
// origin system. Hidden entries count too; they are still in memory.
type CurrentStats struct {
	Total          int            `json:"total"`
	ByKind         map[string]int `json:"byKind"`
	ByLifecycle    map[string]int `json:"byLifecycle"`
	ByOriginSystem map[string]int `json:"byOriginSystem"`
}

// ScheduleStats buckets pending notifyAt stamps into calendar windows
// of the render locale. The windows overlap: a due-today message also
// counts toward next7Days, thisWeek, and thisMonth.
type ScheduleStats struct {
	Total     int            `json:"total"`
	Overdue   int            `json:"overdue"`
	Today     int            `json:"today"`
	Tomorrow  int            `json:"tomorrow"`
	Next7Days int            `json:"next7Days"`
	ThisWeek  int            `json:"thisWeek"`
	ThisMonth int            `json:"thisMonth"`
	ByKind    map[string]int `json:"byKind"`
	Recurring int            `json:"recurring"`
	NextDueAt *int64         `json:"nextDueAt,omitempty"`
}

// DoneStats buckets close transitions into the same calendar windows,
// plus the dispatch counters per event.
type DoneStats struct {
	Today        int                 `json:"today"`
	ThisWeek     int                 `json:"thisWeek"`
	ThisMonth    int                 `json:"thisMonth"`
	LastClosedAt *int64              `json:"lastClosedAt,omitempty"`
	Dispatched   map[msg.Event]int64 `json:"dispatched"`
}

// IOStats exposes the persistence and archive writers.
type IOStats struct {
	Storage storage.Stats `json:"storage"`
	Archive archive.Stats `json:"archive"`
}

// MetaStats carries process-level info.
type MetaStats struct {
	GeneratedAt int64  `json:"generatedAt"`
	TZ          string `json:"tz"`
	StartedAt   int64  `json:"startedAt"`
	UptimeMs    int64  `json:"uptimeMs"`
}

// Stats is the admin.stats.get aggregate.
type Stats struct {
	Current  CurrentStats  `json:"current"`
	Schedule ScheduleStats `json:"schedule"`
	Done     DoneStats     `json:"done"`
	IO       IOStats       `json:"io"`
	Meta     MetaStats     `json:"meta"`
}

// calendar holds the bucket boundaries around now, in epoch millis of
// the render locale's timezone.
type calendar struct {
	now           int64
	dayStart      int64
	tomorrowStart int64
	dayAfterStart int64
	next7End      int64
	weekStart     int64
	weekEnd       int64
	monthStart    int64
	monthEnd      int64
}

func newCalendar(now int64, loc *time.Location) calendar {
	t := time.UnixMilli(now).In(loc)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	// weeks start on Monday
	back := (int(t.Weekday()) + 6) % 7
	week := day.AddDate(0, 0, -back)
	month := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	return calendar{
		now:           now,
		dayStart:      day.UnixMilli(),
		tomorrowStart: day.AddDate(0, 0, 1).UnixMilli(),
		dayAfterStart: day.AddDate(0, 0, 2).UnixMilli(),
		next7End:      day.AddDate(0, 0, 7).UnixMilli(),
		weekStart:     week.UnixMilli(),
		weekEnd:       week.AddDate(0, 0, 7).UnixMilli(),
		monthStart:    month.UnixMilli(),
		monthEnd:      month.AddDate(0, 1, 0).UnixMilli(),
	}
}

func (c calendar) today(ts int64) bool     { return ts >= c.dayStart && ts < c.tomorrowStart }
func (c calendar) tomorrow(ts int64) bool  { return ts >= c.tomorrowStart && ts < c.dayAfterStart }
func (c calendar) next7Days(ts int64) bool { return ts >= c.dayStart && ts < c.next7End }
func (c calendar) thisWeek(ts int64) bool  { return ts >= c.weekStart && ts < c.weekEnd }
func (c calendar) thisMonth(ts int64) bool { return ts >= c.monthStart && ts < c.monthEnd }

// closedRetention bounds the in-memory close history used for the done
// buckets. Two months covers every window thisMonth can reach.
const closedRetention = 62 * 24 * time.Hour

func (s *Store) recordClosedLocked(at int64) {
	cutoff := at - closedRetention.Milliseconds()
	for len(s.closedAt) > 0 && s.closedAt[0] < cutoff {
		s.closedAt = s.closedAt[1:]
	}
	s.closedAt = append(s.closedAt, at)
}

// Stats computes the aggregate over the current list.
func (s *Store) Stats() Stats {
	now := s.now()
	cal := newCalendar(now, s.renderer.Locale.TZ)

	s.mu.Lock()
	current := CurrentStats{
		ByKind:         make(map[string]int),
		ByLifecycle:    make(map[string]int),
		ByOriginSystem: make(map[string]int),
	}
	schedule := ScheduleStats{ByKind: make(map[string]int)}
	for _, m := range s.list {
		current.Total++
		current.ByKind[string(m.Kind)]++
		current.ByLifecycle[string(m.Lifecycle.State)]++
		sys := m.Origin.System
		if sys == "" {
			sys = string(m.Origin.Type)
		}
		current.ByOriginSystem[sys]++

		if hiddenState(m.Lifecycle.State) || m.Lifecycle.State == msg.StateClosed ||
			m.Timing.NotifyAt == nil {
			continue
		}
		at := *m.Timing.NotifyAt
		schedule.Total++
		schedule.ByKind[string(m.Kind)]++
		if at <= now {
			schedule.Overdue++
		} else if schedule.NextDueAt == nil || at < *schedule.NextDueAt {
			next := at
			schedule.NextDueAt = &next
		}
		if cal.today(at) {
			schedule.Today++
		}
		if cal.tomorrow(at) {
			schedule.Tomorrow++
		}
		if cal.next7Days(at) {
			schedule.Next7Days++
		}
		if cal.thisWeek(at) {
			schedule.ThisWeek++
		}
		if cal.thisMonth(at) {
			schedule.ThisMonth++
		}
		if m.Timing.RemindEvery != nil {
			schedule.Recurring++
		}
	}

	done := DoneStats{Dispatched: make(map[msg.Event]int64, len(s.counts))}
	for ev, n := range s.counts {
		done.Dispatched[ev] = n
	}
	for _, at := range s.closedAt {
		if cal.today(at) {
			done.Today++
		}
		if cal.thisWeek(at) {
			done.ThisWeek++
		}
		if cal.thisMonth(at) {
			done.ThisMonth++
		}
	}
	if n := len(s.closedAt); n > 0 {
		last := s.closedAt[n-1]
		done.LastClosedAt = &last
	}
	startedAt := s.startedAt
	s.mu.Unlock()

	return Stats{
		Current:  current,
		Schedule: schedule,
		Done:     done,
		IO: IOStats{
			Storage: s.writer.Stats(),
			Archive: s.archiver.Stats(),
		},
		Meta: MetaStats{
			GeneratedAt: now,
			TZ:          s.renderer.Locale.TZ.String(),
			StartedAt:   startedAt,
			UptimeMs:    now - startedAt,
		},
	}
}
