package ingest

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type intervalEntry struct {
	ticker *time.Ticker
	done   chan struct{}
}

// Resources tracks the timers a producer instance owns so the host can
// cancel everything when the instance stops. Callbacks scheduled before
// stop but firing after are no-ops.
type Resources struct {
	log *zap.SugaredLogger

	mu        sync.Mutex
	closed    bool
	nextID    int
	timeouts  map[int]*time.Timer
	intervals map[int]*intervalEntry
	onTimer   func(name string)
}

func newResources(log *zap.SugaredLogger) *Resources {
	return &Resources{
		log:       log,
		timeouts:  make(map[int]*time.Timer),
		intervals: make(map[int]*intervalEntry),
	}
}

// SetTimeout schedules fn once after d and returns a handle for
// ClearTimeout. After the instance stops the call is a no-op and
// returns 0.
func (r *Resources) SetTimeout(fn func(), d time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0
	}
	r.nextID++
	id := r.nextID
	r.timeouts[id] = time.AfterFunc(d, func() {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		delete(r.timeouts, id)
		r.mu.Unlock()
		fn()
	})
	return id
}

// ClearTimeout cancels a pending timeout. Unknown handles are ignored.
func (r *Resources) ClearTimeout(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timeouts[id]; ok {
		t.Stop()
		delete(r.timeouts, id)
	}
}

// SetInterval schedules fn every d until cleared or the instance stops.
func (r *Resources) SetInterval(fn func(), d time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0
	}
	r.nextID++
	id := r.nextID
	entry := &intervalEntry{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	r.intervals[id] = entry
	go func() {
		for {
			select {
			case <-entry.done:
				return
			case <-entry.ticker.C:
				r.mu.Lock()
				stopped := r.closed
				r.mu.Unlock()
				if stopped {
					return
				}
				fn()
			}
		}
	}()
	return id
}

// SetNamedInterval schedules a recurring tick every d, delivered to the
// producer's TimerHandler.OnTimer with the given name. Producers
// without a TimerHandler get no ticks. Cleared with ClearInterval or
// when the instance stops.
func (r *Resources) SetNamedInterval(name string, d time.Duration) int {
	return r.SetInterval(func() {
		r.mu.Lock()
		deliver := r.onTimer
		r.mu.Unlock()
		if deliver == nil {
			r.log.Debugw("named timer tick dropped, no handler", "timer", name)
			return
		}
		deliver(name)
	}, d)
}

// bindTimerHandler installs the OnTimer target before the producer
// starts.
func (r *Resources) bindTimerHandler(fn func(name string)) {
	r.mu.Lock()
	r.onTimer = fn
	r.mu.Unlock()
}

// ClearInterval stops a running interval. Unknown handles are ignored.
func (r *Resources) ClearInterval(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearIntervalLocked(id)
}

func (r *Resources) clearIntervalLocked(id int) {
	if e, ok := r.intervals[id]; ok {
		e.ticker.Stop()
		close(e.done)
		delete(r.intervals, id)
	}
}

// CancelAll stops every timer and marks the scope closed. Called by the
// host before Stop; safe to call more than once.
func (r *Resources) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, t := range r.timeouts {
		t.Stop()
		delete(r.timeouts, id)
	}
	for id := range r.intervals {
		r.clearIntervalLocked(id)
	}
}

// Active returns the number of live timers, for stats and tests.
func (r *Resources) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timeouts) + len(r.intervals)
}
