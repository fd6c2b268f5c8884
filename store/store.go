// Package store owns the canonical message list. All mutations pass
// through one mutex (single logical writer); reads hand out clones so
// callers can never reach the canonical entries. Persistence and
// archive writes are enqueued to their own buffered writers, so a
// mutation never waits on disk.
package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/openhearth/hearth/archive"
	"github.com/openhearth/hearth/msg"
	"github.com/openhearth/hearth/notify"
	"github.com/openhearth/hearth/query"
	"github.com/openhearth/hearth/render"
	"github.com/openhearth/hearth/storage"
)

// Options carries the loop intervals and retention window. A zero
// interval disables that loop.
type Options struct {
	PruneInterval      time.Duration
	CloseSweepInterval time.Duration
	HardDeleteInterval time.Duration
	DuePollInterval    time.Duration
	Retention          time.Duration
}

// DefaultOptions returns the stock loop configuration.
func DefaultOptions() Options {
	return Options{
		PruneInterval:      30 * time.Second,
		CloseSweepInterval: 10 * time.Second,
		HardDeleteInterval: 4 * time.Hour,
		DuePollInterval:    10 * time.Second,
		Retention:          7 * 24 * time.Hour,
	}
}

// Store is the canonical message registry.
type Store struct {
	log        *zap.SugaredLogger
	factory    *msg.Factory
	renderer   *render.Renderer
	writer     *storage.Writer
	archiver   *archive.Archiver
	dispatcher *notify.Dispatcher
	opts       Options
	now        func() int64

	mu           sync.Mutex
	list         []*msg.Message
	counts       map[msg.Event]int64
	closedAt     []int64
	startedAt    int64
	pruneLimiter *rate.Limiter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a store from its collaborators. Call Start to load the
// snapshot and run the scheduler loops.
func New(log *zap.SugaredLogger, factory *msg.Factory, renderer *render.Renderer,
	writer *storage.Writer, archiver *archive.Archiver, dispatcher *notify.Dispatcher,
	opts Options) *Store {
	return &Store{
		log:        log,
		factory:    factory,
		renderer:   renderer,
		writer:     writer,
		archiver:   archiver,
		dispatcher: dispatcher,
		opts:       opts,
		now:        factory.Now,
		counts:     make(map[msg.Event]int64),
		// inline prune piggybacks on mutations at most once per second
		pruneLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Start loads the persisted snapshot and launches the scheduler loops.
// Recovery of due and expired messages happens on the first ticks.
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	s.list = s.writer.ReadSnapshot(nil)
	s.startedAt = s.now()
	count := len(s.list)
	s.mu.Unlock()
	s.log.Infow("store started", "count", count)

	ctx, s.cancel = context.WithCancel(ctx)
	s.startLoop(ctx, s.opts.PruneInterval, s.pruneTick)
	s.startLoop(ctx, s.opts.CloseSweepInterval, s.closeSweepTick)
	s.startLoop(ctx, s.opts.HardDeleteInterval, s.hardDeleteTick)
	s.startLoop(ctx, s.opts.DuePollInterval, s.duePollTick)
}

// Close stops the loops and flushes the archive and the snapshot, in
// that order. The caller stops ingest producers first.
func (s *Store) Close(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if err := s.archiver.Close(ctx); err != nil {
		s.log.Errorw("archive close failed", "error", err)
	}
	return s.writer.Close(ctx)
}

// AddMessage validates and inserts a new message. Returns false when
// validation fails or a live entry already holds the ref.
func (s *Store) AddMessage(in *msg.Incoming) bool {
	s.mu.Lock()
	expired := s.pruneLocked(true)

	created := s.factory.CreateMessage(in)
	if created == nil {
		s.mu.Unlock()
		s.dispatchEvent(msg.EventExpired, expired)
		return false
	}
	event, ok := s.classifyCreateLocked(created)
	if !ok {
		s.mu.Unlock()
		s.dispatchEvent(msg.EventExpired, expired)
		return false
	}
	s.list = append(s.list, created)
	s.persistLocked()
	// the canonical entry stays behind the lock; everything after works
	// on a clone
	created = created.Clone()
	s.mu.Unlock()

	s.dispatchEvent(msg.EventExpired, expired)
	s.dispatchEvent(event, []*msg.Message{created})
	if event != msg.EventRecovered &&
		created.Lifecycle.State == msg.StateOpen && created.Timing.NotifyAt == nil {
		s.dispatchEvent(msg.EventDue, []*msg.Message{created})
	}
	s.archiver.RecordCreate(created)
	return true
}

// UpdateMessage applies a patch to an existing message. With stealth
// the updatedAt stamp, the updated event, and the immediate-due rule
// are all suppressed.
func (s *Store) UpdateMessage(ref string, patch *msg.Patch, stealth bool) bool {
	updated, expired := s.applyPatch(ref, patch, stealth)
	s.dispatchEvent(msg.EventExpired, expired)
	if updated == nil {
		return false
	}
	s.emitUpdateEvents(updated, stealth)
	return true
}

// AddOrUpdateMessage updates when a live entry holds the ref and adds
// otherwise.
func (s *Store) AddOrUpdateMessage(in *msg.Incoming) bool {
	s.mu.Lock()
	live := s.findLiveLocked(in.Ref) != nil
	s.mu.Unlock()
	if live {
		return s.UpdateMessage(in.Ref, IncomingPatch(in), false)
	}
	return s.AddMessage(in)
}

// RemoveMessage soft-deletes: state=deleted, notifyAt cleared, then a
// deleted event. The entry leaves memory at the next hard-delete sweep.
func (s *Store) RemoveMessage(ref string) bool {
	updated, expired := s.applyPatch(ref, msg.DeletePatch(""), false)
	s.dispatchEvent(msg.EventExpired, expired)
	if updated == nil {
		return false
	}
	s.dispatchEvent(msg.EventDeleted, []*msg.Message{updated})
	return true
}

// GetMessageByRef returns a clone of the live entry, rendered when view
// is set. Deleted and expired entries are not returned. The clone is
// taken under the lock so a concurrent notifiedAt stamp never tears it.
func (s *Store) GetMessageByRef(ref string, view bool) *msg.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.findLiveLocked(ref)
	if m == nil {
		return nil
	}
	if view {
		return s.renderer.View(m)
	}
	return m.Clone()
}

// GetMessages returns clones of all live entries.
func (s *Store) GetMessages() []*msg.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*msg.Message, 0, len(s.list))
	for _, m := range s.list {
		if hiddenState(m.Lifecycle.State) {
			continue
		}
		out = append(out, m.Clone())
	}
	return out
}

// QueryMessages runs a query over a consistent snapshot taken at call
// start. The hidden-by-default rule for deleted and expired entries is
// applied by the engine, so the snapshot includes everything.
func (s *Store) QueryMessages(spec *query.Spec) (*query.Result, error) {
	s.mu.Lock()
	snapshot := make([]*msg.Message, len(s.list))
	for i, m := range s.list {
		snapshot[i] = m.Clone()
	}
	s.mu.Unlock()
	return spec.Run(snapshot, s.renderer)
}

func (s *Store) findLiveLocked(ref string) *msg.Message {
	for _, m := range s.list {
		if m.Ref == ref && !hiddenState(m.Lifecycle.State) {
			return m
		}
	}
	return nil
}

func (s *Store) findLocked(ref string) (int, *msg.Message) {
	for i, m := range s.list {
		if m.Ref == ref && !hiddenState(m.Lifecycle.State) {
			return i, m
		}
	}
	return -1, nil
}

func hiddenState(state msg.State) bool {
	return state == msg.StateDeleted || state == msg.StateExpired
}

// applyPatch is the shared update path: prune, patch, replace, persist,
// archive. Events are the caller's business.
func (s *Store) applyPatch(ref string, patch *msg.Patch, stealth bool) (updated *msg.Message, expired []*msg.Message) {
	s.mu.Lock()
	expired = s.pruneLocked(true)

	idx, before := s.findLocked(ref)
	if before == nil {
		s.mu.Unlock()
		s.log.Debugw("update for unknown message", "ref", ref)
		return nil, expired
	}
	updated = s.factory.ApplyPatch(before, patch, stealth)
	if updated == nil {
		s.mu.Unlock()
		return nil, expired
	}
	if before.Lifecycle.State != msg.StateClosed && updated.Lifecycle.State == msg.StateClosed {
		s.recordClosedLocked(updated.Lifecycle.StateChangedAt)
	}
	s.list[idx] = updated
	s.persistLocked()
	// clone both sides under the lock: once released, the canonical
	// entry belongs to concurrent notifiedAt stamps
	beforeClone := before.Clone()
	updated = updated.Clone()
	s.mu.Unlock()

	s.archiver.RecordPatch(ref, patch, beforeClone, updated)
	return updated, expired
}

func (s *Store) emitUpdateEvents(updated *msg.Message, stealth bool) {
	if stealth {
		return
	}
	state := updated.Lifecycle.State
	if !hiddenState(state) {
		s.dispatchEvent(msg.EventUpdated, []*msg.Message{updated})
	}
	if state == msg.StateOpen && updated.Timing.NotifyAt == nil {
		s.dispatchEvent(msg.EventDue, []*msg.Message{updated})
	}
}

// persistLocked schedules a snapshot write with the buffered writer.
func (s *Store) persistLocked() {
	s.writer.Schedule(s.list)
}

// dispatchEvent renders views, fans them out, and stamps notifiedAt on
// the attempted set. Must be called without the store lock held.
func (s *Store) dispatchEvent(ev msg.Event, batch []*msg.Message) {
	if len(batch) == 0 {
		return
	}
	views := make([]*msg.Message, len(batch))
	for i, m := range batch {
		views[i] = s.renderer.View(m)
	}
	var attempted []*msg.Message
	if s.dispatcher != nil {
		attempted = s.dispatcher.Dispatch(ev, views)
	}
	if len(attempted) == 0 {
		return
	}

	now := s.now()
	s.mu.Lock()
	for _, v := range attempted {
		for _, m := range s.list {
			if m.Ref == v.Ref {
				if m.Timing.NotifiedAt == nil {
					m.Timing.NotifiedAt = make(map[msg.Event]int64)
				}
				m.Timing.NotifiedAt[ev] = now
			}
		}
	}
	s.counts[ev] += int64(len(attempted))
	s.persistLocked()
	s.mu.Unlock()
}
