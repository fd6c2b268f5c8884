package store

import (
	"context"
	"time"

	"github.com/openhearth/hearth/archive"
	"github.com/openhearth/hearth/msg"
)

func (s *Store) startLoop(ctx context.Context, interval time.Duration, tick func()) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
}

func (s *Store) pruneTick() {
	s.mu.Lock()
	expired := s.pruneLocked(false)
	s.mu.Unlock()
	s.dispatchEvent(msg.EventExpired, expired)
}

// pruneLocked soft-expires messages whose expiresAt has passed and
// returns the batch for a single expired event. With throttle the call
// is limited to once per second so inline prunes on the mutation path
// stay cheap.
func (s *Store) pruneLocked(throttle bool) []*msg.Message {
	if throttle && !s.pruneLimiter.Allow() {
		return nil
	}
	now := s.now()
	var batch []*msg.Message
	for i, m := range s.list {
		if m.Lifecycle.State == msg.StateExpired || m.Lifecycle.State == msg.StateDeleted {
			continue
		}
		if m.Timing.ExpiresAt == nil || *m.Timing.ExpiresAt >= now {
			continue
		}
		patch := msg.StatePatch(msg.StateExpired, "")
		patch.Timing = &msg.TimingPatch{NotifyAt: msg.Null[msg.Millis]()}
		expired := s.factory.ApplyPatch(m, patch, true)
		if expired == nil {
			continue
		}
		s.list[i] = expired
		s.archiver.RecordPatch(m.Ref, patch, m, expired)
		batch = append(batch, expired.Clone())
	}
	if len(batch) > 0 {
		s.persistLocked()
		s.log.Infow("messages expired", "count", len(batch))
	}
	return batch
}

// closeSweepTick turns closed messages into soft deletes.
func (s *Store) closeSweepTick() {
	s.mu.Lock()
	var refs []string
	for _, m := range s.list {
		if m.Lifecycle.State == msg.StateClosed {
			refs = append(refs, m.Ref)
		}
	}
	s.mu.Unlock()
	for _, ref := range refs {
		s.RemoveMessage(ref)
	}
}

// hardDeleteTick purges deleted and expired messages past retention.
func (s *Store) hardDeleteTick() {
	cutoff := s.now() - s.opts.Retention.Milliseconds()

	s.mu.Lock()
	kept := s.list[:0]
	purged := 0
	for _, m := range s.list {
		if hiddenState(m.Lifecycle.State) && m.Lifecycle.StateChangedAt <= cutoff {
			s.archiver.RecordDelete(m, archive.ReasonPurge)
			purged++
			continue
		}
		kept = append(kept, m)
	}
	s.list = kept
	if purged > 0 {
		s.persistLocked()
	}
	s.mu.Unlock()
	if purged > 0 {
		s.log.Infow("messages purged", "count", purged)
	}
}

// duePollTick dispatches one due batch and reschedules notifyAt.
// Recurring messages move to now+remindEvery, one-shots clear the
// field. The reschedule is stealth: no updatedAt bump, no updated
// event. Closed messages never fire due; snoozed ones must wake.
func (s *Store) duePollTick() {
	now := s.now()

	s.mu.Lock()
	var batch []*msg.Message
	for i, m := range s.list {
		if hiddenState(m.Lifecycle.State) || m.Lifecycle.State == msg.StateClosed {
			continue
		}
		if m.Timing.NotifyAt == nil || *m.Timing.NotifyAt > now {
			continue
		}
		if m.Timing.ExpiresAt != nil && *m.Timing.ExpiresAt <= now {
			continue
		}
		patch := &msg.Patch{Timing: &msg.TimingPatch{}}
		if m.Timing.RemindEvery != nil {
			patch.Timing.NotifyAt = msg.Some(msg.Millis(now + *m.Timing.RemindEvery))
		} else {
			patch.Timing.NotifyAt = msg.Null[msg.Millis]()
		}
		rescheduled := s.factory.ApplyPatch(m, patch, true)
		if rescheduled == nil {
			continue
		}
		s.list[i] = rescheduled
		batch = append(batch, rescheduled.Clone())
	}
	if len(batch) > 0 {
		s.persistLocked()
	}
	s.mu.Unlock()

	s.dispatchEvent(msg.EventDue, batch)
}
