package store

import (
	"encoding/json"

	"github.com/openhearth/hearth/archive"
	"github.com/openhearth/hearth/errors"
	"github.com/openhearth/hearth/msg"
)

// classifyCreateLocked decides what a create means for a ref and
// purges quasi-deleted leftovers.
//
//   - No prior entry: added.
//   - Every prior entry quasi-deleted (closed/deleted/expired): purge
//     them, then recreated; within the incoming cooldown of the latest
//     quasi-delete the create is a recovery instead, which suppresses
//     the immediate-due dispatch.
//   - A live prior entry: conflict, rejected.
func (s *Store) classifyCreateLocked(created *msg.Message) (msg.Event, bool) {
	var prior []*msg.Message
	for _, m := range s.list {
		if m.Ref == created.Ref {
			prior = append(prior, m)
		}
	}
	if len(prior) == 0 {
		return msg.EventAdded, true
	}
	for _, p := range prior {
		if !p.Lifecycle.State.QuasiDeleted() {
			s.log.Warnw("create rejected, ref already live",
				"ref", created.Ref, "state", p.Lifecycle.State)
			return "", false
		}
	}

	var latest int64
	kept := s.list[:0]
	for _, m := range s.list {
		if m.Ref != created.Ref {
			kept = append(kept, m)
			continue
		}
		if m.Lifecycle.StateChangedAt > latest {
			latest = m.Lifecycle.StateChangedAt
		}
		s.archiver.RecordDelete(m, archive.ReasonPurgeOnRecreate)
	}
	s.list = kept

	if cd := created.Timing.Cooldown; cd != nil && s.now()-latest <= *cd {
		return msg.EventRecovered, true
	}
	return msg.EventRecreated, true
}

type snoozePayload struct {
	DurationMs int64 `json:"durationMs"`
}

const defaultSnoozeMs = int64(30 * 60 * 1000)

// ActionPatch translates a consumer action into the lifecycle patch it
// stands for. Link and custom actions have no store-side effect and
// return ErrBadRequest; the command layer routes those to producers.
func ActionPatch(action msg.Action, by string, now int64) (*msg.Patch, error) {
	switch action.Type {
	case msg.ActionAck:
		return msg.StatePatch(msg.StateAcked, by), nil
	case msg.ActionClose:
		return msg.StatePatch(msg.StateClosed, by), nil
	case msg.ActionOpen:
		return msg.StatePatch(msg.StateOpen, by), nil
	case msg.ActionDelete:
		return msg.DeletePatch(by), nil
	case msg.ActionSnooze:
		duration := defaultSnoozeMs
		if len(action.Payload) > 0 {
			var p snoozePayload
			if err := json.Unmarshal(action.Payload, &p); err == nil && p.DurationMs > 0 {
				duration = p.DurationMs
			}
		}
		patch := msg.StatePatch(msg.StateSnoozed, by)
		patch.Timing = &msg.TimingPatch{NotifyAt: msg.Some(msg.Millis(now + duration))}
		return patch, nil
	}
	return nil, errors.Wrapf(errors.ErrBadRequest, "action %s has no lifecycle effect", action.Type)
}

// Allowed reports whether a message's action allowlist permits the
// action type. An absent allowlist permits the four built-ins.
func Allowed(m *msg.Message, t msg.ActionType) bool {
	if len(m.Actions) == 0 {
		switch t {
		case msg.ActionAck, msg.ActionClose, msg.ActionDelete, msg.ActionSnooze:
			return true
		}
		return false
	}
	for _, a := range m.Actions {
		if a.Type == t {
			return true
		}
	}
	return false
}

// IncomingPatch converts producer input into the equivalent patch, used
// by AddOrUpdateMessage on a live ref. Only provided fields carry over;
// collections obey their usual merge rules.
func IncomingPatch(in *msg.Incoming) *msg.Patch {
	p := &msg.Patch{Level: in.Level}
	if in.Icon != "" {
		p.Icon = msg.Some(in.Icon)
	}
	if in.Title != "" {
		p.Title = msg.Some(in.Title)
	}
	if in.Text != "" {
		p.Text = msg.Some(in.Text)
	}
	if in.Origin.Type != "" {
		p.Origin = msg.Some(in.Origin)
	}
	if in.Details != nil {
		p.Details = msg.Some(*in.Details)
	}
	if in.Audience != nil {
		p.Audience = msg.Some(*in.Audience)
	}
	if in.Progress != nil {
		p.Progress = msg.Some(*in.Progress)
	}
	if in.State != "" {
		state := in.State
		p.Lifecycle = &msg.LifecyclePatch{State: &state}
		if in.StateChangedBy != "" {
			by := in.StateChangedBy
			p.Lifecycle.StateChangedBy = &by
		}
	}
	if t := in.Timing; t != nil {
		tp := &msg.TimingPatch{}
		setIf := func(dst *msg.Optional[msg.Millis], src *msg.Millis) {
			if src != nil {
				*dst = msg.Some(*src)
			}
		}
		setIf(&tp.NotifyAt, t.NotifyAt)
		setIf(&tp.RemindEvery, t.RemindEvery)
		setIf(&tp.Cooldown, t.Cooldown)
		setIf(&tp.TimeBudget, t.TimeBudget)
		setIf(&tp.ExpiresAt, t.ExpiresAt)
		setIf(&tp.DueAt, t.DueAt)
		setIf(&tp.StartAt, t.StartAt)
		setIf(&tp.EndAt, t.EndAt)
		p.Timing = tp
	}
	if in.Metrics != nil {
		p.Metrics = make(map[string]*msg.Metric, in.Metrics.Len())
		for _, key := range in.Metrics.Keys() {
			m, _ := in.Metrics.Get(key)
			metric := m
			p.Metrics[key] = &metric
		}
	}
	for _, item := range in.ListItems {
		p.ListItems = append(p.ListItems, msg.ListItemPatch{ListItem: item})
	}
	if in.Attachments != nil {
		p.Attachments = msg.Some(in.Attachments)
	}
	if in.Actions != nil {
		p.Actions = msg.Some(in.Actions)
	}
	if in.Dependencies != nil {
		p.Dependencies = msg.Some(in.Dependencies)
	}
	return p
}
