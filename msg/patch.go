package msg

import "strings"

// LifecyclePatch changes the message state. StateChangedAt is always
// core-managed and cannot be patched directly.
type LifecyclePatch struct {
	State          *State  `json:"state,omitempty"`
	StateChangedBy *string `json:"stateChangedBy,omitempty"`
}

// TimingPatch merges field by field; explicit null removes a field.
type TimingPatch struct {
	NotifyAt    Optional[Millis] `json:"notifyAt,omitzero"`
	RemindEvery Optional[Millis] `json:"remindEvery,omitzero"`
	Cooldown    Optional[Millis] `json:"cooldown,omitzero"`
	TimeBudget  Optional[Millis] `json:"timeBudget,omitzero"`
	ExpiresAt   Optional[Millis] `json:"expiresAt,omitzero"`
	DueAt       Optional[Millis] `json:"dueAt,omitzero"`
	StartAt     Optional[Millis] `json:"startAt,omitzero"`
	EndAt       Optional[Millis] `json:"endAt,omitzero"`
}

// ListItemPatch merges into the existing list by item id. Remove drops
// the item, mirroring the null-removal rule of the metrics merge (JSON
// array elements cannot carry a keyed null).
type ListItemPatch struct {
	ListItem
	Remove bool `json:"remove,omitempty"`
}

// Patch is a partial update. Block fields (title, text, details,
// audience, progress, origin) replace the whole block; metrics merge by
// key with null removing; listItems merge by id; timing merges per
// field.
type Patch struct {
	Icon  Optional[string] `json:"icon,omitzero"`
	Title Optional[string] `json:"title,omitzero"`
	Text  Optional[string] `json:"text,omitzero"`
	Level *Level           `json:"level,omitempty"`

	Origin   Optional[Origin]        `json:"origin,omitzero"`
	Details  Optional[Details]       `json:"details,omitzero"`
	Audience Optional[Audience]      `json:"audience,omitzero"`
	Progress Optional[ProgressInput] `json:"progress,omitzero"`

	Lifecycle *LifecyclePatch `json:"lifecycle,omitempty"`
	Timing    *TimingPatch    `json:"timing,omitempty"`

	Metrics   map[string]*Metric `json:"metrics,omitempty"`
	ListItems []ListItemPatch    `json:"listItems,omitempty"`

	Attachments  Optional[[]Attachment] `json:"attachments,omitzero"`
	Actions      Optional[[]Action]     `json:"actions,omitzero"`
	Dependencies Optional[[]string]     `json:"dependencies,omitzero"`
}

// StatePatch builds the minimal patch for a lifecycle transition,
// used by the control-plane actions (ack/close/snooze/open).
func StatePatch(state State, by string) *Patch {
	p := &Patch{Lifecycle: &LifecyclePatch{State: &state}}
	if by != "" {
		p.Lifecycle.StateChangedBy = &by
	}
	return p
}

// DeletePatch builds the soft-delete patch: state=deleted, notifyAt
// cleared so the due poller never picks the entry up again.
func DeletePatch(by string) *Patch {
	p := StatePatch(StateDeleted, by)
	p.Timing = &TimingPatch{NotifyAt: Null[Millis]()}
	return p
}

// ApplyPatch validates and applies a patch against an existing message,
// returning the new canonical message or nil when validation fails.
// The input is never mutated. With stealth=true UpdatedAt is not bumped,
// which downstream suppresses the "updated" event and the
// immediate-due-on-update rule.
func (f *Factory) ApplyPatch(existing *Message, patch *Patch, stealth bool) *Message {
	if existing == nil || patch == nil {
		return f.reject("", "nil patch input")
	}
	m := existing.Clone()
	// Views never survive a mutation; they are recomputed on read.
	m.Display = nil
	m.ActionsInactive = nil
	ref := m.Ref
	now := f.Now()

	if patch.Icon.Set {
		if patch.Icon.Null {
			m.Icon = ""
		} else {
			m.Icon = capRunes(strings.TrimSpace(patch.Icon.Value), maxIconLen)
		}
	}
	if patch.Title.Set {
		if patch.Title.Null {
			return f.reject(ref, "title cannot be removed")
		}
		t := strings.TrimSpace(patch.Title.Value)
		if t == "" {
			return f.reject(ref, "empty title")
		}
		m.Title = t
	}
	if patch.Text.Set {
		if patch.Text.Null {
			return f.reject(ref, "text cannot be removed")
		}
		t := strings.TrimSpace(patch.Text.Value)
		if t == "" {
			return f.reject(ref, "empty text")
		}
		m.Text = t
	}
	if patch.Level != nil {
		if !patch.Level.Valid() {
			return f.reject(ref, "unknown level", "level", *patch.Level)
		}
		m.Level = *patch.Level
	}
	if patch.Origin.Set {
		if patch.Origin.Null {
			return f.reject(ref, "origin cannot be removed")
		}
		o := patch.Origin.Value
		o.System = strings.TrimSpace(o.System)
		o.ID = strings.TrimSpace(o.ID)
		if !o.Type.Valid() {
			return f.reject(ref, "unknown origin type", "origin", o.Type)
		}
		m.Origin = o
	}
	if patch.Details.Set {
		if patch.Details.Null {
			m.Details = nil
		} else {
			d := normalizeDetails(patch.Details.Value)
			m.Details = &d
		}
	}
	if patch.Audience.Set {
		if patch.Audience.Null {
			m.Audience = nil
		} else {
			a := normalizeAudience(patch.Audience.Value)
			m.Audience = &a
		}
	}

	if patch.Timing != nil {
		applyTimingField(&m.Timing.NotifyAt, patch.Timing.NotifyAt)
		applyTimingField(&m.Timing.RemindEvery, patch.Timing.RemindEvery)
		applyTimingField(&m.Timing.Cooldown, patch.Timing.Cooldown)
		applyTimingField(&m.Timing.TimeBudget, patch.Timing.TimeBudget)
		applyTimingField(&m.Timing.ExpiresAt, patch.Timing.ExpiresAt)
		applyTimingField(&m.Timing.DueAt, patch.Timing.DueAt)
		applyTimingField(&m.Timing.StartAt, patch.Timing.StartAt)
		applyTimingField(&m.Timing.EndAt, patch.Timing.EndAt)
	}

	if len(patch.Metrics) > 0 {
		if m.Metrics == nil {
			m.Metrics = NewMetricMap()
		}
		for key, metric := range patch.Metrics {
			if metric == nil {
				m.Metrics.Delete(key)
				continue
			}
			mc := *metric
			if mc.TS == 0 {
				mc.TS = now
			}
			m.Metrics.Set(key, mc)
		}
		if m.Metrics.Len() == 0 {
			m.Metrics = nil
		}
	}

	if len(patch.ListItems) > 0 {
		items, ok := f.mergeListItems(ref, m.ListItems, patch.ListItems)
		if !ok {
			return nil
		}
		m.ListItems = items
	}

	if patch.Attachments.Set {
		if patch.Attachments.Null {
			m.Attachments = nil
		} else {
			for _, at := range patch.Attachments.Value {
				if !at.Type.Valid() {
					return f.reject(ref, "unknown attachment type", "attachment", at.Type)
				}
			}
			m.Attachments = append([]Attachment(nil), patch.Attachments.Value...)
		}
	}
	if patch.Actions.Set {
		if patch.Actions.Null {
			m.Actions = nil
		} else {
			for _, ac := range patch.Actions.Value {
				if !ac.Type.Valid() || strings.TrimSpace(ac.ID) == "" {
					return f.reject(ref, "invalid action", "action", ac.Type)
				}
			}
			m.Actions = append([]Action(nil), patch.Actions.Value...)
		}
	}
	if patch.Dependencies.Set {
		if patch.Dependencies.Null {
			m.Dependencies = nil
		} else {
			m.Dependencies = normalizeStrings(patch.Dependencies.Value)
		}
	}

	if patch.Progress.Set {
		if patch.Progress.Null {
			m.Progress = nil
		} else {
			p := &Progress{Percentage: clampPercent(patch.Progress.Value.Percentage)}
			applyProgressStamps(p, existing.Progress, now)
			m.Progress = p
		}
	}

	if patch.Lifecycle != nil {
		if patch.Lifecycle.State != nil {
			next := *patch.Lifecycle.State
			if !next.Valid() {
				return f.reject(ref, "unknown state", "state", next)
			}
			if next != m.Lifecycle.State {
				m.Lifecycle.State = next
				m.Lifecycle.StateChangedAt = monotonicAfter(existing.Lifecycle.StateChangedAt, now)
			}
		}
		if patch.Lifecycle.StateChangedBy != nil {
			m.Lifecycle.StateChangedBy = strings.TrimSpace(*patch.Lifecycle.StateChangedBy)
		}
	}

	if !stealth {
		m.Timing.UpdatedAt = Int64(now)
	}
	return m
}

// monotonicAfter guarantees strict monotonicity of StateChangedAt even
// when two transitions land within the same millisecond.
func monotonicAfter(prev, now int64) int64 {
	if now > prev {
		return now
	}
	return prev + 1
}

func applyTimingField(dst **int64, src Optional[Millis]) {
	if !src.Set {
		return
	}
	if src.Null {
		*dst = nil
		return
	}
	*dst = Int64(int64(src.Value))
}

func (f *Factory) mergeListItems(ref string, existing []ListItem, patches []ListItemPatch) ([]ListItem, bool) {
	items := append([]ListItem(nil), existing...)
	for _, p := range patches {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			f.reject(ref, "list item patch without id")
			return nil, false
		}
		idx := -1
		for i, it := range items {
			if it.ID == id {
				idx = i
				break
			}
		}
		if p.Remove {
			if idx >= 0 {
				items = append(items[:idx], items[idx+1:]...)
			}
			continue
		}
		it := p.ListItem
		it.ID = id
		it.Name = strings.TrimSpace(it.Name)
		if it.Name == "" {
			f.reject(ref, "list item without name", "item", id)
			return nil, false
		}
		if idx >= 0 {
			items[idx] = it
		} else {
			items = append(items, it)
		}
	}
	if len(items) == 0 {
		return nil, true
	}
	return items, true
}
