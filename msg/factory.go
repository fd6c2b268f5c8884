package msg

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// maxIconLen caps the icon field (runes, not bytes).
const maxIconLen = 10

// Millis is a Unix-millisecond timestamp in producer input. JSON numbers
// with a fractional part are truncated; anything non-numeric is rejected
// at decode time.
type Millis int64

// UnmarshalJSON coerces numeric timestamps to integer milliseconds.
func (ms *Millis) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*ms = Millis(int64(f))
	return nil
}

// MillisPtr is a convenience for building producer input in Go.
func MillisPtr(v int64) *Millis {
	m := Millis(v)
	return &m
}

// TimingInput is the schedule block of producer input.
type TimingInput struct {
	NotifyAt    *Millis `json:"notifyAt,omitempty"`
	RemindEvery *Millis `json:"remindEvery,omitempty"`
	Cooldown    *Millis `json:"cooldown,omitempty"`
	TimeBudget  *Millis `json:"timeBudget,omitempty"`
	ExpiresAt   *Millis `json:"expiresAt,omitempty"`
	DueAt       *Millis `json:"dueAt,omitempty"`
	StartAt     *Millis `json:"startAt,omitempty"`
	EndAt       *Millis `json:"endAt,omitempty"`
}

// ProgressInput carries only the producer-settable part of progress;
// StartedAt and FinishedAt are core-managed.
type ProgressInput struct {
	Percentage int `json:"percentage"`
}

// Incoming is the raw producer input for message creation. The factory
// validates and normalizes it into a canonical Message.
type Incoming struct {
	Ref   string `json:"ref"`
	Icon  string `json:"icon,omitempty"`
	Title string `json:"title"`
	Text  string `json:"text"`

	Kind   Kind   `json:"kind"`
	Level  *Level `json:"level"`
	Origin Origin `json:"origin"`

	State          State  `json:"state,omitempty"`
	StateChangedBy string `json:"stateChangedBy,omitempty"`

	Timing   *TimingInput `json:"timing,omitempty"`
	Details  *Details     `json:"details,omitempty"`
	Audience *Audience    `json:"audience,omitempty"`

	Metrics      *MetricMap   `json:"metrics,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	ListItems    []ListItem   `json:"listItems,omitempty"`
	Actions      []Action     `json:"actions,omitempty"`
	Dependencies []string     `json:"dependencies,omitempty"`

	Progress *ProgressInput `json:"progress,omitempty"`
}

// Factory validates producer input and applies patches. Validation
// failures return nil, never an error: the store treats nil as a rejected
// mutation and the reason is logged here with the ref for context.
type Factory struct {
	Now func() int64
	log *zap.SugaredLogger
}

// NewFactory creates a factory with the wall clock and the given logger.
func NewFactory(log *zap.SugaredLogger) *Factory {
	return &Factory{Now: Now, log: log}
}

func (f *Factory) reject(ref, reason string, kv ...interface{}) *Message {
	if f.log != nil {
		f.log.Warnw("message rejected", append([]interface{}{"ref", ref, "reason", reason}, kv...)...)
	}
	return nil
}

// CreateMessage normalizes raw producer input into a canonical message.
// Returns nil when validation fails.
func (f *Factory) CreateMessage(in *Incoming) *Message {
	if in == nil {
		return f.reject("", "nil input")
	}
	ref := strings.TrimSpace(in.Ref)
	if ref == "" {
		return f.reject(in.Ref, "empty ref")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return f.reject(ref, "empty title")
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return f.reject(ref, "empty text")
	}
	if !in.Kind.Valid() {
		return f.reject(ref, "unknown kind", "kind", in.Kind)
	}
	if in.Level == nil {
		return f.reject(ref, "missing level")
	}
	if !in.Level.Valid() {
		return f.reject(ref, "unknown level", "level", *in.Level)
	}
	origin := in.Origin
	origin.System = strings.TrimSpace(origin.System)
	origin.ID = strings.TrimSpace(origin.ID)
	if !origin.Type.Valid() {
		return f.reject(ref, "unknown origin type", "origin", origin.Type)
	}

	state := in.State
	if state == "" {
		state = StateOpen
	}
	if !state.Valid() {
		return f.reject(ref, "unknown state", "state", in.State)
	}

	now := f.Now()
	m := &Message{
		Ref:   ref,
		Icon:  capRunes(strings.TrimSpace(in.Icon), maxIconLen),
		Title: title,
		Text:  text,
		Kind:  in.Kind,
		Level: *in.Level,
		Origin: origin,
		Lifecycle: Lifecycle{
			State:          state,
			StateChangedAt: now,
			StateChangedBy: strings.TrimSpace(in.StateChangedBy),
		},
		Timing:       Timing{CreatedAt: now},
		Dependencies: normalizeStrings(in.Dependencies),
	}

	if in.Timing != nil {
		m.Timing.NotifyAt = millisToInt64(in.Timing.NotifyAt)
		m.Timing.RemindEvery = millisToInt64(in.Timing.RemindEvery)
		m.Timing.Cooldown = millisToInt64(in.Timing.Cooldown)
		m.Timing.TimeBudget = millisToInt64(in.Timing.TimeBudget)
		m.Timing.ExpiresAt = millisToInt64(in.Timing.ExpiresAt)
		m.Timing.DueAt = millisToInt64(in.Timing.DueAt)
		m.Timing.StartAt = millisToInt64(in.Timing.StartAt)
		m.Timing.EndAt = millisToInt64(in.Timing.EndAt)
	}

	if in.Details != nil {
		d := normalizeDetails(*in.Details)
		m.Details = &d
	}
	if in.Audience != nil {
		a := normalizeAudience(*in.Audience)
		m.Audience = &a
	}
	if in.Metrics != nil && in.Metrics.Len() > 0 {
		mm := NewMetricMap()
		for _, k := range in.Metrics.Keys() {
			metric, _ := in.Metrics.Get(k)
			if metric.TS == 0 {
				metric.TS = now
			}
			mm.Set(k, metric)
		}
		m.Metrics = mm
	}
	for _, at := range in.Attachments {
		if !at.Type.Valid() {
			return f.reject(ref, "unknown attachment type", "attachment", at.Type)
		}
		m.Attachments = append(m.Attachments, at)
	}
	for _, it := range in.ListItems {
		it.ID = strings.TrimSpace(it.ID)
		it.Name = strings.TrimSpace(it.Name)
		if it.ID == "" {
			return f.reject(ref, "list item without id")
		}
		if it.Name == "" {
			return f.reject(ref, "list item without name", "item", it.ID)
		}
		m.ListItems = append(m.ListItems, it)
	}
	for _, ac := range in.Actions {
		if !ac.Type.Valid() {
			return f.reject(ref, "unknown action type", "action", ac.Type)
		}
		if strings.TrimSpace(ac.ID) == "" {
			return f.reject(ref, "action without id", "action", ac.Type)
		}
		m.Actions = append(m.Actions, ac)
	}
	if in.Progress != nil {
		m.Progress = &Progress{Percentage: clampPercent(in.Progress.Percentage)}
		applyProgressStamps(m.Progress, nil, now)
	}
	return m
}

// applyProgressStamps manages StartedAt/FinishedAt across a percentage
// change. prev is the pre-mutation progress, nil on create.
func applyProgressStamps(p *Progress, prev *Progress, now int64) {
	if p == nil {
		return
	}
	if prev != nil {
		p.StartedAt = cloneInt64(prev.StartedAt)
		p.FinishedAt = cloneInt64(prev.FinishedAt)
	}
	if p.Percentage > 0 && p.StartedAt == nil {
		p.StartedAt = Int64(now)
	}
	if p.Percentage >= 100 {
		if p.FinishedAt == nil {
			p.FinishedAt = Int64(now)
		}
	} else {
		p.FinishedAt = nil
	}
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func capRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func normalizeStrings(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func normalizeDetails(d Details) Details {
	d.Location = strings.TrimSpace(d.Location)
	d.Task = strings.TrimSpace(d.Task)
	d.Reason = strings.TrimSpace(d.Reason)
	d.Tools = normalizeStrings(d.Tools)
	d.Consumables = normalizeStrings(d.Consumables)
	return d
}

func normalizeAudience(a Audience) Audience {
	a.Tags = normalizeStrings(a.Tags)
	if a.Channels != nil {
		a.Channels = &ChannelRules{
			Include: normalizeStrings(a.Channels.Include),
			Exclude: normalizeStrings(a.Channels.Exclude),
		}
	}
	return a
}

func millisToInt64(m *Millis) *int64 {
	if m == nil {
		return nil
	}
	v := int64(*m)
	return &v
}
