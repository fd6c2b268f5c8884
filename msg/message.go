package msg

import (
	"encoding/json"
	"time"
)

// Now returns the current wall-clock time in Unix milliseconds,
// the timestamp unit used throughout the hub.
func Now() int64 {
	return time.Now().UnixMilli()
}

// Origin records where a message came from.
type Origin struct {
	Type   OriginType `json:"type"`
	System string     `json:"system,omitempty"`
	ID     string     `json:"id,omitempty"`
}

// Lifecycle tracks the message state machine.
// StateChangedAt is core-managed and strictly monotonic per message.
type Lifecycle struct {
	State          State  `json:"state"`
	StateChangedAt int64  `json:"stateChangedAt"`
	StateChangedBy string `json:"stateChangedBy,omitempty"`
}

// Timing groups all schedule-related timestamps (Unix ms).
// Optional fields are nil when absent; absence of NotifyAt on an open
// message means "due now".
type Timing struct {
	CreatedAt   int64           `json:"createdAt"`
	UpdatedAt   *int64          `json:"updatedAt,omitempty"`
	NotifyAt    *int64          `json:"notifyAt,omitempty"`
	RemindEvery *int64          `json:"remindEvery,omitempty"`
	Cooldown    *int64          `json:"cooldown,omitempty"`
	NotifiedAt  map[Event]int64 `json:"notifiedAt,omitempty"`
	TimeBudget  *int64          `json:"timeBudget,omitempty"`
	ExpiresAt   *int64          `json:"expiresAt,omitempty"`
	DueAt       *int64          `json:"dueAt,omitempty"`
	StartAt     *int64          `json:"startAt,omitempty"`
	EndAt       *int64          `json:"endAt,omitempty"`
}

// Details is an optional structured block; patched by block replace.
type Details struct {
	Location    string   `json:"location,omitempty"`
	Task        string   `json:"task,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	Tools       []string `json:"tools,omitempty"`
	Consumables []string `json:"consumables,omitempty"`
}

// ChannelRules restricts which output channels receive a message.
type ChannelRules struct {
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// Audience declares who a message is for; patched by block replace.
type Audience struct {
	Tags     []string      `json:"tags,omitempty"`
	Channels *ChannelRules `json:"channels,omitempty"`
}

// Metric is one named measurement attached to a message.
type Metric struct {
	Val  float64 `json:"val"`
	Unit string  `json:"unit,omitempty"`
	TS   int64   `json:"ts"`
}

// Attachment is an auxiliary payload (speech markup, media, files).
type Attachment struct {
	Type  AttachmentType `json:"type"`
	Value string         `json:"value"`
}

// Amount is a value with a unit, used by list items.
type Amount struct {
	Val  float64 `json:"val"`
	Unit string  `json:"unit,omitempty"`
}

// ListItem is one entry of a shopping or inventory list.
// ID is the stable merge key for patches.
type ListItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category,omitempty"`
	Quantity *Amount `json:"quantity,omitempty"`
	PerUnit  *Amount `json:"perUnit,omitempty"`
	Checked  bool    `json:"checked"`
}

// Action is an operation the message allows consumers to invoke.
type Action struct {
	Type    ActionType      `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Progress tracks completion percentage. StartedAt is set once when the
// percentage first rises above zero; FinishedAt is present exactly while
// the percentage is 100.
type Progress struct {
	Percentage int    `json:"percentage"`
	StartedAt  *int64 `json:"startedAt,omitempty"`
	FinishedAt *int64 `json:"finishedAt,omitempty"`
}

// Display is the rendered view of a message. View-only: produced by the
// renderer on reads, never persisted.
type Display struct {
	Icon           string `json:"icon,omitempty"`
	Title          string `json:"title"`
	Text           string `json:"text"`
	RenderedDataTs int64  `json:"renderedDataTs,omitempty"`
}

// Message is the canonical entity owned by the store. All mutation goes
// through the store API; consumers only ever see clones.
type Message struct {
	Ref   string `json:"ref"`
	Icon  string `json:"icon,omitempty"`
	Title string `json:"title"`
	Text  string `json:"text"`

	Kind   Kind   `json:"kind"`
	Level  Level  `json:"level"`
	Origin Origin `json:"origin"`

	Lifecycle Lifecycle `json:"lifecycle"`
	Timing    Timing    `json:"timing"`

	Details  *Details  `json:"details,omitempty"`
	Audience *Audience `json:"audience,omitempty"`

	Metrics      *MetricMap   `json:"metrics,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	ListItems    []ListItem   `json:"listItems,omitempty"`
	Actions      []Action     `json:"actions,omitempty"`
	Dependencies []string     `json:"dependencies,omitempty"`

	Progress *Progress `json:"progress,omitempty"`

	// View-only fields, populated by the renderer on reads.
	ActionsInactive []ActionType `json:"actionsInactive,omitempty"`
	Display         *Display     `json:"display,omitempty"`
}

// Clone returns a deep copy. Views handed to callers are clones so that
// caller mutation never reaches the canonical list.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Timing.UpdatedAt = cloneInt64(m.Timing.UpdatedAt)
	c.Timing.NotifyAt = cloneInt64(m.Timing.NotifyAt)
	c.Timing.RemindEvery = cloneInt64(m.Timing.RemindEvery)
	c.Timing.Cooldown = cloneInt64(m.Timing.Cooldown)
	c.Timing.TimeBudget = cloneInt64(m.Timing.TimeBudget)
	c.Timing.ExpiresAt = cloneInt64(m.Timing.ExpiresAt)
	c.Timing.DueAt = cloneInt64(m.Timing.DueAt)
	c.Timing.StartAt = cloneInt64(m.Timing.StartAt)
	c.Timing.EndAt = cloneInt64(m.Timing.EndAt)
	if m.Timing.NotifiedAt != nil {
		c.Timing.NotifiedAt = make(map[Event]int64, len(m.Timing.NotifiedAt))
		for k, v := range m.Timing.NotifiedAt {
			c.Timing.NotifiedAt[k] = v
		}
	}
	if m.Details != nil {
		d := *m.Details
		d.Tools = append([]string(nil), m.Details.Tools...)
		d.Consumables = append([]string(nil), m.Details.Consumables...)
		c.Details = &d
	}
	if m.Audience != nil {
		a := Audience{Tags: append([]string(nil), m.Audience.Tags...)}
		if m.Audience.Channels != nil {
			a.Channels = &ChannelRules{
				Include: append([]string(nil), m.Audience.Channels.Include...),
				Exclude: append([]string(nil), m.Audience.Channels.Exclude...),
			}
		}
		c.Audience = &a
	}
	if m.Metrics != nil {
		c.Metrics = m.Metrics.Clone()
	}
	c.Attachments = append([]Attachment(nil), m.Attachments...)
	if m.ListItems != nil {
		c.ListItems = make([]ListItem, len(m.ListItems))
		for i, it := range m.ListItems {
			ci := it
			if it.Quantity != nil {
				q := *it.Quantity
				ci.Quantity = &q
			}
			if it.PerUnit != nil {
				p := *it.PerUnit
				ci.PerUnit = &p
			}
			c.ListItems[i] = ci
		}
	}
	if m.Actions != nil {
		c.Actions = make([]Action, len(m.Actions))
		for i, a := range m.Actions {
			ca := a
			ca.Payload = append(json.RawMessage(nil), a.Payload...)
			c.Actions[i] = ca
		}
	}
	c.Dependencies = append([]string(nil), m.Dependencies...)
	if m.Progress != nil {
		p := *m.Progress
		p.StartedAt = cloneInt64(m.Progress.StartedAt)
		p.FinishedAt = cloneInt64(m.Progress.FinishedAt)
		c.Progress = &p
	}
	c.ActionsInactive = append([]ActionType(nil), m.ActionsInactive...)
	if m.Display != nil {
		d := *m.Display
		c.Display = &d
	}
	return &c
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Int64 returns a pointer to v, a convenience for optional timing fields.
func Int64(v int64) *int64 {
	return &v
}
