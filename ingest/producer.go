// Package ingest hosts producer plugins: the components that turn
// external signals (device state, webhooks, schedules) into messages.
//
// A producer implements the small Producer interface; richer behavior
// is opted into through the optional handler interfaces, which the host
// discovers by type assertion. Producers never touch the message list
// directly; every mutation goes through the Sink, which serializes
// writes behind the store's lock.
package ingest

import (
	"github.com/openhearth/hearth/msg"
)

// Producer is the minimal contract for an ingest plugin instance.
type Producer interface {
	// Start begins producing. The context stays valid until Stop.
	Start(ctx *ProducerContext) error

	// Stop halts the producer. Scoped timers are already cancelled
	// when Stop is called; reason is informational ("shutdown",
	// "disabled", "deleted").
	Stop(reason string) error
}

// StateChangeHandler receives updates for object ids the producer
// subscribed to via ProducerContext.Subscribe.
type StateChangeHandler interface {
	OnStateChange(objectID string, state string)
}

// ObjectChangeHandler receives structural updates (attribute maps,
// config blobs) for subscribed object ids.
type ObjectChangeHandler interface {
	OnObjectChange(objectID string, obj map[string]any)
}

// TimerHandler receives ticks from named timers started with
// Resources.SetNamedInterval.
type TimerHandler interface {
	OnTimer(name string)
}

// ActionHandler lets a producer claim custom actions on messages it
// owns. Returning handled=true stops further routing.
type ActionHandler interface {
	OnAction(ref string, action msg.Action) (handled bool, err error)
}

// NotificationConsumer marks a producer that also wants event batches
// (a bridge plugin). The host subscribes it to the dispatcher while
// the instance runs.
type NotificationConsumer interface {
	Channel() string
	SupportsChannelRouting() bool
	OnNotifications(ev msg.Event, batch []*msg.Message) error
}

// Metadata describes a registered producer type.
type Metadata struct {
	// Name is the producer type identifier (e.g. "mqtt", "webhook").
	Name string `json:"name"`

	// Version is the producer version (semver).
	Version string `json:"version"`

	// HostVersion is the required hub version (semver constraint,
	// empty means any).
	HostVersion string `json:"hostVersion,omitempty"`

	// Description is shown in the admin catalog.
	Description string `json:"description,omitempty"`

	// ConfigSchema describes the instance options this type accepts.
	ConfigSchema map[string]ConfigField `json:"configSchema,omitempty"`
}

// ConfigField describes one instance option for admin UIs.
type ConfigField struct {
	Type        string `json:"type"` // "string", "number", "boolean"
	Description string `json:"description,omitempty"`
	Default     string `json:"default,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Descriptor binds a producer type's metadata to its constructor.
type Descriptor struct {
	Meta Metadata
	New  func() Producer
}

// Sink is the store-facing mutation surface handed to producers.
type Sink interface {
	AddMessage(in *msg.Incoming) bool
	UpdateMessage(ref string, patch *msg.Patch, stealth bool) bool
	AddOrUpdateMessage(in *msg.Incoming) bool
	RemoveMessage(ref string) bool
	GetMessageByRef(ref string, view bool) *msg.Message
}
