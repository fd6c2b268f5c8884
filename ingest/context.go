package ingest

import (
	"go.uber.org/zap"

	"github.com/openhearth/hearth/msg"
)

// ProducerContext is everything a running producer instance gets from
// the host. It stays valid from Start until Stop returns.
type ProducerContext struct {
	// InstanceID identifies this instance in the admin table.
	InstanceID string

	// Sink is the serialized mutation path into the message store.
	Sink Sink

	// Log is a named logger for this instance.
	Log *zap.SugaredLogger

	// Constants exposes the closed enum sets for building messages.
	Constants msg.ConstantsDoc

	// Resources scopes timers to the instance lifetime.
	Resources *Resources

	// Options resolves the instance's configured options.
	Options *Options

	// Objects tracks external state ids this instance claims.
	Objects *ManagedObjects

	host     *Host
	instance *instance
}

// Subscribe registers interest in state and object updates for an
// external object id. Subscriptions end when the instance stops.
func (c *ProducerContext) Subscribe(objectID string) {
	c.host.subscribe(c.instance, objectID)
}

func (h *Host) newProducerContext(in *instance) *ProducerContext {
	return &ProducerContext{
		InstanceID: in.id,
		Sink:       h.sink,
		Log:        h.log.Named(in.typ),
		Constants:  msg.Constants(),
		Resources:  newResources(h.log),
		Options:    NewOptions(in.options),
		Objects:    newManagedObjects(nil),
		host:       h,
		instance:   in,
	}
}
