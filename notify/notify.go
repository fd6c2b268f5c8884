// Package notify fans message events out to subscribed consumer plugins
// (notify and bridge plugins). Eligibility per consumer is decided by
// audience-channel routing; delivery errors are isolated per plugin so
// one failing bridge never starves the others.
package notify

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/openhearth/hearth/msg"
)

// Consumer is a notify/bridge plugin receiving event batches.
type Consumer interface {
	// ID identifies the consumer in logs and the instance table.
	ID() string
	// Channel is the output channel this consumer serves; empty means
	// the consumer only receives broadcast messages.
	Channel() string
	// SupportsChannelRouting opts the consumer into audience filtering.
	// Consumers that return false receive every message of a batch.
	SupportsChannelRouting() bool
	// OnNotifications handles one event batch. Errors are logged and
	// do not abort fan-out to other consumers.
	OnNotifications(ev msg.Event, batch []*msg.Message) error
}

// Dispatcher routes event batches to all subscribed consumers.
type Dispatcher struct {
	log *zap.SugaredLogger

	mu        sync.RWMutex
	consumers map[string]Consumer
	quiet     *QuietHours
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		log:       log,
		consumers: make(map[string]Consumer),
	}
}

// SetQuietHours installs (or clears, with nil) the quiet-hours gate.
func (d *Dispatcher) SetQuietHours(q *QuietHours) {
	d.mu.Lock()
	d.quiet = q
	d.mu.Unlock()
}

// Subscribe registers a consumer; a consumer with the same ID is replaced.
func (d *Dispatcher) Subscribe(c Consumer) {
	d.mu.Lock()
	d.consumers[c.ID()] = c
	d.mu.Unlock()
	d.log.Infow("notify consumer subscribed", "plugin", c.ID(), "channel", c.Channel())
}

// Unsubscribe removes a consumer by id.
func (d *Dispatcher) Unsubscribe(id string) {
	d.mu.Lock()
	delete(d.consumers, id)
	d.mu.Unlock()
}

// Consumers lists subscribed consumer ids, sorted for determinism.
func (d *Dispatcher) Consumers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.consumers))
	for id := range d.consumers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dispatch fans a batch out to every consumer whose routing accepts it
// and returns the messages that were actually offered for delivery
// (quiet hours may suppress part of a batch). The caller stamps
// notifiedAt on the returned set: the stamp reflects the attempt, not
// per-plugin success.
func (d *Dispatcher) Dispatch(ev msg.Event, batch []*msg.Message) []*msg.Message {
	if len(batch) == 0 {
		return nil
	}

	d.mu.RLock()
	consumers := make([]Consumer, 0, len(d.consumers))
	for _, c := range d.consumers {
		consumers = append(consumers, c)
	}
	quiet := d.quiet
	d.mu.RUnlock()
	sort.Slice(consumers, func(i, j int) bool { return consumers[i].ID() < consumers[j].ID() })

	attempted := batch
	if quiet != nil {
		attempted = quiet.FilterBatch(ev, batch)
		if suppressed := len(batch) - len(attempted); suppressed > 0 {
			d.log.Debugw("quiet hours suppressed messages",
				"event", ev, "suppressed", suppressed)
		}
	}
	if len(attempted) == 0 {
		return nil
	}

	for _, c := range consumers {
		sub := attempted
		if c.SupportsChannelRouting() {
			sub = filterByChannel(attempted, c.Channel())
		}
		if len(sub) == 0 {
			continue
		}
		d.deliver(c, ev, sub)
	}
	return attempted
}

// deliver invokes one consumer, containing both errors and panics.
func (d *Dispatcher) deliver(c Consumer, ev msg.Event, batch []*msg.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("notify consumer panicked",
				"plugin", c.ID(), "event", ev, "panic", r)
		}
	}()
	if err := c.OnNotifications(ev, batch); err != nil {
		d.log.Warnw("notify consumer failed",
			"plugin", c.ID(), "event", ev, "count", len(batch), "error", err)
	}
}

func filterByChannel(batch []*msg.Message, channel string) []*msg.Message {
	var out []*msg.Message
	for _, m := range batch {
		if msg.RouteToChannel(m, channel) {
			out = append(out, m)
		}
	}
	return out
}
