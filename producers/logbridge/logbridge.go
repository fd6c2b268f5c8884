// Package logbridge ships a built-in bridge producer that writes every
// dispatched notification batch to the hub log. Useful as a smoke-test
// consumer and as the reference implementation of the bridge side of
// the producer API.
package logbridge

import (
	"sync/atomic"

	"github.com/openhearth/hearth/ingest"
	"github.com/openhearth/hearth/msg"
	"go.uber.org/zap"
)

// Descriptor registers the logbridge producer type with a host.
func Descriptor() ingest.Descriptor {
	return ingest.Descriptor{
		Meta: ingest.Metadata{
			Name:        "logbridge",
			Version:     "1.0.0",
			Description: "Logs dispatched notifications",
			ConfigSchema: map[string]ingest.ConfigField{
				"channel": {
					Type:        "string",
					Description: "Audience channel this bridge serves (empty = include-less only)",
				},
			},
		},
		New: func() ingest.Producer { return &Bridge{} },
	}
}

// Bridge consumes notification batches and logs them.
type Bridge struct {
	log      *zap.SugaredLogger
	channel  string
	received atomic.Int64
}

func (b *Bridge) Start(ctx *ingest.ProducerContext) error {
	b.log = ctx.Log
	b.channel = ctx.Options.ResolveString("channel", "")
	return nil
}

func (b *Bridge) Stop(reason string) error {
	return nil
}

// Channel reports the audience channel this bridge serves.
func (b *Bridge) Channel() string { return b.channel }

// SupportsChannelRouting opts in to audience-based batch filtering.
func (b *Bridge) SupportsChannelRouting() bool { return true }

// OnNotifications logs one line per message in the batch.
func (b *Bridge) OnNotifications(ev msg.Event, batch []*msg.Message) error {
	b.received.Add(int64(len(batch)))
	for _, m := range batch {
		b.log.Infow("Notification",
			"event", ev,
			"ref", m.Ref,
			"kind", m.Kind,
			"level", m.Level,
			"state", m.Lifecycle.State,
		)
	}
	return nil
}

// Received reports the total number of messages seen.
func (b *Bridge) Received() int64 {
	return b.received.Load()
}
