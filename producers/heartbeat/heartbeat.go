// Package heartbeat ships a built-in producer that keeps one status
// message alive with the hub's uptime. It doubles as the reference
// implementation for the producer API: scoped intervals, option
// resolution, and the add-or-update mutation path.
package heartbeat

import (
	"fmt"
	"sync"
	"time"

	"github.com/openhearth/hearth/ingest"
	"github.com/openhearth/hearth/msg"
)

const (
	// Ref of the status message this producer owns.
	Ref = "hearth.heartbeat"

	defaultIntervalSec = 60
)

// Descriptor registers the heartbeat producer type with a host.
func Descriptor() ingest.Descriptor {
	return ingest.Descriptor{
		Meta: ingest.Metadata{
			Name:        "heartbeat",
			Version:     "1.0.0",
			Description: "Publishes a periodic hub uptime status message",
			ConfigSchema: map[string]ingest.ConfigField{
				"intervalSec": {
					Type:        "number",
					Description: "Seconds between heartbeat updates",
					Default:     "60",
				},
				"level": {
					Type:        "number",
					Description: "Severity level of the heartbeat message",
					Default:     "20",
				},
			},
		},
		New: func() ingest.Producer { return &Producer{} },
	}
}

// Producer is one heartbeat instance.
type Producer struct {
	mu        sync.Mutex
	startedAt time.Time
	beats     int64
}

func (p *Producer) Start(ctx *ingest.ProducerContext) error {
	p.mu.Lock()
	p.startedAt = time.Now()
	p.beats = 0
	p.mu.Unlock()

	ctx.Objects.Mark(Ref, "heartbeat status message")

	interval := time.Duration(ctx.Options.ResolveInt("intervalSec", defaultIntervalSec)) * time.Second
	if interval <= 0 {
		interval = defaultIntervalSec * time.Second
	}

	p.beat(ctx)
	ctx.Resources.SetInterval(func() { p.beat(ctx) }, interval)

	ctx.Log.Infow("Heartbeat started", "interval", interval)
	return nil
}

func (p *Producer) Stop(reason string) error {
	return nil
}

// Beats reports how many updates this instance has published.
func (p *Producer) Beats() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.beats
}

func (p *Producer) beat(ctx *ingest.ProducerContext) {
	p.mu.Lock()
	p.beats++
	uptime := time.Since(p.startedAt).Round(time.Second)
	p.mu.Unlock()

	level := msg.Level(ctx.Options.ResolveInt("level", int(msg.LevelInfo)))
	if !level.Valid() {
		level = msg.LevelInfo
	}

	in := &msg.Incoming{
		Ref:    Ref,
		Title:  "Hub heartbeat",
		Text:   fmt.Sprintf("up %s", uptime),
		Kind:   msg.KindStatus,
		Level:  &level,
		Origin: msg.Origin{Type: msg.OriginAutomation, System: "hearth", ID: "heartbeat"},
	}
	if !ctx.Sink.AddOrUpdateMessage(in) {
		ctx.Log.Warnw("Heartbeat update rejected", "ref", Ref)
	}
}
