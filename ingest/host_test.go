package ingest

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhearth/hearth/errors"
	"github.com/openhearth/hearth/logger"
	"github.com/openhearth/hearth/msg"
	"github.com/openhearth/hearth/notify"
)

type fakeProducer struct {
	startErr error

	started   bool
	stopped   bool
	reason    string
	ctx       *ProducerContext
	states    []string
	objects   []string
	actionRef string
	handles   bool
}

func (p *fakeProducer) Start(ctx *ProducerContext) error {
	if p.startErr != nil {
		return p.startErr
	}
	p.started = true
	p.ctx = ctx
	return nil
}

func (p *fakeProducer) Stop(reason string) error {
	p.stopped = true
	p.reason = reason
	return nil
}

func (p *fakeProducer) OnStateChange(id, state string) {
	p.states = append(p.states, id+"="+state)
}

func (p *fakeProducer) OnObjectChange(id string, obj map[string]any) {
	p.objects = append(p.objects, id)
}

func (p *fakeProducer) OnAction(ref string, action msg.Action) (bool, error) {
	p.actionRef = ref
	return p.handles, nil
}

type nopSink struct{}

func (nopSink) AddMessage(*msg.Incoming) bool                       { return true }
func (nopSink) UpdateMessage(string, *msg.Patch, bool) bool         { return true }
func (nopSink) AddOrUpdateMessage(*msg.Incoming) bool               { return true }
func (nopSink) RemoveMessage(string) bool                           { return true }
func (nopSink) GetMessageByRef(string, bool) *msg.Message           { return nil }

func testHost(t *testing.T, producers map[string]*fakeProducer) *Host {
	t.Helper()
	h, err := NewHost(logger.Logger, "1.2.0", nopSink{}, nil, "")
	require.NoError(t, err)
	for name, p := range producers {
		p := p
		require.NoError(t, h.RegisterType(Descriptor{
			Meta: Metadata{Name: name, Version: "0.1.0"},
			New:  func() Producer { return p },
		}))
	}
	return h
}

func TestRegisterTypeVersionConstraint(t *testing.T) {
	h, err := NewHost(logger.Logger, "1.2.0", nopSink{}, nil, "")
	require.NoError(t, err)

	ok := Descriptor{
		Meta: Metadata{Name: "compat", HostVersion: ">=1.0.0"},
		New:  func() Producer { return &fakeProducer{} },
	}
	require.NoError(t, h.RegisterType(ok))
	assert.Error(t, h.RegisterType(ok)) // duplicate name

	tooNew := Descriptor{
		Meta: Metadata{Name: "future", HostVersion: ">=2.0.0"},
		New:  func() Producer { return &fakeProducer{} },
	}
	assert.Error(t, h.RegisterType(tooNew))

	malformed := Descriptor{
		Meta: Metadata{Name: "broken", HostVersion: "not-a-constraint"},
		New:  func() Producer { return &fakeProducer{} },
	}
	assert.Error(t, h.RegisterType(malformed))
}

func TestInstanceLifecycle(t *testing.T) {
	p := &fakeProducer{}
	h := testHost(t, map[string]*fakeProducer{"demo": p})

	info, err := h.CreateInstance("demo", map[string]any{"topic": "home"})
	require.NoError(t, err)
	assert.False(t, info.Enabled)
	assert.False(t, info.Running)

	_, err = h.CreateInstance("missing", nil)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	info, err = h.SetEnabled(info.ID, true)
	require.NoError(t, err)
	assert.True(t, info.Running)
	assert.True(t, p.started)
	assert.Equal(t, "home", p.ctx.Options.ResolveString("topic", ""))

	info, err = h.SetEnabled(info.ID, false)
	require.NoError(t, err)
	assert.False(t, info.Running)
	assert.True(t, p.stopped)
	assert.Equal(t, "disabled", p.reason)

	require.NoError(t, h.DeleteInstance(info.ID))
	assert.Empty(t, h.Instances())
}

func TestEnableFailedStart(t *testing.T) {
	p := &fakeProducer{startErr: errors.New("no broker")}
	h := testHost(t, map[string]*fakeProducer{"demo": p})

	info, err := h.CreateInstance("demo", nil)
	require.NoError(t, err)
	_, err = h.SetEnabled(info.ID, true)
	require.Error(t, err)

	instances := h.Instances()
	require.Len(t, instances, 1)
	assert.False(t, instances[0].Enabled)
	assert.False(t, instances[0].Running)
}

func TestStateRoutingToSubscribers(t *testing.T) {
	listener := &fakeProducer{}
	other := &fakeProducer{}
	h := testHost(t, map[string]*fakeProducer{"listener": listener, "other": other})

	a, err := h.CreateInstance("listener", nil)
	require.NoError(t, err)
	b, err := h.CreateInstance("other", nil)
	require.NoError(t, err)
	_, err = h.SetEnabled(a.ID, true)
	require.NoError(t, err)
	_, err = h.SetEnabled(b.ID, true)
	require.NoError(t, err)

	listener.ctx.Subscribe("light.kitchen")

	h.OnStateChange("light.kitchen", "on")
	h.OnStateChange("light.hall", "off")
	h.OnObjectChange("light.kitchen", map[string]any{"brightness": 80})

	assert.Equal(t, []string{"light.kitchen=on"}, listener.states)
	assert.Equal(t, []string{"light.kitchen"}, listener.objects)
	assert.Empty(t, other.states)

	// subscriptions end with the instance
	_, err = h.SetEnabled(a.ID, false)
	require.NoError(t, err)
	h.OnStateChange("light.kitchen", "off")
	assert.Len(t, listener.states, 1)
}

func TestUpdateInstanceRestartsRunning(t *testing.T) {
	p := &fakeProducer{}
	h := testHost(t, map[string]*fakeProducer{"demo": p})

	info, err := h.CreateInstance("demo", map[string]any{"interval": 5})
	require.NoError(t, err)
	_, err = h.SetEnabled(info.ID, true)
	require.NoError(t, err)

	_, err = h.UpdateInstance(info.ID, map[string]any{"interval": 30})
	require.NoError(t, err)
	assert.True(t, p.stopped)
	assert.Equal(t, "reconfigured", p.reason)
	assert.Equal(t, 30, p.ctx.Options.ResolveInt("interval", 0))
}

func TestDispatchAction(t *testing.T) {
	claims := &fakeProducer{handles: true}
	passes := &fakeProducer{}
	h := testHost(t, map[string]*fakeProducer{"a-claims": claims, "b-passes": passes})

	for _, typ := range []string{"a-claims", "b-passes"} {
		info, err := h.CreateInstance(typ, nil)
		require.NoError(t, err)
		_, err = h.SetEnabled(info.ID, true)
		require.NoError(t, err)
	}

	handled, err := h.DispatchAction("door.front", msg.Action{Type: msg.ActionCustom, ID: "unlock"})
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "door.front", claims.actionRef)
}

func TestInstancePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "producers.json")

	h1, err := NewHost(logger.Logger, "1.0.0", nopSink{}, nil, path)
	require.NoError(t, err)
	require.NoError(t, h1.RegisterType(Descriptor{
		Meta: Metadata{Name: "demo"},
		New:  func() Producer { return &fakeProducer{} },
	}))
	info, err := h1.CreateInstance("demo", map[string]any{"topic": "home"})
	require.NoError(t, err)
	_, err = h1.SetEnabled(info.ID, true)
	require.NoError(t, err)

	p2 := &fakeProducer{}
	h2, err := NewHost(logger.Logger, "1.0.0", nopSink{}, nil, path)
	require.NoError(t, err)
	require.NoError(t, h2.RegisterType(Descriptor{
		Meta: Metadata{Name: "demo"},
		New:  func() Producer { return p2 },
	}))
	require.NoError(t, h2.LoadInstances())

	instances := h2.Instances()
	require.Len(t, instances, 1)
	assert.Equal(t, info.ID, instances[0].ID)
	assert.True(t, instances[0].Enabled)
	assert.False(t, instances[0].Running)

	h2.StartAll(context.Background())
	assert.True(t, p2.started)
	h2.StopAll("shutdown")
	assert.Equal(t, "shutdown", p2.reason)
}

func TestLoadUnknownTypeKeptDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "producers.json")

	h1, err := NewHost(logger.Logger, "1.0.0", nopSink{}, nil, path)
	require.NoError(t, err)
	require.NoError(t, h1.RegisterType(Descriptor{
		Meta: Metadata{Name: "gone"},
		New:  func() Producer { return &fakeProducer{} },
	}))
	info, err := h1.CreateInstance("gone", nil)
	require.NoError(t, err)
	_, err = h1.SetEnabled(info.ID, true)
	require.NoError(t, err)

	h2, err := NewHost(logger.Logger, "1.0.0", nopSink{}, nil, path)
	require.NoError(t, err)
	require.NoError(t, h2.LoadInstances())
	instances := h2.Instances()
	require.Len(t, instances, 1)
	assert.False(t, instances[0].Enabled)
}

type bridgeProducer struct {
	fakeProducer
	batches int
}

func (b *bridgeProducer) Channel() string              { return "tv" }
func (b *bridgeProducer) SupportsChannelRouting() bool { return true }
func (b *bridgeProducer) OnNotifications(ev msg.Event, batch []*msg.Message) error {
	b.batches++
	return nil
}

func TestBridgeProducerReceivesNotifications(t *testing.T) {
	d := notify.NewDispatcher(logger.Logger)
	bridge := &bridgeProducer{}
	h, err := NewHost(logger.Logger, "1.0.0", nopSink{}, d, "")
	require.NoError(t, err)
	require.NoError(t, h.RegisterType(Descriptor{
		Meta: Metadata{Name: "bridge"},
		New:  func() Producer { return bridge },
	}))

	info, err := h.CreateInstance("bridge", nil)
	require.NoError(t, err)
	_, err = h.SetEnabled(info.ID, true)
	require.NoError(t, err)
	assert.Equal(t, []string{info.ID}, d.Consumers())

	d.Dispatch(msg.EventAdded, []*msg.Message{{Ref: "t", Title: "t", Text: "x", Level: msg.LevelInfo}})
	assert.Equal(t, 1, bridge.batches)

	_, err = h.SetEnabled(info.ID, false)
	require.NoError(t, err)
	assert.Empty(t, d.Consumers())
}

type timerProducer struct {
	ticks atomic.Int32
}

func (p *timerProducer) Start(ctx *ProducerContext) error {
	ctx.Resources.SetNamedInterval("poll", 5*time.Millisecond)
	return nil
}

func (p *timerProducer) Stop(string) error { return nil }

func (p *timerProducer) OnTimer(name string) {
	if name == "poll" {
		p.ticks.Add(1)
	}
}

func TestNamedTimerTicksProducer(t *testing.T) {
	p := &timerProducer{}
	h, err := NewHost(logger.Logger, "1.2.0", nopSink{}, nil, "")
	require.NoError(t, err)
	require.NoError(t, h.RegisterType(Descriptor{
		Meta: Metadata{Name: "poller", Version: "0.1.0"},
		New:  func() Producer { return p },
	}))

	info, err := h.CreateInstance("poller", nil)
	require.NoError(t, err)
	_, err = h.SetEnabled(info.ID, true)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return p.ticks.Load() >= 2 },
		time.Second, 5*time.Millisecond)

	// stopping the instance cancels the timer scope; no further ticks
	_, err = h.SetEnabled(info.ID, false)
	require.NoError(t, err)
	settled := p.ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.InDelta(t, settled, p.ticks.Load(), 1)
}
