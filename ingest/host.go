package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openhearth/hearth/errors"
	"github.com/openhearth/hearth/msg"
	"github.com/openhearth/hearth/notify"
)

// InstanceInfo is the admin-facing view of a producer instance.
type InstanceInfo struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Enabled bool           `json:"enabled"`
	Running bool           `json:"running"`
	Options map[string]any `json:"options,omitempty"`
}

type instance struct {
	id      string
	typ     string
	enabled bool
	options map[string]any

	producer  Producer
	ctx       *ProducerContext
	running   bool
	subbed    []string // object ids this instance subscribed to
	asConsume *consumerAdapter
}

// Host owns the producer type catalog and the instance table, starts
// and stops instances, and routes object updates to subscribers.
type Host struct {
	log        *zap.SugaredLogger
	version    *semver.Version
	sink       Sink
	dispatcher *notify.Dispatcher
	statePath  string

	mu        sync.RWMutex
	catalog   map[string]Descriptor
	instances map[string]*instance

	// subs has its own lock: producers subscribe from inside Start,
	// which already runs under mu.
	subMu sync.Mutex
	subs  map[string]map[string]*instance // object id -> instance id
}

// NewHost creates a host for the given hub version. statePath is the
// JSON file the instance table persists to; empty disables persistence.
func NewHost(log *zap.SugaredLogger, version string, sink Sink, dispatcher *notify.Dispatcher, statePath string) (*Host, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid hub version %q", version)
	}
	return &Host{
		log:        log,
		version:    v,
		sink:       sink,
		dispatcher: dispatcher,
		statePath:  statePath,
		catalog:    make(map[string]Descriptor),
		instances:  make(map[string]*instance),
		subs:       make(map[string]map[string]*instance),
	}, nil
}

// RegisterType adds a producer type to the catalog. A type whose
// HostVersion constraint the running hub does not satisfy is refused.
func (h *Host) RegisterType(desc Descriptor) error {
	if desc.Meta.Name == "" || desc.New == nil {
		return errors.New("producer type needs a name and a constructor")
	}
	if desc.Meta.HostVersion != "" {
		constraint, err := semver.NewConstraint(desc.Meta.HostVersion)
		if err != nil {
			return errors.Wrapf(err, "invalid host version constraint for %s", desc.Meta.Name)
		}
		if !constraint.Check(h.version) {
			return errors.Newf("producer %s requires hub %s, running %s",
				desc.Meta.Name, desc.Meta.HostVersion, h.version)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.catalog[desc.Meta.Name]; exists {
		return errors.Newf("producer type already registered: %s", desc.Meta.Name)
	}
	h.catalog[desc.Meta.Name] = desc
	return nil
}

// Catalog lists registered producer types sorted by name.
func (h *Host) Catalog() []Metadata {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Metadata, 0, len(h.catalog))
	for _, d := range h.catalog {
		out = append(out, d.Meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Instances lists the instance table sorted by id.
func (h *Host) Instances() []InstanceInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]InstanceInfo, 0, len(h.instances))
	for _, in := range h.instances {
		out = append(out, in.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (in *instance) info() InstanceInfo {
	return InstanceInfo{
		ID:      in.id,
		Type:    in.typ,
		Enabled: in.enabled,
		Running: in.running,
		Options: in.options,
	}
}

// CreateInstance adds a disabled instance of a registered type.
func (h *Host) CreateInstance(typeName string, options map[string]any) (InstanceInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.catalog[typeName]; !ok {
		return InstanceInfo{}, errors.Wrapf(errors.ErrNotFound, "producer type %s", typeName)
	}
	in := &instance{
		id:      uuid.NewString(),
		typ:     typeName,
		options: options,
	}
	h.instances[in.id] = in
	h.saveLocked()
	return in.info(), nil
}

// UpdateInstance replaces an instance's options. A running instance is
// restarted so the producer sees the new options.
func (h *Host) UpdateInstance(id string, options map[string]any) (InstanceInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	in, ok := h.instances[id]
	if !ok {
		return InstanceInfo{}, errors.Wrapf(errors.ErrNotFound, "producer instance %s", id)
	}
	if in.running {
		h.stopLocked(in, "reconfigured")
	}
	in.options = options
	if in.enabled {
		if err := h.startLocked(in); err != nil {
			h.log.Errorw("producer restart failed", "plugin", in.typ, "instance", in.id, "error", err)
		}
	}
	h.saveLocked()
	return in.info(), nil
}

// SetEnabled starts or stops an instance.
func (h *Host) SetEnabled(id string, enabled bool) (InstanceInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	in, ok := h.instances[id]
	if !ok {
		return InstanceInfo{}, errors.Wrapf(errors.ErrNotFound, "producer instance %s", id)
	}
	if in.enabled == enabled {
		return in.info(), nil
	}
	in.enabled = enabled
	if enabled {
		if err := h.startLocked(in); err != nil {
			in.enabled = false
			return InstanceInfo{}, err
		}
	} else {
		h.stopLocked(in, "disabled")
	}
	h.saveLocked()
	return in.info(), nil
}

// DeleteInstance stops and removes an instance.
func (h *Host) DeleteInstance(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	in, ok := h.instances[id]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "producer instance %s", id)
	}
	if in.running {
		h.stopLocked(in, "deleted")
	}
	delete(h.instances, id)
	h.saveLocked()
	return nil
}

// StartAll starts every enabled instance. Failures are logged, not
// fatal; one broken producer must not block startup.
func (h *Host) StartAll(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.instances))
	for id := range h.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		in := h.instances[id]
		if !in.enabled || in.running {
			continue
		}
		if err := h.startLocked(in); err != nil {
			h.log.Errorw("producer start failed", "plugin", in.typ, "instance", in.id, "error", err)
		}
	}
}

// StopAll stops every running instance, in reverse id order.
func (h *Host) StopAll(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.instances))
	for id := range h.instances {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	for _, id := range ids {
		if in := h.instances[id]; in.running {
			h.stopLocked(in, reason)
		}
	}
}

func (h *Host) startLocked(in *instance) error {
	desc, ok := h.catalog[in.typ]
	if !ok {
		return errors.Newf("producer type not registered: %s", in.typ)
	}
	producer := desc.New()
	pctx := h.newProducerContext(in)
	if th, ok := producer.(TimerHandler); ok {
		pctx.Resources.bindTimerHandler(th.OnTimer)
	}
	if err := producer.Start(pctx); err != nil {
		pctx.Resources.CancelAll()
		return errors.Wrapf(err, "start producer %s", in.typ)
	}
	in.producer = producer
	in.ctx = pctx
	in.running = true

	if nc, ok := producer.(NotificationConsumer); ok && h.dispatcher != nil {
		in.asConsume = &consumerAdapter{id: in.id, nc: nc}
		h.dispatcher.Subscribe(in.asConsume)
	}
	h.log.Infow("producer started", "plugin", in.typ, "instance", in.id)
	return nil
}

func (h *Host) stopLocked(in *instance, reason string) {
	if in.asConsume != nil && h.dispatcher != nil {
		h.dispatcher.Unsubscribe(in.id)
		in.asConsume = nil
	}
	h.subMu.Lock()
	for _, objectID := range in.subbed {
		if m := h.subs[objectID]; m != nil {
			delete(m, in.id)
			if len(m) == 0 {
				delete(h.subs, objectID)
			}
		}
	}
	in.subbed = nil
	h.subMu.Unlock()
	if in.ctx != nil {
		in.ctx.Resources.CancelAll()
	}
	if in.producer != nil {
		if err := in.producer.Stop(reason); err != nil {
			h.log.Warnw("producer stop failed", "plugin", in.typ, "instance", in.id, "error", err)
		}
	}
	in.producer = nil
	in.ctx = nil
	in.running = false
	h.log.Infow("producer stopped", "plugin", in.typ, "instance", in.id, "reason", reason)
}

// OnStateChange routes a state update to subscribed producers.
func (h *Host) OnStateChange(objectID, state string) {
	for _, in := range h.subscribers(objectID) {
		if handler, ok := in.producer.(StateChangeHandler); ok {
			handler.OnStateChange(objectID, state)
		}
	}
}

// OnObjectChange routes a structural update to subscribed producers.
func (h *Host) OnObjectChange(objectID string, obj map[string]any) {
	for _, in := range h.subscribers(objectID) {
		if handler, ok := in.producer.(ObjectChangeHandler); ok {
			handler.OnObjectChange(objectID, obj)
		}
	}
}

func (h *Host) subscribers(objectID string) []*instance {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	m := h.subs[objectID]
	out := make([]*instance, 0, len(m))
	for _, in := range m {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (h *Host) subscribe(in *instance, objectID string) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	if h.subs[objectID] == nil {
		h.subs[objectID] = make(map[string]*instance)
	}
	if _, dup := h.subs[objectID][in.id]; dup {
		return
	}
	h.subs[objectID][in.id] = in
	in.subbed = append(in.subbed, objectID)
}

// DispatchAction offers a custom action to producers until one claims
// it. Returns whether any producer handled the action.
func (h *Host) DispatchAction(ref string, action msg.Action) (bool, error) {
	h.mu.RLock()
	handlers := make([]*instance, 0)
	for _, in := range h.instances {
		if !in.running {
			continue
		}
		if _, ok := in.producer.(ActionHandler); ok {
			handlers = append(handlers, in)
		}
	}
	h.mu.RUnlock()
	sort.Slice(handlers, func(i, j int) bool { return handlers[i].id < handlers[j].id })

	for _, in := range handlers {
		handled, err := in.producer.(ActionHandler).OnAction(ref, action)
		if err != nil {
			h.log.Warnw("producer action handler failed",
				"plugin", in.typ, "instance", in.id, "ref", ref, "error", err)
			continue
		}
		if handled {
			return true, nil
		}
	}
	return false, nil
}

type persistedInstance struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Enabled bool           `json:"enabled"`
	Options map[string]any `json:"options,omitempty"`
}

// LoadInstances restores the instance table from the state file. Call
// before StartAll. Instances of unregistered types are kept disabled.
func (h *Host) LoadInstances() error {
	if h.statePath == "" {
		return nil
	}
	data, err := os.ReadFile(h.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "read producer instances")
	}
	var persisted []persistedInstance
	if err := json.Unmarshal(data, &persisted); err != nil {
		return errors.Wrap(err, "decode producer instances")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range persisted {
		in := &instance{id: p.ID, typ: p.Type, enabled: p.Enabled, options: p.Options}
		if _, known := h.catalog[p.Type]; !known {
			h.log.Warnw("producer type missing, instance kept disabled",
				"plugin", p.Type, "instance", p.ID)
			in.enabled = false
		}
		h.instances[in.id] = in
	}
	return nil
}

func (h *Host) saveLocked() {
	if h.statePath == "" {
		return
	}
	persisted := make([]persistedInstance, 0, len(h.instances))
	for _, in := range h.instances {
		persisted = append(persisted, persistedInstance{
			ID: in.id, Type: in.typ, Enabled: in.enabled, Options: in.options,
		})
	}
	sort.Slice(persisted, func(i, j int) bool { return persisted[i].ID < persisted[j].ID })

	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		h.log.Errorw("encode producer instances failed", "error", err)
		return
	}
	tmp := h.statePath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(h.statePath), 0o755); err != nil {
		h.log.Errorw("create instance state dir failed", "error", err)
		return
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		h.log.Errorw("write producer instances failed", "error", err)
		return
	}
	if err := os.Rename(tmp, h.statePath); err != nil {
		h.log.Errorw("replace producer instances failed", "error", err)
	}
}

// consumerAdapter presents a NotificationConsumer producer to the
// dispatcher under its instance id.
type consumerAdapter struct {
	id string
	nc NotificationConsumer
}

func (a *consumerAdapter) ID() string                   { return a.id }
func (a *consumerAdapter) Channel() string              { return a.nc.Channel() }
func (a *consumerAdapter) SupportsChannelRouting() bool { return a.nc.SupportsChannelRouting() }
func (a *consumerAdapter) OnNotifications(ev msg.Event, batch []*msg.Message) error {
	return a.nc.OnNotifications(ev, batch)
}
