package server

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhearth/hearth/archive"
	"github.com/openhearth/hearth/config"
	"github.com/openhearth/hearth/ingest"
	"github.com/openhearth/hearth/logger"
	"github.com/openhearth/hearth/msg"
	"github.com/openhearth/hearth/notify"
	"github.com/openhearth/hearth/render"
	"github.com/openhearth/hearth/storage"
	"github.com/openhearth/hearth/store"
)

type harness struct {
	clock  int64
	server *Server
	store  *store.Store
	host   *ingest.Host
	dir    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{clock: 1_000_000, dir: t.TempDir()}

	factory := msg.NewFactory(logger.Logger)
	factory.Now = func() int64 { return h.clock }

	writer := storage.NewWriter(filepath.Join(h.dir, "messages.json"), time.Hour, logger.Logger)
	archiver := archive.New(archive.Config{
		BaseDir:       filepath.Join(h.dir, "archive"),
		FlushInterval: time.Hour,
	}, logger.Logger)
	dispatcher := notify.NewDispatcher(logger.Logger)

	h.store = store.New(logger.Logger, factory, render.New(render.DefaultLocale()),
		writer, archiver, dispatcher, store.Options{Retention: 7 * 24 * time.Hour})
	h.store.Start(context.Background())
	t.Cleanup(func() { _ = h.store.Close(context.Background()) })

	host, err := ingest.NewHost(logger.Logger, "1.0.0", h.store, dispatcher,
		filepath.Join(h.dir, "producers.json"))
	require.NoError(t, err)
	h.host = host

	states, err := NewIngestStates(logger.Logger, filepath.Join(h.dir, "ingest_states.json"))
	require.NoError(t, err)

	h.server = New(logger.Logger, config.ServerConfig{MaxClients: 4}, h.store, host, archiver, states)
	h.server.SetReady()
	return h
}

func (h *harness) dispatch(t *testing.T, cmd string, payload any) *Response {
	t.Helper()
	req := &Request{ID: "req-1", Cmd: cmd}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		req.Payload = raw
	}
	return h.server.dispatch(req)
}

func (h *harness) addMessage(t *testing.T, ref string, mutate func(*msg.Incoming)) {
	t.Helper()
	level := msg.LevelInfo
	in := &msg.Incoming{
		Ref:    ref,
		Title:  "title",
		Text:   "text",
		Kind:   msg.KindTask,
		Level:  &level,
		Origin: msg.Origin{Type: msg.OriginAutomation},
	}
	if mutate != nil {
		mutate(in)
	}
	require.True(t, h.store.AddMessage(in))
}

func requireCode(t *testing.T, resp *Response, code string) {
	t.Helper()
	require.False(t, resp.OK)
	require.NotNil(t, resp.Err)
	assert.Equal(t, code, resp.Err.Code)
	assert.NotEmpty(t, resp.Err.Message)
}

func TestNotReadyGate(t *testing.T) {
	h := newHarness(t)
	h.server.ready.Store(false)

	resp := h.dispatch(t, "admin.constants.get", nil)
	requireCode(t, resp, CodeNotReady)

	h.server.SetReady()
	resp = h.dispatch(t, "admin.constants.get", nil)
	require.True(t, resp.OK)
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	resp := h.dispatch(t, "admin.bogus", nil)
	requireCode(t, resp, CodeBadRequest)
}

func TestConstantsGet(t *testing.T) {
	h := newHarness(t)
	resp := h.dispatch(t, "admin.constants.get", nil)
	require.True(t, resp.OK)

	doc, ok := resp.Data.(msg.ConstantsDoc)
	require.True(t, ok)
	assert.Equal(t, msg.Kinds, doc.Kinds)
	assert.Equal(t, msg.States, doc.States)
}

func TestStatsIncludesArchiveSize(t *testing.T) {
	h := newHarness(t)
	h.addMessage(t, "garden.water", nil)

	resp := h.dispatch(t, "admin.stats.get", map[string]any{
		"include": map[string]any{"archiveSize": true, "archiveSizeMaxAgeMs": 60_000},
	})
	require.True(t, resp.OK)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var data struct {
		Stats       store.Stats  `json:"stats"`
		ArchiveSize *archiveSize `json:"archiveSize"`
	}
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, 1, data.Stats.Current.Total)
	require.NotNil(t, data.ArchiveSize)

	// A second request inside the max age hits the cache.
	first := *data.ArchiveSize
	resp = h.dispatch(t, "admin.stats.get", map[string]any{
		"include": map[string]any{"archiveSize": true, "archiveSizeMaxAgeMs": 60_000},
	})
	require.True(t, resp.OK)
	raw, err = json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, first.ComputedAt, data.ArchiveSize.ComputedAt)
}

func TestStatsWithoutPayload(t *testing.T) {
	h := newHarness(t)
	h.addMessage(t, "garden.water", nil)

	resp := h.dispatch(t, "admin.stats.get", nil)
	require.True(t, resp.OK)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var data struct {
		Stats store.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, 1, data.Stats.Current.ByLifecycle["open"])
	assert.NotEmpty(t, data.Stats.Current.ByOriginSystem)
	assert.NotEmpty(t, data.Stats.Meta.TZ)
	assert.NotZero(t, data.Stats.Meta.GeneratedAt)
}

func TestMessagesQuery(t *testing.T) {
	h := newHarness(t)
	h.addMessage(t, "garden.water", nil)
	h.addMessage(t, "kitchen.dishwasher", func(in *msg.Incoming) { in.Kind = msg.KindStatus })

	resp := h.dispatch(t, "admin.messages.query", map[string]any{
		"where": map[string]any{"kind": "task"},
	})
	require.True(t, resp.OK)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result struct {
		Total int `json:"total"`
		Items []struct {
			Ref string `json:"ref"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, 1, result.Total)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "garden.water", result.Items[0].Ref)
}

func TestMessagesQueryBadFilter(t *testing.T) {
	h := newHarness(t)
	resp := h.dispatch(t, "admin.messages.query", map[string]any{
		"where": map[string]any{"kind": map[string]any{
			"in":    []string{"task"},
			"notIn": []string{"status"},
		}},
	})
	requireCode(t, resp, CodeBadRequest)
}

func TestMessagesDelete(t *testing.T) {
	h := newHarness(t)
	h.addMessage(t, "garden.water", nil)

	resp := h.dispatch(t, "admin.messages.delete", map[string]any{
		"refs": []string{"garden.water", "no.such.ref"},
	})
	require.True(t, resp.OK)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var data struct {
		Removed int      `json:"removed"`
		Missing []string `json:"missing"`
	}
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, 1, data.Removed)
	assert.Equal(t, []string{"no.such.ref"}, data.Missing)

	assert.Nil(t, h.store.GetMessageByRef("garden.water", false))

	resp = h.dispatch(t, "admin.messages.delete", map[string]any{"refs": []string{}})
	requireCode(t, resp, CodeBadRequest)
}

func TestMessagesActionAck(t *testing.T) {
	h := newHarness(t)
	h.addMessage(t, "garden.water", nil)

	resp := h.dispatch(t, "admin.messages.action", map[string]any{
		"ref":    "garden.water",
		"action": map[string]any{"type": "ack"},
		"by":     "operator",
	})
	require.True(t, resp.OK)

	m := h.store.GetMessageByRef("garden.water", false)
	require.NotNil(t, m)
	assert.Equal(t, msg.StateAcked, m.Lifecycle.State)
}

func TestMessagesActionNotFound(t *testing.T) {
	h := newHarness(t)
	resp := h.dispatch(t, "admin.messages.action", map[string]any{
		"ref":    "no.such.ref",
		"action": map[string]any{"type": "ack"},
	})
	requireCode(t, resp, CodeNotFound)
}

func TestMessagesActionNotAllowed(t *testing.T) {
	h := newHarness(t)
	h.addMessage(t, "door.front", func(in *msg.Incoming) {
		in.Actions = []msg.Action{{Type: msg.ActionClose, ID: "close"}}
	})

	resp := h.dispatch(t, "admin.messages.action", map[string]any{
		"ref":    "door.front",
		"action": map[string]any{"type": "ack"},
	})
	requireCode(t, resp, CodeConflict)
}

type actionProducer struct {
	handled []string
}

func (p *actionProducer) Start(ctx *ingest.ProducerContext) error { return nil }
func (p *actionProducer) Stop(reason string) error                { return nil }
func (p *actionProducer) OnAction(ref string, action msg.Action) (bool, error) {
	p.handled = append(p.handled, ref+":"+action.ID)
	return true, nil
}

func TestMessagesActionCustom(t *testing.T) {
	h := newHarness(t)
	prod := &actionProducer{}
	require.NoError(t, h.host.RegisterType(ingest.Descriptor{
		Meta: ingest.Metadata{Name: "doorbell", Version: "1.0.0"},
		New:  func() ingest.Producer { return prod },
	}))

	h.addMessage(t, "door.front", func(in *msg.Incoming) {
		in.Actions = []msg.Action{{Type: msg.ActionCustom, ID: "unlock"}}
	})

	// No running producer handles the action yet.
	resp := h.dispatch(t, "admin.messages.action", map[string]any{
		"ref":    "door.front",
		"action": map[string]any{"type": "custom", "id": "unlock"},
	})
	requireCode(t, resp, CodeBadRequest)

	created := h.dispatch(t, "admin.plugins.createInstance", map[string]any{"type": "doorbell"})
	require.True(t, created.OK)
	info, ok := created.Data.(ingest.InstanceInfo)
	require.True(t, ok)

	enabled := h.dispatch(t, "admin.plugins.setEnabled", map[string]any{"id": info.ID, "enabled": true})
	require.True(t, enabled.OK)
	t.Cleanup(func() { h.host.StopAll("test done") })

	resp = h.dispatch(t, "admin.messages.action", map[string]any{
		"ref":    "door.front",
		"action": map[string]any{"type": "custom", "id": "unlock"},
	})
	require.True(t, resp.OK)
	assert.Equal(t, []string{"door.front:unlock"}, prod.handled)
}

func TestPluginSurface(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.host.RegisterType(ingest.Descriptor{
		Meta: ingest.Metadata{Name: "webhook", Version: "0.3.0"},
		New:  func() ingest.Producer { return &actionProducer{} },
	}))

	resp := h.dispatch(t, "admin.plugins.getCatalog", nil)
	require.True(t, resp.OK)
	catalog, ok := resp.Data.([]ingest.Metadata)
	require.True(t, ok)
	require.Len(t, catalog, 1)
	assert.Equal(t, "webhook", catalog[0].Name)

	created := h.dispatch(t, "admin.plugins.createInstance", map[string]any{
		"type":    "webhook",
		"options": map[string]any{"path": "/hook"},
	})
	require.True(t, created.OK)
	info := created.Data.(ingest.InstanceInfo)
	assert.False(t, info.Enabled)

	updated := h.dispatch(t, "admin.plugins.updateInstance", map[string]any{
		"id":      info.ID,
		"options": map[string]any{"path": "/hook2"},
	})
	require.True(t, updated.OK)

	listed := h.dispatch(t, "admin.plugins.listInstances", nil)
	require.True(t, listed.OK)
	require.Len(t, listed.Data.([]ingest.InstanceInfo), 1)

	deleted := h.dispatch(t, "admin.plugins.deleteInstance", map[string]any{"id": info.ID})
	require.True(t, deleted.OK)

	missing := h.dispatch(t, "admin.plugins.deleteInstance", map[string]any{"id": info.ID})
	requireCode(t, missing, CodeNotFound)
}

func TestHandlerPanicIsInternal(t *testing.T) {
	h := newHarness(t)
	h.server.host = nil

	resp := h.dispatch(t, "admin.plugins.getCatalog", nil)
	requireCode(t, resp, CodeInternal)
}

func TestMalformedPayload(t *testing.T) {
	h := newHarness(t)
	resp := h.server.dispatch(&Request{
		ID:      "req-1",
		Cmd:     "admin.messages.delete",
		Payload: json.RawMessage(`{"refs": "not-an-array"}`),
	})
	requireCode(t, resp, CodeBadRequest)
}
