package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openhearth/hearth/errors"
	"github.com/openhearth/hearth/msg"
	"github.com/openhearth/hearth/query"
	"github.com/openhearth/hearth/store"
)

// defaultArchiveSizeMaxAge bounds how stale a cached archive size may be
// when the caller does not pass archiveSizeMaxAgeMs.
const defaultArchiveSizeMaxAge = 5 * time.Minute

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.Wrap(errors.ErrBadRequest, "missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(errors.ErrBadRequest, "malformed payload: %v", err)
	}
	return nil
}

// dispatch routes one request envelope to its handler. Panics are
// contained here so a bad handler never takes down the read pump.
func (s *Server) dispatch(req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("Handler panic", "cmd", req.Cmd, "panic", r)
			resp = codeResponse(req.ID, CodeInternal, fmt.Sprintf("internal error handling %s", req.Cmd))
		}
	}()

	if !s.ready.Load() {
		return errResponse(req.ID, errors.Wrapf(errors.ErrNotReady, "command %s", req.Cmd))
	}

	switch req.Cmd {
	case "admin.constants.get":
		return okResponse(req.ID, msg.Constants())
	case "admin.stats.get":
		return s.handleStats(req)
	case "admin.messages.query":
		return s.handleMessagesQuery(req)
	case "admin.messages.delete":
		return s.handleMessagesDelete(req)
	case "admin.messages.action":
		return s.handleMessagesAction(req)
	case "admin.plugins.getCatalog":
		return okResponse(req.ID, s.host.Catalog())
	case "admin.plugins.listInstances":
		return okResponse(req.ID, s.host.Instances())
	case "admin.plugins.createInstance":
		return s.handlePluginCreate(req)
	case "admin.plugins.updateInstance":
		return s.handlePluginUpdate(req)
	case "admin.plugins.setEnabled":
		return s.handlePluginSetEnabled(req)
	case "admin.plugins.deleteInstance":
		return s.handlePluginDelete(req)
	case "admin.ingestStates.constants":
		return okResponse(req.ID, s.states.Constants())
	case "admin.ingestStates.schema":
		return okResponse(req.ID, s.states.Schema())
	case "admin.ingestStates.custom.read":
		return s.handleStatesCustomRead(req)
	case "admin.ingestStates.bulkApply.preview":
		return s.handleStatesBulkPreview(req)
	case "admin.ingestStates.bulkApply.apply":
		return s.handleStatesBulkApply(req)
	case "admin.ingestStates.presets.list":
		return okResponse(req.ID, s.states.Presets())
	case "admin.ingestStates.presets.get":
		return s.handlePresetGet(req)
	case "admin.ingestStates.presets.upsert":
		return s.handlePresetUpsert(req)
	case "admin.ingestStates.presets.delete":
		return s.handlePresetDelete(req)
	}
	return codeResponse(req.ID, CodeBadRequest, "unknown command: "+req.Cmd)
}

type statsPayload struct {
	Include struct {
		ArchiveSize         bool  `json:"archiveSize"`
		ArchiveSizeMaxAgeMs int64 `json:"archiveSizeMaxAgeMs"`
	} `json:"include"`
}

func (s *Server) handleStats(req *Request) *Response {
	var p statsPayload
	if len(req.Payload) > 0 {
		if err := decodePayload(req.Payload, &p); err != nil {
			return errResponse(req.ID, err)
		}
	}

	data := struct {
		Stats       any          `json:"stats"`
		ArchiveSize *archiveSize `json:"archiveSize,omitempty"`
	}{Stats: s.store.Stats()}

	if p.Include.ArchiveSize {
		maxAge := defaultArchiveSizeMaxAge
		if p.Include.ArchiveSizeMaxAgeMs > 0 {
			maxAge = time.Duration(p.Include.ArchiveSizeMaxAgeMs) * time.Millisecond
		}
		size, err := s.archiveSizeFor(maxAge, msg.Now())
		if err != nil {
			s.log.Warnw("Archive size walk failed", "error", err)
		} else {
			data.ArchiveSize = size
		}
	}
	return okResponse(req.ID, data)
}

func (s *Server) handleMessagesQuery(req *Request) *Response {
	spec := &query.Spec{}
	if len(req.Payload) > 0 {
		if err := decodePayload(req.Payload, spec); err != nil {
			return errResponse(req.ID, err)
		}
	}

	result, err := s.store.QueryMessages(spec)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, result)
}

type deletePayload struct {
	Refs []string `json:"refs"`
}

func (s *Server) handleMessagesDelete(req *Request) *Response {
	var p deletePayload
	if err := decodePayload(req.Payload, &p); err != nil {
		return errResponse(req.ID, err)
	}
	if len(p.Refs) == 0 {
		return errResponse(req.ID, errors.Wrap(errors.ErrBadRequest, "refs must not be empty"))
	}

	removed := 0
	var missing []string
	for _, ref := range p.Refs {
		if s.store.RemoveMessage(ref) {
			removed++
		} else {
			missing = append(missing, ref)
		}
	}
	return okResponse(req.ID, struct {
		Removed int      `json:"removed"`
		Missing []string `json:"missing,omitempty"`
	}{Removed: removed, Missing: missing})
}

type actionPayload struct {
	Ref    string     `json:"ref"`
	Action msg.Action `json:"action"`
	By     string     `json:"by,omitempty"`
}

func (s *Server) handleMessagesAction(req *Request) *Response {
	var p actionPayload
	if err := decodePayload(req.Payload, &p); err != nil {
		return errResponse(req.ID, err)
	}
	if p.Ref == "" || p.Action.Type == "" {
		return errResponse(req.ID, errors.Wrap(errors.ErrBadRequest, "ref and action.type are required"))
	}

	m := s.store.GetMessageByRef(p.Ref, false)
	if m == nil {
		return errResponse(req.ID, errors.Wrapf(errors.ErrNotFound, "message %s", p.Ref))
	}

	// Link and custom actions are owned by the producing plugin, not
	// the lifecycle machine.
	if p.Action.Type == msg.ActionLink || p.Action.Type == msg.ActionCustom {
		handled, err := s.host.DispatchAction(p.Ref, p.Action)
		if err != nil {
			return errResponse(req.ID, err)
		}
		if !handled {
			return errResponse(req.ID, errors.Wrapf(errors.ErrBadRequest,
				"no producer handled action %s on %s", p.Action.Type, p.Ref))
		}
		return okResponse(req.ID, struct {
			Handled bool `json:"handled"`
		}{Handled: true})
	}

	if !store.Allowed(m, p.Action.Type) {
		return errResponse(req.ID, errors.Wrapf(errors.ErrConflict,
			"action %s not allowed on %s", p.Action.Type, p.Ref))
	}

	patch, err := store.ActionPatch(p.Action, p.By, msg.Now())
	if err != nil {
		return errResponse(req.ID, err)
	}
	if !s.store.UpdateMessage(p.Ref, patch, false) {
		return errResponse(req.ID, errors.Wrapf(errors.ErrNotFound, "message %s", p.Ref))
	}
	return okResponse(req.ID, s.store.GetMessageByRef(p.Ref, true))
}

type pluginCreatePayload struct {
	Type    string         `json:"type"`
	Options map[string]any `json:"options,omitempty"`
}

func (s *Server) handlePluginCreate(req *Request) *Response {
	var p pluginCreatePayload
	if err := decodePayload(req.Payload, &p); err != nil {
		return errResponse(req.ID, err)
	}
	info, err := s.host.CreateInstance(p.Type, p.Options)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, info)
}

type pluginUpdatePayload struct {
	ID      string         `json:"id"`
	Options map[string]any `json:"options"`
}

func (s *Server) handlePluginUpdate(req *Request) *Response {
	var p pluginUpdatePayload
	if err := decodePayload(req.Payload, &p); err != nil {
		return errResponse(req.ID, err)
	}
	info, err := s.host.UpdateInstance(p.ID, p.Options)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, info)
}

type pluginEnablePayload struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handlePluginSetEnabled(req *Request) *Response {
	var p pluginEnablePayload
	if err := decodePayload(req.Payload, &p); err != nil {
		return errResponse(req.ID, err)
	}
	info, err := s.host.SetEnabled(p.ID, p.Enabled)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, info)
}

type pluginDeletePayload struct {
	ID string `json:"id"`
}

func (s *Server) handlePluginDelete(req *Request) *Response {
	var p pluginDeletePayload
	if err := decodePayload(req.Payload, &p); err != nil {
		return errResponse(req.ID, err)
	}
	if err := s.host.DeleteInstance(p.ID); err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, struct {
		Deleted bool `json:"deleted"`
	}{Deleted: true})
}

type statesReadPayload struct {
	ObjectIDs []string `json:"objectIds"`
}

func (s *Server) handleStatesCustomRead(req *Request) *Response {
	var p statesReadPayload
	if err := decodePayload(req.Payload, &p); err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, s.states.CustomRead(p.ObjectIDs))
}

type bulkApplyPayload struct {
	ObjectIDs []string      `json:"objectIds"`
	Settings  StateSettings `json:"settings"`
}

func (s *Server) handleStatesBulkPreview(req *Request) *Response {
	var p bulkApplyPayload
	if err := decodePayload(req.Payload, &p); err != nil {
		return errResponse(req.ID, err)
	}
	changes, err := s.states.BulkPreview(p.ObjectIDs, p.Settings)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, changes)
}

func (s *Server) handleStatesBulkApply(req *Request) *Response {
	var p bulkApplyPayload
	if err := decodePayload(req.Payload, &p); err != nil {
		return errResponse(req.ID, err)
	}
	applied, err := s.states.BulkApply(p.ObjectIDs, p.Settings)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, struct {
		Applied int `json:"applied"`
	}{Applied: applied})
}

type presetIDPayload struct {
	ID string `json:"id"`
}

func (s *Server) handlePresetGet(req *Request) *Response {
	var p presetIDPayload
	if err := decodePayload(req.Payload, &p); err != nil {
		return errResponse(req.ID, err)
	}
	preset, err := s.states.Preset(p.ID)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, preset)
}

func (s *Server) handlePresetUpsert(req *Request) *Response {
	var p Preset
	if err := decodePayload(req.Payload, &p); err != nil {
		return errResponse(req.ID, err)
	}
	preset, err := s.states.UpsertPreset(p)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, preset)
}

func (s *Server) handlePresetDelete(req *Request) *Response {
	var p presetIDPayload
	if err := decodePayload(req.Payload, &p); err != nil {
		return errResponse(req.ID, err)
	}
	if err := s.states.DeletePreset(p.ID); err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, struct {
		Deleted bool `json:"deleted"`
	}{Deleted: true})
}
