package server

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/openhearth/hearth/config"
	"github.com/openhearth/hearth/errors"
	"github.com/openhearth/hearth/ingest"
	"github.com/openhearth/hearth/msg"
	"go.uber.org/zap"
)

// StateSettings is the per-object ingest configuration: whether a source
// object feeds the hub and how its readings are classified.
type StateSettings struct {
	Enabled    bool   `json:"enabled"`
	Kind       string `json:"kind,omitempty"`
	Level      *int   `json:"level,omitempty"`
	Channel    string `json:"channel,omitempty"`
	DebounceMs int64  `json:"debounceMs,omitempty"`
}

// Preset is a named, reusable settings bundle.
type Preset struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Settings  StateSettings `json:"settings"`
	UpdatedAt int64         `json:"updatedAt"`
}

// Change is one row of a bulk-apply preview.
type Change struct {
	ObjectID string         `json:"objectId"`
	Before   *StateSettings `json:"before,omitempty"`
	After    StateSettings  `json:"after"`
	Changed  bool           `json:"changed"`
}

// IngestStates holds per-object settings and presets, persisted as a
// single JSON file under the data dir.
type IngestStates struct {
	log  *zap.SugaredLogger
	path string
	now  func() int64

	mu      sync.Mutex
	custom  map[string]StateSettings
	presets map[string]Preset
}

type ingestStatesFile struct {
	Custom  map[string]StateSettings `json:"custom"`
	Presets map[string]Preset        `json:"presets"`
}

// NewIngestStates loads (or initializes) the settings store at path.
func NewIngestStates(log *zap.SugaredLogger, path string) (*IngestStates, error) {
	s := &IngestStates{
		log:     log,
		path:    path,
		now:     msg.Now,
		custom:  make(map[string]StateSettings),
		presets: make(map[string]Preset),
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read ingest states %s", path)
	}

	var f ingestStatesFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrapf(err, "parse ingest states %s", path)
	}
	if f.Custom != nil {
		s.custom = f.Custom
	}
	if f.Presets != nil {
		s.presets = f.Presets
	}
	return s, nil
}

// SettingsConstants lists the closed sets a settings form may choose from.
type SettingsConstants struct {
	Kinds  []msg.Kind  `json:"kinds"`
	Levels []msg.Level `json:"levels"`
}

func (s *IngestStates) Constants() SettingsConstants {
	return SettingsConstants{Kinds: msg.Kinds, Levels: msg.Levels}
}

// Schema describes the settings fields for UI form generation.
func (s *IngestStates) Schema() map[string]ingest.ConfigField {
	return map[string]ingest.ConfigField{
		"enabled": {
			Type:        "boolean",
			Description: "Whether this object feeds the hub",
			Required:    true,
		},
		"kind": {
			Type:        "string",
			Description: "Message kind produced from this object",
			Default:     string(msg.KindStatus),
		},
		"level": {
			Type:        "number",
			Description: "Severity level assigned to produced messages",
		},
		"channel": {
			Type:        "string",
			Description: "Audience channel stamped on produced messages",
		},
		"debounceMs": {
			Type:        "number",
			Description: "Minimum interval between produced updates",
			Default:     "0",
		},
	}
}

func validateSettings(st StateSettings) error {
	if st.Kind != "" && !msg.Kind(st.Kind).Valid() {
		return errors.Wrapf(errors.ErrBadRequest, "unknown kind %q", st.Kind)
	}
	if st.Level != nil && !msg.Level(*st.Level).Valid() {
		return errors.Wrapf(errors.ErrBadRequest, "unknown level %d", *st.Level)
	}
	if st.DebounceMs < 0 {
		return errors.Wrap(errors.ErrBadRequest, "debounceMs must not be negative")
	}
	return nil
}

// CustomRead returns the stored settings for the requested objects.
// Objects without settings are absent from the result.
func (s *IngestStates) CustomRead(objectIDs []string) map[string]StateSettings {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]StateSettings)
	for _, id := range objectIDs {
		if st, ok := s.custom[id]; ok {
			out[id] = st
		}
	}
	return out
}

// BulkPreview computes what BulkApply would change, without applying.
func (s *IngestStates) BulkPreview(objectIDs []string, settings StateSettings) ([]Change, error) {
	if err := validateSettings(settings); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changes := make([]Change, 0, len(objectIDs))
	for _, id := range sortedUnique(objectIDs) {
		ch := Change{ObjectID: id, After: settings, Changed: true}
		if before, ok := s.custom[id]; ok {
			b := before
			ch.Before = &b
			ch.Changed = !settingsEqual(before, settings)
		}
		changes = append(changes, ch)
	}
	return changes, nil
}

// BulkApply stores the settings for every listed object and persists.
// It returns the number of objects whose settings actually changed.
func (s *IngestStates) BulkApply(objectIDs []string, settings StateSettings) (int, error) {
	if err := validateSettings(settings); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, id := range sortedUnique(objectIDs) {
		if before, ok := s.custom[id]; ok && settingsEqual(before, settings) {
			continue
		}
		s.custom[id] = settings
		applied++
	}
	if applied > 0 {
		if err := s.saveLocked(); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

// Presets returns all presets sorted by name.
func (s *IngestStates) Presets() []Preset {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Preset, 0, len(s.presets))
	for _, p := range s.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Preset returns one preset by id.
func (s *IngestStates) Preset(id string) (Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.presets[id]
	if !ok {
		return Preset{}, errors.Wrapf(errors.ErrNotFound, "preset %s", id)
	}
	return p, nil
}

// UpsertPreset creates or replaces a preset. A missing id means create.
func (s *IngestStates) UpsertPreset(p Preset) (Preset, error) {
	if p.Name == "" {
		return Preset{}, errors.Wrap(errors.ErrBadRequest, "preset name is required")
	}
	if err := validateSettings(p.Settings); err != nil {
		return Preset{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	} else if _, ok := s.presets[p.ID]; !ok {
		return Preset{}, errors.Wrapf(errors.ErrNotFound, "preset %s", p.ID)
	}
	p.UpdatedAt = s.now()
	s.presets[p.ID] = p

	if err := s.saveLocked(); err != nil {
		return Preset{}, err
	}
	return p, nil
}

// DeletePreset removes a preset by id.
func (s *IngestStates) DeletePreset(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presets[id]; !ok {
		return errors.Wrapf(errors.ErrNotFound, "preset %s", id)
	}
	delete(s.presets, id)
	return s.saveLocked()
}

func (s *IngestStates) saveLocked() error {
	raw, err := json.MarshalIndent(ingestStatesFile{Custom: s.custom, Presets: s.presets}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal ingest states")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), config.DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "create dir for %s", s.path)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, config.DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrapf(err, "rename %s", tmp)
	}
	return nil
}

func settingsEqual(a, b StateSettings) bool {
	if a.Enabled != b.Enabled || a.Kind != b.Kind || a.Channel != b.Channel || a.DebounceMs != b.DebounceMs {
		return false
	}
	if (a.Level == nil) != (b.Level == nil) {
		return false
	}
	return a.Level == nil || *a.Level == *b.Level
}

func sortedUnique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
