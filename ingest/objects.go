package ingest

import (
	"sort"
	"sync"

	"github.com/openhearth/hearth/msg"
)

// ManagedObject is an external state id a producer has claimed, e.g.
// a device entity or a webhook endpoint it created.
type ManagedObject struct {
	ID       string `json:"id"`
	Note     string `json:"note,omitempty"`
	MarkedAt int64  `json:"markedAt"`
}

// ManagedObjects is the per-instance registry of claimed ids.
type ManagedObjects struct {
	mu      sync.Mutex
	now     func() int64
	entries map[string]ManagedObject
}

func newManagedObjects(now func() int64) *ManagedObjects {
	if now == nil {
		now = msg.Now
	}
	return &ManagedObjects{
		now:     now,
		entries: make(map[string]ManagedObject),
	}
}

// Mark claims an object id; marking an id again updates the note.
func (m *ManagedObjects) Mark(id, note string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		entry = ManagedObject{ID: id, MarkedAt: m.now()}
	}
	entry.Note = note
	m.entries[id] = entry
}

// Unmark releases a claimed id.
func (m *ManagedObjects) Unmark(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
}

// List returns claimed objects sorted by id.
func (m *ManagedObjects) List() []ManagedObject {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ManagedObject, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
