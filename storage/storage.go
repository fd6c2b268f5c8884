// Package storage persists the canonical message list as a single JSON
// blob. Writes are coalesced: mutations mark the snapshot dirty and a
// background loop writes at most once per interval, so mutation latency
// never couples to disk latency. The in-memory list stays the source of
// truth; write failures are logged and retried on the next window.
package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openhearth/hearth/errors"
	"github.com/openhearth/hearth/msg"
)

// DefaultWriteInterval matches the ~1s coalescing window of the hub.
const DefaultWriteInterval = time.Second

// Stats is the I/O summary surfaced by admin.stats.get.
type Stats struct {
	Path          string `json:"path"`
	Writes        int64  `json:"writes"`
	Failures      int64  `json:"failures"`
	LastWriteAt   int64  `json:"lastWriteAt,omitempty"`
	LastErrorAt   int64  `json:"lastErrorAt,omitempty"`
	LastError     string `json:"lastError,omitempty"`
	SnapshotBytes int64  `json:"snapshotBytes"`
}

// Writer owns the snapshot file. All writes funnel through a single
// background goroutine; Schedule never blocks on I/O.
type Writer struct {
	path     string
	interval time.Duration
	log      *zap.SugaredLogger

	mu      sync.Mutex
	pending []byte
	dirty   bool
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter creates a snapshot writer for path and starts its flush loop.
func NewWriter(path string, interval time.Duration, log *zap.SugaredLogger) *Writer {
	if interval <= 0 {
		interval = DefaultWriteInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		path:     path,
		interval: interval,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	w.stats.Path = path
	w.wg.Add(1)
	go w.run()
	return w
}

// Schedule records the list as the next snapshot to persist. The latest
// scheduled snapshot wins; serialization happens here so the bytes
// reflect the list at mutation time.
func (w *Writer) Schedule(list []*msg.Message) {
	data, err := json.Marshal(list)
	if err != nil {
		// Cannot happen for the canonical model; log and keep the old snapshot.
		w.log.Errorw("snapshot serialization failed", "error", err)
		return
	}
	w.mu.Lock()
	w.pending = data
	w.dirty = true
	w.mu.Unlock()
}

// FlushPending forces a best-effort synchronous write of the latest
// snapshot. Used on shutdown; respects ctx as the time bound.
func (w *Writer) FlushPending(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- w.writeIfDirty() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "snapshot flush timed out")
	}
}

// Close stops the flush loop after a final best-effort write.
func (w *Writer) Close(ctx context.Context) error {
	w.cancel()
	w.wg.Wait()
	return w.FlushPending(ctx)
}

// ReadSnapshot returns the last persisted list, or def when no snapshot
// exists yet or the file cannot be decoded.
func (w *Writer) ReadSnapshot(def []*msg.Message) []*msg.Message {
	return ReadSnapshot(w.path, def, w.log)
}

// ReadSnapshot loads a snapshot file directly; first run and decode
// failures fall back to def.
func ReadSnapshot(path string, def []*msg.Message, log *zap.SugaredLogger) []*msg.Message {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) && log != nil {
			log.Warnw("snapshot unreadable, starting from default", "path", path, "error", err)
		}
		return def
	}
	var list []*msg.Message
	if err := json.Unmarshal(data, &list); err != nil {
		if log != nil {
			log.Errorw("snapshot corrupt, starting from default", "path", path, "error", err)
		}
		return def
	}
	return list
}

// Stats returns a copy of the I/O counters.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Writer) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.writeIfDirty(); err != nil {
				w.log.Errorw("snapshot write failed", "path", w.path, "error", err)
			}
		}
	}
}

func (w *Writer) writeIfDirty() error {
	w.mu.Lock()
	if !w.dirty {
		w.mu.Unlock()
		return nil
	}
	data := w.pending
	w.dirty = false
	w.mu.Unlock()

	err := atomicWrite(w.path, data)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.stats.Failures++
		w.stats.LastErrorAt = msg.Now()
		w.stats.LastError = err.Error()
		// Keep the snapshot dirty so the next window retries.
		w.dirty = true
		return err
	}
	w.stats.Writes++
	w.stats.LastWriteAt = msg.Now()
	w.stats.SnapshotBytes = int64(len(data))
	return nil
}

// atomicWrite writes via temp file + rename so a crash never leaves a
// truncated snapshot behind.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create snapshot dir")
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp snapshot")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "write temp snapshot")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "close temp snapshot")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "replace snapshot")
	}
	return nil
}
