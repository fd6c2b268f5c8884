// Package archive keeps a per-ref append-only event log of every message
// mutation. Records are JSONL lines; a ref's dots map to subdirectories
// (ref "home.kitchen.t1" lands in <base>/home/kitchen/t1.jsonl). Writes
// are buffered in memory and drained by a flush loop so archiving never
// blocks the mutation path; failures are logged, never propagated.
package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openhearth/hearth/errors"
	"github.com/openhearth/hearth/msg"
)

// EventType classifies an archive record.
type EventType string

const (
	EventCreate EventType = "create"
	EventPatch  EventType = "patch"
	EventDelete EventType = "delete"
)

// Reason sub-tags a delete record.
type Reason string

const (
	ReasonDeleted         Reason = "deleted"
	ReasonExpired         Reason = "expired"
	ReasonPurgeOnRecreate Reason = "purgeOnRecreate"
	ReasonPurge           Reason = "purge"
)

// Entry is one archived record. Create and delete carry a full message
// snapshot; patch carries the patch plus before/after snapshots.
type Entry struct {
	TS      int64        `json:"ts"`
	Event   EventType    `json:"event"`
	Reason  Reason       `json:"reason,omitempty"`
	Message *msg.Message `json:"message,omitempty"`
	Patch   *msg.Patch   `json:"patch,omitempty"`
	Before  *msg.Message `json:"before,omitempty"`
	After   *msg.Message `json:"after,omitempty"`
}

// Config tunes the archiver.
type Config struct {
	BaseDir           string
	FileExtension     string        // default ".jsonl"
	FlushInterval     time.Duration // default 2s
	KeepPreviousWeeks int           // 0 = keep forever
}

// Stats is the I/O summary surfaced by admin.stats.get.
type Stats struct {
	BaseDir     string `json:"baseDir"`
	Appends     int64  `json:"appends"`
	Failures    int64  `json:"failures"`
	LastFlushAt int64  `json:"lastFlushAt,omitempty"`
	Buffered    int    `json:"buffered"`
}

// Archiver buffers records per ref and drains them on an interval.
type Archiver struct {
	cfg Config
	log *zap.SugaredLogger
	now func() int64

	mu      sync.Mutex
	buffers map[string][][]byte
	stats   Stats

	lastRotate time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an archiver and starts its flush loop.
func New(cfg Config, log *zap.SugaredLogger) *Archiver {
	if cfg.FileExtension == "" {
		cfg.FileExtension = ".jsonl"
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Archiver{
		cfg:     cfg,
		log:     log,
		now:     msg.Now,
		buffers: make(map[string][][]byte),
		ctx:     ctx,
		cancel:  cancel,
	}
	a.stats.BaseDir = cfg.BaseDir
	a.wg.Add(1)
	go a.run()
	return a
}

// RecordCreate archives a full snapshot of a freshly created message.
func (a *Archiver) RecordCreate(m *msg.Message) {
	a.append(m.Ref, Entry{TS: a.now(), Event: EventCreate, Message: m.Clone()})
}

// RecordPatch archives a mutation with its before/after snapshots.
func (a *Archiver) RecordPatch(ref string, patch *msg.Patch, before, after *msg.Message) {
	a.append(ref, Entry{
		TS:     a.now(),
		Event:  EventPatch,
		Patch:  patch,
		Before: before.Clone(),
		After:  after.Clone(),
	})
}

// RecordDelete archives a removal snapshot with its reason sub-tag.
func (a *Archiver) RecordDelete(m *msg.Message, reason Reason) {
	a.append(m.Ref, Entry{TS: a.now(), Event: EventDelete, Reason: reason, Message: m.Clone()})
}

func (a *Archiver) append(ref string, e Entry) {
	line, err := json.Marshal(e)
	if err != nil {
		a.log.Errorw("archive record serialization failed", "ref", ref, "error", err)
		return
	}
	a.mu.Lock()
	a.buffers[ref] = append(a.buffers[ref], line)
	a.stats.Buffered++
	a.mu.Unlock()
}

// Flush drains all buffered records to disk.
func (a *Archiver) Flush() {
	a.mu.Lock()
	buffers := a.buffers
	a.buffers = make(map[string][][]byte)
	a.stats.Buffered = 0
	a.mu.Unlock()

	for ref, lines := range buffers {
		if err := a.appendLines(ref, lines); err != nil {
			a.log.Errorw("archive flush failed", "ref", ref, "error", err)
			a.mu.Lock()
			a.stats.Failures++
			// Requeue so the next window retries; order within a ref is kept.
			a.buffers[ref] = append(lines, a.buffers[ref]...)
			a.stats.Buffered += len(lines)
			a.mu.Unlock()
			continue
		}
		a.mu.Lock()
		a.stats.Appends += int64(len(lines))
		a.mu.Unlock()
	}
	a.mu.Lock()
	a.stats.LastFlushAt = a.now()
	a.mu.Unlock()
}

// Close flushes remaining records and stops the loop.
func (a *Archiver) Close(ctx context.Context) error {
	a.cancel()
	a.wg.Wait()
	done := make(chan struct{})
	go func() {
		a.Flush()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "archive flush timed out")
	}
}

// Stats returns a copy of the archiver counters.
func (a *Archiver) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Archiver) run() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.Flush()
			a.maybeRotate()
		}
	}
}

// PathFor maps a ref to its log file; dots become directories.
func (a *Archiver) PathFor(ref string) string {
	parts := strings.Split(ref, ".")
	return filepath.Join(append([]string{a.cfg.BaseDir}, parts...)...) + a.cfg.FileExtension
}

func (a *Archiver) appendLines(ref string, lines [][]byte) error {
	path := a.PathFor(ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create archive dir")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open archive file")
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := f.Write(append(line, '\n')); err != nil {
			return errors.Wrap(err, "append archive record")
		}
	}
	return nil
}

// ReadEntries decodes the full log for a ref, oldest first.
func (a *Archiver) ReadEntries(ref string) ([]Entry, error) {
	f, err := os.Open(a.PathFor(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "open archive file")
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, errors.Wrap(err, "decode archive record")
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scan archive file")
	}
	return entries, nil
}

// Replay reconstructs the final canonical state of a ref from its log.
// Rendered view fields are not archived and therefore not reconstructed.
func (a *Archiver) Replay(ref string) (*msg.Message, error) {
	entries, err := a.ReadEntries(ref)
	if err != nil {
		return nil, err
	}
	var state *msg.Message
	for _, e := range entries {
		switch e.Event {
		case EventCreate:
			state = e.Message
		case EventPatch:
			if e.After != nil {
				state = e.After
			}
		case EventDelete:
			if e.Message != nil {
				state = e.Message
			}
		}
	}
	return state, nil
}

// Size walks the archive directory and totals its bytes and files.
func (a *Archiver) Size() (bytes int64, files int, err error) {
	err = filepath.WalkDir(a.cfg.BaseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		bytes += info.Size()
		files++
		return nil
	})
	if err != nil && os.IsNotExist(err) {
		return 0, 0, nil
	}
	return bytes, files, err
}

// rotateEvery bounds how often the retention sweep walks the tree.
const rotateEvery = 6 * time.Hour

func (a *Archiver) maybeRotate() {
	if a.cfg.KeepPreviousWeeks <= 0 {
		return
	}
	if time.Since(a.lastRotate) < rotateEvery {
		return
	}
	a.lastRotate = time.Now()
	cutoff := time.Now().AddDate(0, 0, -7*a.cfg.KeepPreviousWeeks)
	err := filepath.WalkDir(a.cfg.BaseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if rerr := os.Remove(path); rerr != nil {
				a.log.Warnw("archive rotation remove failed", "path", path, "error", rerr)
			} else {
				a.log.Infow("archive log rotated out", "path", path)
			}
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		a.log.Warnw("archive rotation walk failed", "error", err)
	}
}
