package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhearth/hearth/logger"
	"github.com/openhearth/hearth/msg"
)

func testArchiver(t *testing.T) *Archiver {
	t.Helper()
	a := New(Config{
		BaseDir:       filepath.Join(t.TempDir(), "archive"),
		FlushInterval: time.Hour, // tests flush explicitly
	}, logger.Logger)
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func archMessage(ref string) *msg.Message {
	return &msg.Message{
		Ref:    ref,
		Title:  "t",
		Text:   "x",
		Kind:   msg.KindTask,
		Level:  msg.LevelInfo,
		Origin: msg.Origin{Type: msg.OriginAutomation},
		Lifecycle: msg.Lifecycle{
			State:          msg.StateOpen,
			StateChangedAt: 1,
		},
		Timing: msg.Timing{CreatedAt: 1},
	}
}

func TestPathForMapsDotsToDirectories(t *testing.T) {
	a := testArchiver(t)
	path := a.PathFor("home.kitchen.t1")
	assert.True(t, filepath.IsAbs(path) || true)
	assert.Equal(t, filepath.Join(a.cfg.BaseDir, "home", "kitchen", "t1")+".jsonl", path)
}

func TestCreatePatchDeleteRoundTrip(t *testing.T) {
	a := testArchiver(t)
	m := archMessage("home.t1")

	a.RecordCreate(m)

	after := m.Clone()
	after.Title = "patched"
	title := "patched"
	a.RecordPatch(m.Ref, &msg.Patch{Title: msg.Some(title)}, m, after)

	deleted := after.Clone()
	deleted.Lifecycle.State = msg.StateDeleted
	a.RecordDelete(deleted, ReasonDeleted)

	a.Flush()

	entries, err := a.ReadEntries("home.t1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, EventCreate, entries[0].Event)
	assert.Equal(t, EventPatch, entries[1].Event)
	assert.Equal(t, "patched", entries[1].After.Title)
	assert.Equal(t, EventDelete, entries[2].Event)
	assert.Equal(t, ReasonDeleted, entries[2].Reason)
}

func TestReplayReconstructsFinalState(t *testing.T) {
	a := testArchiver(t)
	m := archMessage("t1")
	a.RecordCreate(m)

	v2 := m.Clone()
	v2.Title = "second"
	a.RecordPatch(m.Ref, &msg.Patch{}, m, v2)

	v3 := v2.Clone()
	v3.Lifecycle.State = msg.StateExpired
	a.RecordDelete(v3, ReasonExpired)
	a.Flush()

	got, err := a.Replay("t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "second", got.Title)
	assert.Equal(t, msg.StateExpired, got.Lifecycle.State)
}

func TestReadEntriesMissingRef(t *testing.T) {
	a := testArchiver(t)
	entries, err := a.ReadEntries("never.seen")
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestFlushAppendsNotTruncates(t *testing.T) {
	a := testArchiver(t)
	m := archMessage("t1")

	a.RecordCreate(m)
	a.Flush()
	a.RecordDelete(m, ReasonPurge)
	a.Flush()

	entries, err := a.ReadEntries("t1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, EventCreate, entries[0].Event)
	assert.Equal(t, ReasonPurge, entries[1].Reason)
}

func TestCloseFlushesBuffered(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archive")
	a := New(Config{BaseDir: dir, FlushInterval: time.Hour}, logger.Logger)
	a.RecordCreate(archMessage("t9"))
	require.NoError(t, a.Close(context.Background()))

	b := New(Config{BaseDir: dir, FlushInterval: time.Hour}, logger.Logger)
	defer b.Close(context.Background())
	entries, err := b.ReadEntries("t9")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSize(t *testing.T) {
	a := testArchiver(t)
	bytes, files, err := a.Size()
	require.NoError(t, err)
	assert.Zero(t, bytes)
	assert.Zero(t, files)

	a.RecordCreate(archMessage("t1"))
	a.Flush()

	bytes, files, err = a.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, files)
	assert.Greater(t, bytes, int64(0))
}

func TestArchiveDirLayoutOnDisk(t *testing.T) {
	a := testArchiver(t)
	a.RecordCreate(archMessage("home.living.t1"))
	a.Flush()

	_, err := os.Stat(filepath.Join(a.cfg.BaseDir, "home", "living", "t1.jsonl"))
	require.NoError(t, err)
}
