package storage

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

func testMessage(ref string) *msg.Message {
	return &msg.Message{
		Ref:    ref,
		Title:  "t",
		Text:   "x",
		Kind:   msg.KindTask,
		Level:  msg.LevelInfo,
		Origin: msg.Origin{Type: msg.OriginManual},
		Lifecycle: msg.Lifecycle{
			State:          msg.StateOpen,
			StateChangedAt: 1,
		},
		Timing: msg.Timing{CreatedAt: 1},
	}
}

func TestScheduleThenFlushRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	w := NewWriter(path, time.Hour, logger.Logger) // interval long: flush drives the write
	defer w.Close(context.Background())

	w.Schedule([]*msg.Message{testMessage("t1"), testMessage("t2")})
	require.NoError(t, w.FlushPending(context.Background()))

	got := ReadSnapshot(path, nil, logger.Logger)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].Ref)
	assert.Equal(t, "t2", got[1].Ref)
}

func TestLatestScheduledSnapshotWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	w := NewWriter(path, time.Hour, logger.Logger)
	defer w.Close(context.Background())

	w.Schedule([]*msg.Message{testMessage("old")})
	w.Schedule([]*msg.Message{testMessage("new")})
	require.NoError(t, w.FlushPending(context.Background()))

	got := ReadSnapshot(path, nil, logger.Logger)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Ref)
}

func TestThrottledLoopWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	w := NewWriter(path, 10*time.Millisecond, logger.Logger)
	defer w.Close(context.Background())

	w.Schedule([]*msg.Message{testMessage("t1")})

	require.Eventually(t, func() bool {
		return w.Stats().Writes >= 1
	}, time.Second, 5*time.Millisecond)

	got := ReadSnapshot(path, nil, logger.Logger)
	require.Len(t, got, 1)
}

func TestReadSnapshotFirstRunReturnsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	def := []*msg.Message{testMessage("d")}
	got := ReadSnapshot(path, def, logger.Logger)
	assert.Equal(t, def, got)
}

func TestReadSnapshotCorruptReturnsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))
	got := ReadSnapshot(path, nil, logger.Logger)
	assert.Nil(t, got)
}

func TestFlushWithoutDirtyIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	w := NewWriter(path, time.Hour, logger.Logger)
	defer w.Close(context.Background())

	require.NoError(t, w.FlushPending(context.Background()))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSnapshotPreservesMetricEnvelope(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	w := NewWriter(path, time.Hour, logger.Logger)
	defer w.Close(context.Background())

	m := testMessage("t1")
	mm := msg.NewMetricMap()
	mm.Set("temp", msg.Metric{Val: 20.5, Unit: "C", TS: 7})
	m.Metrics = mm

	w.Schedule([]*msg.Message{m})
	require.NoError(t, w.FlushPending(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"__type":"Map"`)

	got := ReadSnapshot(path, nil, logger.Logger)
	require.Len(t, got, 1)
	metric, ok := got[0].Metrics.Get("temp")
	require.True(t, ok)
	assert.Equal(t, 20.5, metric.Val)
}
