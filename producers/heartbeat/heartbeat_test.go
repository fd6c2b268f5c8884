package heartbeat

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhearth/hearth/ingest"
	"github.com/openhearth/hearth/logger"
	"github.com/openhearth/hearth/msg"
	"github.com/openhearth/hearth/notify"
)

type recordingSink struct {
	incoming []*msg.Incoming
}

func (s *recordingSink) AddMessage(in *msg.Incoming) bool {
	s.incoming = append(s.incoming, in)
	return true
}
func (s *recordingSink) UpdateMessage(ref string, patch *msg.Patch, stealth bool) bool { return true }
func (s *recordingSink) AddOrUpdateMessage(in *msg.Incoming) bool {
	s.incoming = append(s.incoming, in)
	return true
}
func (s *recordingSink) RemoveMessage(ref string) bool                  { return true }
func (s *recordingSink) GetMessageByRef(ref string, view bool) *msg.Message { return nil }

func TestHeartbeatPublishesOnStart(t *testing.T) {
	sink := &recordingSink{}
	host, err := ingest.NewHost(logger.Logger, "1.0.0", sink,
		notify.NewDispatcher(logger.Logger), filepath.Join(t.TempDir(), "producers.json"))
	require.NoError(t, err)

	prod := &Producer{}
	desc := Descriptor()
	desc.New = func() ingest.Producer { return prod }
	require.NoError(t, host.RegisterType(desc))

	info, err := host.CreateInstance("heartbeat", map[string]any{
		"intervalSec": 3600,
		"level":       int(msg.LevelNotice),
	})
	require.NoError(t, err)

	_, err = host.SetEnabled(info.ID, true)
	require.NoError(t, err)
	t.Cleanup(func() { host.StopAll("test done") })

	require.Len(t, sink.incoming, 1)
	in := sink.incoming[0]
	assert.Equal(t, Ref, in.Ref)
	assert.Equal(t, msg.KindStatus, in.Kind)
	require.NotNil(t, in.Level)
	assert.Equal(t, msg.LevelNotice, *in.Level)
	assert.Equal(t, msg.OriginAutomation, in.Origin.Type)
	assert.Contains(t, in.Text, "up ")
	assert.EqualValues(t, 1, prod.Beats())
}

func TestHeartbeatRejectsBadLevel(t *testing.T) {
	sink := &recordingSink{}
	host, err := ingest.NewHost(logger.Logger, "1.0.0", sink,
		notify.NewDispatcher(logger.Logger), filepath.Join(t.TempDir(), "producers.json"))
	require.NoError(t, err)

	prod := &Producer{}
	desc := Descriptor()
	desc.New = func() ingest.Producer { return prod }
	require.NoError(t, host.RegisterType(desc))

	info, err := host.CreateInstance("heartbeat", map[string]any{
		"intervalSec": 3600,
		"level":       33, // not on the severity ladder, falls back to info
	})
	require.NoError(t, err)

	_, err = host.SetEnabled(info.ID, true)
	require.NoError(t, err)
	t.Cleanup(func() { host.StopAll("test done") })

	require.Len(t, sink.incoming, 1)
	require.NotNil(t, sink.incoming[0].Level)
	assert.Equal(t, msg.LevelInfo, *sink.incoming[0].Level)
}
