package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhearth/hearth/msg"
)

func testRenderer(now int64) *Renderer {
	r := New(&Locale{TZ: time.UTC, DateTimeLayout: "2006-01-02 15:04"})
	r.Now = func() int64 { return now }
	return r
}

func metricMessage() *msg.Message {
	mm := msg.NewMetricMap()
	mm.Set("temp", msg.Metric{Val: 21.5, Unit: "°C", TS: 60_000})
	return &msg.Message{
		Ref:     "t1",
		Title:   "Temperature {{m.temp}}",
		Text:    "raw={{m.temp.val}} unit={{m.temp.unit}}",
		Metrics: mm,
		Timing:  msg.Timing{CreatedAt: 0},
	}
}

func TestRenderMetricExpansion(t *testing.T) {
	r := testRenderer(120_000)
	d := r.Render(metricMessage())

	assert.Equal(t, "Temperature 21.5 °C", d.Title)
	assert.Equal(t, "raw=21.5 unit=°C", d.Text)
	assert.Equal(t, int64(120_000), d.RenderedDataTs)
}

func TestRenderUnknownReferenceRendersEmpty(t *testing.T) {
	r := testRenderer(0)
	m := &msg.Message{Ref: "t1", Title: "x {{m.missing}} y", Text: "{{t.nope}}"}
	d := r.Render(m)
	assert.Equal(t, "x  y", d.Title)
	assert.Equal(t, "", d.Text)
}

func TestRenderNoTemplatesNoTimestamp(t *testing.T) {
	r := testRenderer(5)
	m := &msg.Message{Ref: "t1", Title: "plain", Text: "plain"}
	d := r.Render(m)
	assert.Zero(t, d.RenderedDataTs)
	assert.Equal(t, "plain", d.Title)
}

func TestRenderDatetimeFilter(t *testing.T) {
	r := testRenderer(0)
	m := &msg.Message{
		Ref:    "t1",
		Title:  "created {{t.createdAt|datetime}}",
		Text:   "x",
		Timing: msg.Timing{CreatedAt: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC).UnixMilli()},
	}
	d := r.Render(m)
	assert.Equal(t, "created 2026-03-01 12:30", d.Title)
}

func TestRenderDurationSinceFilter(t *testing.T) {
	now := int64(10 * 60 * 1000)
	r := testRenderer(now)
	m := &msg.Message{
		Ref:    "t1",
		Title:  "age {{t.createdAt|durationSince}}",
		Text:   "x",
		Timing: msg.Timing{CreatedAt: now - 5*60*1000},
	}
	d := r.Render(m)
	assert.Equal(t, "age 5m", d.Title)
}

func TestRenderBoolFilter(t *testing.T) {
	r := testRenderer(0)
	m := &msg.Message{
		Ref:    "t1",
		Title:  "reminder: {{t.notifyAt|bool:YES/NO}}",
		Text:   "x",
		Timing: msg.Timing{CreatedAt: 1},
	}
	d := r.Render(m)
	assert.Equal(t, "reminder: NO", d.Title)

	m.Timing.NotifyAt = msg.Int64(42)
	d = r.Render(m)
	assert.Equal(t, "reminder: YES", d.Title)
}

func TestRenderDoesNotMutateInput(t *testing.T) {
	r := testRenderer(1)
	m := metricMessage()
	_ = r.Render(m)
	assert.Equal(t, "Temperature {{m.temp}}", m.Title)
	assert.Nil(t, m.Display)
}

func TestViewPopulatesDisplayAndInactiveActions(t *testing.T) {
	r := testRenderer(1)
	m := metricMessage()
	m.Lifecycle.State = msg.StateSnoozed
	m.Actions = []msg.Action{
		{Type: msg.ActionSnooze, ID: "s"},
		{Type: msg.ActionAck, ID: "a"},
		{Type: msg.ActionLink, ID: "l"},
	}

	v := r.View(m)
	require.NotNil(t, v.Display)
	assert.Equal(t, []msg.ActionType{msg.ActionSnooze}, v.ActionsInactive)
	// canonical entry stays clean
	assert.Nil(t, m.Display)
	assert.Nil(t, m.ActionsInactive)
}

func TestInactiveActionsPerState(t *testing.T) {
	m := &msg.Message{
		Ref: "t1",
		Actions: []msg.Action{
			{Type: msg.ActionOpen, ID: "o"},
			{Type: msg.ActionClose, ID: "c"},
		},
	}
	m.Lifecycle.State = msg.StateOpen
	assert.Equal(t, []msg.ActionType{msg.ActionOpen}, InactiveActions(m))

	m.Lifecycle.State = msg.StateClosed
	assert.Equal(t, []msg.ActionType{msg.ActionClose}, InactiveActions(m))
}
