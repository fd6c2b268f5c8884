package msg

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseMessage(t *testing.T, f *Factory) *Message {
	t.Helper()
	in := validIncoming("t1")
	in.Details = &Details{Location: "kitchen", Task: "clean"}
	mm := NewMetricMap()
	mm.Set("temp", Metric{Val: 20, Unit: "C", TS: 1})
	mm.Set("hum", Metric{Val: 55, Unit: "%", TS: 1})
	in.Metrics = mm
	in.ListItems = []ListItem{
		{ID: "milk", Name: "Milk", Checked: false},
		{ID: "eggs", Name: "Eggs", Checked: true},
	}
	m := f.CreateMessage(in)
	require.NotNil(t, m)
	return m
}

func TestApplyPatchBumpsUpdatedAt(t *testing.T) {
	f := testFactory(1000)
	m := baseMessage(t, f)

	f.Now = func() int64 { return 2000 }
	out := f.ApplyPatch(m, &Patch{Title: Some("new title")}, false)
	require.NotNil(t, out)
	assert.Equal(t, "new title", out.Title)
	require.NotNil(t, out.Timing.UpdatedAt)
	assert.Equal(t, int64(2000), *out.Timing.UpdatedAt)

	// stealth suppresses the bump
	out = f.ApplyPatch(m, &Patch{Title: Some("other")}, true)
	require.NotNil(t, out)
	assert.Nil(t, out.Timing.UpdatedAt)
}

func TestApplyPatchDoesNotMutateInput(t *testing.T) {
	f := testFactory(1000)
	m := baseMessage(t, f)

	out := f.ApplyPatch(m, &Patch{Details: Null[Details]()}, false)
	require.NotNil(t, out)
	assert.Nil(t, out.Details)
	assert.NotNil(t, m.Details)
}

func TestApplyPatchBlockReplace(t *testing.T) {
	f := testFactory(1000)
	m := baseMessage(t, f)

	out := f.ApplyPatch(m, &Patch{Details: Some(Details{Reason: "dust"})}, false)
	require.NotNil(t, out)
	assert.Equal(t, "dust", out.Details.Reason)
	// whole block replaced, not merged
	assert.Empty(t, out.Details.Location)
	assert.Empty(t, out.Details.Task)
}

func TestApplyPatchRejectsTitleRemoval(t *testing.T) {
	f := testFactory(1000)
	m := baseMessage(t, f)
	assert.Nil(t, f.ApplyPatch(m, &Patch{Title: Null[string]()}, false))
	assert.Nil(t, f.ApplyPatch(m, &Patch{Text: Null[string]()}, false))
	assert.Nil(t, f.ApplyPatch(m, &Patch{Origin: Null[Origin]()}, false))
}

func TestApplyPatchMetricsMerge(t *testing.T) {
	f := testFactory(1000)
	m := baseMessage(t, f)

	out := f.ApplyPatch(m, &Patch{Metrics: map[string]*Metric{
		"temp": {Val: 25, Unit: "C", TS: 9},
		"co2":  {Val: 400, Unit: "ppm", TS: 9},
		"hum":  nil,
	}}, false)
	require.NotNil(t, out)

	temp, ok := out.Metrics.Get("temp")
	require.True(t, ok)
	assert.Equal(t, 25.0, temp.Val)
	_, ok = out.Metrics.Get("hum")
	assert.False(t, ok)
	_, ok = out.Metrics.Get("co2")
	assert.True(t, ok)
	// untouched keys keep their position
	assert.Equal(t, []string{"temp", "co2"}, out.Metrics.Keys())
}

func TestApplyPatchListItemsMergeByID(t *testing.T) {
	f := testFactory(1000)
	m := baseMessage(t, f)

	out := f.ApplyPatch(m, &Patch{ListItems: []ListItemPatch{
		{ListItem: ListItem{ID: "milk", Name: "Oat milk", Checked: true}},
		{ListItem: ListItem{ID: "eggs"}, Remove: true},
		{ListItem: ListItem{ID: "bread", Name: "Bread"}},
	}}, false)
	require.NotNil(t, out)

	require.Len(t, out.ListItems, 2)
	assert.Equal(t, "Oat milk", out.ListItems[0].Name)
	assert.True(t, out.ListItems[0].Checked)
	assert.Equal(t, "bread", out.ListItems[1].ID)
}

func TestApplyPatchTimingFieldMerge(t *testing.T) {
	f := testFactory(1000)
	in := validIncoming("t1")
	in.Timing = &TimingInput{NotifyAt: MillisPtr(500), RemindEvery: MillisPtr(60)}
	m := f.CreateMessage(in)
	require.NotNil(t, m)

	out := f.ApplyPatch(m, &Patch{Timing: &TimingPatch{
		NotifyAt:  Null[Millis](),
		ExpiresAt: Some(Millis(9000)),
	}}, false)
	require.NotNil(t, out)

	assert.Nil(t, out.Timing.NotifyAt)
	require.NotNil(t, out.Timing.RemindEvery) // untouched field survives
	assert.Equal(t, int64(60), *out.Timing.RemindEvery)
	require.NotNil(t, out.Timing.ExpiresAt)
	assert.Equal(t, int64(9000), *out.Timing.ExpiresAt)
}

func TestApplyPatchStateChange(t *testing.T) {
	f := testFactory(1000)
	m := baseMessage(t, f)

	f.Now = func() int64 { return 2000 }
	out := f.ApplyPatch(m, StatePatch(StateAcked, "alice"), false)
	require.NotNil(t, out)
	assert.Equal(t, StateAcked, out.Lifecycle.State)
	assert.Equal(t, int64(2000), out.Lifecycle.StateChangedAt)
	assert.Equal(t, "alice", out.Lifecycle.StateChangedBy)

	// same state: no stamp change
	out2 := f.ApplyPatch(out, StatePatch(StateAcked, ""), false)
	require.NotNil(t, out2)
	assert.Equal(t, int64(2000), out2.Lifecycle.StateChangedAt)
}

func TestStateChangedAtStrictlyMonotonic(t *testing.T) {
	f := testFactory(1000)
	m := baseMessage(t, f)

	// Clock stuck at create time: the stamp must still advance.
	out := f.ApplyPatch(m, StatePatch(StateAcked, ""), false)
	require.NotNil(t, out)
	assert.Greater(t, out.Lifecycle.StateChangedAt, m.Lifecycle.StateChangedAt)
}

func TestApplyPatchProgressTransitions(t *testing.T) {
	f := testFactory(1000)
	m := baseMessage(t, f)

	out := f.ApplyPatch(m, &Patch{Progress: Some(ProgressInput{Percentage: 10})}, false)
	require.NotNil(t, out)
	require.NotNil(t, out.Progress.StartedAt)
	started := *out.Progress.StartedAt

	f.Now = func() int64 { return 3000 }
	out = f.ApplyPatch(out, &Patch{Progress: Some(ProgressInput{Percentage: 100})}, false)
	require.NotNil(t, out)
	assert.Equal(t, started, *out.Progress.StartedAt) // set once
	require.NotNil(t, out.Progress.FinishedAt)

	out = f.ApplyPatch(out, &Patch{Progress: Some(ProgressInput{Percentage: 80})}, false)
	require.NotNil(t, out)
	assert.Nil(t, out.Progress.FinishedAt) // cleared below 100
}

func TestDeletePatch(t *testing.T) {
	f := testFactory(1000)
	in := validIncoming("t1")
	in.Timing = &TimingInput{NotifyAt: MillisPtr(99)}
	m := f.CreateMessage(in)
	require.NotNil(t, m)

	out := f.ApplyPatch(m, DeletePatch("sweeper"), false)
	require.NotNil(t, out)
	assert.Equal(t, StateDeleted, out.Lifecycle.State)
	assert.Nil(t, out.Timing.NotifyAt)
}

func TestPatchJSONNullSemantics(t *testing.T) {
	var p Patch
	require.NoError(t, json.Unmarshal([]byte(`{"details":null,"audience":{"tags":["kitchen"]}}`), &p))

	assert.True(t, p.Details.Set)
	assert.True(t, p.Details.Null)
	assert.True(t, p.Audience.Set)
	assert.False(t, p.Audience.Null)
	assert.False(t, p.Title.Set)
}
