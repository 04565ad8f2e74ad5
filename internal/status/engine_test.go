package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type historyEntry struct {
	instance int64
	status   *LevelID
	at       time.Time
}

type recordingWriter struct {
	updates int
	history []historyEntry
	failOn  string
}

func (w *recordingWriter) UpdateInstanceStatus(_ context.Context, _ int64, _ *LevelID, _ *time.Time) error {
	if w.failOn == "update" {
		return errors.New("disk full")
	}
	w.updates++
	return nil
}

func (w *recordingWriter) AppendHistory(_ context.Context, id int64, status *LevelID, at time.Time) error {
	if w.failOn == "history" {
		return errors.New("disk full")
	}
	w.history = append(w.history, historyEntry{instance: id, status: status, at: at})
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func pingRules() []Rule {
	return []Rule{
		{Level: warning, Pattern: "latency.*", Max: lo.ToPtr[int64](100), Origin: OriginService},
		{Level: failure, Pattern: "latency.*", Max: lo.ToPtr[int64](500), Origin: OriginService},
	}
}

func TestEnginePingScenario(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := NewEngine(NewMatcher(DefaultLevels()), fixedClock(now))
	w := &recordingWriter{}
	inst := &Instance{ID: 7, Name: "ping example.com"}

	steps := []struct {
		value  int64
		status LevelID
	}{
		{50, ok},
		{150, warning},
		{600, failure},
		{10, ok},
	}

	for i, step := range steps {
		tr, err := e.Apply(context.Background(), w, inst, pingRules(), "latency.example.com", step.value)
		require.NoError(t, err)
		require.NotNil(t, tr, "step %d", i)
		assert.Equal(t, step.status, *tr.To)
		require.NotNil(t, inst.Current)
		assert.Equal(t, step.status, *inst.Current)
		assert.Equal(t, now, *inst.Since)
	}

	require.Len(t, w.history, 4)
	assert.Equal(t, []LevelID{ok, warning, failure, ok}, lo.Map(w.history, func(h historyEntry, _ int) LevelID { return *h.status }))
	assert.Equal(t, 4, w.updates)
}

func TestEngineNoChangeWritesNothing(t *testing.T) {
	e := NewEngine(NewMatcher(DefaultLevels()), nil)
	w := &recordingWriter{}
	inst := &Instance{ID: 1, Current: lo.ToPtr(warning)}

	tr, err := e.Apply(context.Background(), w, inst, pingRules(), "latency.a", 200)
	require.NoError(t, err)
	assert.Nil(t, tr)
	assert.Empty(t, w.history)
	assert.Zero(t, w.updates)
}

func TestEngineWithoutRulesClearsStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := NewEngine(NewMatcher(DefaultLevels()), fixedClock(now))
	w := &recordingWriter{}
	since := now.Add(-time.Hour)
	inst := &Instance{ID: 3, Current: lo.ToPtr(failure), Since: &since}

	tr, err := e.Apply(context.Background(), w, inst, nil, "anything", 1)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Nil(t, tr.To)
	assert.Equal(t, failure, *tr.From)
	assert.Nil(t, inst.Current)
	assert.Nil(t, inst.Since)
	require.Len(t, w.history, 1)
	assert.Nil(t, w.history[0].status)

	// Any further value leaves a data-only instance untouched.
	for _, v := range []int64{-5, 0, 1 << 50} {
		tr, err = e.Apply(context.Background(), w, inst, nil, "anything", v)
		require.NoError(t, err)
		assert.Nil(t, tr)
	}
	assert.Len(t, w.history, 1)
}

func TestEngineFirstReadingSetsOK(t *testing.T) {
	e := NewEngine(NewMatcher(DefaultLevels()), nil)
	w := &recordingWriter{}
	inst := &Instance{ID: 1}

	tr, err := e.Apply(context.Background(), w, inst, pingRules(), "unrelated", 1000)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Nil(t, tr.From)
	assert.Equal(t, ok, *tr.To)
}

func TestEngineWriterFailureLeavesStateUntouched(t *testing.T) {
	for _, failOn := range []string{"update", "history"} {
		t.Run(failOn, func(t *testing.T) {
			e := NewEngine(NewMatcher(DefaultLevels()), nil)
			inst := &Instance{ID: 1, Current: lo.ToPtr(ok)}

			tr, err := e.Apply(context.Background(), &recordingWriter{failOn: failOn}, inst, pingRules(), "latency.a", 1000)
			require.Error(t, err)
			assert.Nil(t, tr)
			assert.Equal(t, ok, *inst.Current)
		})
	}
}
