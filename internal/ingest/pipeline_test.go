package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jandubois/mon/internal/status"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore keeps committed state in memory and stages writes per transaction.
type fakeStore struct {
	probes    map[string]int64
	instances []*status.Instance
	rules     map[int64][]status.Rule

	values    []string
	history   []*status.LevelID
	committed int
	rolled    int
	failOn    string
}

type fakeTx struct {
	s       *fakeStore
	values  []string
	history []*status.LevelID
	nextID  int64
}

func (s *fakeStore) ProbeID(_ context.Context, name string) (int64, error) {
	id, ok := s.probes[name]
	if !ok {
		return 0, errors.New("probe not found")
	}
	return id, nil
}

func (s *fakeStore) BeginBatch(context.Context) (Tx, error) {
	if s.failOn == "begin" {
		return nil, errors.New("database locked")
	}
	return &fakeTx{s: s}, nil
}

func (tx *fakeTx) ActiveInstances(context.Context, int64) ([]*status.Instance, error) {
	out := make([]*status.Instance, len(tx.s.instances))
	for i, inst := range tx.s.instances {
		c := *inst
		out[i] = &c
	}
	return out, nil
}

func (tx *fakeTx) Rules(_ context.Context, ids []int64) (map[int64][]status.Rule, error) {
	out := make(map[int64][]status.Rule)
	for _, id := range ids {
		out[id] = tx.s.rules[id]
	}
	return out, nil
}

func (tx *fakeTx) FindOrCreateReading(context.Context, int64, string) (int64, error) {
	tx.nextID++
	return tx.nextID, nil
}

func (tx *fakeTx) AppendValue(_ context.Context, _ int64, _ time.Time, value int64) error {
	if tx.s.failOn == "append" && len(tx.values) == 2 {
		return errors.New("disk I/O error")
	}
	tx.values = append(tx.values, lo.Ternary(value >= 0, "+", "-"))
	return nil
}

func (tx *fakeTx) UpdateInstanceStatus(context.Context, int64, *status.LevelID, *time.Time) error {
	return nil
}

func (tx *fakeTx) AppendHistory(_ context.Context, _ int64, lvl *status.LevelID, _ time.Time) error {
	tx.history = append(tx.history, lvl)
	return nil
}

func (tx *fakeTx) Commit() error {
	if tx.s.failOn == "commit" {
		return errors.New("commit failed")
	}
	tx.s.values = append(tx.s.values, tx.values...)
	tx.s.history = append(tx.s.history, tx.history...)
	tx.s.committed++
	return nil
}

func (tx *fakeTx) Rollback() error {
	tx.s.rolled++
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls [][]status.Transition
}

func (n *recordingNotifier) Notify(_ context.Context, _ string, ts []status.Transition) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, ts)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		probes: map[string]int64{"host1": 1},
		instances: []*status.Instance{
			{ID: 1, ServiceID: 100, Name: "gateway"},
			{ID: 2, ServiceID: 200, Name: "root disk"},
		},
		rules: map[int64][]status.Rule{
			100: {
				{Level: 20, Pattern: "latency.*", Max: lo.ToPtr[int64](100)},
				{Level: 30, Pattern: "latency.*", Max: lo.ToPtr[int64](500)},
			},
		},
	}
}

func newPipeline(s Store, n Notifier) *Pipeline {
	return NewPipeline(s, status.NewEngine(status.NewMatcher(status.DefaultLevels()), nil), n)
}

func TestIngestCommitsAndDrops(t *testing.T) {
	s := newFakeStore()
	n := &recordingNotifier{}
	p := newPipeline(s, n)
	ts := time.Now()

	res, err := p.Ingest(context.Background(), "host1", []Tuple{
		{InstanceID: 1, Reading: "latency.a", Value: 50, Timestamp: ts},
		{InstanceID: 1, Reading: "latency.a", Value: 150, Timestamp: ts},
		{InstanceID: 2, Reading: "used", Value: 10, Timestamp: ts},
		{InstanceID: 3, Reading: "ghost", Value: 1, Timestamp: ts},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Accepted)
	assert.Equal(t, 1, res.Dropped)
	require.Len(t, res.Transitions, 2, "ok then warning for instance 1; instance 2 has no rules and no status")
	assert.EqualValues(t, 10, *res.Transitions[0].To)
	assert.EqualValues(t, 20, *res.Transitions[1].To)
	assert.Equal(t, "gateway", res.Transitions[1].Instance)

	assert.Equal(t, 1, s.committed)
	assert.Zero(t, s.rolled)
	assert.Len(t, s.values, 3)
	assert.Len(t, s.history, 2)

	require.Len(t, n.calls, 1)
	assert.Len(t, n.calls[0], 2)
}

func TestIngestRollsBackWholeBatch(t *testing.T) {
	s := newFakeStore()
	s.failOn = "append"
	n := &recordingNotifier{}
	p := newPipeline(s, n)

	_, err := p.Ingest(context.Background(), "host1", []Tuple{
		{InstanceID: 1, Reading: "latency.a", Value: 50},
		{InstanceID: 1, Reading: "latency.a", Value: 600},
		{InstanceID: 1, Reading: "latency.b", Value: 70},
	})
	require.Error(t, err)

	assert.Zero(t, s.committed)
	assert.Equal(t, 1, s.rolled)
	assert.Empty(t, s.values)
	assert.Empty(t, s.history)
	assert.Empty(t, n.calls)
}

func TestIngestFailedCommitIsNotRolledBackTwice(t *testing.T) {
	s := newFakeStore()
	s.failOn = "commit"
	p := newPipeline(s, nil)

	_, err := p.Ingest(context.Background(), "host1", []Tuple{{InstanceID: 1, Reading: "latency.a", Value: 1}})
	require.Error(t, err)
	assert.Zero(t, s.rolled)
}

func TestIngestUnknownProbe(t *testing.T) {
	s := newFakeStore()
	p := newPipeline(s, nil)

	_, err := p.Ingest(context.Background(), "stranger", []Tuple{{InstanceID: 1, Reading: "x", Value: 1}})
	require.Error(t, err)
	assert.Zero(t, s.committed)
	assert.Zero(t, s.rolled)
}

func TestIngestBeginFailure(t *testing.T) {
	s := newFakeStore()
	s.failOn = "begin"
	p := newPipeline(s, nil)

	_, err := p.Ingest(context.Background(), "host1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin batch")
}

func TestIngestEmptyBatchCommits(t *testing.T) {
	s := newFakeStore()
	p := newPipeline(s, nil)

	res, err := p.Ingest(context.Background(), "host1", nil)
	require.NoError(t, err)
	assert.Zero(t, res.Accepted)
	assert.Equal(t, 1, s.committed)
}
