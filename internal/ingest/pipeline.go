// Package ingest stores batches of reading values and drives status
// evaluation for them, one storage transaction per batch.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jandubois/mon/internal/metrics"
	"github.com/jandubois/mon/internal/status"
	"github.com/samber/lo"
)

// Tuple is one reading value addressed to a monitored instance.
type Tuple struct {
	InstanceID int64
	Reading    string
	Value      int64
	Timestamp  time.Time
}

// Tx is the storage transaction a batch runs in.
type Tx interface {
	status.Writer

	// ActiveInstances returns the instances of probeID in lifecycle "active".
	ActiveInstances(ctx context.Context, probeID int64) ([]*status.Instance, error)
	// Rules returns the threshold rules of the given services keyed by service id.
	Rules(ctx context.Context, serviceIDs []int64) (map[int64][]status.Rule, error)
	FindOrCreateReading(ctx context.Context, instanceID int64, name string) (int64, error)
	AppendValue(ctx context.Context, readingID int64, ts time.Time, value int64) error

	Commit() error
	Rollback() error
}

// Store opens batch transactions.
type Store interface {
	// ProbeID resolves a registered probe name.
	ProbeID(ctx context.Context, name string) (int64, error)
	BeginBatch(ctx context.Context) (Tx, error)
}

// Notifier is told about transitions after their batch committed.
type Notifier interface {
	Notify(ctx context.Context, probe string, transitions []status.Transition)
}

// Result summarizes a committed batch.
type Result struct {
	Accepted    int
	Dropped     int
	Transitions []status.Transition
}

// Pipeline ingests reading batches.
type Pipeline struct {
	store    Store
	engine   *status.Engine
	notifier Notifier
}

// NewPipeline creates a pipeline. notifier may be nil.
func NewPipeline(store Store, engine *status.Engine, notifier Notifier) *Pipeline {
	return &Pipeline{store: store, engine: engine, notifier: notifier}
}

type readingKey struct {
	instance int64
	name     string
}

// Ingest stores batch for the named probe. Active instances and their rules
// are read once before the first tuple; tuples for other instances are
// dropped. Every value and status change of the batch commits together or
// not at all.
func (p *Pipeline) Ingest(ctx context.Context, probe string, batch []Tuple) (*Result, error) {
	logger := slog.With("probe", probe)

	probeID, err := p.store.ProbeID(ctx, probe)
	if err != nil {
		metrics.IngestBatches.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, err
	}

	res, err := p.ingest(ctx, logger, probeID, batch)
	if err != nil {
		metrics.IngestBatches.WithLabelValues(metrics.OutcomeError).Inc()
		logger.Error("batch rolled back", "values", len(batch), "error", err)
		return nil, err
	}

	metrics.IngestBatches.WithLabelValues(metrics.OutcomeOK).Inc()
	metrics.IngestValues.Add(float64(res.Accepted))
	metrics.IngestDropped.Add(float64(res.Dropped))
	levels := p.engine.Matcher().Levels()
	for _, t := range res.Transitions {
		metrics.StatusTransitions.WithLabelValues(levels.Name(t.To)).Inc()
	}

	logger.Debug("batch committed", "accepted", res.Accepted, "dropped", res.Dropped, "transitions", len(res.Transitions))

	if p.notifier != nil && len(res.Transitions) > 0 {
		p.notifier.Notify(ctx, probe, res.Transitions)
	}
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context, logger *slog.Logger, probeID int64, batch []Tuple) (*Result, error) {
	tx, err := p.store.BeginBatch(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	done := false
	defer func() {
		if done {
			return
		}
		if err := tx.Rollback(); err != nil {
			logger.Error("rollback failed", "error", err)
		}
	}()

	instances, err := tx.ActiveInstances(ctx, probeID)
	if err != nil {
		return nil, fmt.Errorf("load active instances: %w", err)
	}
	byID := lo.KeyBy(instances, func(inst *status.Instance) int64 { return inst.ID })

	serviceIDs := lo.Uniq(lo.Map(instances, func(inst *status.Instance, _ int) int64 { return inst.ServiceID }))
	rules, err := tx.Rules(ctx, serviceIDs)
	if err != nil {
		return nil, fmt.Errorf("load threshold rules: %w", err)
	}

	res := &Result{}
	readingIDs := make(map[readingKey]int64)
	for _, t := range batch {
		inst, ok := byID[t.InstanceID]
		if !ok {
			logger.Warn("value for unknown or inactive instance dropped", "instance", t.InstanceID, "reading", t.Reading)
			res.Dropped++
			continue
		}

		key := readingKey{instance: inst.ID, name: t.Reading}
		readingID, ok := readingIDs[key]
		if !ok {
			readingID, err = tx.FindOrCreateReading(ctx, inst.ID, t.Reading)
			if err != nil {
				return nil, fmt.Errorf("reading %q of instance %d: %w", t.Reading, inst.ID, err)
			}
			readingIDs[key] = readingID
		}

		if err := tx.AppendValue(ctx, readingID, t.Timestamp, t.Value); err != nil {
			return nil, fmt.Errorf("append value to reading %q of instance %d: %w", t.Reading, inst.ID, err)
		}

		tr, err := p.engine.Apply(ctx, tx, inst, rules[inst.ServiceID], t.Reading, t.Value)
		if err != nil {
			return nil, err
		}
		if tr != nil {
			res.Transitions = append(res.Transitions, *tr)
		}
		res.Accepted++
	}

	done = true
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return res, nil
}
