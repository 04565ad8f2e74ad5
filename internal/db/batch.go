package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jandubois/mon/internal/ingest"
	"github.com/jandubois/mon/internal/status"
)

// ProbeID resolves a probe name.
func (d *DB) ProbeID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := d.db.QueryRowContext(ctx, `SELECT id FROM probes WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s: %w", name, ErrProbeNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("get probe %s: %w", name, err)
	}
	return id, nil
}

// BeginBatch starts the transaction one reading batch is ingested in.
func (d *DB) BeginBatch(ctx context.Context) (ingest.Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &batchTx{tx: tx}, nil
}

// LoadLevels reads the status levels.
func (d *DB) LoadLevels(ctx context.Context) (*status.Levels, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, name, rank FROM service_status ORDER BY rank, id`)
	if err != nil {
		return nil, fmt.Errorf("query status levels: %w", err)
	}
	defer rows.Close()

	var levels []status.Level
	for rows.Next() {
		var l status.Level
		if err := rows.Scan(&l.ID, &l.Name, &l.Rank); err != nil {
			return nil, fmt.Errorf("scan status level: %w", err)
		}
		levels = append(levels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status levels: %w", err)
	}
	return status.NewLevels(levels...)
}

type batchTx struct {
	tx *sql.Tx
}

func (b *batchTx) Commit() error {
	return b.tx.Commit()
}

func (b *batchTx) Rollback() error {
	return b.tx.Rollback()
}

func (b *batchTx) ActiveInstances(ctx context.Context, probeID int64) ([]*status.Instance, error) {
	rows, err := b.tx.QueryContext(ctx, `
		SELECT id, service_id, name, current_status_id, current_status_from
		FROM mapped_services
		WHERE probe_id = ? AND status = 'active'
		ORDER BY id
	`, probeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*status.Instance
	for rows.Next() {
		var (
			inst    status.Instance
			current sql.NullInt64
			since   NullTime
		)
		if err := rows.Scan(&inst.ID, &inst.ServiceID, &inst.Name, &current, &since); err != nil {
			return nil, err
		}
		if current.Valid {
			lvl := status.LevelID(current.Int64)
			inst.Current = &lvl
		}
		inst.Since = since.Ptr()
		out = append(out, &inst)
	}
	return out, rows.Err()
}

func (b *batchTx) Rules(ctx context.Context, serviceIDs []int64) (map[int64][]status.Rule, error) {
	out := make(map[int64][]status.Rule, len(serviceIDs))
	if len(serviceIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(serviceIDs)), ",")
	args := make([]any, len(serviceIDs))
	for i, id := range serviceIDs {
		args[i] = id
	}

	rows, err := b.tx.QueryContext(ctx, `
		SELECT service_id, status_id, reading, min_value, max_value, source
		FROM service_thresholds
		WHERE service_id IN (`+placeholders+`)
		ORDER BY id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			serviceID int64
			r         status.Rule
			min, max  sql.NullInt64
		)
		if err := rows.Scan(&serviceID, &r.Level, &r.Pattern, &min, &max, &r.Origin); err != nil {
			return nil, err
		}
		r.Min, r.Max = int64Ptr(min), int64Ptr(max)
		out[serviceID] = append(out[serviceID], r)
	}
	return out, rows.Err()
}

func (b *batchTx) FindOrCreateReading(ctx context.Context, instanceID int64, name string) (int64, error) {
	var id int64
	err := b.tx.QueryRowContext(ctx, `SELECT id FROM readings WHERE mapped_service_id = ? AND name = ?`, instanceID, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	res, err := b.tx.ExecContext(ctx, `INSERT INTO readings (mapped_service_id, name) VALUES (?, ?)`, instanceID, name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (b *batchTx) AppendValue(ctx context.Context, readingID int64, ts time.Time, value int64) error {
	_, err := b.tx.ExecContext(ctx, `INSERT INTO reading_values (reading_id, timestamp, value) VALUES (?, ?, ?)`,
		readingID, formatTime(ts), value)
	return err
}

func (b *batchTx) UpdateInstanceStatus(ctx context.Context, instanceID int64, level *status.LevelID, since *time.Time) error {
	var sinceValue sql.NullString
	if since != nil {
		sinceValue = sql.NullString{String: formatTime(*since), Valid: true}
	}
	_, err := b.tx.ExecContext(ctx, `UPDATE mapped_services SET current_status_id = ?, current_status_from = ? WHERE id = ?`,
		levelValue(level), sinceValue, instanceID)
	return err
}

func (b *batchTx) AppendHistory(ctx context.Context, instanceID int64, level *status.LevelID, at time.Time) error {
	_, err := b.tx.ExecContext(ctx, `INSERT INTO service_status_history (mapped_service_id, status_id, timestamp) VALUES (?, ?, ?)`,
		instanceID, levelValue(level), formatTime(at))
	return err
}

func levelValue(level *status.LevelID) sql.NullInt64 {
	if level == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*level), Valid: true}
}
