package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jandubois/mon/internal/status"
)

// ErrUnknownStatus is returned for a threshold naming an undefined status level.
var ErrUnknownStatus = errors.New("unknown status")

// Threshold is a stored threshold rule of a plugin, with its status by name.
type Threshold struct {
	Reading string        `json:"reading" yaml:"reading"`
	Status  string        `json:"status" yaml:"status"`
	Min     *int64        `json:"min" yaml:"min"`
	Max     *int64        `json:"max" yaml:"max"`
	Origin  status.Origin `json:"origin,omitempty" yaml:"-"`
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lookupServiceID(ctx context.Context, q rowQuerier, probe, service string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		SELECT s.id FROM probe_services s
		JOIN probes p ON p.id = s.probe_id
		WHERE p.name = ? AND s.name = ?
	`, probe, service).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s/%s: %w", probe, service, ErrServiceNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("look up service %s/%s: %w", probe, service, err)
	}
	return id, nil
}

// Thresholds lists the rules of a plugin of a probe, defaults and overrides.
func (d *DB) Thresholds(ctx context.Context, probe, service string) ([]Threshold, error) {
	serviceID, err := lookupServiceID(ctx, d.db, probe, service)
	if err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT t.reading, s.name, t.min_value, t.max_value, t.source
		FROM service_thresholds t
		JOIN service_status s ON s.id = t.status_id
		WHERE t.service_id = ?
		ORDER BY t.reading, s.rank
	`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("query thresholds: %w", err)
	}
	defer rows.Close()

	out := []Threshold{}
	for rows.Next() {
		var (
			t        Threshold
			min, max sql.NullInt64
		)
		if err := rows.Scan(&t.Reading, &t.Status, &min, &max, &t.Origin); err != nil {
			return nil, fmt.Errorf("scan threshold: %w", err)
		}
		t.Min, t.Max = int64Ptr(min), int64Ptr(max)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetThresholds stores user overrides for a plugin of a probe. An override
// replaces the plugin default with the same reading and status, and later
// registrations leave it in place.
func (d *DB) SetThresholds(ctx context.Context, probe, service string, thresholds []Threshold, levels *status.Levels) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		serviceID, err := lookupServiceID(ctx, tx, probe, service)
		if err != nil {
			return err
		}

		for _, t := range thresholds {
			lvl, ok := levels.ByName(t.Status)
			if !ok {
				return fmt.Errorf("threshold %s: %q: %w", t.Reading, t.Status, ErrUnknownStatus)
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO service_thresholds (service_id, status_id, reading, min_value, max_value, source)
				VALUES (?, ?, ?, ?, ?, 'configuration')
				ON CONFLICT(service_id, status_id, reading) DO UPDATE SET
					min_value = excluded.min_value,
					max_value = excluded.max_value,
					source = 'configuration'
			`, serviceID, int64(lvl.ID), t.Reading, nullInt64(t.Min), nullInt64(t.Max))
			if err != nil {
				return fmt.Errorf("upsert threshold %s.%s: %w", t.Reading, t.Status, err)
			}
		}
		return nil
	})
}
