package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jandubois/mon/internal/plugin"
	"github.com/jandubois/mon/internal/status"
)

// Instance error causes.
const (
	CauseServiceUnavailable    = "ERROR_SERVICE_UNAVAILABLE"
	CauseMissingRequiredOption = "ERROR_MISSING_REQUIRED_OPTION"
)

// RegisterResult lists what a registration changed.
type RegisterResult struct {
	ProbeID int64    `json:"probe_id"`
	Added   []string `json:"added"`
	Updated []string `json:"updated"`
	Removed []string `json:"removed"`
}

type knownService struct {
	id      int64
	deleted bool
}

// RegisterProbe records the plugins a probe reports. The probe is created on
// first registration. Plugin default thresholds are upserted without touching
// user overrides; plugins no longer reported are marked deleted and their
// instances put into error.
func (d *DB) RegisterProbe(ctx context.Context, name string, services []*plugin.Descriptor, levels *status.Levels) (*RegisterResult, error) {
	res := &RegisterResult{}
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(time.Now())
		_, err := tx.ExecContext(ctx, `
			INSERT INTO probes (name, last_seen_at) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET last_seen_at = excluded.last_seen_at
		`, name, now)
		if err != nil {
			return fmt.Errorf("upsert probe: %w", err)
		}
		if err := tx.QueryRowContext(ctx, `SELECT id FROM probes WHERE name = ?`, name).Scan(&res.ProbeID); err != nil {
			return fmt.Errorf("get probe id: %w", err)
		}

		known, err := loadServices(ctx, tx, res.ProbeID)
		if err != nil {
			return err
		}

		reported := make(map[string]bool, len(services))
		for _, svc := range services {
			reported[svc.Name] = true
			prev, exists := known[svc.Name]

			serviceID, err := upsertService(ctx, tx, res.ProbeID, svc, prev, exists)
			if err != nil {
				return fmt.Errorf("service %s: %w", svc.Name, err)
			}
			if exists {
				res.Updated = append(res.Updated, svc.Name)
			} else {
				res.Added = append(res.Added, svc.Name)
			}

			if err := replaceOptions(ctx, tx, serviceID, svc.Options, exists); err != nil {
				return fmt.Errorf("options of %s: %w", svc.Name, err)
			}
			if err := upsertDefaultThresholds(ctx, tx, serviceID, svc, levels); err != nil {
				return fmt.Errorf("thresholds of %s: %w", svc.Name, err)
			}
		}

		for svcName, svc := range known {
			if reported[svcName] || svc.deleted {
				continue
			}
			if _, err := tx.ExecContext(ctx, `UPDATE probe_services SET deleted = 1, updated_at = ? WHERE id = ?`, now, svc.id); err != nil {
				return fmt.Errorf("mark service %s deleted: %w", svcName, err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE mapped_services SET status = 'error', error_cause = ?
				WHERE service_id = ? AND status != 'error'
			`, CauseServiceUnavailable, svc.id); err != nil {
				return fmt.Errorf("disable instances of %s: %w", svcName, err)
			}
			res.Removed = append(res.Removed, svcName)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("register probe %s: %w", name, err)
	}
	return res, nil
}

func loadServices(ctx context.Context, tx *sql.Tx, probeID int64) (map[string]knownService, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, name, deleted FROM probe_services WHERE probe_id = ?`, probeID)
	if err != nil {
		return nil, fmt.Errorf("query services: %w", err)
	}
	defer rows.Close()

	out := make(map[string]knownService)
	for rows.Next() {
		var (
			name string
			svc  knownService
		)
		if err := rows.Scan(&svc.id, &name, &svc.deleted); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		out[name] = svc
	}
	return out, rows.Err()
}

func upsertService(ctx context.Context, tx *sql.Tx, probeID int64, svc *plugin.Descriptor, prev knownService, exists bool) (int64, error) {
	now := formatTime(time.Now())
	if !exists {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO probe_services (probe_id, name, description, path, updated_at) VALUES (?, ?, ?, ?, ?)
		`, probeID, svc.Name, svc.Description, svc.Path, now)
		if err != nil {
			return 0, fmt.Errorf("insert service: %w", err)
		}
		return res.LastInsertId()
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE probe_services SET description = ?, path = ?, deleted = 0, updated_at = ? WHERE id = ?
	`, svc.Description, svc.Path, now, prev.id)
	if err != nil {
		return 0, fmt.Errorf("update service: %w", err)
	}

	if prev.deleted {
		_, err := tx.ExecContext(ctx, `
			UPDATE mapped_services SET status = 'active', error_cause = NULL
			WHERE service_id = ? AND status = 'error' AND error_cause = ?
		`, prev.id, CauseServiceUnavailable)
		if err != nil {
			return 0, fmt.Errorf("reactivate instances: %w", err)
		}
	}
	return prev.id, nil
}

// replaceOptions stores the reported options. When a service that may
// already have instances gains a required option, instances without a value
// for it go into error.
func replaceOptions(ctx context.Context, tx *sql.Tx, serviceID int64, options []*plugin.Option, existed bool) error {
	wasRequired := make(map[string]bool)
	if existed {
		rows, err := tx.QueryContext(ctx, `SELECT identifier, required FROM probe_service_options WHERE service_id = ?`, serviceID)
		if err != nil {
			return fmt.Errorf("query options: %w", err)
		}
		for rows.Next() {
			var (
				identifier string
				required   bool
			)
			if err := rows.Scan(&identifier, &required); err != nil {
				rows.Close()
				return fmt.Errorf("scan option: %w", err)
			}
			wasRequired[identifier] = required
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate options: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM probe_service_options WHERE service_id = ?`, serviceID); err != nil {
		return fmt.Errorf("delete options: %w", err)
	}

	for _, o := range options {
		var def sql.NullString
		if o.HasDefault || o.Default != "" {
			def = sql.NullString{String: o.Default, Valid: true}
		}
		typ := o.Type
		if !typ.Valid() {
			typ = plugin.TypeString
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO probe_service_options (service_id, identifier, name, type, description, required, default_value)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, serviceID, o.Identifier, o.Name, string(typ), o.Description, o.Required, def)
		if err != nil {
			return fmt.Errorf("insert option %s: %w", o.Identifier, err)
		}

		if !existed || !o.Required || wasRequired[o.Identifier] {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE mapped_services SET status = 'error', error_cause = ?
			WHERE service_id = ? AND status != 'error'
			AND NOT EXISTS (
				SELECT 1 FROM mapped_service_options mo
				WHERE mo.mapped_service_id = mapped_services.id
				AND mo.identifier = ? AND mo.value IS NOT NULL AND mo.value != ''
			)
		`, CauseMissingRequiredOption, serviceID, o.Identifier)
		if err != nil {
			return fmt.Errorf("flag instances missing %s: %w", o.Identifier, err)
		}
	}
	return nil
}

type thresholdKey struct {
	level   status.LevelID
	pattern string
}

func upsertDefaultThresholds(ctx context.Context, tx *sql.Tx, serviceID int64, svc *plugin.Descriptor, levels *status.Levels) error {
	reported := make(map[thresholdKey]bool)
	for _, t := range svc.Thresholds {
		lvl, ok := levels.ByName(t.Status)
		if !ok {
			slog.Warn("threshold for unknown status dropped", "plugin", svc.Name, "reading", t.Pattern, "status", t.Status)
			continue
		}
		reported[thresholdKey{lvl.ID, t.Pattern}] = true

		_, err := tx.ExecContext(ctx, `
			INSERT INTO service_thresholds (service_id, status_id, reading, min_value, max_value, source)
			VALUES (?, ?, ?, ?, ?, 'service')
			ON CONFLICT(service_id, status_id, reading) DO UPDATE SET
				min_value = excluded.min_value,
				max_value = excluded.max_value
			WHERE service_thresholds.source = 'service'
		`, serviceID, int64(lvl.ID), t.Pattern, nullInt64(t.Min), nullInt64(t.Max))
		if err != nil {
			return fmt.Errorf("upsert threshold %s.%s: %w", t.Pattern, t.Status, err)
		}
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, status_id, reading FROM service_thresholds WHERE service_id = ? AND source = 'service'`, serviceID)
	if err != nil {
		return fmt.Errorf("query thresholds: %w", err)
	}
	var stale []int64
	for rows.Next() {
		var (
			id  int64
			key thresholdKey
		)
		if err := rows.Scan(&id, &key.level, &key.pattern); err != nil {
			rows.Close()
			return fmt.Errorf("scan threshold: %w", err)
		}
		if !reported[key] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate thresholds: %w", err)
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM service_thresholds WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete stale threshold: %w", err)
		}
	}
	return nil
}
