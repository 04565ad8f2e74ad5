package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jandubois/mon/internal/plugin"
	"github.com/jandubois/mon/internal/status"
)

// Instance lifecycle states.
const (
	LifecycleActive    = "active"
	LifecycleSuspended = "suspended"
	LifecycleError     = "error"
)

// OptionValue is a resolved option of a monitored instance.
type OptionValue struct {
	Identifier string `json:"identifier"`
	Value      string `json:"value"`
}

// Mapping binds a plugin to a probe with resolved options.
type Mapping struct {
	ID      int64         `json:"id"`
	Name    string        `json:"name"`
	Service string        `json:"service"`
	Options []OptionValue `json:"options"`
}

// Instance is a monitored instance with its lifecycle and health state.
type Instance struct {
	ID          int64
	Probe       string
	Service     string
	Name        string
	Lifecycle   string
	ErrorCause  *string
	Status      *status.LevelID
	StatusSince *time.Time
}

// Mappings returns the instances of a probe. With activeOnly set only
// instances in lifecycle "active" are returned. Options without a value
// are left out.
func (d *DB) Mappings(ctx context.Context, probe string, activeOnly bool) ([]Mapping, error) {
	probeID, err := d.ProbeID(ctx, probe)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT m.id, m.name, s.name
		FROM mapped_services m
		JOIN probe_services s ON s.id = m.service_id
		WHERE m.probe_id = ?`
	if activeOnly {
		query += ` AND m.status = 'active'`
	}
	query += ` ORDER BY m.id`

	rows, err := d.db.QueryContext(ctx, query, probeID)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	var mappings []Mapping
	index := make(map[int64]int)
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.ID, &m.Name, &m.Service); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		m.Options = []OptionValue{}
		index[m.ID] = len(mappings)
		mappings = append(mappings, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}

	optRows, err := d.db.QueryContext(ctx, `
		SELECT o.mapped_service_id, o.identifier, o.value
		FROM mapped_service_options o
		JOIN mapped_services m ON m.id = o.mapped_service_id
		WHERE m.probe_id = ? AND o.value IS NOT NULL
		ORDER BY o.mapped_service_id, o.identifier
	`, probeID)
	if err != nil {
		return nil, fmt.Errorf("query mapping options: %w", err)
	}
	defer optRows.Close()
	for optRows.Next() {
		var (
			id int64
			ov OptionValue
		)
		if err := optRows.Scan(&id, &ov.Identifier, &ov.Value); err != nil {
			return nil, fmt.Errorf("scan mapping option: %w", err)
		}
		if i, ok := index[id]; ok {
			mappings[i].Options = append(mappings[i].Options, ov)
		}
	}
	if err := optRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mapping options: %w", err)
	}

	if mappings == nil {
		mappings = []Mapping{}
	}
	return mappings, nil
}

// NewInstance describes an instance to create.
type NewInstance struct {
	Probe   string
	Service string
	Name    string
	Options map[string]string
}

// AddInstance binds a plugin of a probe to a new monitored instance. Option
// values are normalized by their declared type. Empty values are not stored;
// a required option left empty puts the instance into error.
func (d *DB) AddInstance(ctx context.Context, in NewInstance) (*Instance, error) {
	var inst *Instance
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var probeID, serviceID int64
		err := tx.QueryRowContext(ctx, `
			SELECT p.id, s.id FROM probes p
			JOIN probe_services s ON s.probe_id = p.id
			WHERE p.name = ? AND s.name = ? AND s.deleted = 0
		`, in.Probe, in.Service).Scan(&probeID, &serviceID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s/%s: %w", in.Probe, in.Service, ErrServiceNotFound)
		}
		if err != nil {
			return fmt.Errorf("look up service: %w", err)
		}

		options, err := serviceOptions(ctx, tx, serviceID)
		if err != nil {
			return err
		}

		values := make(map[string]string)
		missing := false
		for _, o := range options {
			raw := in.Options[o.Identifier]
			if raw == "" {
				if o.Required {
					missing = true
				}
				continue
			}
			v, err := plugin.NormalizeValue(o.Type, raw)
			if err != nil {
				return fmt.Errorf("option %s: %w", o.Identifier, err)
			}
			values[o.Identifier] = v
		}
		for id := range in.Options {
			if !hasOption(options, id) {
				return fmt.Errorf("unknown option %s for service %s", id, in.Service)
			}
		}

		inst = &Instance{Probe: in.Probe, Service: in.Service, Name: in.Name, Lifecycle: LifecycleActive}
		var cause sql.NullString
		if missing {
			inst.Lifecycle = LifecycleError
			c := CauseMissingRequiredOption
			inst.ErrorCause = &c
			cause = sql.NullString{String: c, Valid: true}
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO mapped_services (probe_id, service_id, name, status, error_cause) VALUES (?, ?, ?, ?, ?)
		`, probeID, serviceID, in.Name, inst.Lifecycle, cause)
		if err != nil {
			return fmt.Errorf("insert instance: %w", err)
		}
		if inst.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("instance id: %w", err)
		}

		ids := make([]string, 0, len(values))
		for id := range values {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO mapped_service_options (mapped_service_id, identifier, value) VALUES (?, ?, ?)
			`, inst.ID, id, values[id]); err != nil {
				return fmt.Errorf("insert option %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func hasOption(options []*plugin.Option, identifier string) bool {
	for _, o := range options {
		if o.Identifier == identifier {
			return true
		}
	}
	return false
}

func serviceOptions(ctx context.Context, tx *sql.Tx, serviceID int64) ([]*plugin.Option, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT identifier, name, type, description, required, default_value
		FROM probe_service_options WHERE service_id = ? ORDER BY id
	`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("query options: %w", err)
	}
	defer rows.Close()

	var out []*plugin.Option
	for rows.Next() {
		var (
			o   plugin.Option
			typ string
			def sql.NullString
		)
		if err := rows.Scan(&o.Identifier, &o.Name, &typ, &o.Description, &o.Required, &def); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		o.Type = plugin.DataType(typ)
		o.Default, o.HasDefault = def.String, def.Valid
		out = append(out, &o)
	}
	return out, rows.Err()
}

// SetLifecycle moves an instance between active and suspended. Instances in
// error are left alone; they recover through registration.
func (d *DB) SetLifecycle(ctx context.Context, id int64, lifecycle string) error {
	if lifecycle != LifecycleActive && lifecycle != LifecycleSuspended {
		return fmt.Errorf("invalid lifecycle %q", lifecycle)
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM mapped_services WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("instance %d: %w", id, ErrInstanceNotFound)
		}
		if err != nil {
			return fmt.Errorf("get instance %d: %w", id, err)
		}
		if current == LifecycleError {
			return fmt.Errorf("instance %d is in error and cannot be changed", id)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE mapped_services SET status = ? WHERE id = ?`, lifecycle, id); err != nil {
			return fmt.Errorf("update instance %d: %w", id, err)
		}
		return nil
	})
}

// GetInstance returns one instance with its current health.
func (d *DB) GetInstance(ctx context.Context, id int64) (*Instance, error) {
	var (
		inst    Instance
		cause   sql.NullString
		current sql.NullInt64
		since   NullTime
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT m.id, p.name, s.name, m.name, m.status, m.error_cause, m.current_status_id, m.current_status_from
		FROM mapped_services m
		JOIN probes p ON p.id = m.probe_id
		JOIN probe_services s ON s.id = m.service_id
		WHERE m.id = ?
	`, id).Scan(&inst.ID, &inst.Probe, &inst.Service, &inst.Name, &inst.Lifecycle, &cause, &current, &since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instance %d: %w", id, ErrInstanceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get instance %d: %w", id, err)
	}
	inst.ErrorCause = stringPtr(cause)
	if current.Valid {
		lvl := status.LevelID(current.Int64)
		inst.Status = &lvl
	}
	inst.StatusSince = since.Ptr()
	return &inst, nil
}

// HistoryEntry is one recorded status transition.
type HistoryEntry struct {
	Status *status.LevelID
	At     time.Time
}

// History returns the status history of an instance, oldest first.
func (d *DB) History(ctx context.Context, instanceID int64) ([]HistoryEntry, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT status_id, timestamp FROM service_status_history
		WHERE mapped_service_id = ? ORDER BY id
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			lvl sql.NullInt64
			at  NullTime
		)
		if err := rows.Scan(&lvl, &at); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e := HistoryEntry{At: at.Time}
		if lvl.Valid {
			l := status.LevelID(lvl.Int64)
			e.Status = &l
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReadingValue is one stored value of a reading.
type ReadingValue struct {
	Timestamp time.Time
	Value     int64
}

// Values returns the stored values of one reading of an instance, oldest first.
func (d *DB) Values(ctx context.Context, instanceID int64, reading string) ([]ReadingValue, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT v.timestamp, v.value FROM reading_values v
		JOIN readings r ON r.id = v.reading_id
		WHERE r.mapped_service_id = ? AND r.name = ?
		ORDER BY v.id
	`, instanceID, reading)
	if err != nil {
		return nil, fmt.Errorf("query values: %w", err)
	}
	defer rows.Close()

	var out []ReadingValue
	for rows.Next() {
		var (
			ts NullTime
			v  ReadingValue
		)
		if err := rows.Scan(&ts, &v.Value); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		v.Timestamp = ts.Time
		out = append(out, v)
	}
	return out, rows.Err()
}
