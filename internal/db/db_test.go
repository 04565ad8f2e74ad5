package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jandubois/mon/internal/plugin"
	"github.com/jandubois/mon/internal/status"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	d, err := Connect(ctx, filepath.Join(t.TempDir(), "mon.db"))
	require.NoError(t, err)
	t.Cleanup(d.Close)
	require.NoError(t, d.Migrate(ctx))
	return d
}

func pingDescriptor() *plugin.Descriptor {
	return &plugin.Descriptor{
		Name:        "ping",
		Path:        "/usr/lib/mon/ping",
		Description: "Ping hosts.",
		Options: []*plugin.Option{
			{Identifier: "hostname", Name: "Host", Type: plugin.TypeString, Required: true},
			{Identifier: "count", Name: "Count", Type: plugin.TypeInteger, Default: "3", HasDefault: true},
		},
		Thresholds: []*plugin.Threshold{
			{Pattern: "latency.*", Status: "warning", Max: lo.ToPtr[int64](100)},
			{Pattern: "latency.*", Status: "error", Max: lo.ToPtr[int64](500)},
		},
	}
}

func diskDescriptor() *plugin.Descriptor {
	return &plugin.Descriptor{Name: "disk", Description: "Disk usage."}
}

func TestMigrationsUpAndDown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mon.db")
	require.NoError(t, RunMigrations(path))
	require.NoError(t, RunMigrations(path), "second run is a no-op")

	d, err := Connect(context.Background(), path)
	require.NoError(t, err)
	levels, err := d.LoadLevels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ok", "warning", "error"}, lo.Map(levels.All(), func(l status.Level, _ int) string { return l.Name }))
	d.Close()

	require.NoError(t, RollbackMigrations(path))

	d, err = Connect(context.Background(), path)
	require.NoError(t, err)
	defer d.Close()
	_, err = d.LoadLevels(context.Background())
	assert.Error(t, err)
}

func TestRegisterProbe(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	levels := status.DefaultLevels()

	res, err := d.RegisterProbe(ctx, "host1", []*plugin.Descriptor{pingDescriptor(), diskDescriptor()}, levels)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ping", "disk"}, res.Added)
	assert.Empty(t, res.Updated)

	id, err := d.ProbeID(ctx, "host1")
	require.NoError(t, err)
	assert.Equal(t, res.ProbeID, id)

	thresholds, err := d.Thresholds(ctx, "host1", "ping")
	require.NoError(t, err)
	require.Len(t, thresholds, 2)
	assert.Equal(t, "warning", thresholds[0].Status)
	assert.EqualValues(t, 100, *thresholds[0].Max)
	assert.Equal(t, status.OriginService, thresholds[0].Origin)

	res, err = d.RegisterProbe(ctx, "host1", []*plugin.Descriptor{pingDescriptor(), diskDescriptor()}, levels)
	require.NoError(t, err)
	assert.Empty(t, res.Added)
	assert.ElementsMatch(t, []string{"ping", "disk"}, res.Updated)
}

func TestRegisterProbeKeepsOverrides(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	levels := status.DefaultLevels()

	_, err := d.RegisterProbe(ctx, "host1", []*plugin.Descriptor{pingDescriptor()}, levels)
	require.NoError(t, err)

	require.NoError(t, d.SetThresholds(ctx, "host1", "ping", []Threshold{
		{Reading: "latency.*", Status: "warning", Max: lo.ToPtr[int64](250)},
	}, levels))

	_, err = d.RegisterProbe(ctx, "host1", []*plugin.Descriptor{pingDescriptor()}, levels)
	require.NoError(t, err)

	thresholds, err := d.Thresholds(ctx, "host1", "ping")
	require.NoError(t, err)
	require.Len(t, thresholds, 2)
	assert.EqualValues(t, 250, *thresholds[0].Max)
	assert.Equal(t, status.OriginConfiguration, thresholds[0].Origin)
	assert.EqualValues(t, 500, *thresholds[1].Max)
}

func TestRegisterProbeDropsStaleDefaultsAndUnknownStatus(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	levels := status.DefaultLevels()

	_, err := d.RegisterProbe(ctx, "host1", []*plugin.Descriptor{pingDescriptor()}, levels)
	require.NoError(t, err)

	changed := pingDescriptor()
	changed.Thresholds = []*plugin.Threshold{
		{Pattern: "loss", Status: "error", Min: lo.ToPtr[int64](0), Max: lo.ToPtr[int64](10)},
		{Pattern: "loss", Status: "critical", Max: lo.ToPtr[int64](50)},
	}
	_, err = d.RegisterProbe(ctx, "host1", []*plugin.Descriptor{changed}, levels)
	require.NoError(t, err)

	thresholds, err := d.Thresholds(ctx, "host1", "ping")
	require.NoError(t, err)
	require.Len(t, thresholds, 1)
	assert.Equal(t, "loss", thresholds[0].Reading)
	assert.Equal(t, "error", thresholds[0].Status)
}

func TestRegisterProbeServiceRemovalAndReturn(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	levels := status.DefaultLevels()

	_, err := d.RegisterProbe(ctx, "host1", []*plugin.Descriptor{pingDescriptor(), diskDescriptor()}, levels)
	require.NoError(t, err)

	ping, err := d.AddInstance(ctx, NewInstance{Probe: "host1", Service: "ping", Name: "gateway", Options: map[string]string{"hostname": "10.0.0.1"}})
	require.NoError(t, err)
	disk, err := d.AddInstance(ctx, NewInstance{Probe: "host1", Service: "disk", Name: "root"})
	require.NoError(t, err)

	res, err := d.RegisterProbe(ctx, "host1", []*plugin.Descriptor{diskDescriptor()}, levels)
	require.NoError(t, err)
	assert.Equal(t, []string{"ping"}, res.Removed)

	inst, err := d.GetInstance(ctx, ping.ID)
	require.NoError(t, err)
	assert.Equal(t, LifecycleError, inst.Lifecycle)
	require.NotNil(t, inst.ErrorCause)
	assert.Equal(t, CauseServiceUnavailable, *inst.ErrorCause)

	inst, err = d.GetInstance(ctx, disk.ID)
	require.NoError(t, err)
	assert.Equal(t, LifecycleActive, inst.Lifecycle)

	mappings, err := d.Mappings(ctx, "host1", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"disk"}, lo.Map(mappings, func(m Mapping, _ int) string { return m.Service }))

	_, err = d.RegisterProbe(ctx, "host1", []*plugin.Descriptor{pingDescriptor(), diskDescriptor()}, levels)
	require.NoError(t, err)

	inst, err = d.GetInstance(ctx, ping.ID)
	require.NoError(t, err)
	assert.Equal(t, LifecycleActive, inst.Lifecycle)
	assert.Nil(t, inst.ErrorCause)
}

func TestRegisterProbeNewRequiredOption(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	levels := status.DefaultLevels()

	_, err := d.RegisterProbe(ctx, "host1", []*plugin.Descriptor{pingDescriptor()}, levels)
	require.NoError(t, err)

	withValue, err := d.AddInstance(ctx, NewInstance{Probe: "host1", Service: "ping", Name: "a", Options: map[string]string{"hostname": "a", "count": "5"}})
	require.NoError(t, err)
	withoutValue, err := d.AddInstance(ctx, NewInstance{Probe: "host1", Service: "ping", Name: "b", Options: map[string]string{"hostname": "b"}})
	require.NoError(t, err)

	changed := pingDescriptor()
	changed.Options[1].Required = true
	_, err = d.RegisterProbe(ctx, "host1", []*plugin.Descriptor{changed}, levels)
	require.NoError(t, err)

	inst, err := d.GetInstance(ctx, withValue.ID)
	require.NoError(t, err)
	assert.Equal(t, LifecycleActive, inst.Lifecycle)

	inst, err = d.GetInstance(ctx, withoutValue.ID)
	require.NoError(t, err)
	assert.Equal(t, LifecycleError, inst.Lifecycle)
	assert.Equal(t, CauseMissingRequiredOption, *inst.ErrorCause)
}

func TestAddInstance(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	_, err := d.RegisterProbe(ctx, "host1", []*plugin.Descriptor{pingDescriptor()}, status.DefaultLevels())
	require.NoError(t, err)

	inst, err := d.AddInstance(ctx, NewInstance{Probe: "host1", Service: "ping", Name: "gw", Options: map[string]string{"hostname": "10.0.0.1", "count": " 07 "}})
	require.NoError(t, err)
	assert.Equal(t, LifecycleActive, inst.Lifecycle)

	mappings, err := d.Mappings(ctx, "host1", true)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "gw", mappings[0].Name)
	assert.Equal(t, []OptionValue{{"count", "7"}, {"hostname", "10.0.0.1"}}, mappings[0].Options)

	missing, err := d.AddInstance(ctx, NewInstance{Probe: "host1", Service: "ping", Name: "nohost"})
	require.NoError(t, err)
	assert.Equal(t, LifecycleError, missing.Lifecycle)

	_, err = d.AddInstance(ctx, NewInstance{Probe: "host1", Service: "ping", Name: "bad", Options: map[string]string{"hostname": "x", "count": "many"}})
	assert.Error(t, err)

	_, err = d.AddInstance(ctx, NewInstance{Probe: "host1", Service: "ping", Name: "bad", Options: map[string]string{"hostname": "x", "color": "red"}})
	assert.Error(t, err)

	_, err = d.AddInstance(ctx, NewInstance{Probe: "host1", Service: "nope", Name: "x"})
	assert.True(t, errors.Is(err, ErrServiceNotFound))
}

func TestSetLifecycle(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	_, err := d.RegisterProbe(ctx, "host1", []*plugin.Descriptor{pingDescriptor()}, status.DefaultLevels())
	require.NoError(t, err)

	ok, err := d.AddInstance(ctx, NewInstance{Probe: "host1", Service: "ping", Name: "gw", Options: map[string]string{"hostname": "gw"}})
	require.NoError(t, err)
	broken, err := d.AddInstance(ctx, NewInstance{Probe: "host1", Service: "ping", Name: "broken"})
	require.NoError(t, err)

	require.NoError(t, d.SetLifecycle(ctx, ok.ID, LifecycleSuspended))
	mappings, err := d.Mappings(ctx, "host1", true)
	require.NoError(t, err)
	assert.Empty(t, mappings)

	all, err := d.Mappings(ctx, "host1", false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.Error(t, d.SetLifecycle(ctx, broken.ID, LifecycleActive))
	assert.Error(t, d.SetLifecycle(ctx, ok.ID, LifecycleError))
	assert.True(t, errors.Is(d.SetLifecycle(ctx, 999, LifecycleActive), ErrInstanceNotFound))
}

func TestMappingsUnknownProbe(t *testing.T) {
	d := openTestDB(t)
	_, err := d.Mappings(context.Background(), "nobody", true)
	assert.True(t, errors.Is(err, ErrProbeNotFound))
}

func TestSetThresholdsRejectsUnknownStatus(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	_, err := d.RegisterProbe(ctx, "host1", []*plugin.Descriptor{pingDescriptor()}, status.DefaultLevels())
	require.NoError(t, err)

	err = d.SetThresholds(ctx, "host1", "ping", []Threshold{{Reading: "x", Status: "panic"}}, status.DefaultLevels())
	assert.True(t, errors.Is(err, ErrUnknownStatus))

	err = d.SetThresholds(ctx, "host1", "nope", nil, status.DefaultLevels())
	assert.True(t, errors.Is(err, ErrServiceNotFound))
}
