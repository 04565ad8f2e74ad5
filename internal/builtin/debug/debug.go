// Package debug provides a plugin for exercising failure handling.
package debug

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jandubois/mon/internal/builtin"
	"github.com/jandubois/mon/internal/plugin"
	"github.com/samber/lo"
)

// Name is the plugin name.
const Name = "debug"

// Modes.
const (
	ModeOK      = "ok"
	ModeFail    = "fail"
	ModeGarbage = "garbage"
	ModeHang    = "hang"
)

// Plugin returns the debug plugin.
func Plugin() *builtin.Plugin {
	return &builtin.Plugin{
		Descriptor: &plugin.Descriptor{
			Name:        Name,
			Description: "Debug plugin for testing failure modes",
			Options: []*plugin.Option{
				{Identifier: "mode", Name: "Mode", Type: plugin.TypeString, Description: "One of ok, fail, garbage, hang", Default: ModeOK, HasDefault: true},
				{Identifier: "value", Name: "Value", Type: plugin.TypeInteger, Description: "Value reported as reading \"value\"", Default: "0", HasDefault: true},
				{Identifier: "delay_ms", Name: "Delay", Type: plugin.TypeInteger, Description: "Delay before responding (milliseconds)", Default: "0", HasDefault: true},
			},
			Thresholds: []*plugin.Threshold{
				{Pattern: "value", Status: "warning", Max: lo.ToPtr[int64](100)},
				{Pattern: "value", Status: "error", Max: lo.ToPtr[int64](1000)},
			},
		},
		Fetch: func(ctx context.Context, getenv builtin.Getenv) (map[string]string, error) {
			delay, _ := strconv.Atoi(getenv("DELAY_MS"))
			return Fetch(ctx, getenv("MODE"), getenv("VALUE"), time.Duration(delay)*time.Millisecond)
		},
	}
}

// Fetch behaves according to mode after waiting for delay.
func Fetch(ctx context.Context, mode, value string, delay time.Duration) (map[string]string, error) {
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if value == "" {
		value = "0"
	}

	switch mode {
	case "", ModeOK:
		return map[string]string{"value": value}, nil
	case ModeFail:
		return nil, errors.New("simulated failure")
	case ModeGarbage:
		return map[string]string{"value": "not a number"}, nil
	case ModeHang:
		<-ctx.Done()
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("invalid mode %q", mode)
	}
}
