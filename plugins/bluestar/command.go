package bluestar

import (
	"fmt"
	"strconv"
)

const commandSource = "anmq"

// ModeCommand is a structured mode change carrying optional fan-speed
// and temperature companions. Cool/Dry/Auto firmware rejects a bare
// mode switch without a temperature, so the controller fills one in
// from the cache when the caller leaves it out.
type ModeCommand struct {
	Value             int
	FanSpeed          *int
	TargetTemperature *float64
}

// Command is a sparse set of requested changes. Nil fields are left
// untouched on the device.
type Command struct {
	Power             *bool
	Mode              *ModeCommand
	TargetTemperature *float64
	FanSpeed          *int
	VerticalSwing     *int
	HorizontalSwing   *int
	Display           *bool
	EnergySave        *bool
	Turbo             *bool
	Sleep             *bool
}

// IsZero reports whether the command requests no changes.
func (c Command) IsZero() bool {
	return c.Power == nil && c.Mode == nil && c.TargetTemperature == nil &&
		c.FanSpeed == nil && c.VerticalSwing == nil && c.HorizontalSwing == nil &&
		c.Display == nil && c.EnergySave == nil && c.Turbo == nil && c.Sleep == nil
}

// wirePayload renders the command into the shadow-update vocabulary.
// When a mode change is present, fan speed and temperature fold into
// the mode object and are not emitted at the top level.
func (c Command) wirePayload(ts int64) map[string]any {
	payload := map[string]any{
		"src": commandSource,
		"ts":  ts,
	}

	if c.Power != nil {
		payload["pow"] = boolToInt(*c.Power)
	}

	if c.Mode != nil {
		mode := map[string]any{"value": c.Mode.Value}
		if fspd := firstInt(c.Mode.FanSpeed, c.FanSpeed); fspd != nil {
			mode["fspd"] = *fspd
		}
		if stemp := firstFloat(c.Mode.TargetTemperature, c.TargetTemperature); stemp != nil {
			mode["stemp"] = formatTemp(*stemp)
		}
		payload["mode"] = mode
	} else {
		if c.FanSpeed != nil {
			payload["fspd"] = *c.FanSpeed
		}
		if c.TargetTemperature != nil {
			payload["stemp"] = formatTemp(*c.TargetTemperature)
		}
	}

	if c.VerticalSwing != nil {
		payload["vswing"] = *c.VerticalSwing
	}
	if c.HorizontalSwing != nil {
		payload["hswing"] = *c.HorizontalSwing
	}
	if c.Display != nil {
		payload["display"] = boolToInt(*c.Display)
	}
	if c.EnergySave != nil {
		payload["esave"] = boolToInt(*c.EnergySave)
	}
	if c.Turbo != nil {
		payload["turbo"] = boolToInt(*c.Turbo)
	}
	if c.Sleep != nil {
		payload["sleep"] = boolToInt(*c.Sleep)
	}

	return payload
}

// formatTemp renders a temperature with exactly one decimal place, the
// only shape the firmware accepts.
func formatTemp(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func firstInt(candidates ...*int) *int {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func firstFloat(candidates ...*float64) *float64 {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

// mergeStatePayload folds a wire-vocabulary payload into a cached
// state. Used for both the optimistic merge after a publish and the
// sparse merge of inbound broker reports, so values may arrive as Go
// ints (local) or JSON float64s (inbound).
func mergeStatePayload(state *DeviceState, payload map[string]any) {
	if v, ok := asInt(payload["pow"]); ok {
		state.Power = v != 0
	}
	if raw, ok := payload["mode"]; ok {
		mergeModeValue(state, raw)
	}
	if v, ok := asTemp(payload["stemp"]); ok {
		state.TargetTemperature = v
	}
	if v, ok := asTemp(payload["ctemp"]); ok {
		state.CurrentTemperature = v
	}
	if v, ok := asInt(payload["fspd"]); ok {
		state.FanSpeed = v
	}
	if v, ok := asInt(payload["vswing"]); ok {
		state.VerticalSwing = v
	}
	if v, ok := asInt(payload["hswing"]); ok {
		state.HorizontalSwing = v
	}
	if v, ok := asInt(payload["display"]); ok {
		state.DisplayOn = v != 0
	}
	if v, ok := asInt(payload["esave"]); ok {
		state.EnergySave = v != 0
	}
	if v, ok := asInt(payload["turbo"]); ok {
		state.Turbo = v != 0
	}
	if v, ok := asInt(payload["sleep"]); ok {
		state.Sleep = v != 0
	}
	if v, ok := asInt(payload["rssi"]); ok {
		state.SignalStrength = v
	}
	if v, ok := asInt(payload["err"]); ok {
		state.ErrorCode = v
	}
	if v, ok := payload["src"].(string); ok {
		state.LastUpdateSource = v
	}
	if v, ok := asInt64(payload["ts"]); ok {
		state.LastUpdateMS = v
	}
}

func mergeModeValue(state *DeviceState, raw any) {
	switch mode := raw.(type) {
	case map[string]any:
		if v, ok := asInt(mode["value"]); ok {
			state.Mode = v
		}
		if v, ok := asInt(mode["fspd"]); ok {
			state.FanSpeed = v
		}
		if v, ok := asTemp(mode["stemp"]); ok {
			state.TargetTemperature = v
		}
	default:
		if v, ok := asInt(raw); ok {
			state.Mode = v
		}
	}
}

func asInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case bool:
		return boolToInt(v), true
	default:
		return 0, false
	}
}

func asInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

func asTemp(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	case float64:
		return formatTemp(v), true
	case int:
		return formatTemp(float64(v)), true
	default:
		return "", false
	}
}

// modeRequiresTemperature reports whether the firmware insists on a
// stemp companion for the given mode.
func modeRequiresTemperature(mode int) bool {
	switch mode {
	case ModeCool, ModeDry, ModeAuto:
		return true
	default:
		return false
	}
}

func parseTemp(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse temperature %q: %w", s, err)
	}
	return v, nil
}
