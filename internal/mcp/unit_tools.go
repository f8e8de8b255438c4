package mcp

import (
	"context"
	"fmt"
	"time"

	"messkit/internal/harness"
)

const (
	defaultAwaitTimeout = 2 * time.Second
	maxAwaitTimeout     = 30 * time.Second
)

// CreateUnitTool hosts a new creative unit behind an emulated host window.
type CreateUnitTool struct {
	harness *harness.Harness
}

func (t *CreateUnitTool) Name() string { return "create-unit" }
func (t *CreateUnitTool) Description() string {
	return `Host a new creative unit behind an emulated host window.

The window_name decides how the unit negotiates its mode:
- "" (empty)       -> served live: resolves immediately, fires one impression beacon
- editor dev name  -> waits for prop updates, falls back to editor-dev after the props timeout
- editor style name-> batches prop updates until the debounce quiet period
- props host name  -> publishes its editable schema and resolves to props inspection

WORKFLOW:
1. create-unit (window_name, optional fields/billable)
2. send-prop-update to play the editor host
3. await-mode or unit-state to observe the result
4. click-unit to exercise the exit path

Returns: {unit: {id, state, mode, ready, fields, posted, beacons, ...}}`
}
func (t *CreateUnitTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"window_name": map[string]interface{}{
				"type":        "string",
				"description": "Window identity the unit sees. Empty means served live.",
			},
			"fields": map[string]interface{}{
				"type":        "object",
				"description": "Editable fields. Values may be plain or smart objects keyed by __<size>__ with a default.",
			},
			"billable": map[string]interface{}{
				"type":        "string",
				"description": "Billable entity code used for attribution (overrides the configured one)",
			},
		},
	}
}
func (t *CreateUnitTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	req := harness.CreateRequest{
		WindowName: getStringArg(args, "window_name"),
		Billable:   getStringArg(args, "billable"),
	}
	if raw, ok := args["fields"]; ok && raw != nil {
		fields, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("fields must be an object")
		}
		req.Fields = fields
	}

	info, err := t.harness.CreateUnit(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"unit": info}, nil
}

// ListUnitsTool lists hosted units without their detail.
type ListUnitsTool struct {
	harness *harness.Harness
}

func (t *ListUnitsTool) Name() string { return "list-units" }
func (t *ListUnitsTool) Description() string {
	return `List all hosted creative units, oldest first.

USE THIS to discover unit IDs. Detail (fields, posted messages, beacons) is
omitted; use unit-state for one unit.

Returns: {units: [{id, window_name, state, mode, ready, pending_updates}], count}`
}
func (t *ListUnitsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ListUnitsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	units := t.harness.Units()
	return map[string]interface{}{"units": units, "count": len(units)}, nil
}

// UnitStateTool returns a detailed snapshot of one unit.
type UnitStateTool struct {
	harness *harness.Harness
}

func (t *UnitStateTool) Name() string { return "unit-state" }
func (t *UnitStateTool) Description() string {
	return `Get a detailed snapshot of one hosted unit.

Includes the current field values, every message the unit posted to its host,
every URL it opened and every beacon it dispatched.

Returns: {unit: {...}}`
}
func (t *UnitStateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"unit_id": map[string]interface{}{
				"type":        "string",
				"description": "Unit ID from create-unit or list-units",
			},
		},
		"required": []string{"unit_id"},
	}
}
func (t *UnitStateTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	id := getStringArg(args, "unit_id")
	if id == "" {
		return nil, fmt.Errorf("unit_id is required")
	}
	info, err := t.harness.Unit(id)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"unit": info}, nil
}

// SendPropUpdateTool plays the editor host and posts a property update.
type SendPropUpdateTool struct {
	harness *harness.Harness
}

func (t *SendPropUpdateTool) Name() string { return "send-prop-update" }
func (t *SendPropUpdateTool) Description() string {
	return `Post a MESS_PROP_UPDATE from the host window to a unit.

Before an editor unit resolves, updates queue and either resolve it to
editor-style (after the debounce quiet period) or are applied as a batch.
After resolution, updates apply immediately with smart-value and boolean
coercion.

Pass "raw" instead of prop/value to deliver an arbitrary host payload, e.g.
to check that malformed messages are dropped.

Returns: {delivered: true, unit: {...}}`
}
func (t *SendPropUpdateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"unit_id": map[string]interface{}{
				"type":        "string",
				"description": "Target unit ID",
			},
			"prop": map[string]interface{}{
				"type":        "string",
				"description": "Field to update",
			},
			"value": map[string]interface{}{
				"description": "New value. Strings, booleans, numbers or smart objects.",
			},
			"raw": map[string]interface{}{
				"type":        "string",
				"description": "Raw message payload delivered as-is (replaces prop/value)",
			},
		},
		"required": []string{"unit_id"},
	}
}
func (t *SendPropUpdateTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	id := getStringArg(args, "unit_id")
	if id == "" {
		return nil, fmt.Errorf("unit_id is required")
	}

	if raw := getStringArg(args, "raw"); raw != "" {
		if err := t.harness.SendRaw(id, []byte(raw)); err != nil {
			return nil, err
		}
	} else {
		prop := getStringArg(args, "prop")
		if prop == "" {
			return nil, fmt.Errorf("prop or raw is required")
		}
		if err := t.harness.SendPropUpdate(id, prop, args["value"]); err != nil {
			return nil, err
		}
	}

	info, err := t.harness.Unit(id)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"delivered": true, "unit": info}, nil
}

// AwaitModeTool blocks until a unit resolves its mode.
type AwaitModeTool struct {
	harness *harness.Harness
}

func (t *AwaitModeTool) Name() string { return "await-mode" }
func (t *AwaitModeTool) Description() string {
	return `Wait until a unit resolves its mode.

Editor units resolve after the props timeout or the style debounce, so a
short wait is normal. Closed units never resolve.

Returns: {resolved: true, mode, tracking} or {resolved: false, state} on timeout.`
}
func (t *AwaitModeTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"unit_id": map[string]interface{}{
				"type":        "string",
				"description": "Unit ID to wait on",
			},
			"timeout_ms": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum wait in milliseconds (default 2000, max 30000)",
			},
		},
		"required": []string{"unit_id"},
	}
}
func (t *AwaitModeTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id := getStringArg(args, "unit_id")
	if id == "" {
		return nil, fmt.Errorf("unit_id is required")
	}
	timeout := time.Duration(getIntArg(args, "timeout_ms", int(defaultAwaitTimeout/time.Millisecond))) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultAwaitTimeout
	}
	if timeout > maxAwaitTimeout {
		timeout = maxAwaitTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r, err := t.harness.AwaitMode(waitCtx, id)
	if err != nil {
		info, lookupErr := t.harness.Unit(id)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return map[string]interface{}{
			"resolved": false,
			"state":    info.State,
			"reason":   err.Error(),
		}, nil
	}
	return map[string]interface{}{
		"resolved": true,
		"mode":     r.Mode.String(),
		"tracking": r.Tracking,
	}, nil
}

// ClickUnitTool clicks a unit and optionally previews its exit.
type ClickUnitTool struct {
	harness *harness.Harness
}

func (t *ClickUnitTool) Name() string { return "click-unit" }
func (t *ClickUnitTool) Description() string {
	return `Click a unit: opens its exit URL (with the click tag appended).

Live units fire the exit beacon on their first click only. Embedded units
never track.

With preview=true the exit URL is also loaded in the attached browser and a
preview_loaded fact is recorded. Run launch-browser first.

Returns: {url, exit_tracked, preview?, preview_error?}`
}
func (t *ClickUnitTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"unit_id": map[string]interface{}{
				"type":        "string",
				"description": "Unit to click",
			},
			"preview": map[string]interface{}{
				"type":        "boolean",
				"description": "Load the exit URL in the preview browser (default false)",
			},
		},
		"required": []string{"unit_id"},
	}
}
func (t *ClickUnitTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id := getStringArg(args, "unit_id")
	if id == "" {
		return nil, fmt.Errorf("unit_id is required")
	}
	res, err := t.harness.Click(ctx, id, getBoolArg(args, "preview", false))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CloseUnitTool stops a unit and forgets it.
type CloseUnitTool struct {
	harness *harness.Harness
}

func (t *CloseUnitTool) Name() string { return "close-unit" }
func (t *CloseUnitTool) Description() string {
	return `Stop a hosted unit. Pending timers are cancelled and in-flight
beacons are awaited. Facts recorded for the unit are kept.

Returns: {status: "closed", unit_id}`
}
func (t *CloseUnitTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"unit_id": map[string]interface{}{
				"type":        "string",
				"description": "Unit to close",
			},
		},
		"required": []string{"unit_id"},
	}
}
func (t *CloseUnitTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	id := getStringArg(args, "unit_id")
	if id == "" {
		return nil, fmt.Errorf("unit_id is required")
	}
	if err := t.harness.CloseUnit(id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "closed", "unit_id": id}, nil
}
