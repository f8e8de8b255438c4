package mcp

import (
	"context"

	"messkit/internal/browser"
)

// LaunchBrowserTool starts or attaches the preview browser.
type LaunchBrowserTool struct {
	sessions *browser.SessionManager
}

func (t *LaunchBrowserTool) Name() string { return "launch-browser" }
func (t *LaunchBrowserTool) Description() string {
	return `Start (or attach to) the Chrome instance used for exit previews.

CALL THIS before click-unit with preview=true.

WHAT IT DOES:
- Attaches to the configured debugger URL, or launches Chrome
- Idempotent: safe to call if already running

Returns: {status: "started"|"already_connected", control_url}`
}
func (t *LaunchBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *LaunchBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.sessions.IsConnected() {
		return map[string]interface{}{
			"status":      "already_connected",
			"control_url": t.sessions.ControlURL(),
		}, nil
	}

	if err := t.sessions.Start(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":      "started",
		"control_url": t.sessions.ControlURL(),
	}, nil
}

// ShutdownBrowserTool stops the preview browser and clears previews.
type ShutdownBrowserTool struct {
	sessions *browser.SessionManager
}

func (t *ShutdownBrowserTool) Name() string { return "shutdown-browser" }
func (t *ShutdownBrowserTool) Description() string {
	return `Stop the preview browser and close every preview page.

NOTE: preview_loaded facts persist after shutdown.`
}
func (t *ShutdownBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ShutdownBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := t.sessions.Shutdown(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status": "stopped",
	}, nil
}

// ListPreviewsTool lists exit preview pages.
type ListPreviewsTool struct {
	sessions *browser.SessionManager
}

func (t *ListPreviewsTool) Name() string { return "list-previews" }
func (t *ListPreviewsTool) Description() string {
	return `List exit preview pages opened by click-unit.

Returns: {previews: [{id, unit_id, url, title, status, error}], count}`
}
func (t *ListPreviewsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ListPreviewsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	previews := t.sessions.List()
	return map[string]interface{}{"previews": previews, "count": len(previews)}, nil
}
