package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"messkit/internal/harness"
	"messkit/internal/mangle"

	"github.com/mark3labs/mcp-go/mcp"
)

func createUnit(t *testing.T, env *testEnv, args map[string]interface{}) harness.UnitInfo {
	t.Helper()
	result, err := env.server.ExecuteTool(context.Background(), "create-unit", args)
	if err != nil {
		t.Fatalf("create-unit failed: %v", err)
	}
	return result.(map[string]interface{})["unit"].(harness.UnitInfo)
}

func awaitFact(t *testing.T, env *testEnv, predicate string, args ...interface{}) {
	t.Helper()
	result, err := env.server.ExecuteTool(context.Background(), "await-fact", map[string]interface{}{
		"predicate":  predicate,
		"args":       args,
		"timeout_ms": 1000,
	})
	if err != nil {
		t.Fatalf("await-fact failed: %v", err)
	}
	if status := result.(map[string]interface{})["status"]; status != "passed" {
		t.Fatalf("await-fact %s%v: status %v", predicate, args, status)
	}
}

func TestLiveUnitTools(t *testing.T) {
	env := setupTestServer(t, false)
	ctx := context.Background()

	unit := createUnit(t, env, map[string]interface{}{
		"billable": "mdtn",
		"fields": map[string]interface{}{
			"headline":  map[string]interface{}{"__300x250__": "Big", "default": "Small"},
			"size":      "300x250",
			"styleName": "Spring",
			"exitUrl":   "https://brand.example",
		},
	})
	if unit.ID == "" {
		t.Fatal("expected unit id")
	}
	if unit.Mode != "live" {
		t.Errorf("expected live mode, got %q", unit.Mode)
	}

	t.Run("list-units", func(t *testing.T) {
		result, err := env.server.ExecuteTool(ctx, "list-units", nil)
		if err != nil {
			t.Fatalf("list-units failed: %v", err)
		}
		units := result.(map[string]interface{})["units"].([]harness.UnitInfo)
		if len(units) != 1 || units[0].ID != unit.ID {
			t.Errorf("expected the created unit, got %+v", units)
		}
	})

	t.Run("unit-state", func(t *testing.T) {
		result, err := env.server.ExecuteTool(ctx, "unit-state", map[string]interface{}{"unit_id": unit.ID})
		if err != nil {
			t.Fatalf("unit-state failed: %v", err)
		}
		info := result.(map[string]interface{})["unit"].(harness.UnitInfo)
		if info.Fields["headline"] != "Big" {
			t.Errorf("expected resolved headline, got %v", info.Fields["headline"])
		}
		if info.Tracking.PO != "MDTN" {
			t.Errorf("expected PO=MDTN, got %q", info.Tracking.PO)
		}
	})

	t.Run("await-mode", func(t *testing.T) {
		result, err := env.server.ExecuteTool(ctx, "await-mode", map[string]interface{}{"unit_id": unit.ID})
		if err != nil {
			t.Fatalf("await-mode failed: %v", err)
		}
		m := result.(map[string]interface{})
		if m["resolved"] != true || m["mode"] != "live" {
			t.Errorf("unexpected await result %v", m)
		}
	})

	t.Run("impression fact", func(t *testing.T) {
		awaitFact(t, env, "impression_tracked", unit.ID)
	})

	t.Run("click-unit", func(t *testing.T) {
		result, err := env.server.ExecuteTool(ctx, "click-unit", map[string]interface{}{"unit_id": unit.ID})
		if err != nil {
			t.Fatalf("click-unit failed: %v", err)
		}
		click := result.(harness.ClickResult)
		if click.URL != "https://brand.example" {
			t.Errorf("unexpected exit url %q", click.URL)
		}
		if !click.ExitTracked {
			t.Error("expected the exit to be tracked")
		}
		awaitFact(t, env, "tracked_exit", unit.ID, "https://brand.example")
	})

	t.Run("click-unit preview without browser", func(t *testing.T) {
		result, err := env.server.ExecuteTool(ctx, "click-unit", map[string]interface{}{"unit_id": unit.ID, "preview": true})
		if err != nil {
			t.Fatalf("click-unit failed: %v", err)
		}
		click := result.(harness.ClickResult)
		if click.PreviewError == "" {
			t.Error("expected a preview error without a browser")
		}
	})

	t.Run("close-unit", func(t *testing.T) {
		if _, err := env.server.ExecuteTool(ctx, "close-unit", map[string]interface{}{"unit_id": unit.ID}); err != nil {
			t.Fatalf("close-unit failed: %v", err)
		}
		if _, err := env.server.ExecuteTool(ctx, "unit-state", map[string]interface{}{"unit_id": unit.ID}); err == nil {
			t.Error("expected error for closed unit")
		}
	})
}

func TestEditorUnitTools(t *testing.T) {
	env := setupTestServer(t, false)
	ctx := context.Background()

	unit := createUnit(t, env, map[string]interface{}{
		"window_name": "mess-style",
		"fields":      map[string]interface{}{"headline": "Default", "useCta": true},
	})
	if unit.Mode != "" {
		t.Errorf("editor unit must not resolve on creation, got %q", unit.Mode)
	}

	result, err := env.server.ExecuteTool(ctx, "send-prop-update", map[string]interface{}{
		"unit_id": unit.ID,
		"prop":    "headline",
		"value":   "Edited",
	})
	if err != nil {
		t.Fatalf("send-prop-update failed: %v", err)
	}
	if result.(map[string]interface{})["delivered"] != true {
		t.Errorf("expected delivered, got %v", result)
	}

	result, err = env.server.ExecuteTool(ctx, "await-mode", map[string]interface{}{"unit_id": unit.ID, "timeout_ms": 1000})
	if err != nil {
		t.Fatalf("await-mode failed: %v", err)
	}
	if mode := result.(map[string]interface{})["mode"]; mode != "editor-style" {
		t.Fatalf("expected editor-style, got %v", mode)
	}

	t.Run("direct update after resolution", func(t *testing.T) {
		if _, err := env.server.ExecuteTool(ctx, "send-prop-update", map[string]interface{}{
			"unit_id": unit.ID,
			"prop":    "useCta",
			"value":   "false",
		}); err != nil {
			t.Fatalf("send-prop-update failed: %v", err)
		}
		res, _ := env.server.ExecuteTool(ctx, "unit-state", map[string]interface{}{"unit_id": unit.ID})
		info := res.(map[string]interface{})["unit"].(harness.UnitInfo)
		if info.Fields["useCta"] != false {
			t.Errorf("expected coerced boolean, got %#v", info.Fields["useCta"])
		}
		if info.Fields["headline"] != "Edited" {
			t.Errorf("expected batched headline, got %v", info.Fields["headline"])
		}
	})

	t.Run("raw payload", func(t *testing.T) {
		if _, err := env.server.ExecuteTool(ctx, "send-prop-update", map[string]interface{}{
			"unit_id": unit.ID,
			"raw":     "not json",
		}); err != nil {
			t.Fatalf("raw delivery failed: %v", err)
		}
	})

	t.Run("validation", func(t *testing.T) {
		if _, err := env.server.ExecuteTool(ctx, "send-prop-update", map[string]interface{}{"unit_id": unit.ID}); err == nil {
			t.Error("expected error without prop or raw")
		}
		if _, err := env.server.ExecuteTool(ctx, "send-prop-update", map[string]interface{}{"prop": "x"}); err == nil {
			t.Error("expected error without unit_id")
		}
		if _, err := env.server.ExecuteTool(ctx, "create-unit", map[string]interface{}{"fields": "nope"}); err == nil {
			t.Error("expected error for non-object fields")
		}
	})

	t.Run("derived facts", func(t *testing.T) {
		awaitFact(t, env, "style_batched", unit.ID)
		awaitFact(t, env, "host_edit", unit.ID, "useCta")
	})
}

func TestAwaitModeTimeout(t *testing.T) {
	env := setupTestServer(t, false)
	unit := createUnit(t, env, map[string]interface{}{"window_name": "mess-dev"})

	result, err := env.server.ExecuteTool(context.Background(), "await-mode", map[string]interface{}{
		"unit_id":    unit.ID,
		"timeout_ms": 10,
	})
	if err != nil {
		t.Fatalf("await-mode failed: %v", err)
	}
	m := result.(map[string]interface{})
	if m["resolved"] != false {
		t.Errorf("expected unresolved before the props timeout, got %v", m)
	}
	if m["state"] != "waiting-for-props" {
		t.Errorf("expected waiting-for-props, got %v", m["state"])
	}

	if _, err := env.server.ExecuteTool(context.Background(), "await-mode", map[string]interface{}{"unit_id": "missing"}); err == nil {
		t.Error("expected error for unknown unit")
	}
}

func TestFactTools(t *testing.T) {
	env := setupTestServer(t, false)
	ctx := context.Background()
	unit := createUnit(t, env, nil)
	awaitFact(t, env, "mode_resolved", unit.ID, "live")

	t.Run("read-facts by unit", func(t *testing.T) {
		result, err := env.server.ExecuteTool(ctx, "read-facts", map[string]interface{}{"unit_id": unit.ID})
		if err != nil {
			t.Fatalf("read-facts failed: %v", err)
		}
		facts := result.(map[string]interface{})["facts"].([]mangle.Fact)
		if len(facts) == 0 {
			t.Fatal("expected unit facts")
		}
		if facts[0].Predicate != "unit_created" {
			t.Errorf("expected unit_created first, got %s", facts[0].Predicate)
		}
	})

	t.Run("read-facts limit", func(t *testing.T) {
		for i := 0; i < 40; i++ {
			_ = env.engine.AddFacts(ctx, []mangle.Fact{{Predicate: "noise", Args: []interface{}{i}, Timestamp: time.Now()}})
		}
		result, _ := env.server.ExecuteTool(ctx, "read-facts", map[string]interface{}{"predicate": "noise", "limit": 10})
		facts := result.(map[string]interface{})["facts"].([]mangle.Fact)
		if len(facts) != 10 {
			t.Fatalf("expected 10 facts, got %d", len(facts))
		}
		if facts[9].Args[0] != 39 {
			t.Errorf("expected newest fact last, got %v", facts[9].Args)
		}

		result, _ = env.server.ExecuteTool(ctx, "read-facts", map[string]interface{}{"predicate": "noise", "limit": 0})
		if n := result.(map[string]interface{})["count"].(int); n != defaultFactLimit {
			t.Errorf("expected default limit %d, got %d", defaultFactLimit, n)
		}
	})

	t.Run("query-facts", func(t *testing.T) {
		result, err := env.server.ExecuteTool(ctx, "query-facts", map[string]interface{}{"query": "live_unit(U)."})
		if err != nil {
			t.Fatalf("query-facts failed: %v", err)
		}
		results := result.(map[string]interface{})["results"].([]mangle.QueryResult)
		if len(results) != 1 || results[0]["U"] != unit.ID {
			t.Errorf("expected one live unit, got %v", results)
		}

		if _, err := env.server.ExecuteTool(ctx, "query-facts", nil); err == nil {
			t.Error("expected error for empty query")
		}
	})

	t.Run("submit-rule", func(t *testing.T) {
		rule := `
Decl quiet_live(UnitId).
quiet_live(U) :- live_unit(U), unit_created(U, _, _).
`
		result, err := env.server.ExecuteTool(ctx, "submit-rule", map[string]interface{}{"rule": rule})
		if err != nil {
			t.Fatalf("submit-rule failed: %v", err)
		}
		if result.(map[string]interface{})["status"] != "ok" {
			t.Errorf("expected ok, got %v", result)
		}
		awaitFact(t, env, "quiet_live", unit.ID)

		if _, err := env.server.ExecuteTool(ctx, "submit-rule", map[string]interface{}{"rule": "not a rule ("}); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("await-fact timeout", func(t *testing.T) {
		result, err := env.server.ExecuteTool(ctx, "await-fact", map[string]interface{}{
			"predicate":  "exit_opened",
			"args":       []interface{}{unit.ID},
			"timeout_ms": 50,
		})
		if err != nil {
			t.Fatalf("await-fact failed: %v", err)
		}
		if status := result.(map[string]interface{})["status"]; status != "timeout" {
			t.Errorf("expected timeout, got %v", status)
		}
	})
}

func TestMatchFact(t *testing.T) {
	facts := []mangle.Fact{{Predicate: "beacon_sent", Args: []interface{}{"u1", "impression", int64(1000)}}}

	tests := []struct {
		name string
		want []interface{}
		ok   bool
	}{
		{"no args", nil, true},
		{"leading arg", []interface{}{"u1"}, true},
		{"json number", []interface{}{"u1", "impression", float64(1000)}, true},
		{"mismatch", []interface{}{"u2"}, false},
		{"too many", []interface{}{"u1", "impression", 1000, "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchFact(facts, tt.want); got != tt.ok {
				t.Errorf("matchFact(%v) = %v, want %v", tt.want, got, tt.ok)
			}
		})
	}
	if matchFact(nil, nil) {
		t.Error("no facts never match")
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]interface{}{
		"s": "text",
		"n": float64(42),
		"b": true,
		"z": nil,
	}
	if getStringArg(args, "s") != "text" || getStringArg(args, "z") != "" || getStringArg(args, "missing") != "" {
		t.Error("getStringArg mismatch")
	}
	if getStringArg(args, "n") != "42" {
		t.Errorf("expected formatted number, got %q", getStringArg(args, "n"))
	}
	if getIntArg(args, "n", 1) != 42 || getIntArg(args, "s", 7) != 7 {
		t.Error("getIntArg mismatch")
	}
	if !getBoolArg(args, "b", false) || getBoolArg(args, "s", false) {
		t.Error("getBoolArg mismatch")
	}
	if asInt([]string{"12"}) != 12 || asInt("x") != 0 || asInt(float64(3)) != 3 {
		t.Error("asInt mismatch")
	}
	if argString([]string{"a", "b"}) != "a" || argString(nil) != "" {
		t.Error("argString mismatch")
	}
	if clampLimit(0) != defaultFactLimit || clampLimit(9999) != maxFactLimit || clampLimit(5) != 5 {
		t.Error("clampLimit mismatch")
	}
}

func TestResources(t *testing.T) {
	env := setupTestServer(t, false)
	ctx := context.Background()
	unit := createUnit(t, env, nil)
	awaitFact(t, env, "mode_resolved", unit.ID)

	t.Run("about", func(t *testing.T) {
		req := mcp.ReadResourceRequest{}
		req.Params.URI = "messkit://about"
		contents, err := env.server.handleAboutResource(ctx, req)
		if err != nil {
			t.Fatalf("about failed: %v", err)
		}
		text := contents[0].(mcp.TextResourceContents).Text
		if !strings.Contains(text, `"mess-style"`) || !strings.Contains(text, "create-unit") {
			t.Errorf("about payload missing identities or tools: %s", text)
		}
	})

	t.Run("units", func(t *testing.T) {
		req := mcp.ReadResourceRequest{}
		req.Params.URI = "messkit://units"
		contents, err := env.server.handleUnitsResource(ctx, req)
		if err != nil {
			t.Fatalf("units failed: %v", err)
		}
		var payload struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal([]byte(contents[0].(mcp.TextResourceContents).Text), &payload); err != nil {
			t.Fatalf("bad JSON: %v", err)
		}
		if payload.Count != 1 {
			t.Errorf("expected 1 unit, got %d", payload.Count)
		}
	})

	t.Run("unit facts", func(t *testing.T) {
		req := mcp.ReadResourceRequest{}
		req.Params.URI = "messkit://unit/" + unit.ID + "/facts?predicate=mode_resolved"
		req.Params.Arguments = map[string]any{
			"unitId":    []string{unit.ID},
			"predicate": []string{"mode_resolved"},
			"limit":     []string{"5"},
		}
		contents, err := env.server.handleUnitFactsResource(ctx, req)
		if err != nil {
			t.Fatalf("unit facts failed: %v", err)
		}
		var payload struct {
			Count int `json:"count"`
			Limit int `json:"limit"`
		}
		if err := json.Unmarshal([]byte(contents[0].(mcp.TextResourceContents).Text), &payload); err != nil {
			t.Fatalf("bad JSON: %v", err)
		}
		if payload.Count != 1 || payload.Limit != 5 {
			t.Errorf("unexpected payload %+v", payload)
		}
	})

	t.Run("unit facts without id", func(t *testing.T) {
		req := mcp.ReadResourceRequest{}
		if _, err := env.server.handleUnitFactsResource(ctx, req); err == nil {
			t.Error("expected error without unitId")
		}
	})
}
