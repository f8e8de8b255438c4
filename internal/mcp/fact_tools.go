package mcp

import (
	"context"
	"fmt"
	"time"

	"messkit/internal/mangle"
)

const (
	defaultFactLimit = 25
	maxFactLimit     = 500
	awaitPollEvery   = 25 * time.Millisecond
)

// ReadFactsTool returns the most recent buffered facts.
type ReadFactsTool struct {
	engine *mangle.Engine
}

func (t *ReadFactsTool) Name() string { return "read-facts" }
func (t *ReadFactsTool) Description() string {
	return `Read the most recent unit facts from the buffer.

Every unit event is recorded as a fact whose first argument is the unit ID:
unit_created, message_posted, prop_update, field_set, mode_resolved,
beacon_sent, exit_opened. Exit previews add preview_loaded.

FILTERS:
- predicate: only facts of this predicate
- unit_id:   only facts for this unit

Returns: {facts: [...], count} in chronological order (default limit 25).`
}
func (t *ReadFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Optional predicate filter",
			},
			"unit_id": map[string]interface{}{
				"type":        "string",
				"description": "Optional unit filter",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum facts to return (default 25, max 500)",
			},
		},
	}
}
func (t *ReadFactsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	limit := clampLimit(getIntArg(args, "limit", defaultFactLimit))
	facts := selectRecentFacts(t.engine, getStringArg(args, "unit_id"), getStringArg(args, "predicate"), limit)
	return map[string]interface{}{
		"facts": facts,
		"count": len(facts),
	}, nil
}

// QueryFactsTool runs a Mangle query against base and derived facts.
type QueryFactsTool struct {
	engine *mangle.Engine
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Run a Mangle query against unit facts, including derived predicates.

DERIVED PREDICATES:
- live_unit(U), editor_unit(U)
- handshake_complete(U, Mode), schema_published(U)
- impression_tracked(U), tracked_exit(U, Url), previewed_exit(U, Url)
- style_batched(U), host_edit(U, Prop)

EXAMPLES:
- tracked_exit(U, Url).
- mode_resolved(U, "editor-style", _).

Returns: {results: [{Var: value}], count}`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Single atom query, e.g. tracked_exit(U, Url).",
			},
		},
		"required": []string{"query"},
	}
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := getStringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	results, err := t.engine.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"results": results,
		"count":   len(results),
	}, nil
}

// SubmitRuleTool adds rules to the running program.
type SubmitRuleTool struct {
	engine *mangle.Engine
}

func (t *SubmitRuleTool) Name() string { return "submit-rule" }
func (t *SubmitRuleTool) Description() string {
	return `Add Mangle declarations and rules to the running program.

New predicates need a Decl. Rules may reference any loaded predicate.

EXAMPLE:
  Decl silent_editor(UnitId).
  silent_editor(U) :- editor_unit(U), mode_resolved(U, "editor-dev", _).

Returns: {status: "ok"}`
}
func (t *SubmitRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule": map[string]interface{}{
				"type":        "string",
				"description": "Mangle source with Decl and rule clauses",
			},
		},
		"required": []string{"rule"},
	}
}
func (t *SubmitRuleTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	rule := getStringArg(args, "rule")
	if rule == "" {
		return nil, fmt.Errorf("rule is required")
	}
	if err := t.engine.AddRule(rule); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "ok"}, nil
}

// AwaitFactTool polls until a fact matching predicate and leading args exists.
type AwaitFactTool struct {
	engine *mangle.Engine
}

func (t *AwaitFactTool) Name() string { return "await-fact" }
func (t *AwaitFactTool) Description() string {
	return `Wait until a fact exists, matching leading args if given.

Works for base and derived predicates.

EXAMPLES:
- {predicate: "mode_resolved", args: ["<unit id>"]}
- {predicate: "impression_tracked", args: ["<unit id>"]}

Returns: {status: "passed", elapsed_ms} or {status: "timeout"}`
}
func (t *AwaitFactTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate to wait for",
			},
			"args": map[string]interface{}{
				"type":        "array",
				"description": "Leading arguments the fact must have",
			},
			"timeout_ms": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum wait in milliseconds (default 2000, max 30000)",
			},
		},
		"required": []string{"predicate"},
	}
}
func (t *AwaitFactTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("predicate is required")
	}
	var want []interface{}
	if raw, ok := args["args"].([]interface{}); ok {
		want = raw
	}
	timeout := time.Duration(getIntArg(args, "timeout_ms", int(defaultAwaitTimeout/time.Millisecond))) * time.Millisecond
	if timeout <= 0 || timeout > maxAwaitTimeout {
		timeout = defaultAwaitTimeout
	}

	start := time.Now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(awaitPollEvery)
	defer ticker.Stop()

	for {
		if t.matches(ctx, predicate, want) {
			return map[string]interface{}{
				"status":     "passed",
				"predicate":  predicate,
				"elapsed_ms": time.Since(start).Milliseconds(),
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return map[string]interface{}{
				"status":     "timeout",
				"predicate":  predicate,
				"timeout_ms": timeout.Milliseconds(),
			}, nil
		case <-ticker.C:
		}
	}
}

func (t *AwaitFactTool) matches(ctx context.Context, predicate string, want []interface{}) bool {
	if matchFact(t.engine.FactsByPredicate(predicate), want) {
		return true
	}
	derived, err := t.engine.Evaluate(ctx, predicate)
	return err == nil && matchFact(derived, want)
}

// selectRecentFacts returns up to limit of the newest facts, filtered by unit
// and predicate, in chronological order.
func selectRecentFacts(engine *mangle.Engine, unitID, predicate string, limit int) []mangle.Fact {
	if engine == nil || limit <= 0 {
		return []mangle.Fact{}
	}

	var source []mangle.Fact
	switch {
	case predicate != "":
		source = engine.FactsByPredicate(predicate)
	case unitID != "":
		source = engine.FactsForUnit(unitID)
	default:
		source = engine.Facts()
	}

	out := make([]mangle.Fact, 0, min(limit, len(source)))
	for i := len(source) - 1; i >= 0 && len(out) < limit; i-- {
		f := source[i]
		if unitID != "" && (len(f.Args) == 0 || fmt.Sprintf("%v", f.Args[0]) != unitID) {
			continue
		}
		out = append(out, f)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultFactLimit
	}
	if limit > maxFactLimit {
		return maxFactLimit
	}
	return limit
}
