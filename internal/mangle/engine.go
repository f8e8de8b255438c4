package mangle

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"messkit/internal/config"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"
)

// DefaultSchema is the built-in creative event schema. It is used when the
// configured schema file does not exist.
//
//go:embed creative.mg
var DefaultSchema string

// ErrNotReady is returned by queries when no schema has been loaded.
var ErrNotReady = errors.New("engine not ready")

// Fact is a normalized event emitted by a hosted creative unit.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult binds query variables to values.
type QueryResult map[string]interface{}

// WatchEvent is emitted when a watched predicate gains facts.
type WatchEvent struct {
	Predicate string    `json:"predicate"`
	Facts     []Fact    `json:"facts"`
	Timestamp time.Time `json:"timestamp"`
}

// Engine wraps the Mangle deductive database with a bounded, indexed buffer
// of unit events.
type Engine struct {
	cfg          config.MangleConfig
	logger       *zap.Logger
	mu           sync.RWMutex
	schemaLoaded bool

	programInfo *analysis.ProgramInfo
	store       factstore.FactStore

	// Bounded event buffer for temporal queries.
	facts []Fact
	index map[string][]int

	subscriptions map[string][]chan WatchEvent
	watchCounts   map[string]int
	subMu         sync.RWMutex
}

// NewEngine builds an engine. When enabled it loads cfg.SchemaPath, falling
// back to DefaultSchema if the path is empty or missing.
func NewEngine(cfg config.MangleConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:           cfg,
		logger:        logger,
		facts:         make([]Fact, 0, max(cfg.FactBufferLimit, 0)),
		index:         make(map[string][]int),
		store:         factstore.NewSimpleInMemoryStore(),
		subscriptions: make(map[string][]chan WatchEvent),
		watchCounts:   make(map[string]int),
	}

	if !cfg.Enable {
		return e, nil
	}

	if cfg.SchemaPath != "" {
		err := e.LoadSchema(cfg.SchemaPath)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		logger.Debug("schema file missing, using built-in schema", zap.String("path", cfg.SchemaPath))
	}

	if err := e.LoadSchemaSource(DefaultSchema); err != nil {
		return nil, err
	}
	return e, nil
}

// LoadSchema parses, analyzes and installs a schema file.
func (e *Engine) LoadSchema(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	return e.LoadSchemaSource(string(data))
}

// LoadSchemaSource installs a schema given as Mangle source.
func (e *Engine) LoadSchemaSource(src string) error {
	sourceUnit, err := parse.Unit(bytes.NewReader([]byte(src)))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}

	programInfo, err := analysis.AnalyzeOneUnit(sourceUnit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return fmt.Errorf("analyze schema: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.programInfo = programInfo
	e.schemaLoaded = true
	return nil
}

// AddRule analyzes ruleSource against the loaded declarations and merges the
// result into the program.
func (e *Engine) AddRule(ruleSource string) error {
	if !e.cfg.Enable {
		return nil
	}

	sourceUnit, err := parse.Unit(bytes.NewReader([]byte(ruleSource)))
	if err != nil {
		return fmt.Errorf("parse rule: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existingDecls := make(map[ast.PredicateSym]ast.Decl)
	if e.programInfo != nil {
		for k, v := range e.programInfo.Decls {
			if v != nil {
				existingDecls[k] = *v
			}
		}
	}

	newProgramInfo, err := analysis.AnalyzeOneUnit(sourceUnit, existingDecls)
	if err != nil {
		return fmt.Errorf("analyze rule: %w", err)
	}

	if e.programInfo == nil {
		e.programInfo = newProgramInfo
		e.schemaLoaded = true
		return nil
	}
	for k, v := range newProgramInfo.Decls {
		e.programInfo.Decls[k] = v
	}
	for k, v := range newProgramInfo.IdbPredicates {
		e.programInfo.IdbPredicates[k] = v
	}
	e.programInfo.InitialFacts = append(e.programInfo.InitialFacts, newProgramInfo.InitialFacts...)
	e.programInfo.Rules = append(e.programInfo.Rules, newProgramInfo.Rules...)
	return nil
}

// AddFacts appends facts to the buffer and the store, then re-evaluates the
// program and notifies watchers.
func (e *Engine) AddFacts(ctx context.Context, facts []Fact) error {
	if !e.cfg.Enable || len(facts) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	baseIdx := len(e.facts)
	e.facts = append(e.facts, facts...)
	if e.cfg.FactBufferLimit > 0 && len(e.facts) > e.cfg.FactBufferLimit {
		e.facts = e.facts[len(e.facts)-e.cfg.FactBufferLimit:]
		e.rebuildIndex()
	} else {
		for i, f := range facts {
			e.index[f.Predicate] = append(e.index[f.Predicate], baseIdx+i)
		}
	}

	for _, f := range facts {
		e.store.Add(factToAtom(f))
	}

	if !e.schemaLoaded || e.programInfo == nil {
		return nil
	}
	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		e.logger.Debug("evaluation failed", zap.Error(err))
		return fmt.Errorf("eval program after fact insertion: %w", err)
	}
	e.checkAndNotifyWatchers()
	return nil
}

// checkAndNotifyWatchers runs with e.mu held.
func (e *Engine) checkAndNotifyWatchers() {
	for _, predicate := range e.WatchPredicates() {
		derived := e.collectLocked(predicate)

		e.subMu.Lock()
		seen := e.watchCounts[predicate]
		if len(derived) > seen {
			e.watchCounts[predicate] = len(derived)
		}
		e.subMu.Unlock()

		if len(derived) > seen {
			e.notifySubscribers(predicate, derived[seen:])
		}
	}
}

// Subscribe registers ch for new facts of predicate. Sends never block; a
// full channel misses the event.
func (e *Engine) Subscribe(predicate string, ch chan WatchEvent) string {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	e.subscriptions[predicate] = append(e.subscriptions[predicate], ch)
	return fmt.Sprintf("%s:%p", predicate, ch)
}

// Unsubscribe removes ch from predicate's subscribers.
func (e *Engine) Unsubscribe(predicate string, ch chan WatchEvent) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	channels := e.subscriptions[predicate]
	for i, c := range channels {
		if c == ch {
			e.subscriptions[predicate] = append(channels[:i], channels[i+1:]...)
			break
		}
	}
}

func (e *Engine) notifySubscribers(predicate string, facts []Fact) {
	e.subMu.RLock()
	channels := append([]chan WatchEvent(nil), e.subscriptions[predicate]...)
	e.subMu.RUnlock()

	if len(channels) == 0 || len(facts) == 0 {
		return
	}

	event := WatchEvent{Predicate: predicate, Facts: facts, Timestamp: time.Now()}
	for _, ch := range channels {
		select {
		case ch <- event:
		default:
		}
	}
}

// WatchPredicates lists predicates with at least one subscriber, sorted.
func (e *Engine) WatchPredicates() []string {
	e.subMu.RLock()
	defer e.subMu.RUnlock()

	predicates := make([]string, 0, len(e.subscriptions))
	for p, chs := range e.subscriptions {
		if len(chs) > 0 {
			predicates = append(predicates, p)
		}
	}
	sort.Strings(predicates)
	return predicates
}

// Query evaluates a single atom such as `tracked_exit(U, Url).` and returns
// one binding per matching fact. Constant arguments filter the matches.
func (e *Engine) Query(ctx context.Context, queryStr string) ([]QueryResult, error) {
	if !e.cfg.Enable || !e.Ready() {
		return nil, ErrNotReady
	}

	sourceUnit, err := parse.Unit(bytes.NewReader([]byte(queryStr)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(sourceUnit.Clauses) == 0 {
		return nil, fmt.Errorf("no query found")
	}
	queryAtom := sourceUnit.Clauses[0].Head

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]QueryResult, 0)
	err = e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		if r, ok := bind(queryAtom.Args, atomArgs(atom)); ok {
			results = append(results, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}

	// The store indexes by exact arity; fall back to the raw buffer for
	// base predicates queried with a shorter pattern.
	if len(results) == 0 {
		for _, idx := range e.index[queryAtom.Predicate.Symbol] {
			if r, ok := bind(queryAtom.Args, e.facts[idx].Args); ok {
				results = append(results, r)
			}
		}
	}

	return results, nil
}

// bind matches pattern against values, binding variables and comparing
// constants by their printed form.
func bind(pattern []ast.BaseTerm, values []interface{}) (QueryResult, bool) {
	if len(values) < len(pattern) {
		return nil, false
	}
	result := make(QueryResult)
	for i, arg := range pattern {
		switch term := arg.(type) {
		case ast.Variable:
			if term.Symbol == "_" {
				continue
			}
			if prev, ok := result[term.Symbol]; ok && fmt.Sprint(prev) != fmt.Sprint(values[i]) {
				return nil, false
			}
			result[term.Symbol] = values[i]
		case ast.Constant:
			if fmt.Sprint(convertConstant(term)) != fmt.Sprint(values[i]) {
				return nil, false
			}
		}
	}
	return result, true
}

// Evaluate re-runs the program and returns every fact of predicate.
func (e *Engine) Evaluate(ctx context.Context, predicate string) ([]Fact, error) {
	if !e.cfg.Enable || !e.Ready() {
		return nil, ErrNotReady
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		return nil, fmt.Errorf("eval program: %w", err)
	}
	return e.collectLocked(predicate), nil
}

// collectLocked reads predicate from the store using its declared arity.
func (e *Engine) collectLocked(predicate string) []Fact {
	arity := -1
	if e.programInfo != nil {
		for sym := range e.programInfo.Decls {
			if sym.Symbol == predicate {
				arity = sym.Arity
				break
			}
		}
	}

	predSym := ast.PredicateSym{Symbol: predicate, Arity: arity}
	queryAtom := ast.Atom{Predicate: predSym}
	if arity >= 0 {
		args := make([]ast.BaseTerm, arity)
		for i := range args {
			args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
		}
		queryAtom.Args = args
	}

	now := time.Now()
	facts := make([]Fact, 0)
	_ = e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		facts = append(facts, Fact{Predicate: predicate, Args: atomArgs(atom), Timestamp: now})
		return nil
	})
	return facts
}

// QueryTemporal returns facts of predicate strictly inside (after, before).
// A zero bound is open.
func (e *Engine) QueryTemporal(predicate string, after, before time.Time) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]Fact, 0)
	for _, idx := range e.index[predicate] {
		f := e.facts[idx]
		if (after.IsZero() || f.Timestamp.After(after)) &&
			(before.IsZero() || f.Timestamp.Before(before)) {
			results = append(results, f)
		}
	}
	return results
}

// FactsByPredicate returns buffered facts of predicate in arrival order.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	indices := e.index[predicate]
	results := make([]Fact, 0, len(indices))
	for _, idx := range indices {
		results = append(results, e.facts[idx])
	}
	return results
}

// FactsForUnit returns buffered facts whose first argument is unitID.
func (e *Engine) FactsForUnit(unitID string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]Fact, 0)
	for _, f := range e.facts {
		if len(f.Args) > 0 && f.Args[0] == unitID {
			results = append(results, f)
		}
	}
	return results
}

// Facts returns a copy of the buffer.
func (e *Engine) Facts() []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Fact, len(e.facts))
	copy(out, e.facts)
	return out
}

// MatchesAll reports whether every condition has a buffered fact whose
// leading args equal the condition's args.
func (e *Engine) MatchesAll(conds []Fact) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, cond := range conds {
		found := false
		for _, idx := range e.index[cond.Predicate] {
			f := e.facts[idx]
			if len(f.Args) < len(cond.Args) {
				continue
			}
			ok := true
			for i := range cond.Args {
				if fmt.Sprint(f.Args[i]) != fmt.Sprint(cond.Args[i]) {
					ok = false
					break
				}
			}
			if ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Ready reports whether the engine can answer queries.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.schemaLoaded || !e.cfg.Enable
}

func factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{
		Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)},
		Args:      args,
	}
}

func atomArgs(atom ast.Atom) []interface{} {
	args := make([]interface{}, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = convertConstant(arg)
	}
	return args
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func convertConstant(c ast.BaseTerm) interface{} {
	switch term := c.(type) {
	case nil:
		return nil
	case ast.Constant:
		switch term.Type {
		case ast.StringType:
			val, _ := term.StringValue()
			return val
		case ast.NumberType:
			return term.NumValue
		case ast.Float64Type:
			if val, err := term.Float64Value(); err == nil {
				return val
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	default:
		return fmt.Sprintf("%v", c)
	}
}

// rebuildIndex runs with e.mu held after the buffer is trimmed.
func (e *Engine) rebuildIndex() {
	e.index = make(map[string][]int)
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
	}
}
