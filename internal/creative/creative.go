// Package creative assembles a creative unit: its field store, the MESS
// negotiation, a readiness gate in front of the DOM reflector, and click
// handling.
package creative

import (
	"context"
	"fmt"
	"sort"

	"messkit/internal/mess"
	"messkit/internal/store"
)

// StateField is the runtime field tracking the unit lifecycle. It is not
// editable and is never published to hosts.
const StateField = "state"

// Lifecycle values of StateField.
const (
	StateLoading = "loading"
	StateReady   = "ready"
)

// DefaultFields are the editable fields used when the ad server supplies
// no dynamic content.
func DefaultFields() map[string]any {
	return map[string]any{
		"headline":        "My Creative",
		"cta":             "Click Here",
		"ctaRounding":     "1em",
		"contentColor":    "#000000",
		"backgroundColor": "#ffffff",
		"useCta":          true,
		"videoStream":     "",
		"video":           "",
		"image":           "",
		"exitUrl":         "https://example.com",
		"lang":            "en",
	}
}

// Config describes one unit.
type Config struct {
	Negotiation mess.Config
	// Fields is the dynamic content from the ad server. nil selects
	// DefaultFields.
	Fields map[string]any
	// ClickTag is appended to exitUrl on click.
	ClickTag string
}

// Unit is a running creative.
type Unit struct {
	editable   map[string]any
	data       *store.Store
	negotiator *mess.Negotiator
	gate       *Gate
	reflector  Reflector
	clickTag   string
}

// New builds a unit in win. Store writes reach reflector only after Start
// has resolved the mode. opts are passed to the negotiator after the
// negotiation config.
func New(win mess.Window, reflector Reflector, cfg Config, opts ...mess.Option) *Unit {
	editable := cfg.Fields
	if editable == nil {
		editable = DefaultFields()
	}

	initial := make(map[string]any, len(editable)+1)
	initial[StateField] = StateLoading
	for k, v := range editable {
		initial[k] = v
	}

	if reflector == nil {
		reflector = ReflectorFunc(func(string, any) {})
	}
	gate := NewGate(reflector)
	data := store.New(initial)
	data.Observe(gate.Reflect)

	all := append([]mess.Option{mess.WithConfig(cfg.Negotiation)}, opts...)
	return &Unit{
		editable:   editable,
		data:       data,
		negotiator: mess.NewNegotiator(win, editable, data, all...),
		gate:       gate,
		reflector:  reflector,
		clickTag:   cfg.ClickTag,
	}
}

// Start negotiates the mode, opens the readiness gate and marks the unit
// ready. In live mode the final data is reflected in full.
func (u *Unit) Start(ctx context.Context) (mess.Result, error) {
	if err := u.Begin(); err != nil {
		return mess.Result{}, err
	}
	return u.Await(ctx)
}

// Begin starts the negotiation without waiting for it. Live units are
// resolved when Begin returns.
func (u *Unit) Begin() error {
	return u.negotiator.Start()
}

// Await blocks until the mode is resolved, then opens the gate.
func (u *Unit) Await(ctx context.Context) (mess.Result, error) {
	r, err := u.negotiator.Wait(ctx)
	if err != nil {
		return mess.Result{}, fmt.Errorf("await mode: %w", err)
	}

	u.gate.Open()
	u.data.Set(StateField, StateReady)

	if r.Mode == mess.ModeLive {
		snap := u.data.Snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			u.gate.Reflect(k, snap[k])
		}
	}
	return r, nil
}

// Ready reports whether Await has opened the gate.
func (u *Unit) Ready() bool {
	return u.data.String(StateField) == StateReady
}

// Click exits to exitUrl followed by the click tag.
func (u *Unit) Click() error {
	return u.negotiator.Exit(u.data.String("exitUrl") + u.clickTag)
}

// Data exposes the unit's field store.
func (u *Unit) Data() *store.Store { return u.data }

// Negotiator exposes the handshake state.
func (u *Unit) Negotiator() *mess.Negotiator { return u.negotiator }

// Editable returns the field map published to hosts.
func (u *Unit) Editable() map[string]any { return u.editable }

// Close stops listening for host messages.
func (u *Unit) Close() { u.negotiator.Close() }
