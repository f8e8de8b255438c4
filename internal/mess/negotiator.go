package mess

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"messkit/internal/alarm"
	"messkit/internal/smart"
	"messkit/internal/store"
	"messkit/internal/tracking"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	// DefaultPropsTimeout is how long an editor unit waits for the first
	// property update before falling back to editor-dev mode.
	DefaultPropsTimeout = 300 * time.Millisecond
	// DefaultStyleDebounce is the quiet period that closes a style batch.
	DefaultStyleDebounce = 100 * time.Millisecond
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("negotiator already started")
	// ErrNotResolved is returned when the mode is read before resolution.
	ErrNotResolved = errors.New("mode not resolved")
)

type state int

const (
	stateStart state = iota
	stateWaitingForHandshake
	stateWaitingForProps
	stateResolved
)

func (s state) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateWaitingForHandshake:
		return "waiting-for-handshake"
	case stateWaitingForProps:
		return "waiting-for-props"
	case stateResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Result is what a resolved negotiation yields.
type Result struct {
	Mode     Mode            `json:"mode"`
	Tracking tracking.Params `json:"tracking"`
}

// Tracker fires at-most-once beacons. *tracking.Client satisfies it.
type Tracker interface {
	Track(kind tracking.Kind) bool
}

// TrackerFactory builds the tracker once tracking details are known.
type TrackerFactory func(tracking.Details) Tracker

// Config holds the negotiation parameters.
type Config struct {
	Billable      string
	PropsTimeout  time.Duration
	StyleDebounce time.Duration
	Identities    Identities
}

// DefaultConfig returns the MESS editor defaults.
func DefaultConfig() Config {
	return Config{
		PropsTimeout:  DefaultPropsTimeout,
		StyleDebounce: DefaultStyleDebounce,
		Identities:    DefaultIdentities(),
	}
}

// Option customizes a Negotiator.
type Option func(*Negotiator)

// WithConfig replaces the negotiation parameters. Zero durations fall back
// to the defaults.
func WithConfig(cfg Config) Option {
	return func(n *Negotiator) {
		if cfg.PropsTimeout <= 0 {
			cfg.PropsTimeout = DefaultPropsTimeout
		}
		if cfg.StyleDebounce <= 0 {
			cfg.StyleDebounce = DefaultStyleDebounce
		}
		if cfg.Identities == (Identities{}) {
			cfg.Identities = DefaultIdentities()
		}
		n.cfg = cfg
	}
}

// WithClock drives both alarms from clk.
func WithClock(clk clock.Clock) Option {
	return func(n *Negotiator) {
		if clk != nil {
			n.clock = clk
		}
	}
}

// WithLogger sets the logger. Dropped messages are logged at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(n *Negotiator) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithTrackerFactory overrides how the live-mode tracker is built.
func WithTrackerFactory(f TrackerFactory) Option {
	return func(n *Negotiator) {
		if f != nil {
			n.newTracker = f
		}
	}
}

// WithUpdateObserver is notified of every direct (post-resolution) update.
func WithUpdateObserver(fn store.Observer) Option {
	return func(n *Negotiator) {
		n.onUpdate = fn
	}
}

// Negotiator runs the editor/runtime handshake for one creative unit and
// keeps the unit's store in sync with its host afterwards.
type Negotiator struct {
	win      Window
	editable map[string]any
	data     *store.Store

	cfg        Config
	clock      clock.Clock
	logger     *zap.Logger
	newTracker TrackerFactory
	onUpdate   store.Observer

	mu         sync.Mutex
	state      state
	pending    []PropUpdate
	propsAlarm *alarm.Alarm
	styleAlarm *alarm.Alarm
	stop       func()
	tracker    Tracker
	details    tracking.Details

	result *Future[Result]
}

// NewNegotiator prepares a negotiation for win. editable is the field map
// supplied by the host (or its defaults); data is the unit's live store.
func NewNegotiator(win Window, editable map[string]any, data *store.Store, opts ...Option) *Negotiator {
	n := &Negotiator{
		win:      win,
		editable: editable,
		data:     data,
		cfg:      DefaultConfig(),
		clock:    clock.New(),
		logger:   zap.NewNop(),
		result:   NewFuture[Result](),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.newTracker == nil {
		n.newTracker = func(d tracking.Details) Tracker {
			return tracking.NewClient(d, tracking.WithClock(n.clock), tracking.WithLogger(n.logger))
		}
	}
	n.propsAlarm = alarm.New(n.clock, &n.mu)
	n.styleAlarm = alarm.New(n.clock, &n.mu)
	return n
}

// Start inspects the window identity and begins negotiation. In live mode
// the result is resolved before Start returns.
func (n *Negotiator) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != stateStart {
		return ErrAlreadyStarted
	}

	name := n.win.Name()
	ids := n.cfg.Identities
	log := n.logger.With(zap.String("window", name))

	if !ids.Recognized(name) {
		size := smart.SizeOf(n.editable)
		styleName, _ := n.editable["styleName"].(string)
		n.details = tracking.NewDetails(n.cfg.Billable, size, styleName)

		keys := make([]string, 0, len(n.editable))
		for k := range n.editable {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			n.data.Set(k, smart.Resolve(n.editable[k], size))
		}

		n.tracker = n.newTracker(n.details)
		n.tracker.Track(tracking.Impression)
		n.resolveLocked(ModeLive)
		log.Debug("serving live", zap.String("creative", n.details.Creative))
		return nil
	}

	n.state = stateWaitingForHandshake
	n.stop = n.win.Listen(n.handle)

	if ids.IsEditor(name) {
		n.state = stateWaitingForProps
		n.propsAlarm.Arm(n.cfg.PropsTimeout, n.propsTimedOut)
	}

	if ids.IsProps(name) {
		n.post(NewAvailableProperties(n.editable, name))
		n.resolveLocked(ModePropsInspection)
	}

	n.post(NewClientHere(name))
	return nil
}

// Wait blocks until the mode is resolved.
func (n *Negotiator) Wait(ctx context.Context) (Result, error) {
	return n.result.Wait(ctx)
}

// Mode returns the resolved mode, if any.
func (n *Negotiator) Mode() (Mode, bool) {
	r, ok := n.result.Poll()
	return r.Mode, ok
}

// Result returns the resolved result without blocking.
func (n *Negotiator) Result() (Result, error) {
	r, ok := n.result.Poll()
	if !ok {
		return Result{}, ErrNotResolved
	}
	return r, nil
}

// Done is closed once the mode is resolved.
func (n *Negotiator) Done() <-chan struct{} {
	return n.result.Done()
}

// State names the current negotiation state.
func (n *Negotiator) State() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.String()
}

// PendingUpdates returns the number of updates waiting in the style batch.
func (n *Negotiator) PendingUpdates() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

// Exit fires the exit beacon when served live (at most once) and always
// opens url in a new browsing context.
func (n *Negotiator) Exit(url string) error {
	n.mu.Lock()
	tracker := n.tracker
	n.mu.Unlock()

	if tracker != nil && !n.cfg.Identities.Recognized(n.win.Name()) {
		tracker.Track(tracking.Exit)
	}
	return n.win.Open(url)
}

// Close detaches the message listener and cancels pending alarms. An
// unresolved negotiation stays unresolved.
func (n *Negotiator) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.propsAlarm.Cancel()
	n.styleAlarm.Cancel()
	if n.stop != nil {
		n.stop()
		n.stop = nil
	}
}

func (n *Negotiator) handle(raw []byte) {
	name := n.win.Name()
	if !n.cfg.Identities.IsEditor(name) {
		return
	}

	update, err := ParseInbound(raw)
	if err != nil {
		if !errors.Is(err, ErrNotMess) {
			n.logger.Debug("dropping inbound message", zap.String("window", name), zap.Error(err))
		}
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == stateWaitingForProps {
		n.propsAlarm.Cancel()
		n.pending = append(n.pending, update)
		n.styleAlarm.Arm(n.cfg.StyleDebounce, n.applyPending)
		return
	}

	value := smart.FixBooleans(smart.Resolve(update.PropValue, n.data.String("size")))
	n.data.Set(update.Prop, value)
	if n.onUpdate != nil {
		n.onUpdate(update.Prop, value)
	}
}

// propsTimedOut runs with n.mu held.
func (n *Negotiator) propsTimedOut() {
	n.resolveLocked(ModeEditorDev)
}

// applyPending runs with n.mu held. Batched values are applied as received,
// without boolean coercion.
func (n *Negotiator) applyPending() {
	batch := n.pending
	n.pending = nil
	n.state = stateResolved
	for _, u := range batch {
		n.data.Set(u.Prop, u.PropValue)
	}
	n.resolveLocked(ModeEditorStyle)
}

func (n *Negotiator) resolveLocked(mode Mode) {
	n.state = stateResolved
	if n.result.Resolve(Result{Mode: mode, Tracking: n.details.Params()}) {
		n.logger.Debug("mode resolved", zap.String("window", n.win.Name()), zap.Stringer("mode", mode))
	}
}

func (n *Negotiator) post(msg Outbound) {
	if err := n.win.PostToParent(msg); err != nil {
		n.logger.Warn("post to parent failed", zap.String("kind", msg.Kind()), zap.Error(err))
	}
}
