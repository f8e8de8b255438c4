// Package harness hosts creative units in-process behind emulated host
// windows, so an editor (or a test) can drive the MESS handshake without a
// browser. Every unit event becomes a Mangle fact and a trace record.
package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"messkit/internal/browser"
	"messkit/internal/config"
	"messkit/internal/creative"
	"messkit/internal/mangle"
	"messkit/internal/mess"
	"messkit/internal/recorder"
	"messkit/internal/tracking"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnitNotFound is returned for unknown unit ids.
	ErrUnitNotFound = errors.New("unit not found")
	// ErrClosed is returned once the harness has shut down.
	ErrClosed = errors.New("harness closed")
	// ErrNoBrowser is returned when a preview is requested without a browser.
	ErrNoBrowser = errors.New("no browser attached for previews")
)

// FactSink receives unit events as facts. *mangle.Engine satisfies it.
type FactSink interface {
	AddFacts(ctx context.Context, facts []mangle.Fact) error
}

// EventLog receives unit events as trace records. *recorder.Recorder
// satisfies it.
type EventLog interface {
	Log(eventType, unitID string, data interface{})
}

// Previewer opens exit URLs in a real browser. *browser.SessionManager
// satisfies it.
type Previewer interface {
	OpenPreview(ctx context.Context, unitID, url string) (*browser.Session, error)
}

// Option customizes a Harness.
type Option func(*Harness)

// WithLogger sets the logger shared with hosted units.
func WithLogger(l *zap.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithClock drives unit timers, beacon timestamps and fact timestamps.
func WithClock(clk clock.Clock) Option {
	return func(h *Harness) {
		if clk != nil {
			h.clock = clk
		}
	}
}

// WithFactSink forwards unit events to sink.
func WithFactSink(sink FactSink) Option {
	return func(h *Harness) { h.facts = sink }
}

// WithEventLog forwards unit events to log.
func WithEventLog(log EventLog) Option {
	return func(h *Harness) { h.events = log }
}

// WithPreviewer enables exit previews.
func WithPreviewer(p Previewer) Option {
	return func(h *Harness) { h.previewer = p }
}

// WithDoer sets the HTTP client used by live-unit beacons.
func WithDoer(d tracking.Doer) Option {
	return func(h *Harness) { h.doer = d }
}

// CreateRequest describes a unit to host.
type CreateRequest struct {
	// WindowName is the identity the unit sees. Empty means served live.
	WindowName string `json:"window_name"`
	// Fields overrides the configured default fields.
	Fields map[string]any `json:"fields,omitempty"`
	// Billable overrides the configured billable entity.
	Billable string `json:"billable,omitempty"`
}

// Beacon is a tracking request dispatched by a live unit.
type Beacon struct {
	Kind string    `json:"kind"`
	URL  string    `json:"url"`
	At   time.Time `json:"at"`
}

// UnitInfo is a snapshot of a hosted unit.
type UnitInfo struct {
	ID             string          `json:"id"`
	WindowName     string          `json:"window_name"`
	State          string          `json:"state"`
	Mode           string          `json:"mode,omitempty"`
	Ready          bool            `json:"ready"`
	Tracking       tracking.Params `json:"tracking"`
	PendingUpdates int             `json:"pending_updates"`
	Fields         map[string]any  `json:"fields,omitempty"`
	Posted         []PostedMessage `json:"posted,omitempty"`
	Opened         []string        `json:"opened,omitempty"`
	Beacons        []Beacon        `json:"beacons,omitempty"`
	Reflections    int             `json:"reflections"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ClickResult describes the outcome of a click.
type ClickResult struct {
	URL          string           `json:"url"`
	ExitTracked  bool             `json:"exit_tracked"`
	Preview      *browser.Session `json:"preview,omitempty"`
	PreviewError string           `json:"preview_error,omitempty"`
}

type unit struct {
	id        string
	window    *Window
	creative  *creative.Unit
	createdAt time.Time

	// cancel ends the await goroutine; Close alone never resolves the mode.
	cancel context.CancelFunc

	mu          sync.Mutex
	beacons     []Beacon
	reflections int
	tracker     *tracking.Client
}

// Harness hosts many creative units keyed by id.
type Harness struct {
	cfg       config.CreativeConfig
	logger    *zap.Logger
	clock     clock.Clock
	facts     FactSink
	events    EventLog
	previewer Previewer
	doer      tracking.Doer

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu     sync.RWMutex
	units  map[string]*unit
	closed bool
}

// New creates a harness using cfg for every unit it hosts.
func New(cfg config.CreativeConfig, opts ...Option) *Harness {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Harness{
		cfg:    cfg,
		logger: zap.NewNop(),
		clock:  clock.New(),
		ctx:    ctx,
		cancel: cancel,
		units:  make(map[string]*unit),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Harness) negotiation(billable string) mess.Config {
	if billable == "" {
		billable = h.cfg.Billable
	}
	return mess.Config{
		Billable:      billable,
		PropsTimeout:  h.cfg.GetPropsTimeout(),
		StyleDebounce: h.cfg.GetStyleDebounce(),
		Identities: mess.Identities{
			Dev:   h.cfg.WindowNames.Dev,
			Style: h.cfg.WindowNames.Style,
			Props: h.cfg.WindowNames.Props,
		},
	}
}

func (h *Harness) defaultFields() map[string]any {
	if len(h.cfg.Fields) > 0 {
		return h.cfg.Fields
	}
	return creative.DefaultFields()
}

// CreateUnit hosts a new unit and starts its negotiation. Live units are
// resolved when CreateUnit returns; embedded units resolve in the
// background.
func (h *Harness) CreateUnit(ctx context.Context, req CreateRequest) (UnitInfo, error) {
	if err := ctx.Err(); err != nil {
		return UnitInfo{}, err
	}

	u := &unit{
		id:        uuid.NewString(),
		window:    NewWindow(req.WindowName),
		createdAt: h.clock.Now(),
	}

	log := h.logger.With(zap.String("unit", u.id))
	u.window.now = h.clock.Now
	u.window.onPost = func(pm PostedMessage) {
		h.emit(u.id, recorder.EventMessagePosted, pm.Kind, pm)
	}
	u.window.onOpen = func(url string) {
		h.emit(u.id, recorder.EventExitOpened, url, url)
	}

	fields := req.Fields
	if fields == nil {
		fields = h.defaultFields()
	}
	editable := make(map[string]any, len(fields))
	for k, v := range fields {
		editable[k] = v
	}

	reflector := creative.ReflectorFunc(func(field string, value any) {
		u.mu.Lock()
		u.reflections++
		u.mu.Unlock()
		h.emit(u.id, recorder.EventFieldSet, field, map[string]any{"field": field, "value": value})
	})

	u.creative = creative.New(u.window, reflector, creative.Config{
		Negotiation: h.negotiation(req.Billable),
		Fields:      editable,
		ClickTag:    h.cfg.ClickTag,
	},
		mess.WithClock(h.clock),
		mess.WithLogger(log),
		mess.WithTrackerFactory(h.trackerFor(u, log)),
	)

	// Registration, Begin and the await goroutine happen under h.mu so
	// Close never races a half-started unit.
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return UnitInfo{}, ErrClosed
	}

	h.emit(u.id, recorder.EventUnitCreated, req.WindowName, map[string]any{
		"window_name": req.WindowName,
		"fields":      editable,
	})
	if err := u.creative.Begin(); err != nil {
		h.mu.Unlock()
		return UnitInfo{}, fmt.Errorf("start unit: %w", err)
	}
	h.units[u.id] = u
	awaitCtx, cancel := context.WithCancel(h.ctx)
	u.cancel = cancel
	h.group.Go(func() error {
		defer cancel()
		r, err := u.creative.Await(awaitCtx)
		if err != nil {
			log.Debug("unit closed before resolving", zap.Error(err))
			return nil
		}
		h.emit(u.id, recorder.EventModeResolved, r.Mode.String(), r)
		log.Info("mode resolved", zap.Stringer("mode", r.Mode))
		return nil
	})
	h.mu.Unlock()

	log.Info("unit created", zap.String("window", req.WindowName))
	return h.info(u, true), nil
}

func (h *Harness) trackerFor(u *unit, log *zap.Logger) mess.TrackerFactory {
	return func(d tracking.Details) mess.Tracker {
		c := tracking.NewClient(d,
			tracking.WithEndpoint(h.cfg.TrackingEndpoint),
			tracking.WithTimeout(h.cfg.GetBeaconTimeout()),
			tracking.WithDoer(h.doer),
			tracking.WithClock(h.clock),
			tracking.WithLogger(log),
			tracking.WithSendObserver(func(kind tracking.Kind, target string) {
				u.mu.Lock()
				u.beacons = append(u.beacons, Beacon{Kind: string(kind), URL: target, At: h.clock.Now()})
				u.mu.Unlock()
				h.emit(u.id, recorder.EventBeacon, string(kind), target)
			}),
		)
		u.mu.Lock()
		u.tracker = c
		u.mu.Unlock()
		return c
	}
}

// emit records an event as a trace line and, for schema predicates, a fact.
func (h *Harness) emit(unitID, event string, arg any, data any) {
	now := h.clock.Now()
	if h.events != nil {
		h.events.Log(event, unitID, data)
	}
	if h.facts == nil {
		return
	}
	fact := mangle.Fact{
		Predicate: event,
		Args:      []interface{}{unitID, arg, now.UnixMilli()},
		Timestamp: now,
	}
	if err := h.facts.AddFacts(context.Background(), []mangle.Fact{fact}); err != nil {
		h.logger.Debug("fact rejected", zap.String("predicate", event), zap.Error(err))
	}
}

func (h *Harness) lookup(id string) (*unit, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	u, ok := h.units[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, id)
	}
	return u, nil
}

func (h *Harness) remove(id string) *unit {
	h.mu.Lock()
	defer h.mu.Unlock()
	u := h.units[id]
	delete(h.units, id)
	return u
}

func (h *Harness) info(u *unit, detailed bool) UnitInfo {
	n := u.creative.Negotiator()
	info := UnitInfo{
		ID:             u.id,
		WindowName:     u.window.Name(),
		State:          n.State(),
		Ready:          u.creative.Ready(),
		PendingUpdates: n.PendingUpdates(),
		CreatedAt:      u.createdAt,
	}
	if r, err := n.Result(); err == nil {
		info.Mode = r.Mode.String()
		info.Tracking = r.Tracking
	}

	u.mu.Lock()
	info.Reflections = u.reflections
	if detailed {
		info.Beacons = append([]Beacon(nil), u.beacons...)
	}
	u.mu.Unlock()

	if detailed {
		info.Fields = u.creative.Data().Snapshot()
		info.Posted = u.window.Posted()
		info.Opened = u.window.Opened()
	}
	return info
}

// Units lists hosted units, oldest first, without field or message detail.
func (h *Harness) Units() []UnitInfo {
	h.mu.RLock()
	units := make([]*unit, 0, len(h.units))
	for _, u := range h.units {
		units = append(units, u)
	}
	h.mu.RUnlock()

	sort.Slice(units, func(i, j int) bool {
		if units[i].createdAt.Equal(units[j].createdAt) {
			return units[i].id < units[j].id
		}
		return units[i].createdAt.Before(units[j].createdAt)
	})

	out := make([]UnitInfo, len(units))
	for i, u := range units {
		out[i] = h.info(u, false)
	}
	return out
}

// Unit returns a detailed snapshot of one unit.
func (h *Harness) Unit(id string) (UnitInfo, error) {
	u, err := h.lookup(id)
	if err != nil {
		return UnitInfo{}, err
	}
	return h.info(u, true), nil
}

// SendPropUpdate posts a MESS_PROP_UPDATE from the host to the unit.
func (h *Harness) SendPropUpdate(id, prop string, value any) error {
	if prop == "" {
		return mess.ErrMissingProp
	}
	raw, err := mess.EncodePropUpdate(prop, value)
	if err != nil {
		return fmt.Errorf("encode prop update: %w", err)
	}
	u, err := h.lookup(id)
	if err != nil {
		return err
	}
	h.emit(id, recorder.EventPropUpdate, prop, map[string]any{"prop": prop, "value": value})
	u.window.Deliver(raw)
	return nil
}

// SendRaw delivers an arbitrary host payload to the unit. Payloads the unit
// cannot parse are dropped by the unit itself.
func (h *Harness) SendRaw(id string, raw []byte) error {
	u, err := h.lookup(id)
	if err != nil {
		return err
	}
	if _, perr := mess.ParseInbound(raw); perr != nil && h.events != nil {
		h.events.Log(recorder.EventMessageDropped, id, map[string]any{"payload": string(raw), "reason": perr.Error()})
	}
	u.window.Deliver(raw)
	return nil
}

// AwaitMode blocks until the unit's mode resolves or ctx ends.
func (h *Harness) AwaitMode(ctx context.Context, id string) (mess.Result, error) {
	u, err := h.lookup(id)
	if err != nil {
		return mess.Result{}, err
	}
	return u.creative.Negotiator().Wait(ctx)
}

// Click clicks the unit. With preview set, the exit URL is also loaded in
// the attached browser.
func (h *Harness) Click(ctx context.Context, id string, preview bool) (ClickResult, error) {
	u, err := h.lookup(id)
	if err != nil {
		return ClickResult{}, err
	}

	before := len(u.window.Opened())
	if err := u.creative.Click(); err != nil {
		return ClickResult{}, fmt.Errorf("click: %w", err)
	}
	opened := u.window.Opened()
	if len(opened) <= before {
		return ClickResult{}, errors.New("click did not open an exit")
	}

	res := ClickResult{URL: opened[len(opened)-1]}
	u.mu.Lock()
	if u.tracker != nil {
		res.ExitTracked = u.tracker.Fired(tracking.Exit)
	}
	u.mu.Unlock()

	if !preview {
		return res, nil
	}
	if h.previewer == nil {
		res.PreviewError = ErrNoBrowser.Error()
		return res, nil
	}
	session, err := h.previewer.OpenPreview(ctx, id, res.URL)
	if err != nil {
		res.PreviewError = err.Error()
		return res, nil
	}
	res.Preview = session
	return res, nil
}

// CloseUnit stops a unit and forgets it.
func (h *Harness) CloseUnit(id string) error {
	u := h.remove(id)
	if u == nil {
		return fmt.Errorf("%w: %s", ErrUnitNotFound, id)
	}
	h.closeUnit(u)
	return nil
}

func (h *Harness) closeUnit(u *unit) {
	u.creative.Close()
	if u.cancel != nil {
		u.cancel()
	}
	u.mu.Lock()
	tracker := u.tracker
	u.mu.Unlock()
	if tracker != nil {
		tracker.Wait()
	}
	if h.events != nil {
		h.events.Log(recorder.EventUnitClosed, u.id, nil)
	}
}

// Close stops every unit and waits for background work. Unresolved units
// stay unresolved.
func (h *Harness) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	units := make([]*unit, 0, len(h.units))
	for id, u := range h.units {
		units = append(units, u)
		delete(h.units, id)
	}
	h.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		for _, u := range units {
			h.closeUnit(u)
		}
		h.cancel()
		done <- h.group.Wait()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
