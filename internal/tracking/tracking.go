// Package tracking fires impression and exit beacons to the analytics
// endpoint. Each event kind is sent at most once per client.
package tracking

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"messkit/internal/normalize"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultEndpoint receives beacons when none is configured.
const DefaultEndpoint = "https://track.example.com/"

// Kind is a tracked event kind.
type Kind string

const (
	Impression Kind = "impression"
	Exit       Kind = "exit"
)

// Details identifies the creative for attribution. It is computed once and
// never changes.
type Details struct {
	Billable string `json:"billable"`
	Creative string `json:"creative"`
}

// NewDetails normalizes the raw identifiers, applying fallbacks for any that
// are empty.
func NewDetails(billable, size, styleName string) Details {
	return Details{
		Billable: normalize.Billable(billable),
		Creative: normalize.CreativeID(styleName, size),
	}
}

// Params is Details in the shape the endpoint (and video players sharing
// its attribution) expects.
type Params struct {
	PO string `json:"po"`
	C  string `json:"c"`
}

// Params formats d for the endpoint.
func (d Details) Params() Params {
	return Params{PO: d.Billable, C: d.Creative}
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client sends beacons for one creative unit.
type Client struct {
	endpoint string
	details  Details
	doer     Doer
	clock    clock.Clock
	logger   *zap.Logger
	timeout  time.Duration

	onSend func(kind Kind, target string)

	mu    sync.Mutex
	fired map[Kind]bool
	wg    sync.WaitGroup
}

// Option customizes a Client.
type Option func(*Client)

// WithEndpoint overrides DefaultEndpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithDoer sets the HTTP client used for beacons.
func WithDoer(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.doer = d
		}
	}
}

// WithClock sets the clock used for cache-busting timestamps.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger sets the logger. Beacon failures are logged at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTimeout bounds each beacon request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithSendObserver is called with each beacon URL as it is dispatched.
func WithSendObserver(fn func(kind Kind, target string)) Option {
	return func(c *Client) {
		c.onSend = fn
	}
}

// NewClient creates a client for details.
func NewClient(details Details, opts ...Option) *Client {
	c := &Client{
		endpoint: DefaultEndpoint,
		details:  details,
		doer:     http.DefaultClient,
		clock:    clock.New(),
		logger:   zap.NewNop(),
		timeout:  10 * time.Second,
		fired:    make(map[Kind]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Details returns the attribution details the client was built with.
func (c *Client) Details() Details {
	return c.details
}

// Track sends a beacon for kind unless one was already sent. It returns
// false for repeats. The request is fire-and-forget.
func (c *Client) Track(kind Kind) bool {
	c.mu.Lock()
	if c.fired[kind] {
		c.mu.Unlock()
		return false
	}
	c.fired[kind] = true
	c.mu.Unlock()

	target := c.BeaconURL(kind)
	if c.onSend != nil {
		c.onSend(kind, target)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.send(target, kind)
	}()
	return true
}

// Fired reports whether kind has been tracked.
func (c *Client) Fired(kind Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired[kind]
}

// Wait blocks until every dispatched beacon has finished. Callers never need
// it for correctness; it exists for orderly shutdown and tests.
func (c *Client) Wait() {
	c.wg.Wait()
}

// BeaconURL builds the beacon URL for kind using the current clock time.
func (c *Client) BeaconURL(kind Kind) string {
	q := url.Values{}
	q.Set("c", c.details.Creative)
	q.Set("po", c.details.Billable)
	q.Set("count", string(kind))
	q.Set("ord", strconv.FormatInt(c.clock.Now().UnixMilli(), 10))

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return c.endpoint + "?" + q.Encode()
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) send(target string, kind Kind) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		c.logger.Debug("beacon request invalid", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	resp, err := c.doer.Do(req)
	if err != nil {
		c.logger.Debug("beacon failed", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
