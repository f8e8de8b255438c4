package mess

import (
	"encoding/json"
	"sync"
	"testing"

	"messkit/internal/tracking"

	"github.com/stretchr/testify/require"
)

type fakeWindow struct {
	name string

	mu       sync.Mutex
	posted   []Outbound
	opened   []string
	handler  func([]byte)
	listened int
	stopped  bool
}

func newFakeWindow(name string) *fakeWindow {
	return &fakeWindow{name: name}
}

func (w *fakeWindow) Name() string { return w.name }

func (w *fakeWindow) PostToParent(msg Outbound) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.posted = append(w.posted, msg)
	return nil
}

func (w *fakeWindow) Open(url string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.opened = append(w.opened, url)
	return nil
}

func (w *fakeWindow) Listen(handler func([]byte)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = handler
	w.listened++
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.stopped = true
		w.handler = nil
	}
}

// deliver hands raw to the listener on the calling goroutine.
func (w *fakeWindow) deliver(t *testing.T, raw []byte) {
	t.Helper()
	w.mu.Lock()
	h := w.handler
	w.mu.Unlock()
	require.NotNil(t, h, "no listener attached")
	h(raw)
}

func (w *fakeWindow) sendProp(t *testing.T, prop string, value any) {
	t.Helper()
	raw, err := EncodePropUpdate(prop, value)
	require.NoError(t, err)
	w.deliver(t, raw)
}

func (w *fakeWindow) postedKinds() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	kinds := make([]string, 0, len(w.posted))
	for _, m := range w.posted {
		kinds = append(kinds, m.Kind())
	}
	return kinds
}

func (w *fakeWindow) postedJSON(t *testing.T, i int) map[string]any {
	t.Helper()
	w.mu.Lock()
	msg := w.posted[i]
	w.mu.Unlock()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

type countingTracker struct {
	mu      sync.Mutex
	details tracking.Details
	fired   map[tracking.Kind]bool
	calls   map[tracking.Kind]int
}

func (c *countingTracker) Track(kind tracking.Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fired[kind] {
		return false
	}
	c.fired[kind] = true
	c.calls[kind]++
	return true
}

func (c *countingTracker) count(kind tracking.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[kind]
}

func newCountingFactory() (*countingTracker, TrackerFactory) {
	ct := &countingTracker{fired: map[tracking.Kind]bool{}, calls: map[tracking.Kind]int{}}
	return ct, func(d tracking.Details) Tracker {
		ct.details = d
		return ct
	}
}
