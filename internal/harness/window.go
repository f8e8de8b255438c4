package harness

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"messkit/internal/mess"
)

// PostedMessage is an outbound message as the host window received it.
type PostedMessage struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// Window emulates the browsing context of a hosted unit. It records what the
// unit posts and opens, and delivers host messages to its listeners.
type Window struct {
	name   string
	now    func() time.Time
	onPost func(msg PostedMessage)
	onOpen func(url string)

	mu       sync.Mutex
	posted   []PostedMessage
	opened   []string
	handlers map[int]func([]byte)
	nextID   int

	// deliverMu keeps host messages in arrival order across callers.
	deliverMu sync.Mutex
}

var _ mess.Window = (*Window)(nil)

// NewWindow returns a window declaring name as its identity.
func NewWindow(name string) *Window {
	return &Window{
		name:     name,
		now:      time.Now,
		handlers: make(map[int]func([]byte)),
	}
}

func (w *Window) Name() string { return w.name }

// PostToParent records msg as JSON.
func (w *Window) PostToParent(msg mess.Outbound) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	pm := PostedMessage{Kind: msg.Kind(), Payload: payload, At: w.now()}

	w.mu.Lock()
	w.posted = append(w.posted, pm)
	w.mu.Unlock()

	if w.onPost != nil {
		w.onPost(pm)
	}
	return nil
}

// Open records url as opened in a new browsing context.
func (w *Window) Open(url string) error {
	w.mu.Lock()
	w.opened = append(w.opened, url)
	w.mu.Unlock()

	if w.onOpen != nil {
		w.onOpen(url)
	}
	return nil
}

// Listen registers handler until stop is called. Messages only arrive
// through Deliver, never from inside Listen.
func (w *Window) Listen(handler func(raw []byte)) (stop func()) {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.handlers[id] = handler
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.handlers, id)
			w.mu.Unlock()
		})
	}
}

// Deliver hands raw to every listener in registration order on the calling
// goroutine and returns how many received it.
func (w *Window) Deliver(raw []byte) int {
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()

	w.mu.Lock()
	ids := make([]int, 0, len(w.handlers))
	for id := range w.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func([]byte), len(ids))
	for i, id := range ids {
		handlers[i] = w.handlers[id]
	}
	w.mu.Unlock()

	for _, h := range handlers {
		h(raw)
	}
	return len(handlers)
}

// Posted returns a copy of the outbound messages.
func (w *Window) Posted() []PostedMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]PostedMessage(nil), w.posted...)
}

// Opened returns a copy of the opened URLs.
func (w *Window) Opened() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.opened...)
}

// Listeners returns the number of active listeners.
func (w *Window) Listeners() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.handlers)
}
