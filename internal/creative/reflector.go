package creative

import "sync"

// Reflector renders field changes. It owns every DOM concern.
type Reflector interface {
	Reflect(field string, value any)
}

// ReflectorFunc adapts a function to Reflector.
type ReflectorFunc func(field string, value any)

func (f ReflectorFunc) Reflect(field string, value any) { f(field, value) }

type reflection struct {
	field string
	value any
}

// Gate holds reflections until the unit is ready, then replays them in
// order and passes later ones straight through.
type Gate struct {
	next Reflector

	mu     sync.Mutex
	open   bool
	queued []reflection
}

// NewGate returns a closed gate in front of next.
func NewGate(next Reflector) *Gate {
	return &Gate{next: next}
}

// Reflect forwards or queues a reflection.
func (g *Gate) Reflect(field string, value any) {
	g.mu.Lock()
	if !g.open {
		g.queued = append(g.queued, reflection{field, value})
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.next.Reflect(field, value)
}

// Open releases queued reflections. Reflections arriving while the queue
// drains wait behind it.
func (g *Gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return
	}
	for _, r := range g.queued {
		g.next.Reflect(r.field, r.value)
	}
	g.queued = nil
	g.open = true
}

// Queued returns the number of held reflections.
func (g *Gate) Queued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queued)
}
