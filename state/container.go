package state

import (
	"sync"

	"github.com/google/uuid"
)

// Container owns the session record. Safe for concurrent use.
//
// Subscribers are called synchronously with no container lock held, in
// dispatch order. A subscriber may call Snapshot and Dispatch. A Dispatch that
// lands while another goroutine is notifying, including one made from inside a
// subscriber, is queued and delivered by that goroutine after the current
// notification, so it can return before its own subscribers have run.
type Container struct {
	mu         sync.Mutex
	current    State
	pending    []State
	delivering bool

	subsMu      sync.RWMutex
	subscribers map[uuid.UUID]func(State)
	order       []uuid.UUID
}

// NewContainer returns a container holding [Initial].
func NewContainer() *Container {
	return &Container{
		current:     Initial(),
		subscribers: make(map[uuid.UUID]func(State)),
	}
}

// Snapshot returns the current record.
func (c *Container) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyState(c.current)
}

// Dispatch applies ev and notifies subscribers when the record changed.
// It returns the record after the event.
func (c *Container) Dispatch(ev Event) State {
	c.mu.Lock()
	prev := c.current
	next := Reduce(prev, ev)
	c.current = next
	if equal(prev, next) {
		c.mu.Unlock()
		return copyState(next)
	}
	c.pending = append(c.pending, copyState(next))
	if c.delivering {
		c.mu.Unlock()
		return copyState(next)
	}
	c.delivering = true
	c.mu.Unlock()

	c.deliver()
	return copyState(next)
}

// deliver drains pending until it is empty. Only one goroutine delivers at a
// time.
func (c *Container) deliver() {
	finished := false
	defer func() {
		if !finished {
			// A subscriber panicked; let the next Dispatch deliver the rest.
			c.mu.Lock()
			c.delivering = false
			c.mu.Unlock()
		}
	}()
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.delivering = false
			c.mu.Unlock()
			finished = true
			return
		}
		s := c.pending[0]
		c.pending[0] = State{}
		c.pending = c.pending[1:]
		c.mu.Unlock()

		for _, fn := range c.listeners() {
			fn(copyState(s))
		}
	}
}

// Reset returns the record to [Initial] without notifying subscribers.
func (c *Container) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = Initial()
}

// Subscribe registers fn for future transitions and returns a function that
// removes it. The unsubscribe function is idempotent.
func (c *Container) Subscribe(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	id := uuid.New()

	c.subsMu.Lock()
	c.subscribers[id] = fn
	c.order = append(c.order, id)
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			delete(c.subscribers, id)
			for i, existing := range c.order {
				if existing == id {
					c.order = append(c.order[:i], c.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (c *Container) listeners() []func(State) {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	out := make([]func(State), 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.subscribers[id])
	}
	return out
}

func copyState(s State) State {
	s.User = cloneUser(s.User)
	return s
}

func equal(a, b State) bool {
	if a.Token != b.Token ||
		a.IsAuthenticated != b.IsAuthenticated ||
		a.Loading != b.Loading ||
		a.Error != b.Error ||
		a.Phase != b.Phase {
		return false
	}
	switch {
	case a.User == nil && b.User == nil:
		return true
	case a.User == nil || b.User == nil:
		return false
	default:
		return *a.User == *b.User
	}
}
