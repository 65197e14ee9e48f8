package bridge

import (
	"sync"
)

// SwitchState is the lifecycle of a single send.
type SwitchState int

const (
	StatePending SwitchState = iota
	StateSwitched
	StateFailed
)

func (s SwitchState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSwitched:
		return "switched"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Completion receives the outcome of the switch to the peer, not the peer's
// reply.
type Completion func(ok bool)

// handle tracks one outstanding send until its switch settles.
type handle struct {
	token      string
	completion Completion

	mu    sync.Mutex
	state SwitchState
	once  sync.Once
}

func (h *handle) State() SwitchState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Registry maps outstanding sends to their completions and keeps listeners
// bound to individual exchanges.
type Registry struct {
	mu       sync.Mutex
	handles  map[string]*handle
	bindings map[string]Listener
}

func NewRegistry() *Registry {
	return &Registry{
		handles:  make(map[string]*handle),
		bindings: make(map[string]Listener),
	}
}

// begin records a PENDING send. A token that is still outstanding, either
// mid-switch or bound to an exchange awaiting its reply, cannot be reused.
func (r *Registry) begin(token string, completion Completion) (*handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handles[token]; ok {
		return nil, ErrDuplicateToken
	}
	if _, ok := r.bindings[token]; ok {
		return nil, ErrDuplicateToken
	}
	h := &handle{token: token, completion: completion}
	r.handles[token] = h
	return h, nil
}

// settle moves h to its terminal state, drops it from the table and fires the
// completion. Only the first call has any effect.
func (r *Registry) settle(h *handle, ok bool) {
	h.once.Do(func() {
		h.mu.Lock()
		if ok {
			h.state = StateSwitched
		} else {
			h.state = StateFailed
		}
		h.mu.Unlock()

		r.mu.Lock()
		if r.handles[h.token] == h {
			delete(r.handles, h.token)
		}
		r.mu.Unlock()

		if h.completion != nil {
			h.completion(ok)
		}
	})
}

// Pending reports the number of sends whose switch has not settled.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// bind routes the response for token to l.
func (r *Registry) bind(token string, l Listener) {
	if l == nil {
		return
	}
	r.mu.Lock()
	r.bindings[token] = l
	r.mu.Unlock()
}

func (r *Registry) unbind(token string) {
	r.mu.Lock()
	delete(r.bindings, token)
	r.mu.Unlock()
}

// Cancel drops the listener bound to token, for callers that stop waiting on
// a reply. It reports whether a binding was removed.
func (r *Registry) Cancel(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bindings[token]
	delete(r.bindings, token)
	return ok
}

// take removes and returns the listener bound to token.
func (r *Registry) take(token string) (Listener, bool) {
	if token == "" {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.bindings[token]
	if ok {
		delete(r.bindings, token)
	}
	return l, ok
}

// Bound reports the number of exchanges waiting on a bound listener.
func (r *Registry) Bound() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}
