package watcher

import (
	"sync"
	"time"

	errspkg "github.com/drblury/runwatch/internal/runtime/errors"
	"github.com/drblury/runwatch/internal/runtime/outcome"
)

type resolution struct {
	response outcome.Response
	path     string
}

// listener is one pending Listen call. Whoever removes it from the registry
// owns the single send on ch.
type listener struct {
	ch           chan resolution
	timer        *time.Timer
	registeredAt time.Time
}

func (l *listener) resolve(res resolution) {
	l.ch <- res
}

// registry maps correlation ids to their pending listener.
type registry struct {
	mu      sync.Mutex
	entries map[string]*listener
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*listener)}
}

// add registers a listener for id. When after is positive a timer is armed
// under the same lock and expire runs with the listener once it fires.
func (r *registry) add(id string, after time.Duration, expire func(*listener)) (*listener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return nil, errspkg.ErrListenerExists
	}

	l := &listener{ch: make(chan resolution, 1), registeredAt: time.Now()}
	if after > 0 {
		l.timer = time.AfterFunc(after, func() { expire(l) })
	}
	r.entries[id] = l
	return l, nil
}

// take removes and returns the listener for id, or nil when none is pending.
func (r *registry) take(id string) *listener {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.entries[id]
	if !ok {
		return nil
	}
	r.removeLocked(id, l)
	return l
}

// takeIf removes l only if it is still the listener registered under id.
// A timer left over from an earlier listener with the same id never wins.
func (r *registry) takeIf(id string, l *listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.entries[id]; !ok || current != l {
		return false
	}
	r.removeLocked(id, l)
	return true
}

func (r *registry) removeLocked(id string, l *listener) {
	delete(r.entries, id)
	if l.timer != nil {
		l.timer.Stop()
	}
}

func (r *registry) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
