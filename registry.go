package metricproxy

import (
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
)

// nameRe matches the Prometheus metric name charset.
var nameRe = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

// A Registry holds the metrics of one client, keyed by name. Creation is
// idempotent: registering a name twice returns the existing Value as long
// as the kinds agree. Metrics are never removed individually; the whole
// registry is retired when the owning client closes.
//
// A Registry can also be used standalone, without a client or export
// channel, as an in-process metric store.
type Registry struct {
	mu     sync.RWMutex
	values map[string]*Value
	order  []*Value

	// released flips once, on client close, and gates every subsequent
	// create and update.
	released atomic.Bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{values: make(map[string]*Value)}
}

// Counter returns the counter registered under name, creating it on
// first use. Registering a name that already exists as a gauge returns
// ErrKindConflict.
func (r *Registry) Counter(name, doc string) (*Value, error) {
	v, _, err := r.create(name, doc, KindCounter)
	return v, err
}

// Gauge returns the gauge registered under name, creating it on first
// use. Registering a name that already exists as a counter returns
// ErrKindConflict.
func (r *Registry) Gauge(name, doc string) (*Value, error) {
	v, _, err := r.create(name, doc, KindGauge)
	return v, err
}

// create implements the shared lookup-or-register path. The boolean
// result reports whether the value was created by this call.
func (r *Registry) create(name, doc string, kind Kind) (*Value, bool, error) {
	if r.released.Load() {
		return nil, false, ErrClientClosed
	}
	if !nameRe.MatchString(name) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	// Fast path: the name is usually already registered.
	r.mu.RLock()
	v, ok := r.values[name]
	r.mu.RUnlock()
	if ok {
		if v.kind != kind {
			return nil, false, fmt.Errorf("%w: %q is a %s", ErrKindConflict, name, v.kind)
		}
		return v, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check: another goroutine may have won the race.
	if v, ok := r.values[name]; ok {
		if v.kind != kind {
			return nil, false, fmt.Errorf("%w: %q is a %s", ErrKindConflict, name, v.kind)
		}
		return v, false, nil
	}
	v = newValue(name, doc, kind, len(r.order), r)
	r.values[name] = v
	r.order = append(r.order, v)
	return v, true, nil
}

// Lookup returns the value registered under name, if any.
func (r *Registry) Lookup(name string) (*Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[name]
	return v, ok
}

// Len returns the number of registered metrics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Snapshots captures every registered metric in registration order. The
// result is nil once the registry has been retired.
func (r *Registry) Snapshots() []Snapshot {
	if r.released.Load() {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.order))
	for _, v := range r.order {
		out = append(out, v.Snapshot())
	}
	return out
}

// close retires the registry. Every subsequent create, update and
// snapshot fails with ErrClientClosed or returns nothing.
func (r *Registry) close() {
	r.released.Store(true)
}
