package metricproxy

import (
	"math"
	"sync/atomic"
)

// Kind identifies how a metric behaves: counters only grow, gauges move
// freely.
type Kind uint8

const (
	KindCounter Kind = iota
	KindGauge
)

// String returns the kind as a lowercase word.
func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindGauge:
		return "gauge"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time copy of one metric, safe to hold across
// further updates.
//
// Value is the running total for counters and the last written value for
// gauges. Min, Max, Count and Sum describe the gauge observations made
// over the metric's lifetime; export channels turn them into per-interval
// windows by differencing against the previous report. For counters they
// are zero.
type Snapshot struct {
	Name  string
	Doc   string
	Kind  Kind
	Index int

	Value float64
	Min   float64
	Max   float64
	Count uint64
	Sum   float64
}

// A Value is one named metric. Values are created through a Registry or
// Client and stay valid until the owning client is closed; all methods
// are safe for concurrent use.
//
// Updates are single atomic operations on the hot path. No lock is taken
// and no allocation happens during Inc or Set.
type Value struct {
	name  string
	doc   string
	kind  Kind
	index int
	reg   *Registry

	// Float64 payloads stored as IEEE 754 bits.
	bits atomic.Uint64

	// Gauge observation tracking. min and max start at +Inf/-Inf so the
	// first Set wins both.
	min   atomic.Uint64
	max   atomic.Uint64
	count atomic.Uint64
	sum   atomic.Uint64
}

func newValue(name, doc string, kind Kind, index int, reg *Registry) *Value {
	v := &Value{name: name, doc: doc, kind: kind, index: index, reg: reg}
	v.min.Store(math.Float64bits(math.Inf(1)))
	v.max.Store(math.Float64bits(math.Inf(-1)))
	return v
}

// Name returns the metric's registered name.
func (v *Value) Name() string { return v.name }

// Doc returns the metric's doc string.
func (v *Value) Doc() string { return v.doc }

// Kind returns the metric's kind.
func (v *Value) Kind() Kind { return v.kind }

// Value returns the current value: the running total for counters, the
// last written value for gauges.
func (v *Value) Value() float64 {
	return math.Float64frombits(v.bits.Load())
}

// Inc adds delta to a counter. It returns ErrWrongKind for gauges,
// ErrNegativeDelta when delta is negative or NaN, and ErrClientClosed
// after the owning client has been closed.
func (v *Value) Inc(delta float64) error {
	if v.kind != KindCounter {
		return ErrWrongKind
	}
	if v.reg.released.Load() {
		return ErrClientClosed
	}
	if delta < 0 || math.IsNaN(delta) {
		return ErrNegativeDelta
	}
	addFloat(&v.bits, delta)
	return nil
}

// Set writes a new gauge value. It returns ErrWrongKind for counters and
// ErrClientClosed after the owning client has been closed.
func (v *Value) Set(value float64) error {
	if v.kind != KindGauge {
		return ErrWrongKind
	}
	if v.reg.released.Load() {
		return ErrClientClosed
	}
	v.bits.Store(math.Float64bits(value))
	updateMin(&v.min, value)
	updateMax(&v.max, value)
	// Ordered against Snapshot, which reads count before sum: the sum
	// lands first, so a snapshot never sees a hit without its total.
	addFloat(&v.sum, value)
	v.count.Add(1)
	return nil
}

// Snapshot returns a copy of the metric's current state. Fields are read
// with individual atomic loads, so a snapshot taken mid-Set can include
// a sample's total before its hit, never a hit before its total; totals
// are never lost, at worst reported one snapshot early.
func (v *Value) Snapshot() Snapshot {
	s := Snapshot{
		Name:  v.name,
		Doc:   v.doc,
		Kind:  v.kind,
		Index: v.index,
		Value: math.Float64frombits(v.bits.Load()),
	}
	if v.kind == KindGauge {
		s.Count = v.count.Load()
		s.Sum = math.Float64frombits(v.sum.Load())
		if s.Count > 0 {
			s.Min = math.Float64frombits(v.min.Load())
			s.Max = math.Float64frombits(v.max.Load())
		}
	}
	return s
}

// addFloat adds delta to an atomic float64 with a compare-and-swap loop.
func addFloat(bits *atomic.Uint64, delta float64) {
	for {
		old := bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func updateMin(bits *atomic.Uint64, x float64) {
	for {
		old := bits.Load()
		if !(x < math.Float64frombits(old)) {
			return
		}
		if bits.CompareAndSwap(old, math.Float64bits(x)) {
			return
		}
	}
}

func updateMax(bits *atomic.Uint64, x float64) {
	for {
		old := bits.Load()
		if !(x > math.Float64frombits(old)) {
			return
		}
		if bits.CompareAndSwap(old, math.Float64bits(x)) {
			return
		}
	}
}
