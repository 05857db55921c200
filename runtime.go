package metricproxy

import (
	"runtime"
	"sync"
)

// runtimeStats maintains process self-metrics in the client's registry:
// live goroutines and heap in use as gauges, allocation and GC totals as
// counters fed by deltas. Values refresh right before each export so
// every channel sees the same numbers.
type runtimeStats struct {
	goroutines *Value
	heapBytes  *Value
	allocBytes *Value
	gcRuns     *Value

	mu             sync.Mutex
	lastTotalAlloc uint64
	lastNumGC      uint32
}

func newRuntimeStats(reg *Registry) (*runtimeStats, error) {
	r := &runtimeStats{}
	var err error
	if r.goroutines, err = reg.Gauge("process_goroutines", "number of live goroutines"); err != nil {
		return nil, err
	}
	if r.heapBytes, err = reg.Gauge("process_heap_bytes", "bytes of allocated heap objects"); err != nil {
		return nil, err
	}
	if r.allocBytes, err = reg.Counter("process_allocated_bytes", "cumulative bytes allocated on the heap"); err != nil {
		return nil, err
	}
	if r.gcRuns, err = reg.Counter("process_gc_runs", "completed GC cycles"); err != nil {
		return nil, err
	}
	return r, nil
}

// refresh reads the runtime and folds the numbers into the registry.
// Safe for concurrent use; scrapes and flushes may overlap.
func (r *runtimeStats) refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	_ = r.goroutines.Set(float64(runtime.NumGoroutine()))
	_ = r.heapBytes.Set(float64(ms.HeapAlloc))
	if d := ms.TotalAlloc - r.lastTotalAlloc; d > 0 {
		_ = r.allocBytes.Inc(float64(d))
		r.lastTotalAlloc = ms.TotalAlloc
	}
	if d := ms.NumGC - r.lastNumGC; d > 0 {
		_ = r.gcRuns.Inc(float64(d))
		r.lastNumGC = ms.NumGC
	}
}
