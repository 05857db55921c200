package collector

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/A-Tarraf/proxy-v2/wire"
)

// series is the folded state of one metric across all reporting clients.
type series struct {
	doc     string
	gauge   bool
	counter float64
	window  wire.GaugePayload
}

// Aggregator folds the frames of every connected client into a single
// per-name state: counter deltas add up, gauge windows merge by taking
// the overall minimum and maximum and summing hits and totals. It doubles
// as a Prometheus collector so the folded state can be scraped directly.
type Aggregator struct {
	mu     sync.RWMutex
	series map[string]*series
	order  []string
}

func NewAggregator() *Aggregator {
	return &Aggregator{series: make(map[string]*series)}
}

// Observe folds one decoded frame into the aggregate. Desc frames create
// the series, Value frames update it, JobDesc frames are not aggregate
// state and are ignored here.
func (a *Aggregator) Observe(cmd wire.Command) {
	switch {
	case cmd.Desc != nil:
		a.describe(cmd.Desc)
	case cmd.Value != nil:
		a.update(cmd.Value)
	}
}

func (a *Aggregator) describe(desc *wire.ValueDesc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.upsert(desc.Name, desc.CType.IsGauge(), desc.Doc)
}

func (a *Aggregator) update(v *wire.CounterValue) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Clients announce before they report, but a frame from before a
	// collector restart may arrive undescribed. Accept it with an empty
	// doc rather than losing the data.
	s := a.upsert(v.Name, v.Value.IsGauge(), "")

	switch {
	case v.Value.Counter != nil && !s.gauge:
		s.counter += v.Value.Counter.Value
	case v.Value.Gauge != nil && s.gauge:
		g := v.Value.Gauge
		if g.Hits == 0 {
			return
		}
		if s.window.Hits == 0 || g.Min < s.window.Min {
			s.window.Min = g.Min
		}
		if s.window.Hits == 0 || g.Max > s.window.Max {
			s.window.Max = g.Max
		}
		s.window.Hits += g.Hits
		s.window.Total += g.Total
	}
}

// upsert returns the series for name, creating it on first sight. The
// first description wins, later ones only backfill a missing doc.
func (a *Aggregator) upsert(name string, gauge bool, doc string) *series {
	s, ok := a.series[name]
	if !ok {
		s = &series{doc: doc, gauge: gauge}
		a.series[name] = s
		a.order = append(a.order, name)
		return s
	}
	if s.doc == "" {
		s.doc = doc
	}
	return s
}

// CounterTotal returns the folded value of a counter series.
func (a *Aggregator) CounterTotal(name string) (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.series[name]
	if !ok || s.gauge {
		return 0, false
	}
	return s.counter, true
}

// GaugeWindow returns the folded window of a gauge series.
func (a *Aggregator) GaugeWindow(name string) (wire.GaugePayload, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.series[name]
	if !ok || !s.gauge {
		return wire.GaugePayload{}, false
	}
	return s.window, true
}

// Len returns the number of distinct series seen so far.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.series)
}

// Describe stays silent, making this an unchecked collector: the series
// set grows with every client that connects.
func (a *Aggregator) Describe(ch chan<- *prometheus.Desc) {}

// Collect emits counters under their wire name and gauges as derived
// _avg, _min and _max series, skipping gauges that never recorded a hit.
func (a *Aggregator) Collect(ch chan<- prometheus.Metric) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, name := range a.order {
		s := a.series[name]
		if !s.gauge {
			emit(ch, name, s.doc, prometheus.CounterValue, s.counter)
			continue
		}
		if s.window.Hits == 0 {
			continue
		}
		emit(ch, name+"_avg", s.doc, prometheus.GaugeValue, s.window.Total/s.window.Hits)
		emit(ch, name+"_min", s.doc, prometheus.GaugeValue, s.window.Min)
		emit(ch, name+"_max", s.doc, prometheus.GaugeValue, s.window.Max)
	}
}

func emit(ch chan<- prometheus.Metric, name, doc string, t prometheus.ValueType, v float64) {
	m, err := prometheus.NewConstMetric(prometheus.NewDesc(name, doc, nil, nil), t, v)
	if err != nil {
		return
	}
	ch <- m
}
