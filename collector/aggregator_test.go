package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/A-Tarraf/proxy-v2/wire"
)

func counterDesc(name, doc string) wire.Command {
	return wire.Command{Desc: &wire.ValueDesc{Name: name, Doc: doc, CType: wire.NewCounterPayload(0)}}
}

func gaugeDesc(name, doc string) wire.Command {
	return wire.Command{Desc: &wire.ValueDesc{Name: name, Doc: doc, CType: wire.NewGaugePayload(0, 0, 0, 0)}}
}

func counterReport(name string, v float64) wire.Command {
	return wire.Command{Value: &wire.CounterValue{Name: name, Value: wire.NewCounterPayload(v)}}
}

func gaugeReport(name string, min, max, hits, total float64) wire.Command {
	return wire.Command{Value: &wire.CounterValue{Name: name, Value: wire.NewGaugePayload(min, max, hits, total)}}
}

func TestAggregatorCounterFold(t *testing.T) {
	agg := NewAggregator()
	agg.Observe(counterDesc("events", "things that happened"))

	// Deltas from any number of clients simply add up.
	agg.Observe(counterReport("events", 5))
	agg.Observe(counterReport("events", 2))
	agg.Observe(counterReport("events", 0.5))

	total, ok := agg.CounterTotal("events")
	require.True(t, ok)
	assert.Equal(t, 7.5, total)
	assert.Equal(t, 1, agg.Len())
}

func TestAggregatorGaugeFold(t *testing.T) {
	agg := NewAggregator()
	agg.Observe(gaugeDesc("temperature", "sensor reading"))

	agg.Observe(gaugeReport("temperature", 3, 9, 2, 12))
	agg.Observe(gaugeReport("temperature", 1, 4, 3, 6))

	window, ok := agg.GaugeWindow("temperature")
	require.True(t, ok)
	assert.Equal(t, 1.0, window.Min)
	assert.Equal(t, 9.0, window.Max)
	assert.Equal(t, 5.0, window.Hits)
	assert.Equal(t, 18.0, window.Total)
}

func TestAggregatorEmptyWindowSkipped(t *testing.T) {
	agg := NewAggregator()
	agg.Observe(gaugeDesc("temperature", ""))

	// An all-zero window would poison the folded minimum.
	agg.Observe(gaugeReport("temperature", 0, 0, 0, 0))
	agg.Observe(gaugeReport("temperature", 5, 8, 2, 13))

	window, ok := agg.GaugeWindow("temperature")
	require.True(t, ok)
	assert.Equal(t, 5.0, window.Min)
	assert.Equal(t, 8.0, window.Max)
	assert.Equal(t, 2.0, window.Hits)
}

func TestAggregatorUndescribedValue(t *testing.T) {
	agg := NewAggregator()

	// A report arriving before its description, as after a collector
	// restart, still counts.
	agg.Observe(counterReport("orphan", 3))

	total, ok := agg.CounterTotal("orphan")
	require.True(t, ok)
	assert.Equal(t, 3.0, total)

	// The late description backfills the doc without resetting state.
	agg.Observe(counterDesc("orphan", "arrived late"))
	total, ok = agg.CounterTotal("orphan")
	require.True(t, ok)
	assert.Equal(t, 3.0, total)
}

func TestAggregatorKindMismatchDropped(t *testing.T) {
	agg := NewAggregator()
	agg.Observe(counterDesc("events", ""))
	agg.Observe(counterReport("events", 4))

	// A gauge report for a counter series is a client bug, not a reason
	// to corrupt the aggregate.
	agg.Observe(gaugeReport("events", 1, 2, 1, 2))

	total, ok := agg.CounterTotal("events")
	require.True(t, ok)
	assert.Equal(t, 4.0, total)

	_, ok = agg.GaugeWindow("events")
	assert.False(t, ok)
}

func TestAggregatorUnknownSeries(t *testing.T) {
	agg := NewAggregator()
	_, ok := agg.CounterTotal("nope")
	assert.False(t, ok)
	_, ok = agg.GaugeWindow("nope")
	assert.False(t, ok)
	assert.Equal(t, 0, agg.Len())
}
