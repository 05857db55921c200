package metricproxy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/A-Tarraf/proxy-v2/proxytest"
	"github.com/A-Tarraf/proxy-v2/wire"
)

func socketConfig(path string) Config {
	return Config{
		Channel:       ChannelSocket,
		Endpoint:      path,
		FlushInterval: 20 * time.Millisecond,
		SetupTimeout:  500 * time.Millisecond,
	}
}

func descNames(descs []wire.ValueDesc) []string {
	names := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
	}
	return names
}

func TestSocketAnnounceAndFlush(t *testing.T) {
	srv := proxytest.NewServer(t)

	job := wire.JobDesc{JobID: "job-4711", Command: "solver", Size: 4}
	c, err := New(socketConfig(srv.Path), WithJob(job), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer c.Close()

	// The eager dial happened during New.
	assert.True(t, c.Connected())

	assert.Eventually(t, func() bool {
		jobs := srv.Jobs()
		return len(jobs) == 1 && jobs[0].JobID == "job-4711" && jobs[0].Size == 4
	}, 3*time.Second, 10*time.Millisecond, "job description never arrived")

	events, err := c.Counter("events", "things that happened")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		names := descNames(srv.Descs())
		return contains(names, "has_started") && contains(names, "events")
	}, 3*time.Second, 10*time.Millisecond, "descriptions never arrived")

	require.NoError(t, events.Inc(5))
	assert.Eventually(t, func() bool {
		return srv.CounterTotal("events") == 5
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, events.Inc(2))
	assert.Eventually(t, func() bool {
		return srv.CounterTotal("events") == 7
	}, 3*time.Second, 10*time.Millisecond, "deltas did not fold to the full total")
}

func TestSocketGaugeWindow(t *testing.T) {
	srv := proxytest.NewServer(t)

	c, err := New(socketConfig(srv.Path), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer c.Close()

	load, err := c.Gauge("load", "current load")
	require.NoError(t, err)
	require.NoError(t, load.Set(3))
	require.NoError(t, load.Set(9))
	require.NoError(t, load.Set(6))

	assert.Eventually(t, func() bool {
		sum, ok := srv.GaugeSummary("load")
		return ok && sum.Hits == 3 && sum.Total == 18 && sum.Min == 3 && sum.Max == 9
	}, 3*time.Second, 10*time.Millisecond, "gauge summary never folded to the observed window")
}

func TestSocketCloseDeliversFinalState(t *testing.T) {
	srv := proxytest.NewServer(t)

	c, err := New(socketConfig(srv.Path), WithLogger(quietLogger()))
	require.NoError(t, err)

	work, err := c.Counter("work_items", "")
	require.NoError(t, err)
	require.NoError(t, work.Inc(11))

	require.NoError(t, c.Close())

	assert.Eventually(t, func() bool {
		return srv.CounterTotal("work_items") == 11 &&
			srv.CounterTotal("has_finished") == 1 &&
			srv.CounterTotal("has_started") == 1
	}, 3*time.Second, 10*time.Millisecond, "final flush incomplete")
}

func TestSocketStartsDisconnected(t *testing.T) {
	dir, err := os.MkdirTemp("", "mpxtest")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "late.socket")

	// No daemon yet: construction must still succeed.
	c, err := New(socketConfig(path), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer c.Close()
	assert.False(t, c.Connected())

	// Updates while disconnected accumulate locally.
	events, err := c.Counter("events", "")
	require.NoError(t, err)
	require.NoError(t, events.Inc(6))

	// The daemon appears; the client catches up without losing anything.
	srv := proxytest.NewServerAt(t, path)

	assert.Eventually(t, func() bool {
		return c.Connected() && srv.CounterTotal("events") == 6
	}, 3*time.Second, 10*time.Millisecond, "client never caught up after late daemon start")

	assert.Eventually(t, func() bool {
		return len(srv.Jobs()) == 1 && contains(descNames(srv.Descs()), "events")
	}, 3*time.Second, 10*time.Millisecond, "reconnect did not replay descriptions")
}

func TestSocketReconnectReplaysEverything(t *testing.T) {
	srvA := proxytest.NewServer(t)
	path := srvA.Path

	c, err := New(socketConfig(path), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer c.Close()

	events, err := c.Counter("events", "")
	require.NoError(t, err)
	require.NoError(t, events.Inc(5))

	assert.Eventually(t, func() bool {
		return srvA.CounterTotal("events") == 5
	}, 3*time.Second, 10*time.Millisecond)

	// Daemon restarts. Updates made during the outage must not be lost.
	require.NoError(t, srvA.Close())
	require.NoError(t, events.Inc(3))

	srvB := proxytest.NewServerAt(t, path)

	// The fresh session replays the job, the descriptions and the full
	// running totals.
	assert.Eventually(t, func() bool {
		return srvB.CounterTotal("events") == 8
	}, 5*time.Second, 10*time.Millisecond, "restarted daemon never saw the full total")

	assert.Eventually(t, func() bool {
		return len(srvB.Jobs()) == 1 && contains(descNames(srvB.Descs()), "events")
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSocketUnchangedMetricsStaySilent(t *testing.T) {
	srv := proxytest.NewServer(t)

	c, err := New(socketConfig(srv.Path), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer c.Close()

	assert.Eventually(t, func() bool {
		return srv.CounterTotal("has_started") == 1
	}, 3*time.Second, 10*time.Millisecond)

	// Several flush intervals pass; the unchanged counter must not be
	// re-sent.
	time.Sleep(150 * time.Millisecond)

	frames := 0
	for _, v := range srv.Values() {
		if v.Name == "has_started" {
			frames++
		}
	}
	assert.Equal(t, 1, frames, "unchanged counter was re-reported")
}

func TestSocketZeroHitWindowHoldsBaseline(t *testing.T) {
	srv := proxytest.NewServer(t)

	ch := newSocketChannel(socketConfig(srv.Path), wire.JobDesc{JobID: "job-1"}, quietLogger())
	defer ch.Close(context.Background())

	pace := Snapshot{Name: "pace", Kind: KindGauge, Index: 0}
	ticks := Snapshot{Name: "ticks", Kind: KindCounter, Index: 1}

	// A mid-Set snapshot can carry a sample's total before its hit. The
	// zero-hit window must send nothing and keep its baseline, or the
	// total would be clipped from the window that follows.
	pace.Count, pace.Sum = 0, 5
	ticks.Value = 1
	require.NoError(t, ch.Export(context.Background(), []Snapshot{pace, ticks}))

	// The trailing counter frame proves the batch was folded in order.
	assert.Eventually(t, func() bool {
		return srv.CounterTotal("ticks") == 1
	}, 3*time.Second, 10*time.Millisecond)
	_, ok := srv.GaugeSummary("pace")
	assert.False(t, ok, "zero-hit window produced a frame")

	// Once the hit lands the full total goes out in one window.
	pace.Count, pace.Sum, pace.Min, pace.Max = 1, 5, 5, 5
	require.NoError(t, ch.Export(context.Background(), []Snapshot{pace, ticks}))

	assert.Eventually(t, func() bool {
		sum, ok := srv.GaugeSummary("pace")
		return ok && sum.Hits == 1 && sum.Total == 5
	}, 3*time.Second, 10*time.Millisecond, "deferred total never arrived")
}

func TestSocketPrefix(t *testing.T) {
	srv := proxytest.NewServer(t)

	cfg := socketConfig(srv.Path)
	cfg.Prefix = "solver"
	c, err := New(cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer c.Close()

	events, err := c.Counter("events", "")
	require.NoError(t, err)
	require.NoError(t, events.Inc(2))

	assert.Eventually(t, func() bool {
		return srv.CounterTotal("solver_events") == 2 &&
			contains(descNames(srv.Descs()), "solver_events")
	}, 3*time.Second, 10*time.Millisecond)
}

func contains(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
