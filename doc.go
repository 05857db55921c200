// Package metricproxy is an in-process metrics client for batch and HPC
// jobs: programs record typed counters and gauges through lock-free
// atomic updates, and a background flusher forwards the state to an
// out-of-process collector without ever blocking the instrumented code.
//
// # Overview
//
// A Client owns a registry of named metrics and one export channel.
// Application code creates metrics once, caches the handles, and updates
// them from any goroutine. The client periodically snapshots the registry
// and hands the batch to the channel; the hot path never performs I/O.
//
//	cfg := metricproxy.Config{Channel: metricproxy.ChannelSocket}
//	client, err := metricproxy.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	requests, _ := client.Counter("requests_handled", "handled HTTP requests")
//	latency, _ := client.Gauge("request_seconds", "per request wall time")
//
//	requests.Inc(1)
//	latency.Set(0.042)
//
// # Metric Kinds
//
// Counters only grow. Inc rejects negative and NaN deltas, so a counter
// read later is always the sum of everything recorded before it.
//
// Gauges remember more than their last value: each Set also folds the
// sample into a running minimum, maximum, hit count, and sum. A collector
// can therefore reconstruct averages and extremes for any reporting
// window without the client keeping per-window state.
//
// # Registration
//
// Counter and Gauge deduplicate by name: registering the same name twice
// returns the same handle, so independent components may instrument the
// same event without coordinating. Registering a name under a different
// kind fails with ErrKindConflict. Names follow the usual metric-name
// form [a-zA-Z_:][a-zA-Z0-9_:]*.
//
// CallsiteCounter derives the metric name from the calling function and
// line, which gives quick "how often does this branch run" probes
// without inventing names.
//
// # Export Channels
//
// The Channel field of Config selects how state leaves the process:
//
//   - ChannelSocket streams deltas over a unix domain socket to a local
//     metric proxy daemon, framed as null-byte separated JSON. The
//     client starts even when the daemon is down, reconnects in the
//     background, and replays its full state after every reconnect so
//     nothing recorded while disconnected is lost.
//   - ChannelRemoteWrite pushes snappy-compressed Prometheus remote
//     write batches directly to an HTTP endpoint.
//   - ChannelScrape serves /metrics and /healthz for a Prometheus
//     server to pull. The channel is passive, no flusher runs.
//   - ChannelNone keeps everything in process, useful for tests and for
//     programs that only read their own Snapshots.
//
// # Lifecycle
//
// New registers a has_started counter, Close registers has_finished, so
// the collector can count launches and clean shutdowns per job. Close
// stops the flusher, delivers one final export, and releases the
// registry; afterwards every registration and update returns
// ErrClientClosed. Close is safe to call once, further calls return
// ErrClientClosed as well.
//
// Job identity travels with the exported data. By default it is read
// from the environment of the surrounding scheduler (SLURM, PMIx, or
// PROXY_JOB_ID), WithJob overrides it.
//
// # Environment
//
// Two variables shared with the collector tooling override the config
// file: PROXY_PATH points at the unix socket and PROXY_PERIOD sets the
// flush interval in milliseconds.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Metric updates are
// single atomic operations, registration takes a short lock, and flushes
// read consistent per-metric snapshots without stopping writers.
package metricproxy
