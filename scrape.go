package metricproxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	scrapeReadTimeout  = 10 * time.Second
	scrapeWriteTimeout = 10 * time.Second
)

// scrapeChannel exposes the registry over HTTP for a Prometheus server to
// pull: /metrics serves the current snapshots, /healthz answers liveness
// probes. The channel is passive, nothing is pushed and flushes are not
// scheduled for it.
type scrapeChannel struct {
	addr    string
	ln      net.Listener
	server  *http.Server
	logger  *slog.Logger
	serving atomic.Bool
}

// newScrapeChannel binds the listen address immediately so an occupied
// port surfaces as an error at client construction rather than as a
// silently missing endpoint.
func newScrapeChannel(cfg Config, logger *slog.Logger, source func() []Snapshot) (*scrapeChannel, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(&registryCollector{source: source, prefix: cfg.Prefix}); err != nil {
		return nil, fmt.Errorf("registering collector: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz", handleHealthz)

	ln, err := net.Listen("tcp", cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.Endpoint, err)
	}

	s := &scrapeChannel{
		addr: ln.Addr().String(),
		ln:   ln,
		server: &http.Server{
			Handler:      mux,
			ReadTimeout:  scrapeReadTimeout,
			WriteTimeout: scrapeWriteTimeout,
		},
		logger: logger,
	}
	s.serving.Store(true)
	go s.serve()
	return s, nil
}

func (s *scrapeChannel) serve() {
	s.logger.Info("metrics endpoint listening", "addr", s.addr)
	if err := s.server.Serve(s.ln); err != nil && err != http.ErrServerClosed {
		s.logger.Error("metrics endpoint failed", "error", err)
	}
	s.serving.Store(false)
}

// Announce is a no-op: new metrics appear on the next scrape.
func (s *scrapeChannel) Announce(ctx context.Context, snap Snapshot) error { return nil }

// Export is a no-op: the collector pulls on its own schedule.
func (s *scrapeChannel) Export(ctx context.Context, batch []Snapshot) error { return nil }

// Connected reports whether the endpoint is still serving.
func (s *scrapeChannel) Connected() bool { return s.serving.Load() }

// Passive reports true: Prometheus pulls from this channel.
func (s *scrapeChannel) Passive() bool { return true }

// Close drains in-flight scrapes and stops the endpoint.
func (s *scrapeChannel) Close(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// registryCollector adapts the registry to the Prometheus collector
// interface. Describe stays silent, making this an unchecked collector,
// because metrics register at any point in the process lifetime and the
// set grows between scrapes.
type registryCollector struct {
	source func() []Snapshot
	prefix string
}

func (c *registryCollector) Describe(ch chan<- *prometheus.Desc) {}

func (c *registryCollector) Collect(ch chan<- prometheus.Metric) {
	for _, snap := range c.source() {
		desc := prometheus.NewDesc(exportName(c.prefix, snap.Name), snap.Doc, nil, nil)
		valueType := prometheus.GaugeValue
		if snap.Kind == KindCounter {
			valueType = prometheus.CounterValue
		}
		m, err := prometheus.NewConstMetric(desc, valueType, snap.Value)
		if err != nil {
			continue
		}
		ch <- m
	}
}

// handleHealthz is a simple health check handler that returns "ok".
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
