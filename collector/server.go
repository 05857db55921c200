// Package collector implements the metric proxy daemon: it accepts
// client connections on a unix domain socket, folds their metric frames
// into one aggregate, and serves the result to Prometheus.
//
// # Endpoints
//
//   - GET /metrics - Prometheus exposition of the folded client metrics
//   - GET /healthz - Simple health check, returns "ok"
//
// # Aggregation
//
// Counters from different clients add up. Gauge windows merge by taking
// the overall minimum and maximum and summing hit counts and totals, so
// the exported _avg, _min and _max series describe all clients together.
//
// The daemon instruments itself through the client library it serves:
// frames received, connected clients and jobs seen appear on the same
// /metrics page under the proxy_ prefix.
//
// # Example
//
//	srv, err := collector.New(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package collector

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	metricproxy "github.com/A-Tarraf/proxy-v2"
	"github.com/A-Tarraf/proxy-v2/wire"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Server is the collector daemon. Both listeners are bound by New so an
// occupied port or socket fails fast, Run serves until the context is
// cancelled.
type Server struct {
	cfg    Config
	logger *slog.Logger
	agg    *Aggregator

	// Self instrumentation through the library being served.
	self    *metricproxy.Client
	frames  *metricproxy.Value
	clients *metricproxy.Value
	jobs    *metricproxy.Value

	socketLn net.Listener
	httpLn   net.Listener
	httpSrv  *http.Server

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
	active atomic.Int64
}

// New creates a Server and binds its unix socket and HTTP listener.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	self, err := metricproxy.New(
		metricproxy.Config{Channel: metricproxy.ChannelNone},
		metricproxy.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("creating self metrics client: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		agg:    NewAggregator(),
		self:   self,
		conns:  make(map[net.Conn]struct{}),
	}
	if s.frames, err = self.Counter("frames_received", "wire frames decoded from clients"); err != nil {
		return nil, err
	}
	if s.clients, err = self.Gauge("clients_connected", "currently connected clients"); err != nil {
		return nil, err
	}
	if s.jobs, err = self.Counter("jobs_seen", "job descriptions received"); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(s.agg); err != nil {
		return nil, fmt.Errorf("registering aggregate collector: %w", err)
	}
	if err := reg.Register(&selfCollector{client: self}); err != nil {
		return nil, fmt.Errorf("registering self collector: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// A socket left behind by a crashed daemon would block the bind.
	os.Remove(cfg.Socket)
	if s.socketLn, err = net.Listen("unix", cfg.Socket); err != nil {
		return nil, fmt.Errorf("listening on socket %s: %w", cfg.Socket, err)
	}
	if s.httpLn, err = net.Listen("tcp", cfg.Listen); err != nil {
		s.socketLn.Close()
		return nil, fmt.Errorf("listening on %s: %w", cfg.Listen, err)
	}

	s.httpSrv = &http.Server{
		Handler:      mux,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}
	if cfg.TLS() {
		certs, err := loadKeypair(cfg, logger)
		if err != nil {
			s.socketLn.Close()
			s.httpLn.Close()
			return nil, err
		}
		s.httpSrv.TLSConfig = &tls.Config{GetCertificate: certs.GetCertificate}
	}
	return s, nil
}

// Addr returns the address of the exposition endpoint.
func (s *Server) Addr() string {
	return s.httpLn.Addr().String()
}

// Aggregator returns the folded client state.
func (s *Server) Aggregator() *Aggregator {
	return s.agg
}

// Run accepts clients and serves scrapes until the context is cancelled
// or a listener fails, then shuts both sides down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.httpSrv.TLSConfig != nil {
			err = s.httpSrv.ServeTLS(s.httpLn, "", "")
		} else {
			err = s.httpSrv.Serve(s.httpLn)
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	go s.acceptLoop()

	s.logger.Info("collector started",
		"socket", s.cfg.Socket,
		"addr", s.Addr(),
	)

	select {
	case err := <-errCh:
		s.shutdown()
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down collector")
		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	var errs []error

	// Stop accepting, sever the client streams, then let the last
	// scrape drain before the exposition endpoint goes away.
	errs = append(errs, s.socketLn.Close())
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	errs = append(errs, s.httpSrv.Shutdown(shutdownCtx))
	errs = append(errs, s.self.Close())

	return errors.Join(errs...)
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.socketLn.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.clients.Set(float64(s.active.Add(-1)))
		s.wg.Done()
	}()
	s.clients.Set(float64(s.active.Add(1)))

	dec := wire.NewDecoder(conn)
	for {
		cmd, err := dec.Decode()
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("client stream ended", "error", err)
			}
			return
		}
		s.frames.Inc(1)

		switch {
		case cmd.JobDesc != nil:
			s.jobs.Inc(1)
			s.logger.Info("job connected",
				"jobid", cmd.JobDesc.JobID,
				"command", cmd.JobDesc.Command,
				"size", cmd.JobDesc.Size,
			)
		default:
			s.agg.Observe(*cmd)
		}
	}
}

// selfCollector exposes the daemon's own metrics next to the aggregated
// ones, prefixed to keep them apart from same-named client metrics.
type selfCollector struct {
	client *metricproxy.Client
}

func (c *selfCollector) Describe(ch chan<- *prometheus.Desc) {}

func (c *selfCollector) Collect(ch chan<- prometheus.Metric) {
	for _, snap := range c.client.Snapshots() {
		valueType := prometheus.GaugeValue
		if snap.Kind == metricproxy.KindCounter {
			valueType = prometheus.CounterValue
		}
		emit(ch, "proxy_"+snap.Name, snap.Doc, valueType, snap.Value)
	}
}
