package metricproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/A-Tarraf/proxy-v2/buildinfo"
	"github.com/A-Tarraf/proxy-v2/wire"
)

// A Client owns a metric registry and the channel that exports it. Create
// one per process with New, hand out metrics with Counter and Gauge, and
// call Close exactly once when done.
//
// All methods are safe for concurrent use. Construction never fails
// because a collector is unreachable; the client keeps collecting and
// reconnects in the background.
type Client struct {
	cfg      Config
	id       string
	logger   *slog.Logger
	registry *Registry
	channel  ExportChannel
	job      wire.JobDesc

	flusher *flusher
	cancel  context.CancelFunc
	runtime *runtimeStats

	closing atomic.Bool
}

// Option configures a Client.
type Option func(*Client) error

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return errors.New("nil logger")
		}
		c.logger = logger
		return nil
	}
}

// WithChannel installs a custom export channel in place of the one the
// configuration selects. Leave Config.Channel empty when using this.
func WithChannel(ch ExportChannel) Option {
	return func(c *Client) error {
		if ch == nil {
			return errors.New("nil channel")
		}
		c.channel = ch
		return nil
	}
}

// WithJob overrides the job description discovered from the environment.
func WithJob(job wire.JobDesc) Option {
	return func(c *Client) error {
		c.job = job
		return nil
	}
}

// New creates a client from cfg. Defaults are applied first, so the zero
// Config gives the socket channel against the per-user daemon socket.
//
// New fails on invalid configuration or an unbindable scrape address,
// never on an unreachable collector: when the daemon is down the client
// starts disconnected and catches up once it can.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		id:       uuid.NewString(),
		logger:   slog.Default(),
		registry: NewRegistry(),
		job:      wire.CurrentJob(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("client_id", c.id)

	if c.channel == nil {
		channel, err := newChannel(cfg, c.job, c.logger, c.snapshotForExport)
		if err != nil {
			return nil, err
		}
		c.channel = channel
	}

	// One bounded connection attempt up front so a running daemon gets
	// the job description immediately. Failure just means starting
	// disconnected.
	if sc, ok := c.channel.(*socketChannel); ok {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.SetupTimeout)
		if err := sc.dial(ctx); err != nil {
			c.logger.Info("proxy not reachable, continuing disconnected",
				"path", cfg.Endpoint, "error", err)
		}
		cancel()
	}

	if started, err := c.Counter("has_started", "number of client initializations"); err == nil {
		_ = started.Inc(1)
	}

	if cfg.RuntimeMetrics {
		stats, err := newRuntimeStats(c.registry)
		if err != nil {
			return nil, err
		}
		c.runtime = stats
	}

	if c.channel != nil && !c.channel.Passive() {
		f, err := newFlusher(cfg, c.flush, c.logger)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.flusher = f
		f.start(ctx)
	}

	c.logger.Info("metrics client started",
		"version", buildinfo.Get().Version,
		"channel", cfg.Channel,
		"endpoint", cfg.Endpoint,
		"flush_interval", cfg.FlushInterval,
		"job_id", c.job.JobID,
	)
	return c, nil
}

// ID returns the unique identity of this client instance. It appears in
// log lines but not on exported metrics.
func (c *Client) ID() string { return c.id }

// Job returns the job description the client announces to collectors.
func (c *Client) Job() wire.JobDesc { return c.job }

// Connected reports whether the export channel currently reaches its
// collector.
func (c *Client) Connected() bool {
	return c.channel != nil && c.channel.Connected()
}

// Counter returns the counter registered under name, creating and
// announcing it on first use. Creation works regardless of collector
// reachability.
func (c *Client) Counter(name, doc string) (*Value, error) {
	if c.closing.Load() {
		return nil, ErrClientClosed
	}
	v, created, err := c.registry.create(name, doc, KindCounter)
	if err != nil {
		return nil, err
	}
	if created {
		c.announce(v)
	}
	return v, nil
}

// Gauge returns the gauge registered under name, creating and announcing
// it on first use.
func (c *Client) Gauge(name, doc string) (*Value, error) {
	if c.closing.Load() {
		return nil, ErrClientClosed
	}
	v, created, err := c.registry.create(name, doc, KindGauge)
	if err != nil {
		return nil, err
	}
	if created {
		c.announce(v)
	}
	return v, nil
}

var callsiteRe = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// CallsiteCounter returns a counter named after the calling function and
// source line, for quick visit counting without inventing names. Repeat
// calls from the same line share one counter.
func (c *Client) CallsiteCounter() (*Value, error) {
	pc, file, line, ok := runtime.Caller(1)
	if !ok {
		return nil, errors.New("caller unavailable")
	}
	fn := "unknown"
	if f := runtime.FuncForPC(pc); f != nil {
		fn = f.Name()
		if i := strings.LastIndexByte(fn, '/'); i >= 0 {
			fn = fn[i+1:]
		}
	}
	base := filepath.Base(file)
	name := fmt.Sprintf("func__%s__%s_%d", sanitizeName(fn), sanitizeName(base), line)
	doc := fmt.Sprintf("number of visits to %s at %s:%d", fn, base, line)
	return c.Counter(name, doc)
}

func sanitizeName(s string) string {
	return callsiteRe.ReplaceAllString(s, "_")
}

// Lookup returns the metric registered under name, if any.
func (c *Client) Lookup(name string) (*Value, bool) {
	return c.registry.Lookup(name)
}

// Snapshots captures every registered metric in registration order,
// refreshing runtime self-metrics first when they are enabled.
func (c *Client) Snapshots() []Snapshot {
	return c.snapshotForExport()
}

func (c *Client) snapshotForExport() []Snapshot {
	if c.runtime != nil {
		c.runtime.refresh()
	}
	return c.registry.Snapshots()
}

// announce pushes a new metric's description to the channel. Failures
// are expected while disconnected; push channels replay descriptions on
// reconnect.
func (c *Client) announce(v *Value) {
	if c.channel == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SetupTimeout)
	defer cancel()
	if err := c.channel.Announce(ctx, v.Snapshot()); err != nil {
		c.logger.Debug("announce deferred", "metric", v.Name(), "error", err)
	}
}

// flush exports one batch. Errors are logged at debug level; the socket
// channel already warns once per lost connection.
func (c *Client) flush(ctx context.Context) {
	if c.channel == nil {
		return
	}
	batch := c.snapshotForExport()
	if len(batch) == 0 {
		return
	}
	if err := c.channel.Export(ctx, batch); err != nil {
		c.logger.Debug("flush failed", "error", err)
	}
}

// Close stops the flush loop, records the shutdown, exports a final
// batch and releases the channel. The registry is retired afterwards:
// every subsequent use of the client or its metrics returns
// ErrClientClosed. Close returns ErrClientClosed when called twice.
//
// The whole shutdown is bounded by Config.ShutdownTimeout.
func (c *Client) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return ErrClientClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
	defer cancel()

	if c.cancel != nil {
		c.cancel()
		if !c.flusher.wait(c.cfg.ShutdownTimeout) {
			c.logger.Warn("flush loop did not stop in time")
		}
	}

	// Record the clean shutdown so collectors can tell completed runs
	// from vanished ones, then ship everything still unexported.
	if v, created, err := c.registry.create("has_finished", "number of clean client shutdowns", KindCounter); err == nil {
		_ = v.Inc(1)
		if created {
			c.announce(v)
		}
	}

	var errs []error
	if c.channel != nil {
		if err := c.channel.Export(ctx, c.snapshotForExport()); err != nil {
			c.logger.Warn("final flush failed", "error", err)
			errs = append(errs, err)
		}
		if err := c.channel.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	c.registry.close()
	c.logger.Info("metrics client closed")
	return errors.Join(errs...)
}
