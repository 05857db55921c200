package metricproxy

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Export channel selectors for Config.Channel.
const (
	// ChannelSocket streams delimited frames to the proxy daemon over a
	// unix socket. This is the default.
	ChannelSocket = "socket"

	// ChannelRemoteWrite pushes batches to a Prometheus remote-write
	// endpoint.
	ChannelRemoteWrite = "remotewrite"

	// ChannelScrape serves the metrics over HTTP for a Prometheus server
	// to pull.
	ChannelScrape = "scrape"

	// ChannelNone keeps the metrics purely in-process.
	ChannelNone = "none"
)

// Environment variables honored by SetDefaults. They mirror the knobs of
// the proxy daemon so a client picks up the same endpoint and cadence as
// the daemon it talks to.
const (
	// EnvSocketPath overrides the unix socket path for the socket channel.
	EnvSocketPath = "PROXY_PATH"

	// EnvFlushPeriod overrides the flush interval, in milliseconds.
	EnvFlushPeriod = "PROXY_PERIOD"
)

const (
	defaultFlushInterval   = 1 * time.Second
	defaultSetupTimeout    = 1 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultScrapeAddr      = ":9464"
	defaultJob             = "metricproxy"
)

// DefaultSocketPath returns the per-user socket path the proxy daemon
// listens on when not configured otherwise.
func DefaultSocketPath() string {
	return fmt.Sprintf("/tmp/metric-proxy-%d.socket", os.Getuid())
}

// Config controls a Client. The zero value is usable: defaults select the
// socket channel against the per-user daemon socket with a one second
// flush.
type Config struct {
	// Channel selects the export mechanism: socket, remotewrite, scrape
	// or none.
	Channel string `yaml:"channel"`

	// Endpoint is channel specific: the unix socket path for socket, the
	// remote-write URL for remotewrite, the listen address for scrape.
	Endpoint string `yaml:"endpoint"`

	// FlushInterval is the export cadence. Ignored when FlushSchedule is
	// set or the channel is passive.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// FlushSchedule optionally replaces the interval with a cron spec
	// (5 fields: minute, hour, day, month, weekday) for coarse cadences.
	FlushSchedule string `yaml:"flush_schedule"`

	// SetupTimeout bounds how long New waits for the channel to come up
	// before continuing disconnected.
	SetupTimeout time.Duration `yaml:"setup_timeout"`

	// ShutdownTimeout bounds the final flush performed by Close.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Job and Instance become identifying labels on remote-write samples.
	// The scrape channel leaves them off; the scraping server attaches
	// its own. Job defaults to "metricproxy", Instance to the hostname.
	Job      string `yaml:"job"`
	Instance string `yaml:"instance"`

	// Prefix is joined to every metric name on export with an underscore.
	Prefix string `yaml:"prefix"`

	// RuntimeMetrics adds goroutine, heap and GC self-metrics to the
	// registry.
	RuntimeMetrics bool `yaml:"runtime_metrics"`
}

// SetDefaults fills in zero fields. The socket endpoint and the flush
// interval consult PROXY_PATH and PROXY_PERIOD first so clients follow a
// locally configured daemon without code changes.
func (c *Config) SetDefaults() {
	if c.Channel == "" {
		c.Channel = ChannelSocket
	}
	if c.Endpoint == "" {
		switch c.Channel {
		case ChannelSocket:
			if path := os.Getenv(EnvSocketPath); path != "" {
				c.Endpoint = path
			} else {
				c.Endpoint = DefaultSocketPath()
			}
		case ChannelScrape:
			c.Endpoint = defaultScrapeAddr
		}
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
		if ms, err := strconv.Atoi(os.Getenv(EnvFlushPeriod)); err == nil && ms > 0 {
			c.FlushInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = defaultSetupTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Job == "" {
		c.Job = defaultJob
	}
	if c.Instance == "" {
		if host, err := os.Hostname(); err == nil {
			c.Instance = host
		} else {
			c.Instance = "unknown"
		}
	}
}

// Validate performs basic validation on the configuration. Call
// SetDefaults first; a zero Config does not validate.
func (c *Config) Validate() error {
	switch c.Channel {
	case ChannelSocket, ChannelRemoteWrite, ChannelScrape, ChannelNone:
	default:
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidConfig, c.Channel)
	}
	if c.Channel == ChannelRemoteWrite && c.Endpoint == "" {
		return fmt.Errorf("%w: remotewrite channel requires an endpoint URL", ErrInvalidConfig)
	}
	if c.Channel != ChannelNone && c.FlushInterval <= 0 {
		return fmt.Errorf("%w: flush interval must be positive", ErrInvalidConfig)
	}
	if c.SetupTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.FlushSchedule != "" {
		if _, err := parseSchedule(c.FlushSchedule); err != nil {
			return fmt.Errorf("%w: flush schedule %q: %v", ErrInvalidConfig, c.FlushSchedule, err)
		}
	}
	if c.Prefix != "" && !nameRe.MatchString(c.Prefix) {
		return fmt.Errorf("%w: prefix %q is not a valid name fragment", ErrInvalidConfig, c.Prefix)
	}
	return nil
}

// parseSchedule parses a standard 5-field cron spec.
func parseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(spec)
}

// LoadConfig reads the YAML config file at the given path and returns a
// Config with defaults applied and validated.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
