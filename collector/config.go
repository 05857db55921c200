package collector

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	metricproxy "github.com/A-Tarraf/proxy-v2"
	"github.com/A-Tarraf/proxy-v2/logging"
)

const (
	defaultListenAddr = ":8080"
	defaultTLSReload  = time.Minute
)

// Config holds the collector daemon configuration.
type Config struct {
	// Socket is the unix socket path clients connect to. Defaults to the
	// same path the client library derives, so both sides agree without
	// any configuration.
	Socket string `yaml:"socket"`
	// Listen is the address of the Prometheus exposition endpoint,
	// defaults to :8080.
	Listen string `yaml:"listen"`
	// TLSCert and TLSKey switch the exposition endpoint to HTTPS. The
	// files are re-read when they change on disk, checked at most once
	// per TLSReload (default 1m).
	TLSCert   string         `yaml:"tls_cert"`
	TLSKey    string         `yaml:"tls_key"`
	TLSReload time.Duration  `yaml:"tls_reload"`
	Logging   logging.Config `yaml:"logging"`
}

// SetDefaults fills unset fields. PROXY_PATH overrides the socket path,
// mirroring the client side.
func (c *Config) SetDefaults() {
	if c.Socket == "" {
		if p, ok := os.LookupEnv(metricproxy.EnvSocketPath); ok && p != "" {
			c.Socket = p
		} else {
			c.Socket = metricproxy.DefaultSocketPath()
		}
	}
	if c.Listen == "" {
		c.Listen = defaultListenAddr
	}
	if c.TLSReload <= 0 {
		c.TLSReload = defaultTLSReload
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Socket == "" {
		return fmt.Errorf("socket path must not be empty")
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	return nil
}

// TLS reports whether the exposition endpoint serves HTTPS.
func (c *Config) TLS() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// LoadConfig reads the YAML config file at the given path.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode YAML config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}
