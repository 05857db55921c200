package collector

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	metricproxy "github.com/A-Tarraf/proxy-v2"
)

func TestSetDefaults(t *testing.T) {
	t.Setenv(metricproxy.EnvSocketPath, "")

	var cfg Config
	cfg.SetDefaults()

	if cfg.Socket != metricproxy.DefaultSocketPath() {
		t.Errorf("Socket = %q, want client default %q", cfg.Socket, metricproxy.DefaultSocketPath())
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q, want :8080", cfg.Listen)
	}
	if cfg.TLSReload != time.Minute {
		t.Errorf("TLSReload = %v, want 1m", cfg.TLSReload)
	}
}

func TestSetDefaultsHonorsEnvironment(t *testing.T) {
	t.Setenv(metricproxy.EnvSocketPath, "/tmp/elsewhere.socket")

	var cfg Config
	cfg.SetDefaults()

	if cfg.Socket != "/tmp/elsewhere.socket" {
		t.Errorf("Socket = %q, want value from PROXY_PATH", cfg.Socket)
	}
}

func TestSetDefaultsKeepsExplicitValues(t *testing.T) {
	t.Setenv(metricproxy.EnvSocketPath, "/tmp/elsewhere.socket")

	cfg := Config{Socket: "/run/mine.socket", Listen: ":9999", TLSReload: 10 * time.Second}
	cfg.SetDefaults()

	if cfg.Socket != "/run/mine.socket" {
		t.Errorf("Socket = %q, explicit value must win over the environment", cfg.Socket)
	}
	if cfg.Listen != ":9999" {
		t.Errorf("Listen = %q, want :9999", cfg.Listen)
	}
	if cfg.TLSReload != 10*time.Second {
		t.Errorf("TLSReload = %v, want the explicit 10s", cfg.TLSReload)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "minimal",
			cfg:  Config{Socket: "/tmp/p.sock", Listen: ":8080"},
		},
		{
			name:    "missing socket",
			cfg:     Config{Listen: ":8080"},
			wantErr: true,
		},
		{
			name:    "missing listen",
			cfg:     Config{Socket: "/tmp/p.sock"},
			wantErr: true,
		},
		{
			name: "tls pair",
			cfg:  Config{Socket: "/tmp/p.sock", Listen: ":8080", TLSCert: "c.pem", TLSKey: "k.pem"},
		},
		{
			name:    "cert without key",
			cfg:     Config{Socket: "/tmp/p.sock", Listen: ":8080", TLSCert: "c.pem"},
			wantErr: true,
		},
		{
			name:    "key without cert",
			cfg:     Config{Socket: "/tmp/p.sock", Listen: ":8080", TLSKey: "k.pem"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTLS(t *testing.T) {
	if (&Config{}).TLS() {
		t.Error("TLS() = true for empty config")
	}
	if !(&Config{TLSCert: "c", TLSKey: "k"}).TLS() {
		t.Error("TLS() = false with both files set")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(metricproxy.EnvSocketPath, "")

	content := `
socket: /run/metric-proxy.sock
logging:
  level: debug
  format: text
`
	path := filepath.Join(t.TempDir(), "collector.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Socket != "/run/metric-proxy.sock" {
		t.Errorf("Socket = %q", cfg.Socket)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q, want backfilled default", cfg.Listen)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig("/does/not/exist.yaml"); err == nil {
		t.Error("LoadConfig() succeeded for a missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("socket: [not, a, string"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() succeeded for invalid YAML")
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	content := `
tls_cert: /etc/ssl/collector.pem
`
	path := filepath.Join(t.TempDir(), "collector.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("LoadConfig() accepted a lone tls_cert")
	}
	if !strings.Contains(err.Error(), "tls") {
		t.Errorf("error %q does not mention tls", err)
	}
}
