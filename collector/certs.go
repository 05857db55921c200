package collector

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// A keypair hands out the exposition endpoint's TLS certificate and picks
// up re-issued files without a daemon restart. Handshakes take one atomic
// load; at most one handshake per Config.TLSReload interval pays for the
// stat calls.
type keypair struct {
	certFile string
	keyFile  string
	interval time.Duration
	logger   *slog.Logger

	active   atomic.Pointer[tls.Certificate]
	nextScan atomic.Int64 // unix nanos

	mu     sync.Mutex // serializes scan and load
	marker time.Time  // newest mod time of the loaded pair
}

// loadKeypair reads the pair once so a broken certificate fails daemon
// startup instead of the first scrape.
func loadKeypair(cfg Config, logger *slog.Logger) (*keypair, error) {
	kp := &keypair{
		certFile: cfg.TLSCert,
		keyFile:  cfg.TLSKey,
		interval: cfg.TLSReload,
		logger:   logger,
	}
	newest, err := kp.modTime()
	if err != nil {
		return nil, err
	}
	if err := kp.load(newest); err != nil {
		return nil, err
	}
	kp.nextScan.Store(time.Now().Add(kp.interval).UnixNano())
	return kp, nil
}

// GetCertificate is the tls.Config.GetCertificate callback.
func (kp *keypair) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	if now := time.Now(); now.UnixNano() >= kp.nextScan.Load() {
		kp.scan(now)
	}
	return kp.active.Load(), nil
}

// scan re-reads the pair when either file is newer than the loaded one.
// Failures keep the active certificate and are retried next interval.
func (kp *keypair) scan(now time.Time) {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	if now.UnixNano() < kp.nextScan.Load() {
		// Another handshake got here first.
		return
	}
	kp.nextScan.Store(now.Add(kp.interval).UnixNano())

	newest, err := kp.modTime()
	if err != nil {
		kp.logger.Error("cannot stat tls files", "error", err)
		return
	}
	if !newest.After(kp.marker) {
		return
	}
	if err := kp.load(newest); err != nil {
		kp.logger.Error("cannot reload tls certificate", "error", err)
	}
}

// modTime returns the newer modification time of the two files.
func (kp *keypair) modTime() (time.Time, error) {
	var newest time.Time
	for _, path := range []string{kp.certFile, kp.keyFile} {
		fi, err := os.Stat(path)
		if err != nil {
			return time.Time{}, err
		}
		if mt := fi.ModTime(); mt.After(newest) {
			newest = mt
		}
	}
	return newest, nil
}

// load reads the pair and publishes it. The marker records the mod time
// the pair was seen with, so a swap racing the read is picked up again on
// the next scan.
func (kp *keypair) load(seen time.Time) error {
	cert, err := tls.LoadX509KeyPair(kp.certFile, kp.keyFile)
	if err != nil {
		return fmt.Errorf("loading key pair %s: %w", kp.certFile, err)
	}
	kp.active.Store(&cert)
	kp.marker = seen
	kp.logger.Info("tls certificate loaded", "cert", kp.certFile)
	return nil
}
