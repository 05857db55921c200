// Package proxytest provides an in-process stand-in for the proxy daemon.
// It listens on a real unix socket, decodes the wire protocol and records
// everything it receives, so client tests can assert on the frames that
// actually went over the wire.
package proxytest

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/A-Tarraf/proxy-v2/wire"
)

// Server is a recording proxy daemon. Create one with NewServer, point a
// client at Path, and inspect the recorded frames with Jobs, Descs and
// Values. All methods are safe for concurrent use.
type Server struct {
	// Path is the unix socket the server listens on.
	Path string

	ln     net.Listener
	wg     sync.WaitGroup
	closed atomic.Bool

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	jobs   []wire.JobDesc
	descs  []wire.ValueDesc
	values []wire.CounterValue
}

// NewServer starts a recording daemon on a fresh socket in a temporary
// directory. The server shuts down automatically when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	// Sockets live outside t.TempDir: unix socket paths have a ~100 byte
	// limit and test names can push the default dir past it.
	dir, err := os.MkdirTemp("", "proxytest")
	if err != nil {
		t.Fatalf("proxytest: temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	return NewServerAt(t, filepath.Join(dir, "proxy.socket"))
}

// NewServerAt starts a recording daemon on the given socket path. Useful
// for restarting a daemon at the path a client is already configured
// with, to exercise reconnects.
func NewServerAt(t testing.TB, path string) *Server {
	t.Helper()
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("proxytest: listen %s: %v", path, err)
	}

	s := &Server{Path: path, ln: ln, conns: make(map[net.Conn]struct{})}
	go s.acceptLoop()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
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
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	dec := wire.NewDecoder(conn)
	for {
		cmd, err := dec.Decode()
		if err != nil {
			return
		}
		s.record(cmd)
	}
}

func (s *Server) record(cmd *wire.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case cmd.JobDesc != nil:
		s.jobs = append(s.jobs, *cmd.JobDesc)
	case cmd.Desc != nil:
		s.descs = append(s.descs, *cmd.Desc)
	case cmd.Value != nil:
		s.values = append(s.values, *cmd.Value)
	}
}

// Jobs returns every job description received so far.
func (s *Server) Jobs() []wire.JobDesc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.JobDesc(nil), s.jobs...)
}

// Descs returns every metric description received so far.
func (s *Server) Descs() []wire.ValueDesc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.ValueDesc(nil), s.descs...)
}

// Values returns every value frame received so far.
func (s *Server) Values() []wire.CounterValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.CounterValue(nil), s.values...)
}

// CounterTotal folds the recorded counter frames for name the way the
// real daemon does: by adding the deltas.
func (s *Server) CounterTotal(name string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, v := range s.values {
		if v.Name == name && v.Value.Counter != nil {
			total += v.Value.Counter.Value
		}
	}
	return total
}

// GaugeSummary folds the recorded gauge frames for name the way the real
// daemon does: min of minima, max of maxima, sums of hits and totals.
// The second result reports whether any frame matched.
func (s *Server) GaugeSummary(name string) (wire.GaugePayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum wire.GaugePayload
	found := false
	for _, v := range s.values {
		if v.Name != name || v.Value.Gauge == nil {
			continue
		}
		g := v.Value.Gauge
		if !found {
			sum = *g
			found = true
			continue
		}
		if g.Min < sum.Min {
			sum.Min = g.Min
		}
		if g.Max > sum.Max {
			sum.Max = g.Max
		}
		sum.Hits += g.Hits
		sum.Total += g.Total
	}
	return sum, found
}

// Close stops accepting, severs open connections, waits for the handlers
// to drain and removes the socket. Safe to call more than once.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.ln.Close()
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	_ = os.Remove(s.Path)
	return err
}
