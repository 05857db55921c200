package metricproxy

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/A-Tarraf/proxy-v2/wire"
)

const socketWriteTimeout = 5 * time.Second

// socketChannel streams wire frames to the proxy daemon over a unix
// socket. Reports carry per-interval deltas, so the daemon only ever
// adds; the baseline for each metric advances when, and only when, its
// frame has been handed to the socket. A report that fails leaves the
// baseline untouched and the missed amount rides along with the next
// successful flush.
//
// When the daemon is down the channel stays usable: every Export retries
// the dial and, on reconnect, replays the job description and every
// metric description before resuming values.
//
// Reconnecting also resets every baseline, so the first frames of a new
// session carry the full running totals. That assumes the daemon lost
// its folded state along with the connection. When it kept it, for
// example after a write deadline tripped on a stalled but living reader,
// the replay folds on top of the retained state and over-reports. The
// write-only protocol carries no acknowledgement that could tell a
// restart from a stall.
type socketChannel struct {
	path         string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	prefix       string
	job          wire.JobDesc
	logger       *slog.Logger

	mu   sync.Mutex
	conn net.Conn
	enc  *wire.Encoder

	// Acked baselines per metric index.
	ackValue map[int]float64
	ackCount map[int]uint64
	ackSum   map[int]float64

	connected atomic.Bool
}

func newSocketChannel(cfg Config, job wire.JobDesc, logger *slog.Logger) *socketChannel {
	return &socketChannel{
		path:         cfg.Endpoint,
		dialTimeout:  cfg.SetupTimeout,
		writeTimeout: socketWriteTimeout,
		prefix:       cfg.Prefix,
		job:          job,
		logger:       logger,
		ackValue:     make(map[int]float64),
		ackCount:     make(map[int]uint64),
		ackSum:       make(map[int]float64),
	}
}

// dial attempts to establish the connection if there is none. Used by the
// client for the bounded connection attempt at startup.
func (s *socketChannel) dial(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	if err := s.connect(ctx); err != nil {
		return errors.Join(ErrChannelUnavailable, err)
	}
	return nil
}

// connect dials the daemon and opens a fresh session: baselines reset to
// zero and the job description is sent first. Callers hold mu.
func (s *socketChannel) connect(ctx context.Context) error {
	d := net.Dialer{Timeout: s.dialTimeout}
	conn, err := d.DialContext(ctx, "unix", s.path)
	if err != nil {
		return err
	}
	s.conn = conn
	s.enc = wire.NewEncoder(conn)
	clear(s.ackValue)
	clear(s.ackCount)
	clear(s.ackSum)

	job := s.job
	if err := s.send(ctx, &wire.Command{JobDesc: &job}); err != nil {
		return err
	}
	s.connected.Store(true)
	s.logger.Debug("connected to proxy", "path", s.path)
	return nil
}

// send writes one frame under a deadline. On failure the connection is
// dropped so the next Export redials. Callers hold mu.
func (s *socketChannel) send(ctx context.Context, cmd *wire.Command) error {
	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.enc.Encode(cmd); err != nil {
		s.drop(err)
		return err
	}
	return nil
}

// drop tears down the connection after a failure. Callers hold mu.
func (s *socketChannel) drop(err error) {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.enc = nil
	}
	if s.connected.Swap(false) {
		s.logger.Warn("proxy connection lost", "path", s.path, "error", err)
	}
}

func (s *socketChannel) desc(snap *Snapshot) *wire.Command {
	ctype := wire.NewCounterPayload(0)
	if snap.Kind == KindGauge {
		ctype = wire.NewGaugePayload(0, 0, 0, 0)
	}
	return &wire.Command{Desc: &wire.ValueDesc{
		Name:  exportName(s.prefix, snap.Name),
		Doc:   snap.Doc,
		CType: ctype,
	}}
}

// Announce sends the metric description right away when connected. When
// disconnected it reports ErrChannelUnavailable; the description is
// replayed automatically once a connection is back.
func (s *socketChannel) Announce(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrChannelUnavailable
	}
	if err := s.send(ctx, s.desc(&snap)); err != nil {
		return errors.Join(ErrChannelUnavailable, err)
	}
	return nil
}

// Export sends one frame per metric that changed since its baseline,
// redialing and replaying descriptions first if the connection was lost.
func (s *socketChannel) Export(ctx context.Context, batch []Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := false
	if s.conn == nil {
		if err := s.connect(ctx); err != nil {
			return errors.Join(ErrChannelUnavailable, err)
		}
		fresh = true
	}

	for i := range batch {
		snap := &batch[i]
		if fresh {
			if err := s.send(ctx, s.desc(snap)); err != nil {
				return errors.Join(ErrChannelUnavailable, err)
			}
		}
		if err := s.report(ctx, snap); err != nil {
			return errors.Join(ErrChannelUnavailable, err)
		}
	}
	return nil
}

// report sends the delta frame for one snapshot and advances its
// baseline. Unchanged metrics send nothing. Callers hold mu.
func (s *socketChannel) report(ctx context.Context, snap *Snapshot) error {
	name := exportName(s.prefix, snap.Name)
	switch snap.Kind {
	case KindCounter:
		delta := snap.Value - s.ackValue[snap.Index]
		if delta == 0 {
			return nil
		}
		cmd := &wire.Command{Value: &wire.CounterValue{
			Name:  name,
			Value: wire.NewCounterPayload(delta),
		}}
		if err := s.send(ctx, cmd); err != nil {
			return err
		}
		s.ackValue[snap.Index] = snap.Value

	case KindGauge:
		hits := snap.Count - s.ackCount[snap.Index]
		if hits == 0 {
			return nil
		}
		total := snap.Sum - s.ackSum[snap.Index]
		cmd := &wire.Command{Value: &wire.CounterValue{
			Name:  name,
			Value: wire.NewGaugePayload(snap.Min, snap.Max, float64(hits), total),
		}}
		if err := s.send(ctx, cmd); err != nil {
			return err
		}
		s.ackCount[snap.Index] = snap.Count
		s.ackSum[snap.Index] = snap.Sum
	}
	return nil
}

// Connected reports whether the daemon is currently reachable.
func (s *socketChannel) Connected() bool { return s.connected.Load() }

// Passive reports false: the socket channel pushes.
func (s *socketChannel) Passive() bool { return false }

// Close tears down the connection. The client has already exported its
// final batch by the time this runs.
func (s *socketChannel) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
		s.enc = nil
	}
	s.connected.Store(false)
	return err
}
