package metricproxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

const remoteWriteTimeout = 30 * time.Second

// remoteWriteChannel pushes flush batches to a VictoriaMetrics/Prometheus
// remote write endpoint. Every batch carries the full cumulative state,
// one sample per metric, so a dropped batch costs resolution but never
// accuracy.
type remoteWriteChannel struct {
	url        string
	httpClient *http.Client
	prefix     string
	job        string
	instance   string
	logger     *slog.Logger

	// healthy tracks the outcome of the last push.
	healthy atomic.Bool
}

func newRemoteWriteChannel(cfg Config, logger *slog.Logger) *remoteWriteChannel {
	return &remoteWriteChannel{
		url:        cfg.Endpoint + "/api/v1/write",
		httpClient: &http.Client{Timeout: remoteWriteTimeout},
		prefix:     cfg.Prefix,
		job:        cfg.Job,
		instance:   cfg.Instance,
		logger:     logger,
	}
}

// Announce is a no-op: remote write has no metadata frames, series appear
// with their first sample.
func (c *remoteWriteChannel) Announce(ctx context.Context, snap Snapshot) error {
	return nil
}

// Export converts the batch to a single WriteRequest and posts it.
func (c *remoteWriteChannel) Export(ctx context.Context, batch []Snapshot) error {
	if len(batch) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	series := make([]prompb.TimeSeries, 0, len(batch))
	for i := range batch {
		series = append(series, c.timeSeries(&batch[i], now))
	}

	req := &prompb.WriteRequest{Timeseries: series}
	data, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling write request: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.setHealthy(false)
		return errors.Join(ErrChannelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		c.setHealthy(false)
		return errors.Join(ErrChannelUnavailable,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	c.setHealthy(true)
	return nil
}

// timeSeries converts one snapshot to Prometheus TimeSeries format.
func (c *remoteWriteChannel) timeSeries(snap *Snapshot, ts int64) prompb.TimeSeries {
	labels := make([]prompb.Label, 0, 3)
	labels = append(labels, prompb.Label{
		Name:  "__name__",
		Value: exportName(c.prefix, snap.Name),
	})
	if c.job != "" {
		labels = append(labels, prompb.Label{Name: "job", Value: c.job})
	}
	if c.instance != "" {
		labels = append(labels, prompb.Label{Name: "instance", Value: c.instance})
	}

	return prompb.TimeSeries{
		Labels: labels,
		Samples: []prompb.Sample{{
			Value:     snap.Value,
			Timestamp: ts,
		}},
	}
}

func (c *remoteWriteChannel) setHealthy(ok bool) {
	was := c.healthy.Swap(ok)
	switch {
	case ok && !was:
		c.logger.Info("remote write endpoint reachable", "url", c.url)
	case !ok && was:
		c.logger.Warn("remote write endpoint unreachable", "url", c.url)
	}
}

// Connected reports whether the last push succeeded.
func (c *remoteWriteChannel) Connected() bool { return c.healthy.Load() }

// Passive reports false: remote write pushes.
func (c *remoteWriteChannel) Passive() bool { return false }

// Close releases the idle HTTP connections.
func (c *remoteWriteChannel) Close(ctx context.Context) error {
	c.httpClient.CloseIdleConnections()
	c.healthy.Store(false)
	return nil
}
