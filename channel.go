package metricproxy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/A-Tarraf/proxy-v2/wire"
)

// An ExportChannel surfaces registry snapshots to an out-of-process
// collector. The built-in implementations cover the proxy daemon socket,
// Prometheus remote write and a scrape endpoint; WithChannel installs a
// custom one.
//
// Channels must tolerate an unreachable collector: report it through
// Connected and the error return, never by blocking the caller beyond
// the context deadline.
type ExportChannel interface {
	// Announce introduces a newly created metric. Failure is not fatal:
	// push channels re-announce everything when a connection comes back.
	Announce(ctx context.Context, snap Snapshot) error

	// Export delivers one flush batch covering every registered metric.
	Export(ctx context.Context, batch []Snapshot) error

	// Connected reports whether the channel currently reaches its
	// collector. Passive channels report whether they are serving.
	Connected() bool

	// Passive reports whether the collector pulls from this channel
	// instead of the client pushing. Passive channels are not flushed.
	Passive() bool

	// Close releases the channel's resources. The owning client exports
	// a final batch before calling it.
	Close(ctx context.Context) error
}

// newChannel builds the configured channel. The source callback hands
// passive channels a way to read the registry at collection time.
func newChannel(cfg Config, job wire.JobDesc, logger *slog.Logger, source func() []Snapshot) (ExportChannel, error) {
	switch cfg.Channel {
	case ChannelSocket:
		return newSocketChannel(cfg, job, logger), nil
	case ChannelRemoteWrite:
		return newRemoteWriteChannel(cfg, logger), nil
	case ChannelScrape:
		return newScrapeChannel(cfg, logger, source)
	case ChannelNone:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidConfig, cfg.Channel)
}

// exportName joins the configured prefix to a metric name.
func exportName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}
