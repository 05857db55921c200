package metricproxy

import "errors"

var (
	// ErrClientClosed is returned when a client, or a metric belonging to
	// it, is used after Close.
	ErrClientClosed = errors.New("client already closed")

	// ErrInvalidName is returned when a metric name does not match
	// [a-zA-Z_:][a-zA-Z0-9_:]*.
	ErrInvalidName = errors.New("invalid metric name")

	// ErrKindConflict is returned when a name is re-registered under a
	// different kind than it already has.
	ErrKindConflict = errors.New("metric already registered with a different kind")

	// ErrWrongKind is returned when a counter operation is applied to a
	// gauge or vice versa.
	ErrWrongKind = errors.New("metric kind mismatch")

	// ErrNegativeDelta is returned by Value.Inc for deltas that would
	// break counter monotonicity.
	ErrNegativeDelta = errors.New("counter delta is negative or NaN")

	// ErrChannelUnavailable is returned by export channels that currently
	// have no working connection to their collector.
	ErrChannelUnavailable = errors.New("export channel unavailable")

	// ErrInvalidConfig wraps all configuration validation failures.
	ErrInvalidConfig = errors.New("invalid configuration")
)
