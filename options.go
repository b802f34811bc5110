package flakeid

import (
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"
)

// options configures a Node or Generator (internal only).
type options struct {
	epoch               time.Time
	layout              Layout
	heartbeatInterval   time.Duration
	toleranceMultiplier int
	reclaimInterval     time.Duration
	clock               clock.WithTicker
	logger              *slog.Logger
	metrics             metricsCollector
	onFatal             func(error)
}

// defaultOptions returns sensible defaults.
func defaultOptions() options {
	return options{
		epoch:               DefaultEpoch,
		layout:              DefaultLayout(),
		heartbeatInterval:   10 * time.Second,
		toleranceMultiplier: 3,
		clock:               clock.RealClock{},
		logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:             nopMetrics{},
	}
}

// tolerance is how old a heartbeat may get before its node id counts as stale.
func (o options) tolerance() time.Duration {
	return o.heartbeatInterval * time.Duration(o.toleranceMultiplier)
}

// reclaimEvery is the stale-node sweep period. It defaults to the tolerance.
func (o options) reclaimEvery() time.Duration {
	if o.reclaimInterval > 0 {
		return o.reclaimInterval
	}
	return o.tolerance()
}

// Option is a functional option for configuring a Node or Generator.
type Option func(*options)

// WithEpoch sets the custom epoch timestamps are measured from.
// Every process sharing a registry must use the same epoch.
// DEFAULT: DefaultEpoch
func WithEpoch(epoch time.Time) Option {
	return func(o *options) {
		o.epoch = epoch
	}
}

// WithLayout sets the bit widths of the id fields.
// DEFAULT: 41/10/12
func WithLayout(layout Layout) Option {
	return func(o *options) {
		o.layout = layout
	}
}

// WithHeartbeatInterval sets how often the node refreshes its registry record.
// DEFAULT: 10s
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(o *options) {
		o.heartbeatInterval = interval
	}
}

// WithToleranceMultiplier sets how many heartbeat intervals may pass before a
// record is considered stale. Values below 2 leave no room for a single late tick.
// DEFAULT: 3
func WithToleranceMultiplier(multiplier int) Option {
	return func(o *options) {
		if multiplier < 2 {
			multiplier = 2
		}
		o.toleranceMultiplier = multiplier
	}
}

// WithReclaimInterval sets how often stale records are swept.
// DEFAULT: the tolerance window
func WithReclaimInterval(interval time.Duration) Option {
	return func(o *options) {
		o.reclaimInterval = interval
	}
}

// WithClock replaces the time source, mainly for tests.
// DEFAULT: the real clock
func WithClock(c clock.WithTicker) Option {
	return func(o *options) {
		if c == nil {
			c = clock.RealClock{}
		}
		o.clock = c
	}
}

// WithLogger sets the logger for the node.
// If the logger is nil, the node will use a no-op logger.
// DEFAULT: A no-op logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			return
		}

		o.logger = logger
	}
}

// WithMetrics registers Prometheus metrics on reg.
// DEFAULT: metrics disabled
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		if reg == nil {
			o.metrics = nopMetrics{}
			return
		}
		o.metrics = newPrometheusMetrics(reg, "flakeid")
	}
}

// WithOnFatal sets a callback invoked once, on its own goroutine, when the
// node loses its claim on the node id. By the time it runs, NextID already
// refuses to mint. A supervisor typically terminates the process from here.
// DEFAULT: none, watch Done() instead
func WithOnFatal(fn func(error)) Option {
	return func(o *options) {
		o.onFatal = fn
	}
}
