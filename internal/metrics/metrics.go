// Package metrics defines the Prometheus instrumentation of the simulator
// daemon: link-level flit accounting and bootstrap convergence timing.
//
// Only the daemon path touches this package; the protocol packages report
// through the narrow link.Stats interface so they stay free of metric
// dependencies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FlitsSent counts frames emitted onto the medium.
	FlitsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshnode_flits_sent_total",
		Help: "Flits emitted onto the shared medium.",
	})

	// FlitsReceived counts verified frames consumed from the medium.
	FlitsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshnode_flits_received_total",
		Help: "Checksum-verified flits consumed from the shared medium.",
	})

	// ChecksumErrors counts frames rejected by checksum or type checks.
	ChecksumErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshnode_checksum_errors_total",
		Help: "Frames rejected because their checksum did not verify.",
	})

	// AckRetries counts re-emissions of requires-ack frames.
	AckRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshnode_ack_retries_total",
		Help: "Re-emissions of frames whose SystemAck did not arrive in time.",
	})

	// BootstrapSeconds tracks how long coordinate estimation took.
	BootstrapSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meshnode_bootstrap_duration_seconds",
		Help:    "Time from power-up to a confirmed coordinate.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

// LinkStats feeds the transceiver's accounting into the counters above.
type LinkStats struct{}

func (LinkStats) FlitSent()      { FlitsSent.Inc() }
func (LinkStats) FlitReceived()  { FlitsReceived.Inc() }
func (LinkStats) ChecksumError() { ChecksumErrors.Inc() }
func (LinkStats) AckRetry()      { AckRetries.Inc() }
