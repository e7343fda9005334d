// Package metrics exposes encoder worker counters as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zsiec/encbridge/internal/media"
)

// Metrics holds the worker's collectors. It implements worker.Observer.
type Metrics struct {
	Registry *prometheus.Registry

	// Frame metrics
	FramesReceived *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec
	FrameSize      prometheus.Histogram
	IDRRequests    prometheus.Counter

	// Encode metrics
	EncodeDuration prometheus.Histogram
	BitRate        prometheus.Gauge

	// Packet metrics
	PacketsPublished prometheus.Counter
	PacketsDropped   *prometheus.CounterVec
	KeyPackets       prometheus.Counter
	PacketSize       prometheus.Histogram

	// Process metrics
	Ready prometheus.Gauge
}

// New creates the collectors on a fresh registry, alongside the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		FramesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "encbridge_frames_received_total",
				Help: "Frames copied out of the shared region",
			},
			[]string{"pixel_format"},
		),
		FramesDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "encbridge_frames_dropped_total",
				Help: "Frames discarded before producing packets",
			},
			[]string{"reason"},
		),
		FrameSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "encbridge_frame_size_bytes",
			Help:    "Raw frame payload size",
			Buckets: prometheus.ExponentialBuckets(256*1024, 2, 8), // 256KB to 32MB
		}),
		IDRRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "encbridge_idr_requests_total",
			Help: "Frames received with insert_idr set",
		}),

		EncodeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "encbridge_encode_duration_seconds",
			Help:    "Time to convert, submit and drain one frame",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10), // 0.5ms to ~256ms
		}),
		BitRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "encbridge_target_bitrate_bps",
			Help: "Most recently requested encoder bitrate",
		}),

		PacketsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "encbridge_packets_published_total",
			Help: "Packets written to the shared region",
		}),
		PacketsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "encbridge_packets_dropped_total",
				Help: "Packets that could not be written to the shared region",
			},
			[]string{"reason"},
		),
		KeyPackets: f.NewCounter(prometheus.CounterOpts{
			Name: "encbridge_key_packets_total",
			Help: "Published packets flagged as IDR",
		}),
		PacketSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "encbridge_packet_size_bytes",
			Help:    "Compressed packet size",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 13), // 1KB to 4MB
		}),

		Ready: f.NewGauge(prometheus.GaugeOpts{
			Name: "encbridge_ready",
			Help: "1 while the worker loop is accepting frames",
		}),
	}
}

func (m *Metrics) FrameReceived(f media.Frame) {
	m.FramesReceived.WithLabelValues(f.PixelFormat.String()).Inc()
	m.FrameSize.Observe(float64(len(f.Data)))
	if f.InsertIDR {
		m.IDRRequests.Inc()
	}
}

func (m *Metrics) FrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Encoded(d time.Duration, _ int) {
	m.EncodeDuration.Observe(d.Seconds())
}

func (m *Metrics) PacketPublished(p media.Packet) {
	m.PacketsPublished.Inc()
	m.PacketSize.Observe(float64(len(p.Data)))
	if p.IsIDR {
		m.KeyPackets.Inc()
	}
}

func (m *Metrics) PacketDropped(reason string) {
	m.PacketsDropped.WithLabelValues(reason).Inc()
}

// SetReady records whether the loop is running.
func (m *Metrics) SetReady(ready bool) {
	if ready {
		m.Ready.Set(1)
	} else {
		m.Ready.Set(0)
	}
}

// SetBitRate records the requested target bitrate.
func (m *Metrics) SetBitRate(bps int64) {
	m.BitRate.Set(float64(bps))
}
