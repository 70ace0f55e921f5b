package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Rendezvous metrics
	DiscoveryAttempts *prometheus.CounterVec
	PeersDiscovered   prometheus.Counter

	// Sender metrics
	FramesSent prometheus.Counter
	ChunksSent prometheus.Counter
	BytesSent  prometheus.Counter
	SendErrors prometheus.Counter

	// Receiver metrics
	FramesReceived  prometheus.Counter
	FramesDropped   *prometheus.CounterVec
	FrameSize       prometheus.Histogram
	ChunksReceived  prometheus.Counter
	TransportErrors prometheus.Counter

	// Command metrics
	CommandsReceived *prometheus.CounterVec
	CommandsSent     prometheus.Counter

	// Gimbal metrics
	GimbalTicks *prometheus.CounterVec
	GimbalYaw   prometheus.Gauge

	// Viewer metrics
	ActiveViewers prometheus.Gauge

	// Snapshot metrics
	SnapshotsStored prometheus.Counter
}

// New creates all metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		// Rendezvous metrics
		DiscoveryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dronelink_discovery_attempts_total",
				Help: "Discovery probe attempts by outcome",
			},
			[]string{"result"}, // found, timeout, malformed, error
		),
		PeersDiscovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "dronelink_peers_discovered_total",
			Help: "Number of completed rendezvous handshakes",
		}),

		// Sender metrics
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "dronelink_frames_sent_total",
			Help: "Frames fully sent to the ground station",
		}),
		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "dronelink_chunks_sent_total",
			Help: "Datagrams sent on the video link, terminators included",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "dronelink_video_bytes_sent_total",
			Help: "Encoded frame bytes sent on the video link",
		}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "dronelink_video_send_errors_total",
			Help: "Frames abandoned because a datagram could not be sent",
		}),

		// Receiver metrics
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "dronelink_frames_received_total",
			Help: "Frames reassembled and published to the display sink",
		}),
		FramesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dronelink_frames_dropped_total",
				Help: "Frames discarded by the receiver",
			},
			[]string{"reason"}, // decode, transport, oversize, stale
		),
		FrameSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dronelink_frame_size_bytes",
			Help:    "Size of reassembled frames in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 10), // 1KB to ~512KB
		}),
		ChunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "dronelink_chunks_received_total",
			Help: "Datagrams received on the video link",
		}),
		TransportErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "dronelink_transport_errors_total",
			Help: "Socket errors on the video link",
		}),

		// Command metrics
		CommandsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dronelink_commands_received_total",
				Help: "Tracking commands received by kind",
			},
			[]string{"kind"}, // target, stop, empty, invalid
		),
		CommandsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "dronelink_commands_sent_total",
			Help: "Tracking commands sent to the drone",
		}),

		// Gimbal metrics
		GimbalTicks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dronelink_gimbal_ticks_total",
				Help: "Gimbal control ticks by state",
			},
			[]string{"state"}, // searching, locked
		),
		GimbalYaw: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dronelink_gimbal_yaw",
			Help: "Current integrated gimbal yaw command",
		}),

		// Viewer metrics
		ActiveViewers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dronelink_active_viewers",
			Help: "Number of connected live view subscribers",
		}),

		// Snapshot metrics
		SnapshotsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "dronelink_snapshots_stored_total",
			Help: "Snapshots written to the storage backend",
		}),
	}

	return m
}

// RecordDiscoveryAttempt records the outcome of one probe-and-wait cycle
func (m *Metrics) RecordDiscoveryAttempt(result string) {
	m.DiscoveryAttempts.WithLabelValues(result).Inc()
	if result == "found" {
		m.PeersDiscovered.Inc()
	}
}

// RecordFrameSent records a frame sent as n datagrams
func (m *Metrics) RecordFrameSent(size, datagrams int) {
	m.FramesSent.Inc()
	m.ChunksSent.Add(float64(datagrams))
	m.BytesSent.Add(float64(size))
}

// RecordSendError records a frame abandoned mid-send
func (m *Metrics) RecordSendError() {
	m.SendErrors.Inc()
}

// RecordChunk records a datagram received on the video link
func (m *Metrics) RecordChunk() {
	m.ChunksReceived.Inc()
}

// RecordFrame records a frame published to the display sink
func (m *Metrics) RecordFrame(size int) {
	m.FramesReceived.Inc()
	m.FrameSize.Observe(float64(size))
}

// RecordFrameDropped records a frame discarded by the receiver
func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordTransportError records a socket error on the video link
func (m *Metrics) RecordTransportError() {
	m.TransportErrors.Inc()
}

// RecordCommand records a received tracking command
func (m *Metrics) RecordCommand(kind string) {
	m.CommandsReceived.WithLabelValues(kind).Inc()
}

// RecordCommandSent records a command sent to the drone
func (m *Metrics) RecordCommandSent() {
	m.CommandsSent.Inc()
}

// RecordGimbalTick records a control tick and the resulting yaw
func (m *Metrics) RecordGimbalTick(state string, yaw float64) {
	m.GimbalTicks.WithLabelValues(state).Inc()
	m.GimbalYaw.Set(yaw)
}

// RecordViewerStart records a live view subscriber joining
func (m *Metrics) RecordViewerStart() {
	m.ActiveViewers.Inc()
}

// RecordViewerStop records a live view subscriber leaving
func (m *Metrics) RecordViewerStop() {
	m.ActiveViewers.Dec()
}

// RecordSnapshot records a snapshot written to storage
func (m *Metrics) RecordSnapshot() {
	m.SnapshotsStored.Inc()
}
