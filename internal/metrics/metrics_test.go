package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordDiscoveryAttempt(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordDiscoveryAttempt("timeout")
	m.RecordDiscoveryAttempt("timeout")
	m.RecordDiscoveryAttempt("found")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DiscoveryAttempts.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PeersDiscovered))
}

func TestRecordFrameSent(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordFrameSent(20000, 4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesSent))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ChunksSent))
	assert.Equal(t, 20000.0, testutil.ToFloat64(m.BytesSent))
}

func TestRecordGimbalTick(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordGimbalTick("locked", -0.6)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GimbalTicks.WithLabelValues("locked")))
	assert.Equal(t, -0.6, testutil.ToFloat64(m.GimbalYaw))
}
