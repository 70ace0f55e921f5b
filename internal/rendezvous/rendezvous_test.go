package rendezvous

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronelink/internal/metrics"
	"dronelink/pkg/models"
)

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func portOf(conn *net.UDPConn) int {
	return conn.LocalAddr().(*net.UDPAddr).Port
}

// replyWith answers every datagram read from conn with body
func replyWith(conn *net.UDPConn, body string) {
	go func() {
		buf := make([]byte, 1024)
		for {
			_, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			conn.WriteToUDP([]byte(body), from)
		}
	}()
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    models.PeerEndpoint
		wantErr bool
	}{
		{"ipv4", "10.0.0.5:8500", models.PeerEndpoint{Address: "10.0.0.5", Port: 8500}, false},
		{"trailing newline", "192.168.1.20:8500\n", models.PeerEndpoint{Address: "192.168.1.20", Port: 8500}, false},
		{"ipv6", "[fe80::1]:9000", models.PeerEndpoint{Address: "fe80::1", Port: 9000}, false},
		{"no port", "10.0.0.5", models.PeerEndpoint{}, true},
		{"non numeric port", "10.0.0.5:video", models.PeerEndpoint{}, true},
		{"port zero", "10.0.0.5:0", models.PeerEndpoint{}, true},
		{"port too large", "10.0.0.5:70000", models.PeerEndpoint{}, true},
		{"hostname", "ground:8500", models.PeerEndpoint{}, true},
		{"empty", "", models.PeerEndpoint{}, true},
		{"probe echoed back", DiscoveryMessage, models.PeerEndpoint{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReply([]byte(tt.body))
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrMalformedReply), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatReplyRoundTrip(t *testing.T) {
	got, err := ParseReply(FormatReply("10.0.0.5", 8500))
	require.NoError(t, err)
	assert.Equal(t, models.PeerEndpoint{Address: "10.0.0.5", Port: 8500}, got)
}

func TestIsProbe(t *testing.T) {
	assert.True(t, IsProbe([]byte(DiscoveryMessage)))
	assert.True(t, IsProbe([]byte(DiscoveryMessage+"\n")))
	assert.False(t, IsProbe([]byte("DISCOVER")))
	assert.False(t, IsProbe(nil))
}

func TestProbeAndRespond(t *testing.T) {
	logger, _ := test.NewNullLogger()
	conn := listenLoopback(t)

	responder := NewResponder(0, "10.0.0.5", 8500, 8501, logger, newTestMetrics())
	prober := NewProber("127.0.0.1", portOf(conn), time.Second, logger, newTestMetrics())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	droneCh := make(chan models.PeerEndpoint, 1)
	errCh := make(chan error, 1)
	go func() {
		drone, err := responder.Serve(ctx, conn)
		errCh <- err
		droneCh <- drone
	}()

	ground, err := prober.DiscoverUntilFound(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PeerEndpoint{Address: "10.0.0.5", Port: 8500}, ground)

	require.NoError(t, <-errCh)
	drone := <-droneCh
	assert.Equal(t, "127.0.0.1", drone.Address)
	assert.Equal(t, 8501, drone.Port)
}

func TestResponderAdvertisesRoutedAddress(t *testing.T) {
	logger, _ := test.NewNullLogger()
	conn := listenLoopback(t)

	responder := NewResponder(0, "", 8500, 8501, logger, newTestMetrics())
	prober := NewProber("127.0.0.1", portOf(conn), time.Second, logger, newTestMetrics())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go responder.Serve(ctx, conn)

	ground, err := prober.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ground.Address)
	assert.Equal(t, 8500, ground.Port)
}

func TestResponderIgnoresNonProbeDatagrams(t *testing.T) {
	logger, _ := test.NewNullLogger()
	conn := listenLoopback(t)

	responder := NewResponder(0, "10.0.0.5", 8500, 8501, logger, newTestMetrics())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan models.PeerEndpoint, 1)
	go func() {
		drone, _ := responder.Serve(ctx, conn)
		done <- drone
	}()

	client, err := net.DialUDP("udp4", nil, conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	// The junk datagram gets no answer
	client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err = client.Read(make([]byte, 64))
	require.Error(t, err)

	_, err = client.Write([]byte(DiscoveryMessage))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:8500", string(buf[:n]))

	drone := <-done
	assert.Equal(t, 8501, drone.Port)
}

func TestResponderStopsOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	conn := listenLoopback(t)
	responder := NewResponder(0, "10.0.0.5", 8500, 8501, logger, newTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := responder.Serve(ctx, conn)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("responder did not stop after cancel")
	}
}

func TestProbeTimeout(t *testing.T) {
	logger, _ := test.NewNullLogger()
	silent := listenLoopback(t)

	prober := NewProber("127.0.0.1", portOf(silent), 100*time.Millisecond, logger, newTestMetrics())

	_, err := prober.Probe(context.Background())
	assert.ErrorIs(t, err, ErrDiscoveryTimeout)
}

func TestProbeRejectsMalformedReply(t *testing.T) {
	logger, _ := test.NewNullLogger()
	fake := listenLoopback(t)
	replyWith(fake, "not-an-endpoint")

	prober := NewProber("127.0.0.1", portOf(fake), time.Second, logger, newTestMetrics())

	peer, err := prober.Probe(context.Background())
	assert.True(t, errors.Is(err, ErrMalformedReply), "got %v", err)
	assert.True(t, peer.IsZero())
}

// Replies carry no correlation id: any well-formed datagram that reaches the
// probe socket inside the window is accepted, whoever sent it.
func TestProbeAcceptsAnyWellFormedReplyDuringWindow(t *testing.T) {
	logger, _ := test.NewNullLogger()
	impostor := listenLoopback(t)
	replyWith(impostor, "10.9.9.9:9000")

	prober := NewProber("127.0.0.1", portOf(impostor), time.Second, logger, newTestMetrics())

	peer, err := prober.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.PeerEndpoint{Address: "10.9.9.9", Port: 9000}, peer)
}

func TestDiscoverUntilFoundRetriesAfterTimeout(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := newTestMetrics()
	conn := listenLoopback(t)

	// Swallow the first probe so the first attempt times out
	go func() {
		buf := make([]byte, 1024)
		conn.ReadFromUDP(buf)
		NewResponder(0, "10.0.0.5", 8500, 8501, logger, newTestMetrics()).Serve(context.Background(), conn)
	}()

	prober := NewProber("127.0.0.1", portOf(conn), 150*time.Millisecond, logger, m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer, err := prober.DiscoverUntilFound(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", peer.Address)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.DiscoveryAttempts.WithLabelValues("timeout")), 1.0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PeersDiscovered))
}

func TestDiscoverUntilFoundHonoursCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	silent := listenLoopback(t)
	prober := NewProber("127.0.0.1", portOf(silent), 50*time.Millisecond, logger, newTestMetrics())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := prober.DiscoverUntilFound(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
