package httpServer

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronelink/internal/command"
	"dronelink/internal/framehub"
	"dronelink/internal/gimbal"
	"dronelink/internal/metrics"
	"dronelink/internal/session"
	"dronelink/internal/snapshot"
	"dronelink/internal/storage"
	"dronelink/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCommander struct {
	mu      sync.Mutex
	sent    []string
	failErr error
}

func (f *fakeCommander) Track(_ context.Context, descriptor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.sent = append(f.sent, descriptor)
	return nil
}

func (f *fakeCommander) Stop(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.sent = append(f.sent, command.StopCommand)
	return nil
}

type groundFixture struct {
	server *GroundServer
	hub    *framehub.Hub
}

func newGround(t *testing.T, withSnapshots bool) *groundFixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hub := framehub.New(m)

	var rec *snapshot.Recorder
	if withSnapshots {
		store, err := storage.NewLocalStorage(t.TempDir())
		require.NoError(t, err)
		rec = snapshot.NewRecorder(store, hub, "snapshots", logger, m)
	}

	return &groundFixture{
		server: NewGroundServer(hub, rec, reg, logger),
		hub:    hub,
	}
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	g := newGround(t, false)

	w := do(g.server.Handler(), http.MethodGet, "/api/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")
}

func TestMetricsEndpoint(t *testing.T) {
	g := newGround(t, false)

	w := do(g.server.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dronelink_")
}

func TestTrackBeforeDiscovery(t *testing.T) {
	g := newGround(t, false)

	w := do(g.server.Handler(), http.MethodPost, "/api/v1/track", `{"target":"red cup"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(g.server.Handler(), http.MethodPost, "/api/v1/track/stop", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTrackAndStop(t *testing.T) {
	g := newGround(t, false)
	cmd := &fakeCommander{}
	sess := session.New(session.RoleGround, models.PeerEndpoint{Address: "10.0.0.7", Port: 8501}, 8500, 8501)
	g.server.Connect(sess, cmd)
	h := g.server.Handler()

	w := do(h, http.MethodPost, "/api/v1/track", `{"target":"  red cup "}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Currently tracking: red cup")

	var status models.GroundStatus
	w = do(h, http.MethodGet, "/api/v1/status", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Connected)
	assert.Equal(t, "red cup", status.Tracking)
	require.NotNil(t, status.Session)
	assert.Equal(t, "10.0.0.7:8501", status.Session.Peer)

	w = do(h, http.MethodPost, "/api/v1/track/stop", "")
	require.Equal(t, http.StatusOK, w.Code)

	status = models.GroundStatus{}
	w = do(h, http.MethodGet, "/api/v1/status", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Empty(t, status.Tracking)

	assert.Equal(t, []string{"red cup", "STOP"}, cmd.sent)
}

func TestTrackRejectsEmptyTarget(t *testing.T) {
	g := newGround(t, false)
	cmd := &fakeCommander{}
	g.server.Connect(session.New(session.RoleGround, models.PeerEndpoint{Address: "10.0.0.7", Port: 8501}, 8500, 8501), cmd)

	for _, body := range []string{`{"target":""}`, `{"target":"   "}`, `{}`, `not json`} {
		w := do(g.server.Handler(), http.MethodPost, "/api/v1/track", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Empty(t, cmd.sent)
}

func TestTrackRejectsReservedTarget(t *testing.T) {
	g := newGround(t, false)
	logger, _ := test.NewNullLogger()
	m := metrics.New(prometheus.NewRegistry())
	peer := models.PeerEndpoint{Address: "127.0.0.1", Port: 9}
	g.server.Connect(session.New(session.RoleGround, peer, 8500, 9), command.NewSender(peer, logger, m))

	w := do(g.server.Handler(), http.MethodPost, "/api/v1/track", `{"target":"STOP"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "reserved")

	var status models.GroundStatus
	w = do(g.server.Handler(), http.MethodGet, "/api/v1/status", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Empty(t, status.Tracking)
}

func TestTrackSendFailure(t *testing.T) {
	g := newGround(t, false)
	g.server.Connect(session.New(session.RoleGround, models.PeerEndpoint{Address: "10.0.0.7", Port: 8501}, 8500, 8501),
		&fakeCommander{failErr: errors.New("network unreachable")})

	w := do(g.server.Handler(), http.MethodPost, "/api/v1/track", `{"target":"red cup"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestLatestFrame(t *testing.T) {
	g := newGround(t, false)
	h := g.server.Handler()

	w := do(h, http.MethodGet, "/live/frame.jpg", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	g.hub.Publish(&models.Frame{Seq: 1, Data: []byte{0xff, 0xd8, 0xff, 0xd9}, ReceivedAt: time.Now()})

	w = do(h, http.MethodGet, "/live/frame.jpg", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xd9}, w.Body.Bytes())
}

func TestFrameEvents(t *testing.T) {
	g := newGround(t, false)
	srv := httptest.NewServer(g.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/live/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	require.Equal(t, 1, g.hub.Stats().Subscribers)

	g.hub.Publish(&models.Frame{Seq: 7, Data: make([]byte, 1234), Width: 640, Height: 480, ReceivedAt: time.Now()})

	reader := bufio.NewReader(resp.Body)
	var event, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimPrefix(line, "data:")
		}
	}

	assert.Equal(t, "frame", event)
	var got models.FrameEvent
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	assert.Equal(t, uint64(7), got.Seq)
	assert.Equal(t, 1234, got.Size)
	assert.Equal(t, 640, got.Width)
	assert.Equal(t, 480, got.Height)

	cancel()
	assert.Eventually(t, func() bool { return g.hub.Stats().Subscribers == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFrameEventsEndWhenHubCloses(t *testing.T) {
	g := newGround(t, false)
	srv := httptest.NewServer(g.server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/live/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	g.hub.Close()

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(resp.Body)
		done <- err
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("event stream still open after hub closed")
	}
}

func TestSnapshots(t *testing.T) {
	g := newGround(t, true)
	h := g.server.Handler()

	w := do(h, http.MethodPost, "/api/v1/snapshots", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	g.hub.Publish(&models.Frame{Seq: 9, Data: []byte("jpeg"), Width: 640, Height: 480, ReceivedAt: time.Now()})

	w = do(h, http.MethodPost, "/api/v1/snapshots", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var snap snapshot.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, uint64(9), snap.Seq)

	w = do(h, http.MethodGet, "/api/v1/snapshots", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), snap.Name)

	w = do(h, http.MethodGet, "/api/v1/snapshots/"+snap.Name, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jpeg", w.Body.String())

	w = do(h, http.MethodGet, "/api/v1/snapshots/missing.jpg", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(h, http.MethodGet, "/api/v1/snapshots/notes.txt", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSnapshotsDisabled(t *testing.T) {
	g := newGround(t, false)

	w := do(g.server.Handler(), http.MethodPost, "/api/v1/snapshots", "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

type fixedGimbal struct{}

func (fixedGimbal) Status() gimbal.Status {
	return gimbal.Status{State: gimbal.StateLocked, Gimbal: models.GimbalState{Yaw: -0.6}, Target: "red cup", Ticks: 7}
}

func TestDroneStatus(t *testing.T) {
	logger, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	metrics.New(reg)

	target := command.NewTargetState()
	target.Set("red cup")
	s := NewDroneServer(fixedGimbal{}, target, reg, logger)

	var status struct {
		Connected bool          `json:"connected"`
		Target    string        `json:"target"`
		Gimbal    gimbal.Status `json:"gimbal"`
	}
	w := do(s.Handler(), http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.Connected)
	assert.Equal(t, "red cup", status.Target)
	assert.Equal(t, gimbal.StateLocked, status.Gimbal.State)
	assert.InDelta(t, -0.6, status.Gimbal.Gimbal.Yaw, 1e-9)

	s.SetSession(session.New(session.RoleDrone, models.PeerEndpoint{Address: "10.0.0.5", Port: 8500}, 8500, 8501))
	w = do(s.Handler(), http.MethodGet, "/api/v1/status", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Connected)

	w = do(s.Handler(), http.MethodGet, "/api/v1/gimbal", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServeStopsOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), logger) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
