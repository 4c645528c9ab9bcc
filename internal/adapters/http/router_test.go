package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/signalrelay/internal/app"
	"github.com/dkeye/signalrelay/internal/auth"
	"github.com/dkeye/signalrelay/internal/config"
	"github.com/dkeye/signalrelay/internal/metrics"
	"github.com/dkeye/signalrelay/internal/protocol"
)

func newTestRouter(t *testing.T) (*gin.Engine, *app.Gate) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Mode:       "test",
		ReadLimit:  4096,
		WriteWait:  time.Second,
		SendBuffer: 8,
		Auth:       config.AuthConfig{VerifyTimeout: time.Second},
	}
	verifier := auth.NewStaticVerifier([]config.StaticIdentity{{Token: "T-alice", UserID: "alice"}})

	clk := clock.New()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	coord := &app.Coordinator{Registry: app.NewRegistry(clk), Sessions: app.NewSessionTable(clk), Metrics: m}
	gate := app.NewGate(app.GateConfig{AuthTimeout: 10 * time.Second, VerifyTimeout: time.Second}, verifier, coord, clk)
	metrics.RegisterGauges(reg, gate.Stats)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		gate.Shutdown(protocol.CloseGoingAway)
		cancel()
	})
	return SetupRouter(ctx, cfg, gate, verifier, reg), gate
}

func TestRouter_Healthz(t *testing.T) {
	r, gate := newTestRouter(t)
	_, err := gate.RegisterDevice("alice", "D1", nil, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["devices"])
	assert.EqualValues(t, 0, body["reachableDevices"])
}

func TestRouter_Metrics(t *testing.T) {
	r, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "signalrelay_live_connections 0")
}

func TestRouter_DevicesRequireBearer(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/devices", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPut, "/api/devices/D1", strings.NewReader(`{"capabilities":{"hasCamera":true}}`))
	req.Header.Set("Authorization", "Bearer T-alice")
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	req.Header.Set("Authorization", "Bearer T-alice")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"D1"`)
}

func TestRouter_SignalEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws/signal", nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "auth", "token": "T-alice", "clientType": "browser"}))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var m map[string]any
		require.NoError(t, ws.ReadJSON(&m))
		if m["type"] == "ping" {
			continue
		}
		assert.Equal(t, "auth-success", m["type"])
		break
	}
}
