package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.AuthFailed("invalid token")
	m.AuthFailed("invalid token")
	m.Relayed("offer")
	m.SessionCreated()
	m.SessionEnded("peer-disconnected")
	m.ConnectionClosed("heartbeat timeout")
	m.ProtocolError("SessionMismatch")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.authFailures.WithLabelValues("invalid token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayed.WithLabelValues("offer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsEnded.WithLabelValues("peer-disconnected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.closed.WithLabelValues("heartbeat timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.protocolErrors.WithLabelValues("SessionMismatch")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AuthFailed("x")
		m.Relayed("offer")
		m.ProtocolError("x")
		m.SessionCreated()
		m.SessionEnded("x")
		m.ConnectionClosed("x")
	})
}

func TestRegisterGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	stats := Stats{Connections: 3, Sessions: 1, Devices: 2, ReachableDevices: 1}
	RegisterGauges(reg, func() Stats { return stats })

	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP signalrelay_active_sessions Sessions currently bound.
# TYPE signalrelay_active_sessions gauge
signalrelay_active_sessions 1
# HELP signalrelay_live_connections Open signaling connections.
# TYPE signalrelay_live_connections gauge
signalrelay_live_connections 3
`), "signalrelay_active_sessions", "signalrelay_live_connections")
	require.NoError(t, err)

	stats.Sessions = 0
	n, err := testutil.GatherAndCount(reg, "signalrelay_active_sessions")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
