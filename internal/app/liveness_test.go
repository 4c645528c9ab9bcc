package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/signalrelay/internal/domain"
	"github.com/dkeye/signalrelay/internal/protocol"
)

func TestMonitor_Sweep(t *testing.T) {
	h := newHarness(t)
	m := NewMonitor(h.gate, h.clock, 30*time.Second)

	quiet, quietSig := h.browser(t, "T-alice")
	chatty, chattySig := h.browser(t, "T-bob")
	framePong, framePongSig := h.browser(t, "T-carol")

	assert.Zero(t, m.Sweep(), "fresh connections survive the first sweep")
	assert.Equal(t, 2, quietSig.pingCount())
	assert.Len(t, quietSig.ofType(t, "ping"), 2)

	h.send(t, chatty, map[string]any{"type": "pong"})
	framePong.MarkAlive()

	assert.Equal(t, 1, m.Sweep())
	code, closed := quietSig.closeCode()
	require.True(t, closed)
	assert.Equal(t, protocol.CloseHeartbeatTimeout.Code, code)
	assert.True(t, quiet.Closed())

	_, closed = chattySig.closeCode()
	assert.False(t, closed)
	_, closed = framePongSig.closeCode()
	assert.False(t, closed)
}

func TestMonitor_EvictionEndsSession(t *testing.T) {
	h := newHarness(t)
	m := NewMonitor(h.gate, h.clock, 30*time.Second)
	gw, _ := h.gateway(t, "T-owner", "D1", nil, nil)
	b, bSig, _ := h.pair(t, "T-alice", map[string]any{})

	m.Sweep()
	h.send(t, b, map[string]any{"type": "ping"})
	m.Sweep()

	assert.True(t, gw.Closed())
	assert.False(t, b.Closed())
	ended := bSig.ofType(t, "session-ended")
	require.Len(t, ended, 1)
	assert.Equal(t, string(domain.EndPeerDisconnect), ended[0]["reason"])
	_, claimed := h.registry.Claimant("D1")
	assert.False(t, claimed)
}

func TestMonitor_Run(t *testing.T) {
	h := newHarness(t)
	m := NewMonitor(h.gate, h.clock, 30*time.Second)
	_, sig := h.browser(t, "T-alice")

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, m.Run(ctx))
	}()

	assert.Eventually(t, func() bool {
		h.clock.Add(30 * time.Second)
		code, closed := sig.closeCode()
		return closed && code == protocol.CloseHeartbeatTimeout.Code
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()
}
