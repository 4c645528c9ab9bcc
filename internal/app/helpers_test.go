package app

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/signalrelay/internal/auth"
	"github.com/dkeye/signalrelay/internal/config"
	"github.com/dkeye/signalrelay/internal/core"
	"github.com/dkeye/signalrelay/internal/domain"
)

// journal records sends and closes across several fakeSignals in the order
// they happened.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()
}

func (j *journal) index(entry string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Index(j.entries, entry)
}

// fakeSignal is an in-memory SignalConnection that records what it is sent.
type fakeSignal struct {
	mu     sync.Mutex
	frames []core.Frame
	pings  int
	full   bool
	gone   bool
	closed bool
	code   int

	name    string
	journal *journal
}

func (f *fakeSignal) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.closed || f.gone:
		return core.ErrClosed
	case f.full:
		return core.ErrBackpressure
	}
	f.frames = append(f.frames, append(core.Frame(nil), fr...))
	if f.journal != nil {
		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(fr, &env)
		f.journal.add(f.name + " " + env.Type)
	}
	return nil
}

func (f *fakeSignal) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return core.ErrClosed
	}
	f.pings++
	return nil
}

func (f *fakeSignal) Close(code int, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.code = code
		f.journal.add(f.name + " closed")
	}
}

func (f *fakeSignal) setFull(v bool) {
	f.mu.Lock()
	f.full = v
	f.mu.Unlock()
}

// vanish makes sends fail as if the transport died underneath us.
func (f *fakeSignal) vanish() {
	f.mu.Lock()
	f.gone = true
	f.mu.Unlock()
}

func (f *fakeSignal) closeCode() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code, f.closed
}

func (f *fakeSignal) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeSignal) raw() []core.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Frame(nil), f.frames...)
}

func (f *fakeSignal) messages(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, fr := range f.raw() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(fr, &m))
		out = append(out, m)
	}
	return out
}

func (f *fakeSignal) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range f.messages(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSignal) last(t *testing.T) map[string]any {
	t.Helper()
	msgs := f.messages(t)
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

type harness struct {
	clock    *clock.Mock
	registry *Registry
	sessions *SessionTable
	gate     *Gate
}

var testIdentities = []config.StaticIdentity{
	{Token: "T-alice", UserID: "alice", Email: "alice@example.com", EmailVerified: true},
	{Token: "T-bob", UserID: "bob", Email: "bob@example.com"},
	{Token: "T-carol", UserID: "carol"},
	{Token: "T-owner", UserID: "owner"},
}

func newHarness(t *testing.T, mutate ...func(*GateConfig)) *harness {
	t.Helper()
	clk := clock.NewMock()
	cfg := GateConfig{AuthTimeout: 10 * time.Second, VerifyTimeout: time.Second}
	for _, m := range mutate {
		m(&cfg)
	}
	reg := NewRegistry(clk)
	sessions := NewSessionTable(clk)
	coord := &Coordinator{Registry: reg, Sessions: sessions}
	return &harness{
		clock:    clk,
		registry: reg,
		sessions: sessions,
		gate:     NewGate(cfg, auth.NewStaticVerifier(testIdentities), coord, clk),
	}
}

func (h *harness) connect() (*Connection, *fakeSignal) {
	sig := &fakeSignal{}
	return h.gate.Accept(sig), sig
}

func (h *harness) send(t *testing.T, c *Connection, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	h.gate.Dispatch(context.Background(), c, data)
}

func (h *harness) sendRaw(c *Connection, raw string) {
	h.gate.Dispatch(context.Background(), c, []byte(raw))
}

func (h *harness) browser(t *testing.T, token string) (*Connection, *fakeSignal) {
	t.Helper()
	c, sig := h.connect()
	h.send(t, c, map[string]any{"type": "auth", "token": token, "clientType": "browser"})
	require.True(t, c.Authenticated(), "browser auth failed")
	return c, sig
}

func (h *harness) gateway(t *testing.T, token string, id domain.DeviceID, caps domain.Capabilities, loc *domain.Location) (*Connection, *fakeSignal) {
	t.Helper()
	return h.gatewayOn(t, &fakeSignal{}, token, id, caps, loc)
}

func (h *harness) gatewayOn(t *testing.T, sig *fakeSignal, token string, id domain.DeviceID, caps domain.Capabilities, loc *domain.Location) (*Connection, *fakeSignal) {
	t.Helper()
	c := h.gate.Accept(sig)
	msg := map[string]any{"type": "auth", "token": token, "clientType": "edge-gateway", "deviceId": id}
	if caps != nil {
		msg["capabilities"] = caps
	}
	if loc != nil {
		msg["location"] = loc
	}
	h.send(t, c, msg)
	require.True(t, c.Authenticated(), "gateway auth failed")
	return c, sig
}

// pair runs request-device from a fresh browser and returns the session id.
func (h *harness) pair(t *testing.T, token string, req map[string]any) (*Connection, *fakeSignal, domain.SessionID) {
	t.Helper()
	b, bsig := h.browser(t, token)
	h.send(t, b, map[string]any{"type": "request-device", "requirements": req})
	assigned := bsig.ofType(t, "device-assigned")
	require.Len(t, assigned, 1)
	return b, bsig, domain.SessionID(assigned[0]["sessionId"].(string))
}

func newTestConn(role domain.Role, user domain.UserID) (*Connection, *fakeSignal) {
	sig := &fakeSignal{}
	c := newConnection(sig, nil, time.Time{})
	c.promote(domain.User{ID: user}, role, "")
	return c, sig
}

var (
	stockholm = &domain.Location{Latitude: 59.3293, Longitude: 18.0686}
	// about 2 km north of stockholm
	nearStockholm = &domain.Location{Latitude: 59.3473, Longitude: 18.0686}
	gothenburg    = &domain.Location{Latitude: 57.7089, Longitude: 11.9746}
)
