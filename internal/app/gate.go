package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dkeye/signalrelay/internal/auth"
	"github.com/dkeye/signalrelay/internal/core"
	"github.com/dkeye/signalrelay/internal/domain"
	"github.com/dkeye/signalrelay/internal/metrics"
	"github.com/dkeye/signalrelay/internal/protocol"
)

type GateConfig struct {
	AuthTimeout   time.Duration
	VerifyTimeout time.Duration
	RateLimit     float64
	RateBurst     int
	ICEServers    []webrtc.ICEServer
}

// Gate owns every accepted connection from accept to close.
type Gate struct {
	Coord   *Coordinator
	Policy  Policy
	Metrics *metrics.Metrics

	cfg      GateConfig
	verifier auth.Verifier
	clock    clock.Clock

	mu    sync.RWMutex
	conns map[core.ConnID]*Connection
}

func NewGate(cfg GateConfig, verifier auth.Verifier, coord *Coordinator, clk clock.Clock) *Gate {
	if clk == nil {
		clk = clock.New()
	}
	return &Gate{
		Coord:    coord,
		Policy:   SimplePolicy{},
		Metrics:  coord.Metrics,
		cfg:      cfg,
		verifier: verifier,
		clock:    clk,
		conns:    make(map[core.ConnID]*Connection),
	}
}

// Accept registers a fresh transport, probes it once and arms the auth
// deadline.
func (g *Gate) Accept(sc core.SignalConnection) *Connection {
	var limiter *rate.Limiter
	if g.cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(g.cfg.RateLimit), max(g.cfg.RateBurst, 1))
	}
	c := newConnection(sc, limiter, g.clock.Now())

	g.mu.Lock()
	g.conns[c.ID] = c
	g.mu.Unlock()

	if g.cfg.AuthTimeout > 0 {
		c.setAuthTimer(g.clock.AfterFunc(g.cfg.AuthTimeout, func() {
			if !c.Authenticated() {
				log.Info().Str("module", "app.gate").Str("conn", string(c.ID)).Msg("auth deadline passed")
				g.Close(c, protocol.CloseAuthTimeout)
			}
		}))
	}
	g.Probe(c)
	log.Info().Str("module", "app.gate").Str("conn", string(c.ID)).Msg("connection accepted")
	return c
}

// Probe sends a heartbeat both as a JSON ping and a transport ping.
func (g *Gate) Probe(c *Connection) {
	_ = c.sendJSON(protocol.Ping{Type: protocol.TypePing})
	if err := c.signal.Ping(); err != nil && !errors.Is(err, core.ErrClosed) {
		log.Debug().Err(err).Str("module", "app.gate").Str("conn", string(c.ID)).Msg("ping failed")
	}
}

// Dispatch handles one inbound message to completion.
func (g *Gate) Dispatch(ctx context.Context, c *Connection, data []byte) {
	if c.Closed() {
		return
	}
	if !c.allow(g.clock.Now()) {
		g.replyError(c, protocol.KindRateLimited, "too many messages")
		return
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		g.replyError(c, protocol.KindProtocolViolation, err.Error())
		return
	}

	switch m := msg.(type) {
	case *protocol.Pong:
		c.MarkAlive()
		return
	case *protocol.Ping:
		c.MarkAlive()
		_ = c.sendJSON(protocol.Pong{Type: protocol.TypePong})
		return
	case *protocol.Auth:
		if c.Authenticated() {
			g.replyError(c, protocol.KindProtocolViolation, "already authenticated")
			return
		}
		g.Authenticate(ctx, c, m)
		return
	}

	if !c.Authenticated() {
		g.replyError(c, protocol.KindProtocolViolation, "authentication required")
		return
	}
	if err := g.route(c, msg, data); err != nil {
		g.handleError(c, err)
	}
}

func (g *Gate) route(c *Connection, msg protocol.Message, raw []byte) error {
	switch m := msg.(type) {
	case *protocol.RequestDevice:
		_, err := g.Coord.RequestDevice(c, m.Requirements)
		return err
	case *protocol.EndSession:
		return g.Coord.EndSession(c, m.SessionID)
	case *protocol.DeviceStatus:
		return g.Coord.ReportStatus(c, m)
	case *protocol.DeviceControl:
		return g.Coord.Control(c, m, core.Frame(raw))
	case protocol.SessionScoped:
		return g.Coord.Relay(c, m, core.Frame(raw))
	}
	return ErrWrongRole
}

func (g *Gate) handleError(c *Connection, err error) {
	var bp *BackpressureError
	if errors.As(err, &bp) {
		switch g.Policy.OnBackPressure(bp.SessionID, bp.Peer) {
		case ClosePeer:
			log.Warn().Str("module", "app.gate").Str("conn", string(bp.Peer.ID)).Msg("evicting slow peer")
			g.Close(bp.Peer, protocol.CloseBackpressure)
		case DropFrame:
			g.replyError(c, protocol.KindPeerUnreachable, "peer is not keeping up, message dropped")
		case NoAction:
		}
		return
	}
	g.replyError(c, KindOf(err), err.Error())
}

func (g *Gate) replyError(c *Connection, kind protocol.Kind, msg string) {
	g.Metrics.ProtocolError(string(kind))
	log.Debug().Str("module", "app.gate").Str("conn", string(c.ID)).Str("kind", string(kind)).Msg(msg)
	_ = c.sendJSON(protocol.NewError(kind, msg))
}

// Authenticate verifies the token, promotes c and, for gateways, declares
// and claims the device.
func (g *Gate) Authenticate(ctx context.Context, c *Connection, m *protocol.Auth) {
	verifyCtx := ctx
	if g.cfg.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		verifyCtx, cancel = context.WithTimeout(ctx, g.cfg.VerifyTimeout)
		defer cancel()
	}
	user, err := g.verifier.Verify(verifyCtx, m.Token)
	if err != nil {
		g.rejectAuth(c, protocol.CloseAuthFailed, err)
		return
	}
	if c.Closed() {
		return
	}

	if m.ClientType == domain.RoleEdgeGateway {
		if err := g.declareDevice(user.ID, m); err != nil {
			reason := protocol.CloseInvalidDevice
			if errors.Is(err, ErrPermissionDenied) {
				reason = protocol.ClosePermissionDenied
			}
			g.rejectAuth(c, reason, err)
			return
		}
	}

	c.promote(user, m.ClientType, m.DeviceID)
	success := func() {
		_ = c.sendJSON(protocol.AuthSuccess{
			Type:         protocol.TypeAuthSuccess,
			ConnectionID: c.ID,
			UserID:       user.ID,
			ICEServers:   g.cfg.ICEServers,
		})
	}

	if m.ClientType == domain.RoleEdgeGateway {
		// auth-success goes out only once the claim holds, after any older
		// claimant is closed
		if err := g.claim(c, m.DeviceID, success); err != nil {
			if !errors.Is(err, core.ErrClosed) {
				g.rejectAuth(c, protocol.CloseUnregistered, err)
			}
			return
		}
	} else {
		success()
	}
	log.Info().Str("module", "app.gate").Str("conn", string(c.ID)).Str("user", string(user.ID)).
		Str("role", string(m.ClientType)).Str("device", string(m.DeviceID)).Msg("authenticated")
}

func (g *Gate) declareDevice(owner domain.UserID, m *protocol.Auth) error {
	if m.Capabilities != nil || m.Location != nil {
		_, err := g.Coord.Registry.RegisterDevice(owner, m.DeviceID, m.Capabilities, m.Location)
		return err
	}
	_, err := g.Coord.Registry.EnsureDevice(owner, m.DeviceID)
	return err
}

// claim supersedes older claimants until c holds the device, then runs
// onBind.
func (g *Gate) claim(c *Connection, id domain.DeviceID, onBind func()) error {
	for {
		prev, err := g.Coord.Registry.Claim(id, c, onBind)
		if err != nil {
			return err
		}
		if prev == nil {
			return nil
		}
		log.Info().Str("module", "app.gate").Str("device", string(id)).Str("old", string(prev.ID)).
			Str("new", string(c.ID)).Msg("superseding claimant")
		g.Close(prev, protocol.CloseSuperseded)
	}
}

func (g *Gate) rejectAuth(c *Connection, reason protocol.CloseReason, err error) {
	g.Metrics.AuthFailed(reason.Text)
	log.Warn().Err(err).Str("module", "app.gate").Str("conn", string(c.ID)).Int("code", reason.Code).Msg("auth rejected")
	_ = c.sendJSON(protocol.AuthError{Type: protocol.TypeAuthError, Reason: err.Error()})
	g.Close(c, reason)
}

// Close tears c down exactly once. Concurrent callers block until the first
// one has finished, so on return c is gone from every table.
func (g *Gate) Close(c *Connection, reason protocol.CloseReason) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.stopAuthTimer()

		g.mu.Lock()
		delete(g.conns, c.ID)
		g.mu.Unlock()

		g.Coord.OnDisconnect(c)
		c.signal.Close(reason.Code, reason.Text)
		g.Metrics.ConnectionClosed(reason.Text)
		log.Info().Str("module", "app.gate").Str("conn", string(c.ID)).Int("code", reason.Code).
			Str("reason", reason.Text).Msg("connection closed")
	})
}

// Connections returns a snapshot of the live connections.
func (g *Gate) Connections() []*Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Connection, 0, len(g.conns))
	for _, c := range g.conns {
		out = append(out, c)
	}
	return out
}

func (g *Gate) Stats() metrics.Stats {
	g.mu.RLock()
	conns := len(g.conns)
	g.mu.RUnlock()
	devices, reachable := g.Coord.Registry.Counts()
	return metrics.Stats{
		Connections:      conns,
		Sessions:         g.Coord.Sessions.Len(),
		Devices:          devices,
		ReachableDevices: reachable,
	}
}

// RegisterDevice upserts a device record for owner outside a connection.
func (g *Gate) RegisterDevice(owner domain.UserID, id domain.DeviceID, caps domain.Capabilities, loc *domain.Location) (domain.Device, error) {
	return g.Coord.Registry.RegisterDevice(owner, id, caps, loc)
}

// DevicesOf lists owner's devices with their reachability.
func (g *Gate) DevicesOf(owner domain.UserID) []DeviceStatus {
	return g.Coord.Registry.DevicesOf(owner)
}

// UnregisterDevice removes the record and closes its live claimant.
func (g *Gate) UnregisterDevice(owner domain.UserID, id domain.DeviceID) error {
	claimant, err := g.Coord.Registry.Unregister(id, owner)
	if err != nil {
		return err
	}
	if claimant != nil {
		g.Close(claimant, protocol.CloseUnregistered)
	}
	return nil
}

// Shutdown closes every connection with reason.
func (g *Gate) Shutdown(reason protocol.CloseReason) {
	conns := g.Connections()
	for _, c := range conns {
		g.Close(c, reason)
	}
	log.Info().Str("module", "app.gate").Int("closed", len(conns)).Msg("gate shut down")
}
