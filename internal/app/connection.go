package app

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dkeye/signalrelay/internal/core"
	"github.com/dkeye/signalrelay/internal/domain"
	"github.com/dkeye/signalrelay/internal/protocol"
)

// Connection is one accepted transport channel. Identity fields are written
// once by the gate when auth succeeds; the session back-reference lives in
// the SessionTable so both sides of a session change in one step.
type Connection struct {
	ID         core.ConnID
	AcceptedAt time.Time

	signal  core.SignalConnection
	limiter *rate.Limiter

	mu            sync.RWMutex
	authenticated bool
	role          domain.Role
	user          domain.User
	deviceID      domain.DeviceID
	authTimer     *clock.Timer

	alive     atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

func newConnection(sc core.SignalConnection, limiter *rate.Limiter, now time.Time) *Connection {
	c := &Connection{
		ID:         core.ConnID(uuid.NewString()),
		AcceptedAt: now,
		signal:     sc,
		limiter:    limiter,
	}
	c.alive.Store(true)
	return c
}

func (c *Connection) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) Role() domain.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Connection) User() domain.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *Connection) UserID() domain.UserID { return c.User().ID }

func (c *Connection) DeviceID() domain.DeviceID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceID
}

func (c *Connection) Closed() bool { return c.closed.Load() }

func (c *Connection) Alive() bool { return c.alive.Load() }

// MarkAlive records a heartbeat answer.
func (c *Connection) MarkAlive() { c.alive.Store(true) }

func (c *Connection) promote(u domain.User, role domain.Role, dev domain.DeviceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = true
	c.role = role
	c.user = u
	if role == domain.RoleEdgeGateway {
		c.deviceID = dev
	}
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
}

func (c *Connection) setAuthTimer(t *clock.Timer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authenticated || c.closed.Load() {
		t.Stop()
		return
	}
	c.authTimer = t
}

func (c *Connection) stopAuthTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
}

func (c *Connection) allow(now time.Time) bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.AllowN(now, 1)
}

func (c *Connection) send(f core.Frame) error {
	if c.closed.Load() {
		return core.ErrClosed
	}
	return c.signal.TrySend(f)
}

func (c *Connection) sendJSON(v any) error {
	f, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.conn").Str("conn", string(c.ID)).Msg("encode outbound message")
		return err
	}
	return c.send(f)
}
