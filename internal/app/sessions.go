package app

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/signalrelay/internal/core"
	"github.com/dkeye/signalrelay/internal/domain"
)

// Session pairs one browser with one device connection.
type Session struct {
	ID        domain.SessionID
	DeviceID  domain.DeviceID
	UserID    domain.UserID
	Browser   *Connection
	Device    *Connection
	CreatedAt time.Time

	// mu orders relays against End: once state is Ended nothing more is
	// forwarded.
	mu    sync.Mutex
	state domain.SessionState
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Peer returns the other party, or nil when id is not part of s.
func (s *Session) Peer(id core.ConnID) *Connection {
	switch id {
	case s.Browser.ID:
		return s.Device
	case s.Device.ID:
		return s.Browser
	}
	return nil
}

func (s *Session) has(id core.ConnID) bool {
	return s.Browser.ID == id || s.Device.ID == id
}

// SessionTable holds active sessions plus the connection to session index.
// A session and both of its index entries are added and removed under one
// lock, so the two sides always agree.
type SessionTable struct {
	mu     sync.RWMutex
	byID   map[domain.SessionID]*Session
	byConn map[core.ConnID]*Session
	clock  clock.Clock
}

func NewSessionTable(clk clock.Clock) *SessionTable {
	if clk == nil {
		clk = clock.New()
	}
	return &SessionTable{
		byID:   make(map[domain.SessionID]*Session),
		byConn: make(map[core.ConnID]*Session),
		clock:  clk,
	}
}

// Create binds browser and device into a new session. announce runs with the
// session mutex held, after the table is updated, so whatever it enqueues
// reaches both peers before any session-ended can.
func (t *SessionTable) Create(browser, device *Connection, deviceID domain.DeviceID, announce func(*Session)) (*Session, error) {
	t.mu.Lock()
	switch {
	case browser.Closed():
		t.mu.Unlock()
		return nil, core.ErrClosed
	case t.byConn[browser.ID] != nil:
		t.mu.Unlock()
		return nil, ErrAlreadyInSession
	case device == nil || device == browser || device.Closed() || t.byConn[device.ID] != nil:
		t.mu.Unlock()
		return nil, ErrDeviceBusy
	}
	s := &Session{
		ID:        domain.SessionID(uuid.NewString()),
		DeviceID:  deviceID,
		UserID:    browser.UserID(),
		Browser:   browser,
		Device:    device,
		CreatedAt: t.clock.Now(),
		state:     domain.SessionActive,
	}
	t.byID[s.ID] = s
	t.byConn[browser.ID] = s
	t.byConn[device.ID] = s
	s.mu.Lock()
	t.mu.Unlock()

	if announce != nil {
		announce(s)
	}
	s.mu.Unlock()
	log.Info().Str("module", "app.sessions").Str("session", string(s.ID)).Str("device", string(deviceID)).
		Str("browser", string(browser.ID)).Msg("session created")
	return s, nil
}

func (t *SessionTable) Get(id domain.SessionID) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byID[id]
	return s, ok
}

// BoundTo returns the session conn currently belongs to.
func (t *SessionTable) BoundTo(conn core.ConnID) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byConn[conn]
	return s, ok
}

// Relay forwards f from sender to its peer in session sid. The peer is
// returned alongside send errors so the caller can act on it.
func (t *SessionTable) Relay(from *Connection, sid domain.SessionID, f core.Frame) (*Connection, error) {
	t.mu.RLock()
	s := t.byConn[from.ID]
	t.mu.RUnlock()
	if s == nil || s.ID != sid {
		return nil, ErrSessionMismatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == domain.SessionEnded {
		return nil, ErrSessionMismatch
	}
	peer := s.Peer(from.ID)
	if err := peer.send(f); err != nil {
		return peer, err
	}
	return peer, nil
}

// End terminates sid on behalf of by. Unknown or already ended sessions
// report ErrSessionNotFound; a connection that is not a party gets
// ErrSessionMismatch.
func (t *SessionTable) End(sid domain.SessionID, by core.ConnID) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byID[sid]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !s.has(by) {
		return nil, ErrSessionMismatch
	}
	t.remove(s)
	return s, nil
}

// EndFor terminates whatever session conn is part of.
func (t *SessionTable) EndFor(conn core.ConnID) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byConn[conn]
	if !ok {
		return nil, false
	}
	t.remove(s)
	return s, true
}

// remove requires t.mu held for writing.
func (t *SessionTable) remove(s *Session) {
	delete(t.byID, s.ID)
	delete(t.byConn, s.Browser.ID)
	delete(t.byConn, s.Device.ID)
	s.mu.Lock()
	s.state = domain.SessionEnded
	s.mu.Unlock()
	log.Info().Str("module", "app.sessions").Str("session", string(s.ID)).Msg("session ended")
}

func (t *SessionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
