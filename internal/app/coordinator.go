package app

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/signalrelay/internal/core"
	"github.com/dkeye/signalrelay/internal/domain"
	"github.com/dkeye/signalrelay/internal/metrics"
	"github.com/dkeye/signalrelay/internal/protocol"
)

// Coordinator matches browsers to devices and moves signaling between them.
type Coordinator struct {
	Registry *Registry
	Sessions *SessionTable
	Metrics  *metrics.Metrics
}

// RequestDevice pairs browser with the best free candidate.
func (o *Coordinator) RequestDevice(browser *Connection, req domain.Requirements) (*Session, error) {
	if browser.Role() != domain.RoleBrowser {
		return nil, ErrWrongRole
	}
	if _, busy := o.Sessions.BoundTo(browser.ID); busy {
		return nil, ErrAlreadyInSession
	}
	for _, cand := range o.Registry.FindCandidates(req) {
		s, err := o.Sessions.Create(browser, cand.Conn, cand.Device.ID, o.announce)
		switch {
		case err == nil:
			o.Metrics.SessionCreated()
			return s, nil
		case errors.Is(err, ErrDeviceBusy):
			continue
		default:
			return nil, err
		}
	}
	log.Debug().Str("module", "app.coordinator").Str("conn", string(browser.ID)).Msg("no device available")
	return nil, ErrNoDeviceAvailable
}

func (o *Coordinator) announce(s *Session) {
	_ = s.Browser.sendJSON(protocol.DeviceAssigned{
		Type:      protocol.TypeDeviceAssigned,
		DeviceID:  s.DeviceID,
		SessionID: s.ID,
	})
	_ = s.Device.sendJSON(protocol.SessionRequest{
		Type:      protocol.TypeSessionRequest,
		SessionID: s.ID,
		UserID:    s.UserID,
	})
}

// Relay forwards raw, the bytes msg was decoded from, to the sender's peer.
func (o *Coordinator) Relay(from *Connection, msg protocol.SessionScoped, raw core.Frame) error {
	peer, err := o.Sessions.Relay(from, msg.Session(), raw)
	switch {
	case err == nil:
		o.Metrics.Relayed(string(msg.MessageType()))
		return nil
	case errors.Is(err, core.ErrClosed):
		// peer is mid-close; end on its behalf so the sender hears about it now
		if s, endErr := o.Sessions.End(msg.Session(), peer.ID); endErr == nil {
			o.notifyEnded(s, from, domain.EndPeerUnreachable)
		}
		return nil
	case errors.Is(err, core.ErrBackpressure):
		return &BackpressureError{Peer: peer, SessionID: msg.Session()}
	default:
		return err
	}
}

// Control forwards a browser's device command to the paired device.
func (o *Coordinator) Control(from *Connection, msg *protocol.DeviceControl, raw core.Frame) error {
	if from.Role() != domain.RoleBrowser {
		return ErrWrongRole
	}
	return o.Relay(from, msg, raw)
}

// ReportStatus stores a gateway's status report on the device it claims.
func (o *Coordinator) ReportStatus(from *Connection, msg *protocol.DeviceStatus) error {
	if from.Role() != domain.RoleEdgeGateway {
		return ErrWrongRole
	}
	_, err := o.Registry.UpdateStatus(from.DeviceID(), from, msg.Status, msg.Capabilities, msg.Location)
	return err
}

// EndSession ends sid at the request of by. Unknown or already ended
// sessions are ignored.
func (o *Coordinator) EndSession(by *Connection, sid domain.SessionID) error {
	s, err := o.Sessions.End(sid, by.ID)
	if errors.Is(err, ErrSessionNotFound) {
		log.Debug().Str("module", "app.coordinator").Str("session", string(sid)).Msg("end of unknown session ignored")
		return nil
	}
	if err != nil {
		return err
	}
	o.notifyEnded(s, s.Peer(by.ID), domain.EndByPeer)
	return nil
}

// OnDisconnect drops every reference to c: its session ends and its device
// claim is released.
func (o *Coordinator) OnDisconnect(c *Connection) {
	if s, ok := o.Sessions.EndFor(c.ID); ok {
		o.notifyEnded(s, s.Peer(c.ID), domain.EndPeerDisconnect)
	}
	if c.Role() == domain.RoleEdgeGateway {
		if dev := c.DeviceID(); dev != "" {
			o.Registry.Release(dev, c)
		}
	}
}

func (o *Coordinator) notifyEnded(s *Session, survivor *Connection, reason domain.EndReason) {
	o.Metrics.SessionEnded(string(reason))
	if survivor == nil {
		return
	}
	_ = survivor.sendJSON(protocol.SessionEnded{
		Type:      protocol.TypeSessionEnded,
		SessionID: s.ID,
		Reason:    reason,
	})
	log.Info().Str("module", "app.coordinator").Str("session", string(s.ID)).
		Str("notified", string(survivor.ID)).Str("reason", string(reason)).Msg("session-ended sent")
}
