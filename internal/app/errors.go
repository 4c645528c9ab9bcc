package app

import (
	"errors"

	"github.com/dkeye/signalrelay/internal/core"
	"github.com/dkeye/signalrelay/internal/domain"
	"github.com/dkeye/signalrelay/internal/protocol"
)

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrUnknownDevice     = errors.New("unknown device")
	ErrNoDeviceAvailable = errors.New("no device available")
	ErrSessionMismatch   = errors.New("session mismatch")
	ErrSessionNotFound   = errors.New("session not found")
	ErrAlreadyInSession  = errors.New("connection already in a session")
	ErrDeviceBusy        = errors.New("device busy")
	ErrWrongRole         = errors.New("message not allowed for this client type")
	ErrPeerUnreachable   = errors.New("peer unreachable")
)

// BackpressureError reports a relay target whose send queue is full.
type BackpressureError struct {
	Peer      *Connection
	SessionID domain.SessionID
}

func (e *BackpressureError) Error() string {
	return "peer " + string(e.Peer.ID) + " send queue full"
}

func (e *BackpressureError) Unwrap() error { return core.ErrBackpressure }

// KindOf maps a non-fatal error to the kind reported in the wire error message.
func KindOf(err error) protocol.Kind {
	switch {
	case errors.Is(err, ErrNoDeviceAvailable):
		return protocol.KindNoDeviceAvailable
	case errors.Is(err, ErrSessionMismatch):
		return protocol.KindSessionMismatch
	case errors.Is(err, ErrPermissionDenied):
		return protocol.KindPermissionDenied
	case errors.Is(err, ErrPeerUnreachable), errors.Is(err, core.ErrBackpressure):
		return protocol.KindPeerUnreachable
	default:
		return protocol.KindProtocolViolation
	}
}
