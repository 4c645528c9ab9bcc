package domain

type SessionID string

type SessionState int32

const (
	SessionActive SessionState = iota
	SessionEnded
)

func (s SessionState) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// EndReason is carried in session-ended so the surviving peer knows why.
type EndReason string

const (
	EndByPeer          EndReason = "ended-by-peer"
	EndPeerDisconnect  EndReason = "peer-disconnected"
	EndPeerUnreachable EndReason = "peer-unreachable"
)
