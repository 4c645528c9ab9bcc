package protocol

// Kind names a non-fatal error in the wire "error" message.
type Kind string

const (
	KindAuthFailure       Kind = "AuthFailure"
	KindProtocolViolation Kind = "ProtocolViolation"
	KindNoDeviceAvailable Kind = "NoDeviceAvailable"
	KindSessionMismatch   Kind = "SessionMismatch"
	KindPermissionDenied  Kind = "PermissionDenied"
	KindPeerUnreachable   Kind = "PeerUnreachable"
	KindRateLimited       Kind = "RateLimited"
)

type Error struct {
	Type    Type   `json:"type"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message,omitempty"`
}

func NewError(kind Kind, msg string) Error {
	return Error{Type: TypeError, Kind: kind, Message: msg}
}

// CloseReason is a websocket close code plus a short reason string.
type CloseReason struct {
	Code int
	Text string
}

var (
	CloseNormal           = CloseReason{Code: 1000, Text: "closed"}
	CloseGoingAway        = CloseReason{Code: 1001, Text: "server shutdown"}
	CloseMessageTooBig    = CloseReason{Code: 1009, Text: "message too big"}
	CloseAuthFailed       = CloseReason{Code: 4001, Text: "invalid token"}
	CloseAuthTimeout      = CloseReason{Code: 4002, Text: "authentication timeout"}
	ClosePermissionDenied = CloseReason{Code: 4003, Text: "permission denied"}
	CloseHeartbeatTimeout = CloseReason{Code: 4004, Text: "heartbeat timeout"}
	CloseUnregistered     = CloseReason{Code: 4005, Text: "device unregistered"}
	CloseSuperseded       = CloseReason{Code: 4006, Text: "superseded"}
	CloseInvalidDevice    = CloseReason{Code: 4007, Text: "invalid device"}
	CloseBackpressure     = CloseReason{Code: 4008, Text: "backpressure"}
)
