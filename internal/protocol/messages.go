package protocol

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/signalrelay/internal/core"
	"github.com/dkeye/signalrelay/internal/domain"
)

type Type string

const (
	TypeAuth           Type = "auth"
	TypeAuthSuccess    Type = "auth-success"
	TypeAuthError      Type = "auth-error"
	TypeRequestDevice  Type = "request-device"
	TypeDeviceAssigned Type = "device-assigned"
	TypeSessionRequest Type = "session-request"
	TypeOffer          Type = "offer"
	TypeAnswer         Type = "answer"
	TypeICECandidate   Type = "ice-candidate"
	TypeEndSession     Type = "end-session"
	TypePTZCommand     Type = "ptz-command"
	TypeStartStream    Type = "start-stream"
	TypeStopStream     Type = "stop-stream"
	TypeDeviceStatus   Type = "device-status"
	TypeSessionEnded   Type = "session-ended"
	TypePing           Type = "ping"
	TypePong           Type = "pong"
	TypeError          Type = "error"
)

// Message is one decoded inbound message.
type Message interface {
	MessageType() Type
}

// SessionScoped is implemented by messages relayed inside a session.
type SessionScoped interface {
	Message
	Session() domain.SessionID
}

type Auth struct {
	Type         Type                `json:"type"`
	Token        string              `json:"token" validate:"required"`
	ClientType   domain.Role         `json:"clientType" validate:"required,oneof=browser edge-gateway"`
	DeviceID     domain.DeviceID     `json:"deviceId,omitempty" validate:"required_if=ClientType edge-gateway,max=128"`
	Capabilities domain.Capabilities `json:"capabilities,omitempty"`
	Location     *domain.Location    `json:"location,omitempty"`
}

type RequestDevice struct {
	Type         Type                `json:"type"`
	Requirements domain.Requirements `json:"requirements"`
}

// Offer and Answer carry the SDP untouched; the relay never interprets it.
type Offer struct {
	Type      Type             `json:"type"`
	SessionID domain.SessionID `json:"sessionId" validate:"required"`
	SDP       json.RawMessage  `json:"sdp" validate:"required"`
}

type Answer struct {
	Type      Type             `json:"type"`
	SessionID domain.SessionID `json:"sessionId" validate:"required"`
	SDP       json.RawMessage  `json:"sdp" validate:"required"`
}

type ICECandidate struct {
	Type      Type             `json:"type"`
	SessionID domain.SessionID `json:"sessionId" validate:"required"`
	Candidate json.RawMessage  `json:"candidate" validate:"required"`
}

type EndSession struct {
	Type      Type             `json:"type"`
	SessionID domain.SessionID `json:"sessionId" validate:"required"`
}

// DeviceControl is a browser command for the device it is paired with.
// Payload is forwarded untouched.
type DeviceControl struct {
	Type      Type             `json:"type"`
	SessionID domain.SessionID `json:"sessionId" validate:"required"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
}

// DeviceStatus is a gateway's report about its own device.
type DeviceStatus struct {
	Type         Type                `json:"type"`
	Status       string              `json:"status" validate:"required,max=64"`
	Capabilities domain.Capabilities `json:"capabilities,omitempty"`
	Location     *domain.Location    `json:"location,omitempty"`
}

type Ping struct {
	Type Type `json:"type"`
}

type Pong struct {
	Type Type `json:"type"`
}

func (*Auth) MessageType() Type            { return TypeAuth }
func (*RequestDevice) MessageType() Type   { return TypeRequestDevice }
func (*Offer) MessageType() Type           { return TypeOffer }
func (*Answer) MessageType() Type          { return TypeAnswer }
func (*ICECandidate) MessageType() Type    { return TypeICECandidate }
func (*EndSession) MessageType() Type      { return TypeEndSession }
func (m *DeviceControl) MessageType() Type { return m.Type }
func (*DeviceStatus) MessageType() Type    { return TypeDeviceStatus }
func (*Ping) MessageType() Type            { return TypePing }
func (*Pong) MessageType() Type            { return TypePong }

func (m *Offer) Session() domain.SessionID         { return m.SessionID }
func (m *Answer) Session() domain.SessionID        { return m.SessionID }
func (m *ICECandidate) Session() domain.SessionID  { return m.SessionID }
func (m *DeviceControl) Session() domain.SessionID { return m.SessionID }

// Server to client messages.

type AuthSuccess struct {
	Type         Type               `json:"type"`
	ConnectionID core.ConnID        `json:"connectionId"`
	UserID       domain.UserID      `json:"userId"`
	ICEServers   []webrtc.ICEServer `json:"iceServers,omitempty"`
}

type AuthError struct {
	Type   Type   `json:"type"`
	Reason string `json:"reason"`
}

type DeviceAssigned struct {
	Type      Type             `json:"type"`
	DeviceID  domain.DeviceID  `json:"deviceId"`
	SessionID domain.SessionID `json:"sessionId"`
}

type SessionRequest struct {
	Type      Type             `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	UserID    domain.UserID    `json:"userId"`
}

type SessionEnded struct {
	Type      Type             `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	Reason    domain.EndReason `json:"reason,omitempty"`
}

// Encode marshals an outbound message into a frame.
func Encode(v any) (core.Frame, error) {
	return json.Marshal(v)
}
