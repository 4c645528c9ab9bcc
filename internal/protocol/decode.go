package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrMissingType = errors.New("missing message type")
	ErrUnknownType = errors.New("unknown message type")
	ErrInvalid     = errors.New("invalid message")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode parses one inbound frame into its typed message and validates the
// required fields. Every error wraps one of the Err* values above.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var msg Message
	switch env.Type {
	case TypeAuth:
		msg = &Auth{}
	case TypeRequestDevice:
		msg = &RequestDevice{}
	case TypeOffer:
		msg = &Offer{}
	case TypeAnswer:
		msg = &Answer{}
	case TypeICECandidate:
		msg = &ICECandidate{}
	case TypeEndSession:
		msg = &EndSession{}
	case TypePTZCommand, TypeStartStream, TypeStopStream:
		msg = &DeviceControl{}
	case TypeDeviceStatus:
		msg = &DeviceStatus{}
	case TypePing:
		msg = &Ping{}
	case TypePong:
		msg = &Pong{}
	case "":
		return nil, ErrMissingType
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return msg, nil
}
