package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame marks frames that cannot be decoded at all. The caller
// drops the frame; the connection stays up.
var ErrMalformedFrame = errors.New("malformed frame")

// frame is the outer wire object: a discriminant plus the payload.
type frame struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode serializes an envelope into a single JSON frame.
func Encode(env Envelope) ([]byte, error) {
	f := frame{Type: env.Kind()}

	switch e := env.(type) {
	case Ping, Pong:
		// no payload
	case Unknown:
		f.Data = e.Data
	default:
		data, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", env.Kind(), err)
		}
		f.Data = data
	}

	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", env.Kind(), err)
	}
	return raw, nil
}

// Decode parses a single JSON frame into a typed envelope. Unknown kinds
// decode to Unknown rather than failing; only malformed JSON, a missing
// discriminant, or an unparsable payload for a known kind is an error.
func Decode(raw []byte) (Envelope, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("%w: missing type discriminant", ErrMalformedFrame)
	}

	switch f.Type {
	case KindAuthenticate:
		return decodePayload[Authenticate](f)
	case KindAuthSuccess:
		return decodePayload[AuthSuccess](f)
	case KindLocationUpdate:
		return decodePayload[LocationUpdate](f)
	case KindRideStatusUpdate:
		return decodePayload[RideStatusUpdate](f)
	case KindRideRequest:
		return decodePayload[RideRequest](f)
	case KindRideAccepted:
		return decodePayload[RideAccepted](f)
	case KindChatMessage:
		return decodePayload[ChatMessage](f)
	case KindPing:
		return Ping{}, nil
	case KindPong:
		return Pong{}, nil
	case KindError:
		return decodePayload[Error](f)
	default:
		return Unknown{Type: f.Type, Data: f.Data}, nil
	}
}

func decodePayload[T Envelope](f frame) (Envelope, error) {
	var payload T
	if len(f.Data) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(f.Data, &payload); err != nil {
		return nil, fmt.Errorf("%w: bad %s payload: %v", ErrMalformedFrame, f.Type, err)
	}
	return payload, nil
}
