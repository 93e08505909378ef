package protocol

import "encoding/json"

// Kind is the wire discriminant carried in every frame's "type" field.
type Kind string

const (
	KindAuthenticate     Kind = "auth"
	KindAuthSuccess      Kind = "auth_success"
	KindLocationUpdate   Kind = "location_update"
	KindRideStatusUpdate Kind = "ride_status_update"
	KindRideRequest      Kind = "ride_request"
	KindRideAccepted     Kind = "ride_accepted"
	KindChatMessage      Kind = "chat_message"
	KindPing             Kind = "ping"
	KindPong             Kind = "pong"
	KindError            Kind = "error"
)

// Envelope is one typed unit of wire payload. The set of implementations is
// closed on the client side; kinds the client does not know decode to Unknown.
type Envelope interface {
	Kind() Kind
}

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Authenticate is the first frame a client sends after the socket opens.
type Authenticate struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

func (Authenticate) Kind() Kind { return KindAuthenticate }

// AuthSuccess is the relay's acceptance of an Authenticate frame.
type AuthSuccess struct {
	SessionID string `json:"session_id"`
}

func (AuthSuccess) Kind() Kind { return KindAuthSuccess }

// LocationUpdate carries a driver position fix (driver -> relay -> rider).
type LocationUpdate struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Accuracy    float64 `json:"accuracy"`
	TimestampMs int64   `json:"timestamp_ms"`
}

func (LocationUpdate) Kind() Kind { return KindLocationUpdate }

// RideStatusUpdate announces a ride lifecycle transition (relay -> either party).
type RideStatusUpdate struct {
	RideID      string `json:"ride_id"`
	Status      string `json:"status"`
	TimestampMs int64  `json:"timestamp_ms"`
}

func (RideStatusUpdate) Kind() Kind { return KindRideStatusUpdate }

// RideRequest offers a ride to a driver (relay -> driver).
type RideRequest struct {
	RideID       string   `json:"ride_id"`
	Pickup       GeoPoint `json:"pickup"`
	Dropoff      GeoPoint `json:"dropoff"`
	FareEstimate float64  `json:"fare_estimate"`
}

func (RideRequest) Kind() Kind { return KindRideRequest }

// RideAccepted notifies a rider that a driver took the ride (relay -> rider).
type RideAccepted struct {
	RideID     string `json:"ride_id"`
	DriverID   string `json:"driver_id"`
	EtaSeconds int    `json:"eta_seconds"`
}

func (RideAccepted) Kind() Kind { return KindRideAccepted }

// ChatMessage is in-ride chat, bidirectional. MessageID is client-generated
// and globally unique, used for de-duplication.
type ChatMessage struct {
	RideID      string `json:"ride_id"`
	MessageID   string `json:"message_id"`
	SenderID    string `json:"sender_id"`
	Body        string `json:"body"`
	TimestampMs int64  `json:"timestamp_ms"`
}

func (ChatMessage) Kind() Kind { return KindChatMessage }

// Ping and Pong are protocol-level keep-alives exchanged while authenticated.
type Ping struct{}

func (Ping) Kind() Kind { return KindPing }

type Pong struct{}

func (Pong) Kind() Kind { return KindPong }

// Error is an application-level error pushed by the relay. It is forwarded to
// observers as data, never thrown.
type Error struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func (Error) Kind() Kind { return KindError }

// Unknown preserves frames whose kind this build does not understand, so
// relay-side protocol additions never break older clients.
type Unknown struct {
	Type Kind
	Data json.RawMessage
}

func (u Unknown) Kind() Kind { return u.Type }
