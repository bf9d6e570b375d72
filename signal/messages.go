// Package signal defines the JSON wire protocol spoken between clients and the
// session broker. Every message carries a "type" tag; Decode maps a payload to
// exactly one of the concrete message structs below and rejects unknown tags.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	TypeCreateRoom       = "create-room"
	TypeRoomCreated      = "room-created"
	TypeJoinRoom         = "join-room"
	TypeRoomJoined       = "room-joined"
	TypePeerJoined       = "peer-joined"
	TypePeerLeft         = "peer-left"
	TypePasswordRequired = "password-required"
	TypeVerifyPassword   = "verify-password"
	TypeOffer            = "offer"
	TypeAnswer           = "answer"
	TypeICECandidate     = "ice-candidate"
	TypeTransferComplete = "transfer-complete"
	TypeRoomClosed       = "room-closed"
	TypeError            = "error"
	TypePing             = "ping"
	TypePong             = "pong"
)

// Peer roles carried in the pairing messages so both ends agree on who offers.
// The host is always the offering side.
const (
	RoleHost     = "host"
	RoleReceiver = "receiver"
)

var (
	// ErrUnknownType indicates a payload with a missing or unrecognized type tag.
	ErrUnknownType = errors.New("signal: unknown message type")
)

// Envelope identifies the message type before full decoding.
type Envelope struct {
	Type string `json:"type"`
}

// Message is implemented by every concrete wire message.
type Message interface {
	Kind() string
}

// RoomOptions is the access policy requested at room creation.
type RoomOptions struct {
	MaxDownloads int    `json:"maxDownloads"`
	ExpiryHours  int    `json:"expiryHours"`
	Password     string `json:"password,omitempty"`
}

// CreateRoom registers a new room with the supplied policy.
type CreateRoom struct {
	Type    string      `json:"type"`
	RoomID  string      `json:"roomId"`
	Options RoomOptions `json:"options"`
}

// RoomCreated confirms room registration to the host.
type RoomCreated struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// JoinRoom asks to become the receiver of an existing room.
type JoinRoom struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// RoomJoined confirms pairing to the joining peer.
type RoomJoined struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Role   string `json:"role"`
}

// PeerJoined notifies a paired peer that the counterpart is present.
type PeerJoined struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Role   string `json:"role"`
}

// PeerLeft notifies the remaining peer that the counterpart disconnected.
type PeerLeft struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PasswordRequired tells a joiner the room is password protected.
type PasswordRequired struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// VerifyPassword submits a password for a pending join.
type VerifyPassword struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	Password string `json:"password"`
}

// Offer relays the host's session description. The SDP is opaque to the broker.
type Offer struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	SDP    string `json:"sdp"`
}

// Answer relays the receiver's session description.
type Answer struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	SDP    string `json:"sdp"`
}

// ICECandidate relays one trickled connectivity candidate. The candidate body
// is forwarded verbatim.
type ICECandidate struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId"`
	Candidate json.RawMessage `json:"candidate"`
}

// TransferComplete reports one finished download for quota accounting.
type TransferComplete struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// RoomClosed tells the host the room was deleted by the broker.
type RoomClosed struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ErrorMessage reports a policy or protocol failure to one peer.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Ping refreshes room activity and keeps the broker link alive.
type Ping struct {
	Type string `json:"type"`
}

// Pong answers a ping.
type Pong struct {
	Type string `json:"type"`
}

func (CreateRoom) Kind() string       { return TypeCreateRoom }
func (RoomCreated) Kind() string      { return TypeRoomCreated }
func (JoinRoom) Kind() string         { return TypeJoinRoom }
func (RoomJoined) Kind() string       { return TypeRoomJoined }
func (PeerJoined) Kind() string       { return TypePeerJoined }
func (PeerLeft) Kind() string         { return TypePeerLeft }
func (PasswordRequired) Kind() string { return TypePasswordRequired }
func (VerifyPassword) Kind() string   { return TypeVerifyPassword }
func (Offer) Kind() string            { return TypeOffer }
func (Answer) Kind() string           { return TypeAnswer }
func (ICECandidate) Kind() string     { return TypeICECandidate }
func (TransferComplete) Kind() string { return TypeTransferComplete }
func (RoomClosed) Kind() string       { return TypeRoomClosed }
func (ErrorMessage) Kind() string     { return TypeError }
func (Ping) Kind() string             { return TypePing }
func (Pong) Kind() string             { return TypePong }

// NewError builds an error message for one peer.
func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

// Encode marshals a wire message to JSON.
func Encode(message Message) ([]byte, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("marshal %s message: %w", message.Kind(), err)
	}
	return payload, nil
}

// Decode parses a payload into its concrete message type. Unknown or missing
// type tags return ErrUnknownType so callers can drop the message without
// tearing anything down.
func Decode(payload []byte) (Message, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var (
		msg Message
		err error
	)
	switch envelope.Type {
	case TypeCreateRoom:
		msg, err = decodeAs[CreateRoom](payload)
	case TypeRoomCreated:
		msg, err = decodeAs[RoomCreated](payload)
	case TypeJoinRoom:
		msg, err = decodeAs[JoinRoom](payload)
	case TypeRoomJoined:
		msg, err = decodeAs[RoomJoined](payload)
	case TypePeerJoined:
		msg, err = decodeAs[PeerJoined](payload)
	case TypePeerLeft:
		msg, err = decodeAs[PeerLeft](payload)
	case TypePasswordRequired:
		msg, err = decodeAs[PasswordRequired](payload)
	case TypeVerifyPassword:
		msg, err = decodeAs[VerifyPassword](payload)
	case TypeOffer:
		msg, err = decodeAs[Offer](payload)
	case TypeAnswer:
		msg, err = decodeAs[Answer](payload)
	case TypeICECandidate:
		msg, err = decodeAs[ICECandidate](payload)
	case TypeTransferComplete:
		msg, err = decodeAs[TransferComplete](payload)
	case TypeRoomClosed:
		msg, err = decodeAs[RoomClosed](payload)
	case TypeError:
		msg, err = decodeAs[ErrorMessage](payload)
	case TypePing:
		msg, err = decodeAs[Ping](payload)
	case TypePong:
		msg, err = decodeAs[Pong](payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, envelope.Type)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeAs[T Message](payload []byte) (Message, error) {
	var msg T
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode %s message: %w", msg.Kind(), err)
	}
	return msg, nil
}
