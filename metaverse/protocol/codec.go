package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownType    = errors.New("unknown message type")
)

// PayloadError reports a known frame type whose payload could not be decoded.
type PayloadError struct {
	Type string
	Err  error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid %s payload: %v", e.Type, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

var errMissingPayload = errors.New("missing payload")

// Envelope is the outer shape of every frame.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode frames msg as {"type": ..., "payload": ...}.
func Encode(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msg.MessageType(), err)
	}
	return json.Marshal(Envelope{Type: msg.MessageType(), Payload: payload})
}

// DecodeClient parses a frame sent by a client.
func DecodeClient(data []byte) (ClientMessage, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeJoin:
		var m Join
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		return m, nil

	case TypeMove:
		// Pointers tell a missing coordinate apart from zero.
		var raw struct {
			X *int `json:"x"`
			Y *int `json:"y"`
		}
		if err := decodePayload(env, &raw); err != nil {
			return nil, err
		}
		if raw.X == nil || raw.Y == nil {
			return nil, &PayloadError{Type: env.Type, Err: errors.New("x and y are required")}
		}
		return Move{X: *raw.X, Y: *raw.Y}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

// DecodeServer parses a frame sent by the server.
func DecodeServer(data []byte) (ServerMessage, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	var msg ServerMessage
	switch env.Type {
	case TypeSpaceJoined:
		var m SpaceJoined
		err, msg = decodePayload(env, &m), &m
	case TypeUserJoined:
		var m UserJoined
		err, msg = decodePayload(env, &m), &m
	case TypeMovement:
		var m Movement
		err, msg = decodePayload(env, &m), &m
	case TypeMovementRejected:
		var m MovementRejected
		err, msg = decodePayload(env, &m), &m
	case TypeUserLeft:
		var m UserLeft
		err, msg = decodePayload(env, &m), &m
	case TypeJoinRejected:
		var m JoinRejected
		err, msg = decodePayload(env, &m), &m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, err
	}
	return deref(msg), nil
}

// deref returns the value form so callers switch on SpaceJoined, not *SpaceJoined.
func deref(msg ServerMessage) ServerMessage {
	switch m := msg.(type) {
	case *SpaceJoined:
		return *m
	case *UserJoined:
		return *m
	case *Movement:
		return *m
	case *MovementRejected:
		return *m
	case *UserLeft:
		return *m
	case *JoinRejected:
		return *m
	}
	return msg
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return env, nil
}

func decodePayload(env Envelope, v any) error {
	if len(env.Payload) == 0 || bytes.Equal(env.Payload, []byte("null")) {
		return &PayloadError{Type: env.Type, Err: errMissingPayload}
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return &PayloadError{Type: env.Type, Err: err}
	}
	return nil
}
