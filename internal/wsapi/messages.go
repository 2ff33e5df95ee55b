package wsapi

import (
	"encoding/json"
	"fmt"
)

// Message types on the wire.
const (
	TypeAuth         = "auth"
	TypeAuthRequired = "auth_required"
	TypeAuthOK       = "auth_ok"
	TypeAuthInvalid  = "auth_invalid"
	TypeResult       = "result"
	TypeEvent        = "event"
	TypePong         = "pong"
)

// Message is one outbound frame before encoding.
type Message map[string]any

// Envelope carries the fields every command frame has. Command schemas embed
// it.
type Envelope struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// Encode serialises msg. Values JSON cannot represent (NaN, infinities,
// channels, functions) fail with ErrSerialization.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err) //nolint:errorlint // underlying error is only informative
	}
	return data, nil
}

// AuthRequired is sent as soon as a client connects.
func AuthRequired(version string) Message {
	return Message{"type": TypeAuthRequired, "ha_version": version}
}

// AuthOK confirms a successful handshake.
func AuthOK(version string) Message {
	return Message{"type": TypeAuthOK, "ha_version": version}
}

// AuthInvalid rejects a handshake.
func AuthInvalid(reason string) Message {
	return Message{"type": TypeAuthInvalid, "message": reason}
}

// ResultOK answers command id successfully.
func ResultOK(id int, payload any) Message {
	return Message{"id": id, "type": TypeResult, "success": true, "result": payload}
}

// ResultError answers command id with a failure.
func ResultError(id int, code, message string) Message {
	return resultError(id, code, message)
}

// resultError accepts the raw id of a frame that failed envelope checks,
// which may be absent (nil) or not an integer.
func resultError(id any, code, message string) Message {
	return Message{
		"id":      id,
		"type":    TypeResult,
		"success": false,
		"error":   map[string]string{"code": code, "message": message},
	}
}

// Event pushes payload for the subscription opened by command id.
func Event(id int, payload any) Message {
	return Message{"id": id, "type": TypeEvent, "event": payload}
}

// Pong answers a ping.
func Pong(id int) Message {
	return Message{"id": id, "type": TypePong}
}

// encodeOrError encodes msg. When msg cannot be encoded the error result for
// its id is returned instead, so the client still gets an answer.
func encodeOrError(msg Message) ([]byte, error) {
	data, err := Encode(msg)
	if err == nil {
		return data, nil
	}
	fallback, ferr := Encode(resultError(msg["id"], CodeUnknownError, "Invalid JSON in response"))
	if ferr != nil {
		return nil, err
	}
	return fallback, err
}
