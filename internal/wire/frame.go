// Package wire defines the framed event vocabulary exchanged on a session
// stream between a host and a server. Every frame is self-describing: a type
// tag plus a payload specific to that type.
package wire

import (
	"encoding/json"
	"fmt"
)

// FrameType tags a frame on the stream.
type FrameType string

const (
	FrameHeartbeat         FrameType = "heartbeat"
	FrameInvocationRequest FrameType = "invocation_request"
	FrameInvocationResult  FrameType = "invocation_result"
	FrameSessionClosed     FrameType = "session_closed"
)

// Frame is one discrete event on a session stream.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Invocation result status values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// InvocationRequest asks the server to run a named capability. RequestID is
// unique within the session and correlates the eventual result.
type InvocationRequest struct {
	RequestID  string         `json:"request_id"`
	Capability string         `json:"capability"`
	Arguments  map[string]any `json:"arguments"`
}

// InvocationError describes why an invocation failed.
type InvocationError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// InvocationResult carries the outcome of one invocation. Columns preserves
// the statement's projection order, which JSON objects in Rows cannot.
type InvocationResult struct {
	RequestID string           `json:"request_id"`
	Status    string           `json:"status"`
	Columns   []string         `json:"columns,omitempty"`
	Rows      []map[string]any `json:"rows"`
	Error     *InvocationError `json:"error,omitempty"`
}

// Failed reports whether the result carries an error.
func (r *InvocationResult) Failed() bool { return r.Status != StatusSuccess }

// Heartbeat keeps the stream alive across network intermediaries. The host
// echoes each heartbeat back on the inbound endpoint to refresh the server's
// idle clock.
type Heartbeat struct {
	Seq int64 `json:"seq"`
	At  int64 `json:"at"`
}

// SessionClosed announces that the session reached its terminal state.
type SessionClosed struct {
	Reason string `json:"reason"`
}

// Failure builds a failed InvocationResult for the given request id.
func Failure(requestID, kind, message string) InvocationResult {
	return InvocationResult{
		RequestID: requestID,
		Status:    StatusFailure,
		Error:     &InvocationError{Kind: kind, Message: message},
	}
}

// NewFrame wraps payload under its type tag.
func NewFrame(t FrameType, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding %s payload: %w", t, err)
	}
	return Frame{Type: t, Payload: raw}, nil
}

// MustFrame is NewFrame for payloads built from plain structs, where
// marshaling cannot fail.
func MustFrame(t FrameType, payload any) Frame {
	f, err := NewFrame(t, payload)
	if err != nil {
		panic(err)
	}
	return f
}

// Decode parses a frame from raw bytes, rejecting frames without a known
// type tag. An error here means the stream peer is misbehaving; callers
// treat it as transport-fatal.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("undecodable frame: %w", err)
	}
	switch f.Type {
	case FrameHeartbeat, FrameInvocationRequest, FrameInvocationResult, FrameSessionClosed:
		return f, nil
	default:
		return Frame{}, fmt.Errorf("unknown frame type %q", f.Type)
	}
}

// Request decodes the payload of an invocation_request frame.
func (f Frame) Request() (*InvocationRequest, error) {
	if f.Type != FrameInvocationRequest {
		return nil, fmt.Errorf("frame is %s, not %s", f.Type, FrameInvocationRequest)
	}
	var req InvocationRequest
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		return nil, fmt.Errorf("decoding request payload: %w", err)
	}
	if req.RequestID == "" {
		return nil, fmt.Errorf("request frame missing request_id")
	}
	return &req, nil
}

// Result decodes the payload of an invocation_result frame.
func (f Frame) Result() (*InvocationResult, error) {
	if f.Type != FrameInvocationResult {
		return nil, fmt.Errorf("frame is %s, not %s", f.Type, FrameInvocationResult)
	}
	var res InvocationResult
	if err := json.Unmarshal(f.Payload, &res); err != nil {
		return nil, fmt.Errorf("decoding result payload: %w", err)
	}
	return &res, nil
}

// Closed decodes the payload of a session_closed frame.
func (f Frame) Closed() (*SessionClosed, error) {
	if f.Type != FrameSessionClosed {
		return nil, fmt.Errorf("frame is %s, not %s", f.Type, FrameSessionClosed)
	}
	var sc SessionClosed
	if err := json.Unmarshal(f.Payload, &sc); err != nil {
		return nil, fmt.Errorf("decoding session_closed payload: %w", err)
	}
	return &sc, nil
}
