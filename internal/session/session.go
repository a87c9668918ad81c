// Package session implements the server side of the query-mediation
// channel: one long-lived stream per connected host, with inbound
// invocation requests dispatched to the capability registry and outbound
// events delivered in submission order, correlated by request id.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/askdb/askdb/internal/audit"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/wire"
)

// State is the lifecycle phase of a session.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrNotOpen is returned for invocation requests received outside the Open
// state. The transport surfaces it as a failed delivery, never a hang.
var ErrNotOpen = fmt.Errorf("session not open")

// ProtocolError is a session-fatal violation of the channel contract.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

// outboundBuffer bounds the per-session event queue. A host that stops
// reading for this many frames is treated as an unwritable transport.
const outboundBuffer = 64

// Invoker dispatches a single capability invocation.
type Invoker interface {
	Invoke(ctx context.Context, requestID, name string, args map[string]any) wire.InvocationResult
}

// Session is one connected host-server pairing.
type Session struct {
	id      string
	created time.Time

	invoker  Invoker
	auditLog audit.Logger
	logger   *slog.Logger
	onClose  func(*Session)

	ctx    context.Context
	cancel context.CancelFunc

	out    chan wire.Frame
	closed chan struct{}

	mu          sync.Mutex
	state       State
	lastSeen    time.Time
	inflight    map[string]struct{}
	closeReason string
	hbSeq       int64
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation timestamp.
func (s *Session) CreatedAt() time.Time { return s.created }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Out is the ordered outbound event queue. The transport drains it onto the
// stream.
func (s *Session) Out() <-chan wire.Frame { return s.out }

// Done is closed when the session reaches its terminal state.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Activate moves a freshly minted session from Connecting to Open once the
// transport handshake completed.
func (s *Session) Activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting {
		s.state = StateOpen
		s.lastSeen = time.Now()
	}
}

// Touch refreshes the idle clock. Every inbound frame counts as liveness.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// IdleSince returns the time of the last inbound activity.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Send enqueues an outbound event, preserving submission order. It fails
// once the session is Closed. A full queue means the peer stopped reading;
// the session is aborted rather than blocking the caller.
func (s *Session) Send(f wire.Frame) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", s.id, ErrNotOpen)
	}
	s.mu.Unlock()

	select {
	case s.out <- f:
		observability.ObserveFrame(string(f.Type), "out")
		return nil
	default:
		s.logger.Warn("outbound queue full, aborting session", "session_id", s.id)
		s.Abort("transport not writable")
		return fmt.Errorf("session %s: outbound queue full", s.id)
	}
}

// EmitHeartbeat enqueues a heartbeat frame. The transport calls this on its
// idle timer.
func (s *Session) EmitHeartbeat() error {
	s.mu.Lock()
	s.hbSeq++
	seq := s.hbSeq
	s.mu.Unlock()
	return s.Send(wire.MustFrame(wire.FrameHeartbeat, wire.Heartbeat{
		Seq: seq,
		At:  time.Now().Unix(),
	}))
}

// HandleFrame processes one inbound frame. Capability failures become
// failed results on the stream; protocol violations return a *ProtocolError
// after the session has been aborted.
func (s *Session) HandleFrame(f wire.Frame) error {
	s.Touch()
	observability.ObserveFrame(string(f.Type), "in")

	switch f.Type {
	case wire.FrameHeartbeat:
		// Acknowledgment only; Touch above already did the work.
		return nil

	case wire.FrameSessionClosed:
		s.BeginClose("peer disconnect")
		return nil

	case wire.FrameInvocationRequest:
		req, err := f.Request()
		if err != nil {
			// Protocol violations end the session, but outstanding results
			// still flush before the stream closes.
			s.BeginClose("malformed invocation request")
			return &ProtocolError{Reason: err.Error()}
		}
		return s.acceptRequest(req)

	default:
		s.BeginClose("unexpected frame type " + string(f.Type))
		return &ProtocolError{Reason: fmt.Sprintf("unexpected inbound frame %s", f.Type)}
	}
}

func (s *Session) acceptRequest(req *wire.InvocationRequest) error {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return ErrNotOpen
	}
	if _, dup := s.inflight[req.RequestID]; dup {
		s.mu.Unlock()
		s.BeginClose("duplicate in-flight request id " + req.RequestID)
		return &ProtocolError{Reason: "duplicate in-flight request id " + req.RequestID}
	}
	s.inflight[req.RequestID] = struct{}{}
	s.mu.Unlock()

	// Requests run concurrently; correlation by id makes out-of-order
	// results safe.
	go s.dispatch(req)
	return nil
}

func (s *Session) dispatch(req *wire.InvocationRequest) {
	start := time.Now()
	result := s.invoker.Invoke(s.ctx, req.RequestID, req.Capability, req.Arguments)

	if s.auditLog != nil {
		params, _ := json.Marshal(req.Arguments)
		entry := &audit.Entry{
			SessionID:  s.id,
			RequestID:  req.RequestID,
			Capability: req.Capability,
			Parameters: string(params),
			DurationMs: time.Since(start).Milliseconds(),
		}
		if result.Error != nil {
			entry.Error = result.Error.Message
		}
		s.auditLog.LogAsync(entry)
	}

	frame, err := wire.NewFrame(wire.FrameInvocationResult, result)
	if err != nil {
		s.logger.Error("encoding result frame", "session_id", s.id, "error", err)
		frame = wire.MustFrame(wire.FrameInvocationResult,
			wire.Failure(req.RequestID, string(wire.FrameInvocationResult), "result not encodable"))
	}
	if err := s.Send(frame); err != nil {
		s.logger.Warn("result dropped", "session_id", s.id, "request_id", req.RequestID, "error", err)
	}
	s.finishRequest(req.RequestID)
}

func (s *Session) finishRequest(requestID string) {
	s.mu.Lock()
	delete(s.inflight, requestID)
	finalize := s.state == StateClosing && len(s.inflight) == 0
	reason := s.closeReason
	s.mu.Unlock()
	if finalize {
		s.close(reason)
	}
}

// BeginClose stops accepting new requests. Outstanding requests complete
// and their results are flushed; the session closes once the last one
// finishes.
func (s *Session) BeginClose(reason string) {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.closeReason = reason
	pending := len(s.inflight)
	s.mu.Unlock()

	s.logger.Info("session closing", "session_id", s.id, "reason", reason, "pending", pending)
	if pending == 0 {
		s.close(reason)
	}
}

// Abort tears the session down immediately, without waiting for outstanding
// requests. Used for transport failures, where the stream is not writable
// anyway; protocol violations go through BeginClose so in-flight results
// still flush.
func (s *Session) Abort(reason string) {
	s.close(reason)
}

func (s *Session) close(reason string) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	// Best effort: announce the terminal state if the queue still has room.
	select {
	case s.out <- wire.MustFrame(wire.FrameSessionClosed, wire.SessionClosed{Reason: reason}):
	default:
	}

	s.cancel()
	close(s.closed)
	observability.SessionClosed()
	s.logger.Info("session closed", "session_id", s.id, "reason", reason)
	if s.onClose != nil {
		s.onClose(s)
	}
}
