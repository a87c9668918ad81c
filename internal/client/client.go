// Package client is the host side of the session channel: it holds the
// long-lived stream open, posts invocation requests, and resolves each
// pending request when the correlated result frame arrives.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askdb/askdb/internal/capability"
	"github.com/askdb/askdb/internal/dbexec"
	"github.com/askdb/askdb/internal/wire"
)

// ErrChannelClosed reports that the session is gone; callers must not retry
// on the same channel.
var ErrChannelClosed = errors.New("session channel closed")

// TransportError wraps a failure of the underlying stream or frame
// delivery.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a violation of the correlation contract by the server.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

// DefaultRequestTimeout bounds the round trip from request to result.
const DefaultRequestTimeout = 30 * time.Second

// Client is one connected session channel.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	logger         *slog.Logger
	requestTimeout time.Duration

	sessionID string
	cancel    context.CancelFunc

	mu        sync.Mutex
	pending   map[string]chan wire.InvocationResult
	abandoned map[string]struct{}

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for the stream and frame
// posts.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithRequestTimeout sets the per-request round-trip timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a disconnected client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{},
		logger:         slog.Default(),
		requestTimeout: DefaultRequestTimeout,
		pending:        make(map[string]chan wire.InvocationResult),
		abandoned:      make(map[string]struct{}),
		closed:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the stream and starts the frame reader. The session lives
// until Close, a transport failure, or a session_closed frame.
func (c *Client) Connect(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL+"/v1/stream", nil)
	if err != nil {
		cancel()
		return &TransportError{Op: "connect", Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return &TransportError{Op: "connect", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return &TransportError{Op: "connect", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	c.sessionID = resp.Header.Get("Askdb-Session-Id")
	if c.sessionID == "" {
		resp.Body.Close()
		cancel()
		return &TransportError{Op: "connect", Err: errors.New("server sent no session id")}
	}

	c.logger.Debug("session connected", "session_id", c.sessionID)
	go c.readLoop(resp.Body)
	return nil
}

// SessionID returns the server-minted session identifier.
func (c *Client) SessionID() string { return c.sessionID }

// Capabilities fetches the server's capability descriptors.
func (c *Client) Capabilities(ctx context.Context) ([]capability.Descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/capabilities", nil)
	if err != nil {
		return nil, &TransportError{Op: "capabilities", Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "capabilities", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: "capabilities", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	var payload struct {
		Capabilities []capability.Descriptor `json:"capabilities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &TransportError{Op: "capabilities", Err: err}
	}
	return payload.Capabilities, nil
}

// Invoke sends one invocation request and blocks until the correlated
// result arrives, the per-request timeout elapses, or the channel dies.
// A timeout is returned as a failed result, not an error, so the caller
// folds it into the conversation like any execution failure.
func (c *Client) Invoke(ctx context.Context, capabilityName string, args map[string]any) (*wire.InvocationResult, error) {
	requestID := uuid.NewString()
	ch := make(chan wire.InvocationResult, 1)

	c.mu.Lock()
	c.pending[requestID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	frame := wire.MustFrame(wire.FrameInvocationRequest, wire.InvocationRequest{
		RequestID:  requestID,
		Capability: capabilityName,
		Arguments:  args,
	})
	if err := c.postFrame(ctx, frame); err != nil {
		// The server may have accepted the frame even though the post failed.
		c.abandon(requestID)
		return nil, err
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case result := <-ch:
		return &result, nil
	case <-timer.C:
		c.logger.Warn("invocation timed out", "request_id", requestID, "capability", capabilityName)
		c.abandon(requestID)
		result := wire.Failure(requestID, string(dbexec.KindTimeout),
			fmt.Sprintf("no result within %s", c.requestTimeout))
		return &result, nil
	case <-c.closed:
		c.abandon(requestID)
		return nil, c.closeError()
	case <-ctx.Done():
		c.abandon(requestID)
		return nil, ctx.Err()
	}
}

// abandon records a request id whose caller stopped waiting. The result may
// still arrive; remembering the id lets the late frame be discarded instead
// of read as a correlation violation.
func (c *Client) abandon(requestID string) {
	c.mu.Lock()
	c.abandoned[requestID] = struct{}{}
	c.mu.Unlock()
}

// Close announces the disconnect to the server and tears the stream down.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Best effort; the server also notices the dropped stream.
	_ = c.postFrame(ctx, wire.MustFrame(wire.FrameSessionClosed, wire.SessionClosed{Reason: "client disconnect"}))
	c.fail(ErrChannelClosed)
	return nil
}

func (c *Client) postFrame(ctx context.Context, f wire.Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	url := fmt.Sprintf("%s/v1/sessions/%s/frames", c.baseURL, c.sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return &TransportError{Op: "send", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	return nil
}

func (c *Client) readLoop(body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var data []byte
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(line[len("data:"):])...)
		case line == "":
			if len(data) > 0 {
				if done := c.handleEvent(data); done {
					return
				}
				data = nil
			}
		}
	}

	if err := scanner.Err(); err != nil {
		c.fail(&TransportError{Op: "stream", Err: err})
		return
	}
	c.fail(&TransportError{Op: "stream", Err: io.ErrUnexpectedEOF})
}

// handleEvent processes one decoded stream frame. It reports true when the
// channel is finished.
func (c *Client) handleEvent(data []byte) bool {
	frame, err := wire.Decode(data)
	if err != nil {
		c.fail(&TransportError{Op: "decode", Err: err})
		return true
	}

	switch frame.Type {
	case wire.FrameHeartbeat:
		// Echo the heartbeat so the server's idle clock stays fresh.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.postFrame(ctx, frame); err != nil {
				c.logger.Debug("heartbeat ack failed", "error", err)
			}
		}()
		return false

	case wire.FrameInvocationResult:
		result, err := frame.Result()
		if err != nil {
			c.fail(&TransportError{Op: "decode", Err: err})
			return true
		}
		c.mu.Lock()
		ch, ok := c.pending[result.RequestID]
		if !ok {
			if _, late := c.abandoned[result.RequestID]; late {
				delete(c.abandoned, result.RequestID)
				c.mu.Unlock()
				c.logger.Debug("discarding late result", "request_id", result.RequestID)
				return false
			}
		}
		c.mu.Unlock()
		if !ok {
			// A result for nothing we asked is a correlation violation.
			c.fail(&ProtocolError{Reason: "unmatched request id " + result.RequestID})
			return true
		}
		ch <- *result
		return false

	case wire.FrameSessionClosed:
		closed, err := frame.Closed()
		reason := "server closed session"
		if err == nil && closed.Reason != "" {
			reason = closed.Reason
		}
		c.fail(fmt.Errorf("%w: %s", ErrChannelClosed, reason))
		return true

	default:
		c.fail(&ProtocolError{Reason: "unexpected stream frame " + string(frame.Type)})
		return true
	}
}

func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeErr = err
		c.mu.Unlock()
		close(c.closed)
		if c.cancel != nil {
			c.cancel()
		}
	})
}

func (c *Client) closeError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr != nil {
		return c.closeErr
	}
	return ErrChannelClosed
}
