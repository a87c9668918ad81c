package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb/askdb/internal/wire"
)

// fakeInvoker resolves every request successfully, optionally delaying
// specific request ids to force out-of-order completion.
type fakeInvoker struct {
	mu    sync.Mutex
	delay map[string]time.Duration
	calls []string
}

func (f *fakeInvoker) Invoke(ctx context.Context, requestID, name string, _ map[string]any) wire.InvocationResult {
	f.mu.Lock()
	d := f.delay[requestID]
	f.calls = append(f.calls, requestID)
	f.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
	}
	return wire.InvocationResult{
		RequestID: requestID,
		Status:    wire.StatusSuccess,
		Columns:   []string{"capability"},
		Rows:      []map[string]any{{"capability": name}},
	}
}

func openSession(t *testing.T, inv Invoker) (*Registry, *Session) {
	t.Helper()
	reg := NewRegistry(inv)
	s := reg.Open(context.Background())
	s.Activate()
	t.Cleanup(func() { s.Abort("test cleanup") })
	return reg, s
}

func requestFrame(id, capability string) wire.Frame {
	return wire.MustFrame(wire.FrameInvocationRequest, wire.InvocationRequest{
		RequestID:  id,
		Capability: capability,
		Arguments:  map[string]any{"sql": "SELECT 1"},
	})
}

func nextFrame(t *testing.T, s *Session) wire.Frame {
	t.Helper()
	select {
	case f := <-s.Out():
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return wire.Frame{}
	}
}

func nextResult(t *testing.T, s *Session) *wire.InvocationResult {
	t.Helper()
	f := nextFrame(t, s)
	require.Equal(t, wire.FrameInvocationResult, f.Type)
	res, err := f.Result()
	require.NoError(t, err)
	return res
}

func TestLifecycleStates(t *testing.T) {
	reg := NewRegistry(&fakeInvoker{})
	s := reg.Open(context.Background())
	assert.Equal(t, StateConnecting, s.State())

	s.Activate()
	assert.Equal(t, StateOpen, s.State())

	s.BeginClose("test")
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, reg.Len())
}

func TestRequestBeforeActivateRejected(t *testing.T) {
	reg := NewRegistry(&fakeInvoker{})
	s := reg.Open(context.Background())
	defer s.Abort("test cleanup")

	err := s.HandleFrame(requestFrame("req-1", "run_sql_query"))
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestOutOfOrderCompletionCorrelatesByID(t *testing.T) {
	inv := &fakeInvoker{delay: map[string]time.Duration{"slow": 150 * time.Millisecond}}
	_, s := openSession(t, inv)

	require.NoError(t, s.HandleFrame(requestFrame("slow", "run_sql_query")))
	require.NoError(t, s.HandleFrame(requestFrame("fast", "run_sql_query")))

	first := nextResult(t, s)
	second := nextResult(t, s)
	assert.Equal(t, "fast", first.RequestID, "fast request must not wait behind the slow one")
	assert.Equal(t, "slow", second.RequestID)
}

func TestDuplicateInflightIDIsFatal(t *testing.T) {
	inv := &fakeInvoker{delay: map[string]time.Duration{"req-1": 150 * time.Millisecond}}
	reg, s := openSession(t, inv)

	require.NoError(t, s.HandleFrame(requestFrame("req-1", "run_sql_query")))

	err := s.HandleFrame(requestFrame("req-1", "run_sql_query"))
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Contains(t, protoErr.Reason, "req-1")
	assert.Equal(t, StateClosing, s.State())

	// The original request still completes and its result flushes before
	// the session closes.
	res := nextResult(t, s)
	assert.Equal(t, "req-1", res.RequestID)
	f := nextFrame(t, s)
	assert.Equal(t, wire.FrameSessionClosed, f.Type)

	require.Eventually(t, func() bool {
		return s.State() == StateClosed && reg.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedRequestFlushesInflightResult(t *testing.T) {
	inv := &fakeInvoker{delay: map[string]time.Duration{"pending": 100 * time.Millisecond}}
	reg, s := openSession(t, inv)

	require.NoError(t, s.HandleFrame(requestFrame("pending", "run_sql_query")))

	// A request frame without its id is a protocol violation.
	bad := wire.MustFrame(wire.FrameInvocationRequest, wire.InvocationRequest{Capability: "run_sql_query"})
	err := s.HandleFrame(bad)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, StateClosing, s.State())

	res := nextResult(t, s)
	assert.Equal(t, "pending", res.RequestID)
	closing := nextFrame(t, s)
	assert.Equal(t, wire.FrameSessionClosed, closing.Type)

	require.Eventually(t, func() bool { return reg.Len() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestReusedIDAfterCompletionAllowed(t *testing.T) {
	_, s := openSession(t, &fakeInvoker{})

	require.NoError(t, s.HandleFrame(requestFrame("req-1", "run_sql_query")))
	nextResult(t, s)

	assert.NoError(t, s.HandleFrame(requestFrame("req-1", "run_sql_query")))
	nextResult(t, s)
}

func TestClosingFlushesOutstandingResults(t *testing.T) {
	inv := &fakeInvoker{delay: map[string]time.Duration{"pending": 100 * time.Millisecond}}
	reg, s := openSession(t, inv)

	require.NoError(t, s.HandleFrame(requestFrame("pending", "run_sql_query")))
	s.BeginClose("shutdown")
	assert.Equal(t, StateClosing, s.State())

	// New work is refused while draining.
	err := s.HandleFrame(requestFrame("late", "run_sql_query"))
	assert.ErrorIs(t, err, ErrNotOpen)

	res := nextResult(t, s)
	assert.Equal(t, "pending", res.RequestID)

	closing := nextFrame(t, s)
	require.Equal(t, wire.FrameSessionClosed, closing.Type)
	sc, err := closing.Closed()
	require.NoError(t, err)
	assert.Equal(t, "shutdown", sc.Reason)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session never reached terminal state")
	}
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, reg.Len())
}

func TestUnexpectedInboundFrameIsFatal(t *testing.T) {
	reg, s := openSession(t, &fakeInvoker{})

	err := s.HandleFrame(wire.MustFrame(wire.FrameInvocationResult, wire.InvocationResult{RequestID: "x"}))
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, reg.Len())
}

func TestInboundHeartbeatRefreshesIdleClock(t *testing.T) {
	_, s := openSession(t, &fakeInvoker{})

	before := s.IdleSince()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.HandleFrame(wire.MustFrame(wire.FrameHeartbeat, wire.Heartbeat{Seq: 1})))
	assert.True(t, s.IdleSince().After(before))
}

func TestInboundSessionClosedBeginsClose(t *testing.T) {
	reg, s := openSession(t, &fakeInvoker{})

	require.NoError(t, s.HandleFrame(wire.MustFrame(wire.FrameSessionClosed, wire.SessionClosed{Reason: "bye"})))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, reg.Len())
}

func TestEmitHeartbeatSequence(t *testing.T) {
	_, s := openSession(t, &fakeInvoker{})

	require.NoError(t, s.EmitHeartbeat())
	require.NoError(t, s.EmitHeartbeat())

	for want := int64(1); want <= 2; want++ {
		f := nextFrame(t, s)
		require.Equal(t, wire.FrameHeartbeat, f.Type)
		var hb wire.Heartbeat
		require.NoError(t, json.Unmarshal(f.Payload, &hb))
		assert.Equal(t, want, hb.Seq)
	}
}

func TestReaperClosesIdleSessions(t *testing.T) {
	reg := NewRegistry(&fakeInvoker{}, WithIdleTimeout(100*time.Millisecond))
	s := reg.Open(context.Background())
	s.Activate()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.RunReaper(ctx)

	require.Eventually(t, func() bool {
		return s.State() == StateClosed && reg.Len() == 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestCloseAll(t *testing.T) {
	reg := NewRegistry(&fakeInvoker{})
	a := reg.Open(context.Background())
	b := reg.Open(context.Background())
	a.Activate()
	b.Activate()

	reg.CloseAll("shutdown")
	assert.Equal(t, StateClosed, a.State())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, reg.Len())
}
