package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", "{frame"},
		{"missing type", `{"payload":{}}`},
		{"unknown type", `{"type":"telemetry","payload":{}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestRequestFrameRoundTrip(t *testing.T) {
	frame := MustFrame(FrameInvocationRequest, InvocationRequest{
		RequestID:  "req-7",
		Capability: "run_sql_query",
		Arguments:  map[string]any{"sql": "SELECT 1"},
	})

	data, err := json.Marshal(frame)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, FrameInvocationRequest, decoded.Type)

	req, err := decoded.Request()
	require.NoError(t, err)
	assert.Equal(t, "req-7", req.RequestID)
	assert.Equal(t, "run_sql_query", req.Capability)
	assert.Equal(t, "SELECT 1", req.Arguments["sql"])
}

func TestRequestRequiresRequestID(t *testing.T) {
	frame := MustFrame(FrameInvocationRequest, InvocationRequest{Capability: "run_sql_query"})
	_, err := frame.Request()
	assert.ErrorContains(t, err, "request_id")
}

func TestPayloadDecodersCheckFrameType(t *testing.T) {
	hb := MustFrame(FrameHeartbeat, Heartbeat{Seq: 1})

	_, err := hb.Request()
	assert.Error(t, err)
	_, err = hb.Result()
	assert.Error(t, err)
	_, err = hb.Closed()
	assert.Error(t, err)
}

func TestResultFailureHelpers(t *testing.T) {
	failed := Failure("req-9", "syntax_error", `near "SELEC"`)
	assert.True(t, failed.Failed())
	assert.Equal(t, StatusFailure, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "syntax_error", failed.Error.Kind)

	ok := InvocationResult{RequestID: "req-9", Status: StatusSuccess}
	assert.False(t, ok.Failed())
}

func TestSessionClosedRoundTrip(t *testing.T) {
	frame := MustFrame(FrameSessionClosed, SessionClosed{Reason: "idle timeout"})
	sc, err := frame.Closed()
	require.NoError(t, err)
	assert.Equal(t, "idle timeout", sc.Reason)
}
