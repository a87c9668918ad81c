package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/askdb/askdb/internal/wire"
)

// writeEvent emits one frame as a server-sent event: the frame type is the
// event name, the payload its data line.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, f wire.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Type, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// heartbeatTimer wraps a resettable timer for the outbound heartbeat.
type heartbeatTimer struct {
	t *time.Timer
	d time.Duration
}

func newHeartbeatTimer(d time.Duration) *heartbeatTimer {
	return &heartbeatTimer{t: time.NewTimer(d), d: d}
}

func (h *heartbeatTimer) C() <-chan time.Time { return h.t.C }

func (h *heartbeatTimer) Reset() { h.t.Reset(h.d) }

func (h *heartbeatTimer) Stop() { h.t.Stop() }
