package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/askdb/askdb/internal/audit"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/wire"

	"github.com/google/uuid"
)

const (
	DefaultIdleTimeout       = 60 * time.Second
	DefaultHeartbeatInterval = 15 * time.Second
)

// Registry owns every live session, keyed by session id. There is no other
// session state anywhere in the process.
type Registry struct {
	invoker   Invoker
	auditLog  audit.Logger
	logger    *slog.Logger
	idle      time.Duration
	heartbeat time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Registry.
type Option func(*Registry)

// WithIdleTimeout sets how long a session may go without inbound activity
// before it is closed.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) { r.idle = d }
}

// WithHeartbeatInterval sets the outbound heartbeat period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(r *Registry) { r.heartbeat = d }
}

// WithAuditLogger records every invocation to the audit trail.
func WithAuditLogger(l audit.Logger) Option {
	return func(r *Registry) { r.auditLog = l }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a session registry dispatching to invoker.
func NewRegistry(invoker Invoker, opts ...Option) *Registry {
	r := &Registry{
		invoker:   invoker,
		logger:    slog.Default(),
		idle:      DefaultIdleTimeout,
		heartbeat: DefaultHeartbeatInterval,
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HeartbeatInterval is the outbound heartbeat period for transports.
func (r *Registry) HeartbeatInterval() time.Duration { return r.heartbeat }

// Open mints a new session in the Connecting state. The session lives until
// its stream closes, it idles out, or ctx is canceled.
func (r *Registry) Open(ctx context.Context) *Session {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:       uuid.NewString(),
		created:  time.Now(),
		invoker:  r.invoker,
		auditLog: r.auditLog,
		logger:   r.logger,
		ctx:      sctx,
		cancel:   cancel,
		out:      make(chan wire.Frame, outboundBuffer),
		closed:   make(chan struct{}),
		state:    StateConnecting,
		lastSeen: time.Now(),
		inflight: make(map[string]struct{}),
		onClose:  r.remove,
	}

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	observability.SessionOpened()
	r.logger.Info("session opened", "session_id", s.id)
	return s
}

// Get looks up a live session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// remove releases a session id. Closed ids are never reused; ids are random
// UUIDs and the entry is gone.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s.id)
	r.mu.Unlock()
}

// RunReaper closes sessions whose idle clock exceeded the timeout. It runs
// until ctx is canceled.
func (r *Registry) RunReaper(ctx context.Context) {
	interval := r.idle / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("session reaper started", "idle_timeout", r.idle)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("session reaper stopped")
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-r.idle)
			for _, s := range r.snapshot() {
				if s.IdleSince().Before(cutoff) {
					s.BeginClose("idle timeout")
				}
			}
		}
	}
}

// CloseAll begins an orderly close of every live session.
func (r *Registry) CloseAll(reason string) {
	for _, s := range r.snapshot() {
		s.BeginClose(reason)
	}
}

func (r *Registry) snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
