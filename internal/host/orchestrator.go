// Package host drives the conversation control loop: translate the
// question, forward capability invocations over the session channel, feed
// results back, and stop at a final answer or the round bound.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/askdb/askdb/internal/capability"
	"github.com/askdb/askdb/internal/translate"
	"github.com/askdb/askdb/internal/wire"
)

// Channel is the host's view of the session channel.
type Channel interface {
	Invoke(ctx context.Context, capabilityName string, args map[string]any) (*wire.InvocationResult, error)
	Capabilities(ctx context.Context) ([]capability.Descriptor, error)
}

// TurnError ends a turn with something presentable. Err keeps the internal
// cause for the logs; UserMessage is what the user sees, never a raw
// internal error code.
type TurnError struct {
	UserMessage string
	Err         error
}

func (e *TurnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *TurnError) Unwrap() error { return e.Err }

// Orchestrator drives conversation turns. Concurrent turns are safe: all
// per-turn state lives on the stack and the shared capability cache is
// guarded by capsMu.
type Orchestrator struct {
	translator    translate.Translator
	channel       Channel
	maxRounds     int
	retries       uint
	retryInterval time.Duration
	logger        *slog.Logger

	capsMu sync.Mutex
	caps   []capability.Descriptor
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxRounds bounds the number of invocation rounds per turn.
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) { o.maxRounds = n }
}

// WithTranslationRetries sets how many times a failed translation call is
// attempted before the turn fails. Values below one are clamped to a single
// attempt; the retry helper reads zero max tries as unbounded.
func WithTranslationRetries(n int) Option {
	return func(o *Orchestrator) {
		if n < 1 {
			n = 1
		}
		o.retries = uint(n)
	}
}

// WithRetryInterval sets the initial backoff interval between translation
// retries.
func WithRetryInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.retryInterval = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator over a translator and a connected channel.
func New(translator translate.Translator, channel Channel, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		translator:    translator,
		channel:       channel,
		maxRounds:     5,
		retries:       3,
		retryInterval: 500 * time.Millisecond,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Answer runs one conversation turn and returns the final natural-language
// answer. On failure the returned error is always a *TurnError.
func (o *Orchestrator) Answer(ctx context.Context, question string) (string, error) {
	caps, err := o.capabilities(ctx)
	if err != nil {
		return "", &TurnError{
			UserMessage: "I couldn't reach the query server.",
			Err:         err,
		}
	}

	turn := &translate.Turn{Question: question}

	for round := 1; round <= o.maxRounds; round++ {
		outcome, err := o.translateWithRetry(ctx, turn, caps)
		if err != nil {
			return "", &TurnError{
				UserMessage: "I couldn't translate your question right now. Please try again.",
				Err:         err,
			}
		}

		if outcome.ToolCall == nil {
			o.logger.Info("turn complete", "rounds", round)
			return outcome.Answer, nil
		}

		tc := outcome.ToolCall
		o.logger.Info("invoking capability", "round", round, "capability", tc.Capability)

		result, err := o.channel.Invoke(ctx, tc.Capability, tc.Arguments)
		if err != nil {
			// Transport and protocol failures are turn-fatal; there is no
			// session left to continue on.
			return "", &TurnError{
				UserMessage: "The connection to the query server was lost.",
				Err:         err,
			}
		}

		turn.Exchanges = append(turn.Exchanges, exchange(tc, result))
	}

	return "", &TurnError{
		UserMessage: fmt.Sprintf("I couldn't answer that within %d query attempts.", o.maxRounds),
	}
}

func (o *Orchestrator) capabilities(ctx context.Context) ([]capability.Descriptor, error) {
	o.capsMu.Lock()
	defer o.capsMu.Unlock()
	if o.caps != nil {
		return o.caps, nil
	}
	caps, err := o.channel.Capabilities(ctx)
	if err != nil {
		return nil, err
	}
	o.caps = caps
	return caps, nil
}

func (o *Orchestrator) translateWithRetry(ctx context.Context, turn *translate.Turn, caps []capability.Descriptor) (*translate.Outcome, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.retryInterval

	return backoff.Retry(ctx, func() (*translate.Outcome, error) {
		outcome, err := o.translator.Translate(ctx, turn, caps)
		if err != nil {
			o.logger.Warn("translation attempt failed", "error", err)
		}
		return outcome, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(o.retries))
}

// exchange flattens an invocation result for the next translation round.
// Execution errors become readable text so the model can self-correct
// instead of the turn aborting.
func exchange(tc *translate.ToolCall, result *wire.InvocationResult) translate.Exchange {
	ex := translate.Exchange{Call: *tc}
	if result.Failed() {
		ex.IsError = true
		ex.Content = fmt.Sprintf("query failed (%s): %s", result.Error.Kind, result.Error.Message)
		return ex
	}

	payload, err := json.Marshal(map[string]any{
		"columns": result.Columns,
		"rows":    result.Rows,
	})
	if err != nil {
		ex.IsError = true
		ex.Content = "result could not be serialized"
		return ex
	}
	ex.Content = string(payload)
	return ex
}
