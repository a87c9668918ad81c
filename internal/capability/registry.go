// Package capability holds the fixed table of named, schema-described
// actions the server can perform. Descriptors are immutable after startup;
// invocation validates arguments against the schema before touching the
// bound executor.
package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/askdb/askdb/internal/dbexec"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/wire"
)

// Capability error kinds, distinct from execution errors: they mean the
// request never reached the executor.
const (
	KindUnknownCapability = "unknown_capability"
	KindInvalidArguments  = "invalid_arguments"
)

// ParamSpec describes one named input parameter.
type ParamSpec struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// Descriptor is the static description of a capability, used by the
// translation layer to decide when to invoke it.
type Descriptor struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]ParamSpec `json:"parameters"`
}

// Handler executes a capability with validated arguments.
type Handler func(ctx context.Context, args map[string]any) (*dbexec.Result, error)

type entry struct {
	desc    Descriptor
	handler Handler
}

// Registry maps capability names to their schema and bound handler.
type Registry struct {
	order  []string
	caps   map[string]entry
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{caps: make(map[string]entry), logger: logger}
}

// Register adds a capability. Registration happens once at startup; the
// registry is read-only afterwards.
func (r *Registry) Register(desc Descriptor, h Handler) {
	if _, dup := r.caps[desc.Name]; dup {
		panic(fmt.Sprintf("capability %q registered twice", desc.Name))
	}
	r.caps[desc.Name] = entry{desc: desc, handler: h}
	r.order = append(r.order, desc.Name)
}

// Describe returns the registered capabilities in registration order.
func (r *Registry) Describe() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.caps[name].desc)
	}
	return out
}

// Invoke looks up and runs a capability, wrapping the outcome into an
// InvocationResult tagged with requestID. Failures become failed results;
// they never escape as errors because an invocation failure must not take
// the session down.
func (r *Registry) Invoke(ctx context.Context, requestID, name string, args map[string]any) wire.InvocationResult {
	e, ok := r.caps[name]
	if !ok {
		r.logger.Warn("unknown capability requested", "capability", name, "request_id", requestID)
		return wire.Failure(requestID, KindUnknownCapability, fmt.Sprintf("no capability named %q", name))
	}

	if err := validateArgs(e.desc.Parameters, args); err != nil {
		return wire.Failure(requestID, KindInvalidArguments, err.Error())
	}

	start := time.Now()
	result, err := e.handler(ctx, args)
	observability.ObserveInvocation(name, err == nil, time.Since(start))
	if err != nil {
		var execErr *dbexec.Error
		if errors.As(err, &execErr) {
			return wire.Failure(requestID, string(execErr.Kind), execErr.Message)
		}
		return wire.Failure(requestID, string(dbexec.KindRuntime), err.Error())
	}

	return wire.InvocationResult{
		RequestID: requestID,
		Status:    wire.StatusSuccess,
		Columns:   result.Columns,
		Rows:      result.Rows,
	}
}

func validateArgs(params map[string]ParamSpec, args map[string]any) error {
	for name, spec := range params {
		val, present := args[name]
		if !present {
			if spec.Required {
				return fmt.Errorf("missing required parameter %q", name)
			}
			continue
		}
		if !typeMatches(spec.Type, val) {
			return fmt.Errorf("parameter %q must be a %s", name, spec.Type)
		}
	}
	for name := range args {
		if _, known := params[name]; !known {
			return fmt.Errorf("unexpected parameter %q", name)
		}
	}
	return nil
}

func typeMatches(typ string, val any) bool {
	switch typ {
	case "string":
		_, ok := val.(string)
		return ok
	case "number", "integer":
		switch val.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := val.(bool)
		return ok
	default:
		return true
	}
}
