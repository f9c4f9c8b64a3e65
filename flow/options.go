package flow

import (
	"fmt"
	"time"

	"github.com/smogili1/agentflow/flow/emit"
	"github.com/smogili1/agentflow/flow/runner"
)

// engineConfig is assembled by functional options and frozen at engine
// construction.
type engineConfig struct {
	registry         *Registry
	schemas          *SchemaRegistry
	store            WorkflowStore
	approvals        *ApprovalRegistry
	runners          map[string]runner.Runner
	metrics          *PrometheusMetrics
	sinks            []emit.Sink
	historyRoot      string
	maxConcurrent    int
	nodeTimeout      time.Duration
	subscriberBuffer int
}

// Option configures an Engine. Options are applied in order; a failing
// option aborts construction.
type Option func(*engineConfig) error

// WithRegistry replaces the default executor registry.
func WithRegistry(r *Registry) Option {
	return func(cfg *engineConfig) error {
		if r == nil {
			return fmt.Errorf("registry must not be nil")
		}
		cfg.registry = r
		return nil
	}
}

// WithStore sets the workflow/execution store. Without a store the engine
// runs but persists nothing and self-reflect nodes cannot auto-apply.
func WithStore(s WorkflowStore) Option {
	return func(cfg *engineConfig) error {
		cfg.store = s
		return nil
	}
}

// WithApprovalRegistry shares an approval registry between engines. The
// default engine owns a private one.
func WithApprovalRegistry(r *ApprovalRegistry) Option {
	return func(cfg *engineConfig) error {
		if r == nil {
			return fmt.Errorf("approval registry must not be nil")
		}
		cfg.approvals = r
		return nil
	}
}

// WithRunner registers an agent runner under a kind key (runner.KindClaude
// or runner.KindCodex).
func WithRunner(kind string, r runner.Runner) Option {
	return func(cfg *engineConfig) error {
		if kind == "" || r == nil {
			return fmt.Errorf("runner kind and implementation are required")
		}
		cfg.runners[kind] = r
		return nil
	}
}

// WithMetrics attaches Prometheus metrics collection.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithSink attaches a sink to every execution's event stream (logging,
// tracing, recording).
func WithSink(s emit.Sink) Option {
	return func(cfg *engineConfig) error {
		if s == nil {
			return fmt.Errorf("sink must not be nil")
		}
		cfg.sinks = append(cfg.sinks, s)
		return nil
	}
}

// WithHistoryRoot sets the base directory for evolution history journals.
func WithHistoryRoot(dir string) Option {
	return func(cfg *engineConfig) error {
		if dir == "" {
			return fmt.Errorf("history root must not be empty")
		}
		cfg.historyRoot = dir
		return nil
	}
}

// WithMaxConcurrent bounds how many node executors run at once. Zero
// means unbounded.
func WithMaxConcurrent(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return fmt.Errorf("max concurrent must be non-negative")
		}
		cfg.maxConcurrent = n
		return nil
	}
}

// WithNodeTimeout applies a default deadline to every node dispatch.
// Node-level timeout configuration still applies on top. Zero disables
// the default.
func WithNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return fmt.Errorf("node timeout must be non-negative")
		}
		cfg.nodeTimeout = d
		return nil
	}
}

// WithSubscriberBuffer sets the per-subscriber event buffer for
// Execution.Subscribe.
func WithSubscriberBuffer(n int) Option {
	return func(cfg *engineConfig) error {
		if n <= 0 {
			return fmt.Errorf("subscriber buffer must be positive")
		}
		cfg.subscriberBuffer = n
		return nil
	}
}
