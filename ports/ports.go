// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Observability Ports
// -----------------------------------------------------------------------------

// Metrics receives counters from configuration loading and request
// dispatch.
type Metrics interface {
	// DirectiveProcessed counts one handled configuration element.
	DirectiveProcessed(element string)

	// LoadFinished records the outcome of one configuration load
	// ("ok", "error" or "conflict").
	LoadFinished(result string)

	// ActionsCommitted counts executed actions.
	ActionsCommitted(n int)

	// Conflicts counts conflicting discriminators reported at commit.
	Conflicts(n int)

	// RequestDispatched records one request handled by the application.
	RequestDispatched(route string, status int, duration time.Duration)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) DirectiveProcessed(string) {}
func (NopMetrics) LoadFinished(string) {}
func (NopMetrics) ActionsCommitted(int) {}
func (NopMetrics) Conflicts(int) {}
func (NopMetrics) RequestDispatched(string, int, time.Duration) {}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// Run is one configuration commit recorded for introspection.
type Run struct {
	ID        string
	Source    string
	Actions   int
	CreatedAt time.Time
}

// ActionRecord is one executed action of a run.
type ActionRecord struct {
	RunID         string
	Position      int
	Discriminator string
	Order         int
	Info          string
	IncludePath   string
	Category      string
	Title         string
	Data          map[string]any
}

// IntrospectionStore persists committed configuration.
type IntrospectionStore interface {
	// SaveRun stores a run and its actions atomically.
	SaveRun(ctx context.Context, run Run, actions []ActionRecord) error

	// Runs returns the most recent runs, newest first.
	Runs(ctx context.Context, limit int) ([]Run, error)

	// Actions returns the actions of a run in execution order.
	Actions(ctx context.Context, runID string) ([]ActionRecord, error)
}
