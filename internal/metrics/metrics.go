// Package metrics exposes OpenTelemetry counters for engine outcomes.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"maintdesk/backend/pkg/models"
)

// Metrics records workflow engine activity. A nil *Metrics is valid and
// records nothing, which keeps unit tests free of meter setup.
type Metrics struct {
	transitions     metric.Int64Counter
	initializations metric.Int64Counter
}

// New registers the engine instruments on the global meter provider.
func New() (*Metrics, error) {
	meter := otel.Meter("maintdesk/backend/workflow")

	transitions, err := meter.Int64Counter("workflow.transitions",
		metric.WithDescription("Workflow transition actions by action and outcome"))
	if err != nil {
		return nil, err
	}
	initializations, err := meter.Int64Counter("workflow.initializations",
		metric.WithDescription("Workflow state initializations by module"))
	if err != nil {
		return nil, err
	}
	return &Metrics{transitions: transitions, initializations: initializations}, nil
}

// RecordTransition counts one transition action and whether it advanced the
// workflow.
func (m *Metrics) RecordTransition(ctx context.Context, action models.ApprovalAction, advanced bool) {
	if m == nil {
		return
	}
	outcome := "logged"
	if advanced {
		outcome = "advanced"
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("outcome", outcome),
	))
}

// RecordInitialization counts one workflow state initialization.
func (m *Metrics) RecordInitialization(ctx context.Context, module models.Module) {
	if m == nil {
		return
	}
	m.initializations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("module", string(module)),
	))
}
