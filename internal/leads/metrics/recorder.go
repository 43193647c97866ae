// Package metrics records routing and SLA counters through OpenTelemetry.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var (
	attrReason  = attribute.Key("reason")
	attrCause   = attribute.Key("cause")
	attrOutcome = attribute.Key("outcome")
	attrOrigin  = attribute.Key("origin")
)

// Recorder owns the routing instruments. A nil *Recorder is valid and drops
// every measurement.
type Recorder struct {
	assignments    metric.Int64Counter
	assignFailures metric.Int64Counter
	conflicts      metric.Int64Counter
	sweepRuns      metric.Int64Counter
	sweepLeads     metric.Int64Counter
	sweepDuration  metric.Float64Histogram
	tasksCreated   metric.Int64Counter
	tasksCompleted metric.Int64Counter
}

// New creates the instruments on meter. A nil meter yields a no-op recorder.
func New(meter metric.Meter) (*Recorder, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("")
	}

	var r Recorder
	var err error
	if r.assignments, err = meter.Int64Counter("routing_assignments_total",
		metric.WithDescription("Committed lead assignments by reason")); err != nil {
		return nil, err
	}
	if r.assignFailures, err = meter.Int64Counter("routing_assignment_failures_total",
		metric.WithDescription("Assignment attempts that did not commit, by cause")); err != nil {
		return nil, err
	}
	if r.conflicts, err = meter.Int64Counter("routing_assignment_conflicts_total",
		metric.WithDescription("Concurrency conflicts retried by the assignment engine")); err != nil {
		return nil, err
	}
	if r.sweepRuns, err = meter.Int64Counter("sla_sweep_runs_total",
		metric.WithDescription("Completed SLA sweep ticks")); err != nil {
		return nil, err
	}
	if r.sweepLeads, err = meter.Int64Counter("sla_sweep_leads_total",
		metric.WithDescription("Leads handled by SLA sweeps, by outcome")); err != nil {
		return nil, err
	}
	if r.sweepDuration, err = meter.Float64Histogram("sla_sweep_duration_seconds",
		metric.WithDescription("SLA sweep wall time"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.tasksCreated, err = meter.Int64Counter("lead_tasks_created_total",
		metric.WithDescription("Created lead tasks by origin")); err != nil {
		return nil, err
	}
	if r.tasksCompleted, err = meter.Int64Counter("lead_tasks_completed_total",
		metric.WithDescription("Completed lead tasks by origin")); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Recorder) AssignmentCommitted(ctx context.Context, reason string) {
	if r == nil {
		return
	}
	r.assignments.Add(ctx, 1, metric.WithAttributes(attrReason.String(reason)))
}

func (r *Recorder) AssignmentFailed(ctx context.Context, cause string) {
	if r == nil {
		return
	}
	r.assignFailures.Add(ctx, 1, metric.WithAttributes(attrCause.String(cause)))
}

func (r *Recorder) ConflictRetried(ctx context.Context) {
	if r == nil {
		return
	}
	r.conflicts.Add(ctx, 1)
}

// SweepFinished records one sweep; outcomes maps an outcome label to its lead count.
func (r *Recorder) SweepFinished(ctx context.Context, outcomes map[string]int, duration time.Duration) {
	if r == nil {
		return
	}
	r.sweepRuns.Add(ctx, 1)
	r.sweepDuration.Record(ctx, duration.Seconds())
	for outcome, n := range outcomes {
		if n == 0 {
			continue
		}
		r.sweepLeads.Add(ctx, int64(n), metric.WithAttributes(attrOutcome.String(outcome)))
	}
}

func (r *Recorder) TaskCreated(ctx context.Context, origin string) {
	if r == nil {
		return
	}
	r.tasksCreated.Add(ctx, 1, metric.WithAttributes(attrOrigin.String(origin)))
}

func (r *Recorder) TaskCompleted(ctx context.Context, origin string) {
	if r == nil {
		return
	}
	r.tasksCompleted.Add(ctx, 1, metric.WithAttributes(attrOrigin.String(origin)))
}
