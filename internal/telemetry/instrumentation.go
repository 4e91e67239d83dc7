package telemetry

import (
	"context"
	"time"
)

// Metric attributes stay bounded on purpose: operation names, status
// values, and provider names come from small fixed sets. Content ids,
// titles, file paths, and raw error messages never become attributes.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentDBOperation wraps a repository call and records its
// duration and outcome under the given operation name.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(operation, status, duration)

	return err
}
