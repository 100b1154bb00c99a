// Package builder executes dispatched jobs. The scheduler only decides what runs next; a Builder
// decides how.
package builder

import (
	"context"

	"github.com/determined-ai/rcq/internal/jobs"
)

// Outcome is how a build ended.
type Outcome struct {
	// State is one of jobs.StateCompleted, jobs.StateFailed or jobs.StateCancelled.
	State  jobs.State `json:"state"`
	Reason string     `json:"reason,omitempty"`
}

// Completed is the outcome of a successful build.
func Completed() Outcome { return Outcome{State: jobs.StateCompleted} }

// Failed is the outcome of an unsuccessful build.
func Failed(reason string) Outcome { return Outcome{State: jobs.StateFailed, Reason: reason} }

// Cancelled is the outcome of a build abandoned because its context was canceled.
func Cancelled() Outcome { return Outcome{State: jobs.StateCancelled, Reason: "cancelled"} }

// Builder runs jobs.
type Builder interface {
	// Start begins building the job. It must not block. done is called exactly once, from any
	// goroutine, possibly before Start returns. ctx is canceled when the job is cancelled;
	// builders should stop promptly and report Cancelled.
	Start(ctx context.Context, job jobs.Info, done func(Outcome))
}

// Null completes every job as soon as it starts.
type Null struct{}

// Start implements Builder.
func (Null) Start(ctx context.Context, _ jobs.Info, done func(Outcome)) {
	if ctx.Err() != nil {
		done(Cancelled())
		return
	}
	done(Completed())
}

// Func adapts a function to the Builder interface.
type Func func(ctx context.Context, job jobs.Info, done func(Outcome))

// Start implements Builder.
func (f Func) Start(ctx context.Context, job jobs.Info, done func(Outcome)) {
	f(ctx, job, done)
}
