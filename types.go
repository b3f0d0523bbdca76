package relpipe

import (
	"context"
)

// Status describes the lifecycle state of a run, stage, execution context,
// or step.
type Status string

const (
	// StatusPending means not yet started.
	StatusPending Status = "pending"
	// StatusRunning means currently in progress.
	StatusRunning Status = "running"
	// StatusSucceeded means successfully finished.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means execution failed.
	StatusFailed Status = "failed"
	// StatusCancelled means the run was superseded before completion.
	StatusCancelled Status = "cancelled"
	// StatusSkipped means a step's guard evaluated false, or an earlier step
	// in the same context failed.
	StatusSkipped Status = "skipped"
)

// Terminal reports whether the status is a final one.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusSkipped:
		return true
	}
	return false
}

// TriggerEvent is the external event that may start a pipeline run.
// Only events whose Branch matches the listener's target branch do.
type TriggerEvent struct {
	Branch    string
	CommitRef string
}

// Failure identifies the first point of failure within a run: the stage, the
// execution context (matrix variant) and the zero-based step index.
type Failure struct {
	Stage     string
	Variant   string
	StepIndex int
}

// Logger provides a simple interface for pipeline logging.
type Logger interface {
	// Debug logs a message at debug level
	Debug(format string, args ...interface{})

	// Info logs a message at info level
	Info(format string, args ...interface{})

	// Warn logs a message at warning level
	Warn(format string, args ...interface{})

	// Error logs a message at error level
	Error(format string, args ...interface{})
}

// RunnerFunc is the core function type for executing a pipeline run.
type RunnerFunc func(ctx context.Context, run *PipelineRun, logger Logger) error

// Middleware represents a function that wraps run execution.
// Middleware can perform actions before and after a run executes, inject
// data into the run store, modify the context, or skip execution entirely.
type Middleware func(next RunnerFunc) RunnerFunc

// StageRunnerFunc is the core function type for executing a single stage of
// a run. It follows the same pattern as RunnerFunc for run execution.
type StageRunnerFunc func(ctx context.Context, run *PipelineRun, stage *StageState, logger Logger) error

// StageMiddleware represents a function that wraps stage execution.
// It allows performing operations before and after a stage executes.
type StageMiddleware func(next StageRunnerFunc) StageRunnerFunc

// ExecutorFactory is a function that creates a new instance of an Executor.
// It's used by the registry to instantiate executors from their IDs.
type ExecutorFactory func() Executor

// SchedulerOption is a function that configures a Scheduler.
type SchedulerOption func(*Scheduler)

// ControllerOption is a function that configures a Controller.
type ControllerOption func(*Controller)

// ListenerOption is a function that configures a Listener.
type ListenerOption func(*Listener)

// Store key prefixes for organizing run state in the store.
const (
	// PrefixRun is used for run metadata.
	PrefixRun = "run:"

	// PrefixStage is used for stage state.
	PrefixStage = "stage:"

	// PrefixContext is used for execution context state.
	PrefixContext = "context:"

	// PrefixStep is used for step state.
	PrefixStep = "step:"

	// PrefixArtifact is used for artifact refs produced by steps.
	PrefixArtifact = "artifact:"
)

// Common property keys used in store metadata.
const (
	// PropStatus tracks the current status.
	PropStatus = "status"

	// PropCommitRef tracks the commit the run is bound to.
	PropCommitRef = "commitRef"

	// PropGroupKey tracks the concurrency group of the run.
	PropGroupKey = "groupKey"

	// PropVariant tracks the matrix variant a context belongs to.
	PropVariant = "variant"
)
