package relpipe

import (
	"context"
	"strings"
)

// DefaultExecutorID is the executor used by steps that don't name one.
const DefaultExecutorID = "shell"

// Step is an ordered, named unit of external work within an execution
// context. Steps are immutable once defined; only their execution result
// mutates at runtime (see StepState).
type Step struct {
	// Name identifies the step within its stage.
	Name string
	// Uses names the registered executor that performs the step's work.
	// Empty means DefaultExecutorID.
	Uses string
	// Command is the command line handed to the executor.
	Command []string
	// Env holds environment variables for the executor invocation.
	Env map[string]string
	// Dir is the working directory for the executor invocation.
	Dir string
	// Credentials lists the names of credential inputs the step needs.
	// Values are resolved by the scheduler at execution time.
	Credentials []string
	// When is the step's guard: flag names that must all hold in the
	// execution context for the step to run. A name prefixed with "!"
	// requires the flag to be false. An empty guard always passes.
	When []string
}

// ExecutorID returns the registered executor ID for this step.
func (s Step) ExecutorID() string {
	if s.Uses == "" {
		return DefaultExecutorID
	}
	return s.Uses
}

// GuardHolds evaluates the step's guard against the context's resolved
// flags. A false guard means the step is skipped, which is not a failure.
func (s Step) GuardHolds(ec *ExecutionContext) bool {
	for _, cond := range s.When {
		if negated := strings.HasPrefix(cond, "!"); negated {
			if ec.HasFlag(strings.TrimPrefix(cond, "!")) {
				return false
			}
		} else if !ec.HasFlag(cond) {
			return false
		}
	}
	return true
}

// Invocation carries everything an external collaborator needs to perform
// one step: the command, environment, working directory and resolved
// credential values, plus the commit ref and variant for reference.
type Invocation struct {
	Step        Step
	Variant     string
	CommitRef   string
	Credentials map[string]string
}

// Outcome is what the orchestrator consumes from an external collaborator:
// the exit status and any artifact refs the collaborator reported.
type Outcome struct {
	// ExitCode is the collaborator's exit status; zero means success.
	ExitCode int
	// ArtifactRefs are durable, addressable identifiers of artifacts the
	// step produced, e.g. content-addressed cache entries.
	ArtifactRefs []string
}

// Executor performs a step's external work. Implementations must honor
// context cancellation: when the context is cancelled the executor should
// stop the collaborator and return promptly; the orchestrator only waits a
// bounded grace period before moving on.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) (Outcome, error)
}

// ExecutorFunc is a function adapter for Executor.
type ExecutorFunc func(ctx context.Context, inv Invocation) (Outcome, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, inv Invocation) (Outcome, error) {
	return f(ctx, inv)
}
