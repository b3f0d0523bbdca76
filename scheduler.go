package relpipe

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoStages is returned when a run's pipeline defines no stages.
var ErrNoStages = errors.New("pipeline has no stages to execute")

// ErrSuperseded is returned when a run was cancelled because a newer trigger
// took over its concurrency group. It is distinct from failure: remaining
// stages stay pending and are never started.
var ErrSuperseded = errors.New("run superseded by a newer trigger")

// Scheduler executes pipeline runs as a strict linear state machine: stages
// run one at a time in declared order, each gated on the previous stage's
// success. It supports middleware for adding cross-cutting concerns to run
// and stage execution.
type Scheduler struct {
	// Middleware chain to apply during run execution.
	middleware []Middleware
	// Stage middleware applied around every stage execution.
	stageMiddleware []StageMiddleware
	// defaultLogger used when no logger is provided.
	defaultLogger Logger
	// executor overrides the registry for all steps when set.
	executor Executor
	// credentials resolves the credential names steps declare.
	credentials map[string]string
}

// WithMiddleware adds run middleware to the scheduler.
func WithMiddleware(middleware ...Middleware) SchedulerOption {
	return func(s *Scheduler) {
		s.middleware = append(s.middleware, middleware...)
	}
}

// WithStageMiddleware adds middleware applied around every stage.
func WithStageMiddleware(middleware ...StageMiddleware) SchedulerOption {
	return func(s *Scheduler) {
		s.stageMiddleware = append(s.stageMiddleware, middleware...)
	}
}

// WithLogger sets the default logger for the scheduler.
func WithLogger(logger Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.defaultLogger = logger
	}
}

// WithExecutor makes every step use the given executor instead of the one
// registered for its ID. Useful for testing and for embedding the engine
// with a custom collaborator.
func WithExecutor(executor Executor) SchedulerOption {
	return func(s *Scheduler) {
		s.executor = executor
	}
}

// WithCredentials provides the credential values steps may declare as
// inputs. Only the names a step lists are handed to its invocation.
func WithCredentials(credentials map[string]string) SchedulerOption {
	return func(s *Scheduler) {
		s.credentials = credentials
	}
}

// NewScheduler creates a new scheduler with the given options.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		middleware:      []Middleware{},
		stageMiddleware: []StageMiddleware{},
		defaultLogger:   NewDefaultLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Use adds middleware to the scheduler's run middleware chain.
func (s *Scheduler) Use(middleware ...Middleware) {
	s.middleware = append(s.middleware, middleware...)
}

// Execute runs a pipeline run with the configured middleware chain and
// blocks until the run reaches a terminal status. The returned error is nil
// for a succeeded run, ErrSuperseded (possibly wrapped) for a cancelled one,
// and the first stage failure otherwise.
func (s *Scheduler) Execute(ctx context.Context, run *PipelineRun, logger Logger) error {
	if logger == nil {
		logger = s.defaultLogger
	}
	if ctx == nil {
		ctx = context.Background()
	}

	defer run.finish()

	// Build the middleware chain, applied in reverse order.
	var handler RunnerFunc = s.executeRun
	for i := len(s.middleware) - 1; i >= 0; i-- {
		handler = s.middleware[i](handler)
	}

	return handler(ctx, run, logger)
}

// executeRun is the core run execution logic: the strict linear stage loop.
func (s *Scheduler) executeRun(ctx context.Context, run *PipelineRun, logger Logger) error {
	if len(run.Stages) == 0 {
		return fmt.Errorf("run '%s': %w", run.ID, ErrNoStages)
	}

	if status := run.setStatus(StatusRunning); status == StatusCancelled {
		return ErrSuperseded
	}

	logger.Info("Starting run %s for commit %s (%d stages)", run.ID, run.CommitRef, len(run.Stages))

	for i, ss := range run.Stages {
		// A cancelled run stops immediately; remaining stages stay pending.
		if run.Status() == StatusCancelled || ctx.Err() != nil {
			run.Cancel()
			logger.Info("Run %s cancelled before stage '%s'", run.ID, ss.Stage.Name)
			return ErrSuperseded
		}

		run.setStageIndex(i)
		run.Store.SetProperty(PrefixStage+ss.Stage.Name, PropStatus, string(StatusRunning))
		logger.Debug("Executing stage %d/%d: %s", i+1, len(run.Stages), ss.Stage.Name)

		// Build the stage middleware chain: scheduler-level first, then the
		// stage's own.
		var stageHandler StageRunnerFunc = s.executeStage
		chain := append(append([]StageMiddleware{}, s.stageMiddleware...), ss.Stage.GetMiddleware()...)
		for j := len(chain) - 1; j >= 0; j-- {
			stageHandler = chain[j](stageHandler)
		}

		if err := stageHandler(ctx, run, ss, logger); err != nil {
			if run.Status() == StatusCancelled || errors.Is(err, context.Canceled) {
				run.Cancel()
				run.Store.SetProperty(PrefixStage+ss.Stage.Name, PropStatus, string(StatusCancelled))
				logger.Info("Run %s cancelled during stage '%s'", run.ID, ss.Stage.Name)
				return ErrSuperseded
			}

			run.setStatus(StatusFailed)
			run.Store.SetProperty(PrefixStage+ss.Stage.Name, PropStatus, string(StatusFailed))
			logger.Error("Run %s failed at stage '%s': %v", run.ID, ss.Stage.Name, err)
			return fmt.Errorf("stage '%s' failed: %w", ss.Stage.Name, err)
		}

		run.Store.SetProperty(PrefixStage+ss.Stage.Name, PropStatus, string(StatusSucceeded))
		logger.Info("Completed stage %d/%d: %s", i+1, len(run.Stages), ss.Stage.Name)
	}

	run.setStatus(StatusSucceeded)
	logger.Info("Run %s completed successfully", run.ID)
	return nil
}

// executorFor resolves the executor a step runs with.
func (s *Scheduler) executorFor(step Step) (Executor, error) {
	if s.executor != nil {
		return s.executor, nil
	}
	return NewExecutorFromRegistry(step.ExecutorID())
}

// credentialsFor narrows the scheduler's credentials to the names the step
// declares.
func (s *Scheduler) credentialsFor(step Step) map[string]string {
	if len(step.Credentials) == 0 || len(s.credentials) == 0 {
		return nil
	}
	creds := make(map[string]string, len(step.Credentials))
	for _, name := range step.Credentials {
		if v, ok := s.credentials[name]; ok {
			creds[name] = v
		}
	}
	return creds
}
