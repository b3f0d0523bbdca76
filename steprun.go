package relpipe

import (
	"context"
	"fmt"
)

// executeContext runs the steps of one execution context in declared order.
// A step whose guard is false is skipped and execution proceeds. A step
// whose collaborator signals failure marks the context failed and every
// remaining step skipped; nothing else in this context executes. Sibling
// contexts are never touched.
func (s *Scheduler) executeContext(ctx context.Context, run *PipelineRun, ss *StageState, cs *ContextState, logger Logger) error {
	cs.setStatus(StatusRunning)

	var failedErr error
	failedIndex := -1

	for i, stepState := range cs.Steps() {
		step := stepState.Step
		stepKey := stepStoreKey(ss.Stage.Name, cs.Variant(), step.Name)

		// A failed step halts the rest of the context.
		if failedErr != nil {
			stepState.setResult(StatusSkipped, nil, nil)
			run.Store.Put(stepKey, string(StatusSkipped))
			continue
		}

		// Cancelled runs dispatch no further steps.
		if run.Status() == StatusCancelled || ctx.Err() != nil {
			cs.setStatus(StatusCancelled)
			return context.Canceled
		}

		if !step.GuardHolds(cs.Context) {
			logger.Debug("Skipping step '%s' in context '%s': guard %v does not hold",
				step.Name, cs.Variant(), step.When)
			stepState.setResult(StatusSkipped, nil, nil)
			run.Store.Put(stepKey, string(StatusSkipped))
			continue
		}

		executor, err := s.executorFor(step)
		if err != nil {
			stepState.setResult(StatusFailed, err, nil)
			run.Store.Put(stepKey, string(StatusFailed))
			run.recordFailure(Failure{Stage: ss.Stage.Name, Variant: cs.Variant(), StepIndex: i})
			failedErr = err
			failedIndex = i
			continue
		}

		logger.Debug("Executing step %d/%d '%s' in context '%s'",
			i+1, len(cs.Steps()), step.Name, cs.Variant())
		run.Store.Put(stepKey, string(StatusRunning))

		outcome, execErr := executor.Execute(ctx, Invocation{
			Step:        step,
			Variant:     cs.Variant(),
			CommitRef:   run.CommitRef,
			Credentials: s.credentialsFor(step),
		})

		// Record artifact refs even on failure or cancellation: partial
		// progress such as pushed cache entries remains valid.
		if len(outcome.ArtifactRefs) > 0 {
			run.Store.Put(PrefixArtifact+ss.Stage.Name+":"+cs.Variant()+":"+step.Name, outcome.ArtifactRefs)
		}

		if ctx.Err() != nil {
			stepState.setResult(StatusCancelled, ctx.Err(), outcome.ArtifactRefs)
			run.Store.Put(stepKey, string(StatusCancelled))
			cs.setStatus(StatusCancelled)
			return context.Canceled
		}

		if execErr != nil {
			stepState.setResult(StatusFailed, execErr, outcome.ArtifactRefs)
			run.Store.Put(stepKey, string(StatusFailed))
			run.recordFailure(Failure{Stage: ss.Stage.Name, Variant: cs.Variant(), StepIndex: i})
			failedErr = execErr
			failedIndex = i
			continue
		}

		if outcome.ExitCode != 0 {
			err := fmt.Errorf("step '%s' exited with status %d", step.Name, outcome.ExitCode)
			stepState.setResult(StatusFailed, err, outcome.ArtifactRefs)
			run.Store.Put(stepKey, string(StatusFailed))
			run.recordFailure(Failure{Stage: ss.Stage.Name, Variant: cs.Variant(), StepIndex: i})
			failedErr = err
			failedIndex = i
			continue
		}

		stepState.setResult(StatusSucceeded, nil, outcome.ArtifactRefs)
		run.Store.Put(stepKey, string(StatusSucceeded))
		logger.Debug("Completed step %d/%d '%s' in context '%s'",
			i+1, len(cs.Steps()), step.Name, cs.Variant())
	}

	if failedErr != nil {
		cs.setStatus(StatusFailed)
		return fmt.Errorf("step %d ('%s') in context '%s' failed: %w",
			failedIndex, cs.Steps()[failedIndex].Step.Name, cs.Variant(), failedErr)
	}

	cs.setStatus(StatusSucceeded)
	return nil
}

// stepStoreKey builds the store key tracking one step's status.
func stepStoreKey(stage, variant, step string) string {
	return PrefixStep + stage + ":" + variant + ":" + step
}
