package relpipe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/baolean/relpipe/store"
)

// ErrEmptyMatrix is returned when a stage's matrix resolves to zero
// execution contexts. An empty stage did no useful work, so it counts as a
// failure rather than a vacuous success.
var ErrEmptyMatrix = errors.New("stage matrix resolved to zero contexts")

// executeStage fans a stage out over its resolved execution contexts and
// joins them before reporting. Every context runs in its own goroutine with
// its own state; a failing context never mutates a sibling, and siblings are
// left to finish their own work even after a peer fails, since each variant
// may have pushed partial progress that remains valid. The stage succeeds
// only if every context succeeded.
func (s *Scheduler) executeStage(ctx context.Context, run *PipelineRun, ss *StageState, logger Logger) error {
	contexts, err := ss.Stage.Matrix.Resolve()
	if err != nil {
		ss.setStatus(StatusFailed)
		return fmt.Errorf("failed to resolve matrix for stage '%s': %w", ss.Stage.Name, err)
	}
	if len(contexts) == 0 {
		ss.setStatus(StatusFailed)
		return fmt.Errorf("stage '%s': %w", ss.Stage.Name, ErrEmptyMatrix)
	}

	states := make([]*ContextState, len(contexts))
	for i, ec := range contexts {
		states[i] = newContextState(ec, ss.Stage.Steps)
		meta := contextMetadata(ec)
		run.Store.PutWithMetadata(PrefixContext+ss.Stage.Name+":"+ec.Variant, string(StatusPending), meta)
	}
	ss.setContexts(states)
	ss.setStatus(StatusRunning)

	logger.Debug("Stage '%s' fanning out over %d contexts", ss.Stage.Name, len(states))

	var wg sync.WaitGroup
	errs := make([]error, len(states))

	for i, cs := range states {
		wg.Add(1)
		go func(i int, cs *ContextState) {
			defer wg.Done()
			errs[i] = s.executeContext(ctx, run, ss, cs, logger)
			run.Store.Put(PrefixContext+ss.Stage.Name+":"+cs.Variant(), string(cs.Status()))
		}(i, cs)
	}

	wg.Wait()

	if run.Status() == StatusCancelled || ctx.Err() != nil {
		ss.setStatus(StatusCancelled)
		return context.Canceled
	}

	for i, err := range errs {
		if err != nil {
			ss.setStatus(StatusFailed)
			return fmt.Errorf("stage '%s' context '%s' failed: %w",
				ss.Stage.Name, states[i].Variant(), err)
		}
	}

	ss.setStatus(StatusSucceeded)
	logger.Debug("Stage '%s': all %d contexts succeeded", ss.Stage.Name, len(states))
	return nil
}

// contextMetadata builds store metadata describing a resolved context.
func contextMetadata(ec *ExecutionContext) *store.Metadata {
	meta := store.NewMetadata()
	meta.SetProperty(PropVariant, ec.Variant)
	for flag, on := range ec.Flags {
		if on {
			meta.AddTag(flag)
		}
	}
	return meta
}
