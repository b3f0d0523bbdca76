package relpipe

import (
	"context"

	"github.com/baolean/relpipe/archive"
)

// ArchiveHook returns a run hook for Controller.WithRunHook that persists
// every terminal run to the archive. Partially produced artifacts of
// cancelled runs are left in place.
func ArchiveHook(a *archive.Archive, logger Logger) func(*PipelineRun) {
	if logger == nil {
		logger = NewDefaultLogger()
	}

	return func(run *PipelineRun) {
		rec := archive.Record{
			ID:         run.ID,
			Pipeline:   run.Pipeline.Name,
			GroupKey:   run.GroupKey,
			CommitRef:  run.CommitRef,
			Status:     string(run.Status()),
			FailedStep: -1,
			CreatedAt:  run.CreatedAt,
		}

		if f := run.Failure(); f != nil {
			rec.FailedStage = f.Stage
			rec.FailedVariant = f.Variant
			rec.FailedStep = f.StepIndex
		}

		if err := a.Put(context.Background(), rec); err != nil {
			logger.Error("Failed to archive run %s: %v", run.ID, err)
		}
	}
}
