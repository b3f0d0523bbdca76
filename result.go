package relpipe

import (
	"fmt"
	"time"
)

// RunResult summarizes a finished pipeline run.
type RunResult struct {
	RunID     string
	CommitRef string
	Status    Status
	// Failure identifies the first failed stage/context/step when Status is
	// StatusFailed.
	Failure       *Failure
	Error         error
	ExecutionTime time.Duration
}

// ExecuteWithResult runs a pipeline run to completion and returns its
// summary.
func (s *Scheduler) ExecuteWithResult(run *PipelineRun, logger Logger) RunResult {
	startTime := time.Now()
	err := s.Execute(nil, run, logger)

	return RunResult{
		RunID:         run.ID,
		CommitRef:     run.CommitRef,
		Status:        run.Status(),
		Failure:       run.Failure(),
		Error:         err,
		ExecutionTime: time.Since(startTime),
	}
}

// FormatResults returns a human-readable summary of run results.
func FormatResults(results []RunResult) string {
	if len(results) == 0 {
		return "No runs executed"
	}

	var summary string
	successCount := 0

	for i, result := range results {
		if result.Status == StatusSucceeded {
			successCount++
		}

		summary += fmt.Sprintf("Run %d: %s @ %s - %s (%s)\n",
			i+1,
			result.RunID,
			result.CommitRef,
			result.Status,
			result.ExecutionTime.Round(time.Millisecond),
		)

		if result.Failure != nil {
			summary += fmt.Sprintf("  First failure: stage=%s context=%s step=%d\n",
				result.Failure.Stage, result.Failure.Variant, result.Failure.StepIndex)
		}
		if result.Error != nil {
			summary += fmt.Sprintf("  Error: %v\n", result.Error)
		}
	}

	summary += fmt.Sprintf("\nSummary: %d/%d runs succeeded\n", successCount, len(results))
	return summary
}
