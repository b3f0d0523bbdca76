package relpipe

import (
	"context"
	"fmt"
)

// Listener is the pipeline's entry point. It observes push events, filters
// them against the pipeline's target branch, and submits a run bound to the
// event's commit ref. Events for other branches are a no-op, not an error.
type Listener struct {
	pipeline   *Pipeline
	controller *Controller
	logger     Logger
}

// WithListenerLogger sets the listener's logger.
func WithListenerLogger(logger Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

// NewListener creates a listener that starts runs of the given pipeline via
// the controller.
func NewListener(pipeline *Pipeline, controller *Controller, opts ...ListenerOption) *Listener {
	l := &Listener{
		pipeline:   pipeline,
		controller: controller,
		logger:     NewDefaultLogger(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// HandlePush processes one push event. If the branch matches the pipeline's
// target branch, a run bound to the event's commit ref is constructed and
// submitted; the run is returned so callers can observe it. For any other
// branch the event is ignored and a nil run is returned.
func (l *Listener) HandlePush(ctx context.Context, event TriggerEvent) (*PipelineRun, error) {
	if event.Branch != l.pipeline.TargetBranch {
		l.logger.Debug("Ignoring push to branch '%s' (target is '%s')",
			event.Branch, l.pipeline.TargetBranch)
		return nil, nil
	}
	if event.CommitRef == "" {
		return nil, fmt.Errorf("push event for branch '%s' carries no commit ref", event.Branch)
	}

	run := l.pipeline.NewRun(event.CommitRef)
	l.logger.Info("Push to %s at %s: starting run %s", event.Branch, event.CommitRef, run.ID)

	if err := l.controller.Submit(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to submit run for commit %s: %w", event.CommitRef, err)
	}
	return run, nil
}

// Listen consumes push events from the channel until it closes or the
// context is cancelled, handling each event in turn.
func (l *Listener) Listen(ctx context.Context, events <-chan TriggerEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := l.HandlePush(ctx, event); err != nil {
				l.logger.Error("Failed to handle push event: %v", err)
			}
		}
	}
}
