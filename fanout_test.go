package relpipe

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageFansOutOverAllContexts(t *testing.T) {
	exec := newScriptedExecutor()
	p := NewPipeline("p", "master")
	p.AddStage(testStage("cache", []string{"normal", "macos", "arm-macos"}, "build"))

	scheduler := NewScheduler(WithExecutor(exec))
	run := p.NewRun("abc123")
	err := scheduler.Execute(context.Background(), run, &TestLogger{t: t})
	require.NoError(t, err)

	assert.True(t, exec.called("normal", "build"))
	assert.True(t, exec.called("macos", "build"))
	assert.True(t, exec.called("arm-macos", "build"))

	ss := findStage(t, run, "cache")
	assert.Equal(t, StatusSucceeded, ss.Status())
	require.Len(t, ss.Contexts(), 3)
}

func TestSingleFailedContextFailsStage(t *testing.T) {
	exec := newScriptedExecutor()
	exec.failStep("macos", "build", 2)

	p := NewPipeline("p", "master")
	p.AddStage(testStage("cache", []string{"normal", "macos", "arm-macos"}, "build"))

	scheduler := NewScheduler(WithExecutor(exec))
	run := p.NewRun("abc123")
	err := scheduler.Execute(context.Background(), run, &TestLogger{t: t})
	require.Error(t, err)

	ss := findStage(t, run, "cache")
	assert.Equal(t, StatusFailed, ss.Status())

	// Two succeed, one fails: the stage still fails.
	assert.Equal(t, StatusSucceeded, findContext(t, ss, "normal").Status())
	assert.Equal(t, StatusFailed, findContext(t, ss, "macos").Status())
	assert.Equal(t, StatusSucceeded, findContext(t, ss, "arm-macos").Status())
}

func TestSiblingContextsFinishAfterPeerFailure(t *testing.T) {
	// The failing context returns immediately; its siblings block until
	// released. The stage must wait out every context instead of cancelling
	// the survivors.
	var mu sync.Mutex
	finished := make(map[string]bool)
	release := make(chan struct{})

	exec := ExecutorFunc(func(ctx context.Context, inv Invocation) (Outcome, error) {
		if inv.Variant == "macos" {
			return Outcome{ExitCode: 1}, nil
		}
		select {
		case <-release:
		case <-ctx.Done():
			return Outcome{ExitCode: -1}, ctx.Err()
		}
		mu.Lock()
		finished[inv.Variant] = true
		mu.Unlock()
		return Outcome{}, nil
	})

	p := NewPipeline("p", "master")
	p.AddStage(testStage("cache", []string{"normal", "macos", "arm-macos"}, "build"))

	scheduler := NewScheduler(WithExecutor(exec))
	run := p.NewRun("abc123")

	done := make(chan error, 1)
	go func() {
		done <- scheduler.Execute(context.Background(), run, &TestLogger{t: t})
	}()

	close(release)
	err := <-done
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, finished["normal"], "sibling context should run to completion")
	assert.True(t, finished["arm-macos"], "sibling context should run to completion")

	ss := findStage(t, run, "cache")
	assert.Equal(t, StatusFailed, ss.Status())
	assert.Equal(t, StatusSucceeded, findContext(t, ss, "normal").Status())
	assert.Equal(t, StatusSucceeded, findContext(t, ss, "arm-macos").Status())
}

func TestEmptyMatrixFailsStage(t *testing.T) {
	exec := newScriptedExecutor()
	p := NewPipeline("p", "master")
	p.AddStage(testStage("cache", nil, "build"))

	scheduler := NewScheduler(WithExecutor(exec))
	run := p.NewRun("abc123")
	err := scheduler.Execute(context.Background(), run, &TestLogger{t: t})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyMatrix))
	assert.Equal(t, StatusFailed, run.Status())
	assert.Equal(t, StatusFailed, findStage(t, run, "cache").Status())
	assert.Zero(t, exec.callCount())
}

func TestContextIsolation(t *testing.T) {
	// A failure in one context must not mutate a sibling's step states.
	exec := newScriptedExecutor()
	exec.failStep("macos", "first", 1)

	p := NewPipeline("p", "master")
	p.AddStage(testStage("cache", []string{"normal", "macos"}, "first", "second"))

	scheduler := NewScheduler(WithExecutor(exec))
	run := p.NewRun("abc123")
	err := scheduler.Execute(context.Background(), run, &TestLogger{t: t})
	require.Error(t, err)

	ss := findStage(t, run, "cache")
	normal := findContext(t, ss, "normal")
	assert.Equal(t, StatusSucceeded, normal.Steps()[0].Result())
	assert.Equal(t, StatusSucceeded, normal.Steps()[1].Result())

	macos := findContext(t, ss, "macos")
	assert.Equal(t, StatusFailed, macos.Steps()[0].Result())
	assert.Equal(t, StatusSkipped, macos.Steps()[1].Result())
}
