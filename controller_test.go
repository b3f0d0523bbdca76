package relpipe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsToCompletion(t *testing.T) {
	exec := newScriptedExecutor()
	scheduler := NewScheduler(WithExecutor(exec))
	controller := NewController(scheduler, WithControllerLogger(&TestLogger{t: t}))
	defer controller.Shutdown()

	run := releasePipeline().NewRun("abc123")
	require.NoError(t, controller.Submit(context.Background(), run))

	<-run.Done()
	assert.Equal(t, StatusSucceeded, run.Status())

	// Finished runs leave the registry.
	_, active := controller.ActiveRun(run.GroupKey)
	assert.False(t, active)
}

func TestSecondSubmitSupersedesFirst(t *testing.T) {
	exec := newScriptedExecutor()
	exec.started = make(chan string, 16)
	exec.release = make(chan struct{})

	scheduler := NewScheduler(WithExecutor(exec))
	controller := NewController(scheduler,
		WithControllerLogger(&TestLogger{t: t}),
		WithGracePeriod(time.Second),
	)
	defer controller.Shutdown()

	p := NewPipeline("p", "master")
	p.AddStage(testStage("build", []string{"normal"}, "step"))

	first := p.NewRun("commit-1")
	require.NoError(t, controller.Submit(context.Background(), first))
	<-exec.started

	// The newer trigger wins: the first run is cancelled, the second
	// becomes the sole active run for the group.
	second := p.NewRun("commit-2")
	require.NoError(t, controller.Submit(context.Background(), second))

	<-first.Done()
	assert.Equal(t, StatusCancelled, first.Status())

	active, ok := controller.ActiveRun(p.ConcurrencyKey())
	if ok {
		assert.Same(t, second, active)
	}

	close(exec.release)
	<-second.Done()
	assert.Equal(t, StatusSucceeded, second.Status())
}

func TestDifferentGroupsRunIndependently(t *testing.T) {
	exec := newScriptedExecutor()
	exec.started = make(chan string, 16)
	exec.release = make(chan struct{})

	scheduler := NewScheduler(WithExecutor(exec))
	controller := NewController(scheduler, WithControllerLogger(&TestLogger{t: t}))
	defer controller.Shutdown()

	one := NewPipeline("one", "master")
	one.AddStage(testStage("build", []string{"normal"}, "step"))
	two := NewPipeline("two", "master")
	two.AddStage(testStage("build", []string{"normal"}, "step"))

	runOne := one.NewRun("commit-1")
	require.NoError(t, controller.Submit(context.Background(), runOne))
	<-exec.started

	runTwo := two.NewRun("commit-2")
	require.NoError(t, controller.Submit(context.Background(), runTwo))
	<-exec.started

	// Submitting for a different group leaves the first run running.
	assert.Equal(t, StatusRunning, runOne.Status())
	assert.Equal(t, 2, controller.ActiveCount())

	close(exec.release)
	<-runOne.Done()
	<-runTwo.Done()
	assert.Equal(t, StatusSucceeded, runOne.Status())
	assert.Equal(t, StatusSucceeded, runTwo.Status())
}

func TestGracePeriodBoundsSupersession(t *testing.T) {
	// The first run's collaborator ignores cancellation entirely; Submit
	// must still return after the grace period, without waiting for it.
	block := make(chan struct{})

	exec := ExecutorFunc(func(ctx context.Context, inv Invocation) (Outcome, error) {
		if inv.CommitRef == "commit-1" {
			<-block
		}
		return Outcome{}, nil
	})

	scheduler := NewScheduler(WithExecutor(exec))
	controller := NewController(scheduler,
		WithControllerLogger(&TestLogger{t: t}),
		WithGracePeriod(50*time.Millisecond),
	)

	p := NewPipeline("p", "master")
	p.AddStage(testStage("build", []string{"normal"}, "step"))

	first := p.NewRun("commit-1")
	require.NoError(t, controller.Submit(context.Background(), first))

	start := time.Now()
	second := p.NewRun("commit-2")
	require.NoError(t, controller.Submit(context.Background(), second))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second, "Submit should not block past the grace period")
	assert.Equal(t, StatusCancelled, first.Status())

	<-second.Done()
	assert.Equal(t, StatusSucceeded, second.Status())

	// Release the stuck collaborator so Shutdown can drain.
	close(block)
	controller.Shutdown()
}

func TestSubmitAfterShutdown(t *testing.T) {
	scheduler := NewScheduler(WithExecutor(newScriptedExecutor()))
	controller := NewController(scheduler)
	controller.Shutdown()

	p := NewPipeline("p", "master")
	p.AddStage(testStage("build", []string{"normal"}, "step"))

	err := controller.Submit(context.Background(), p.NewRun("abc123"))
	assert.ErrorIs(t, err, ErrControllerClosed)
}

func TestRunHookFiresOnTerminalStatus(t *testing.T) {
	exec := newScriptedExecutor()
	scheduler := NewScheduler(WithExecutor(exec))

	hooked := make(chan *PipelineRun, 1)
	controller := NewController(scheduler, WithRunHook(func(run *PipelineRun) {
		hooked <- run
	}))
	defer controller.Shutdown()

	p := NewPipeline("p", "master")
	p.AddStage(testStage("build", []string{"normal"}, "step"))
	run := p.NewRun("abc123")
	require.NoError(t, controller.Submit(context.Background(), run))

	select {
	case got := <-hooked:
		assert.Same(t, run, got)
		assert.True(t, got.Status().Terminal())
	case <-time.After(5 * time.Second):
		t.Fatal("run hook was not invoked")
	}
}
