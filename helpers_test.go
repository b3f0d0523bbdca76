package relpipe

import (
	"context"
	"sync"
	"testing"
)

// TestLogger routes pipeline logs to the test output.
type TestLogger struct {
	t *testing.T
}

func (l *TestLogger) Debug(format string, args ...interface{}) {
	l.t.Logf("[DEBUG] "+format, args...)
}

func (l *TestLogger) Info(format string, args ...interface{}) {
	l.t.Logf("[INFO] "+format, args...)
}

func (l *TestLogger) Warn(format string, args ...interface{}) {
	l.t.Logf("[WARN] "+format, args...)
}

func (l *TestLogger) Error(format string, args ...interface{}) {
	l.t.Logf("[ERROR] "+format, args...)
}

// scriptedExecutor is a test collaborator: it records every invocation and
// fails the steps it was told to fail.
type scriptedExecutor struct {
	mu sync.Mutex
	// calls holds "variant/step" in invocation order.
	calls []string
	// exitCodes maps "variant/step" to a nonzero exit status.
	exitCodes map[string]int
	// artifacts maps "variant/step" to reported artifact refs.
	artifacts map[string][]string
	// started, if non-nil, receives one value per invocation before any
	// blocking.
	started chan string
	// release, if non-nil, blocks every invocation until it is closed or
	// the context is cancelled.
	release chan struct{}
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{
		exitCodes: make(map[string]int),
		artifacts: make(map[string][]string),
	}
}

func (e *scriptedExecutor) failStep(variant, step string, exitCode int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exitCodes[variant+"/"+step] = exitCode
}

func (e *scriptedExecutor) Execute(ctx context.Context, inv Invocation) (Outcome, error) {
	key := inv.Variant + "/" + inv.Step.Name

	e.mu.Lock()
	e.calls = append(e.calls, key)
	exitCode := e.exitCodes[key]
	refs := e.artifacts[key]
	started := e.started
	release := e.release
	e.mu.Unlock()

	if started != nil {
		started <- key
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return Outcome{ExitCode: -1}, ctx.Err()
		}
	}

	return Outcome{ExitCode: exitCode, ArtifactRefs: refs}, nil
}

func (e *scriptedExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *scriptedExecutor) called(variant, step string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.calls {
		if c == variant+"/"+step {
			return true
		}
	}
	return false
}

// testStage builds a stage with the given variants and steps, no flags.
func testStage(name string, variants []string, stepNames ...string) *Stage {
	stage := NewStage(name, "test stage "+name)
	stage.SetMatrix(Matrix{Variants: variants})
	for _, stepName := range stepNames {
		stage.AddStep(Step{Name: stepName, Command: []string{"true"}})
	}
	return stage
}

// releasePipeline builds the canonical three-stage pipeline used across the
// tests: a three-variant cache stage followed by two single-variant stages.
func releasePipeline() *Pipeline {
	p := NewPipeline("release", "master")

	cache := NewStage("cache-population", "populate build caches")
	cache.SetMatrix(Matrix{
		Variants: []string{"normal", "macos", "arm-macos"},
		FlagRules: []FlagRule{
			{Flag: "macos", Substring: "macos"},
			{Flag: "arm", Substring: "arm"},
		},
	})
	cache.AddStep(Step{Name: "install-toolchain", Command: []string{"true"}})
	cache.AddStep(Step{Name: "push-cache", Command: []string{"true"}, Credentials: []string{"CACHE_AUTH_TOKEN"}})
	p.AddStage(cache)

	release := testStage("release-creation", []string{"normal"}, "create-release")
	p.AddStage(release)

	site := testStage("site-publication", []string{"normal"}, "build-site", "publish-site")
	p.AddStage(site)

	return p
}

// findStage returns the stage state with the given name.
func findStage(t *testing.T, run *PipelineRun, name string) *StageState {
	t.Helper()
	for _, ss := range run.Stages {
		if ss.Stage.Name == name {
			return ss
		}
	}
	t.Fatalf("stage %q not found in run", name)
	return nil
}

// findContext returns the context state for a variant within a stage.
func findContext(t *testing.T, ss *StageState, variant string) *ContextState {
	t.Helper()
	for _, cs := range ss.Contexts() {
		if cs.Variant() == variant {
			return cs
		}
	}
	t.Fatalf("context %q not found in stage %q", variant, ss.Stage.Name)
	return nil
}
