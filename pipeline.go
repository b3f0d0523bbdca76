package relpipe

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/baolean/relpipe/store"
)

// Pipeline is the immutable definition of a release pipeline: a fixed,
// strictly ordered sequence of stages triggered by a push to the target
// branch. Each stage is gated on its predecessor's success.
type Pipeline struct {
	// Name identifies the pipeline.
	Name string
	// TargetBranch is the only branch whose pushes trigger a run.
	TargetBranch string
	// GroupKey is the concurrency group: at most one run per key is active
	// at a time. Empty means a key derived from the pipeline name.
	GroupKey string
	// Stages in execution order. Each stage's sole predecessor is the one
	// before it.
	Stages []*Stage
}

// NewPipeline creates a pipeline bound to the given target branch.
func NewPipeline(name, targetBranch string) *Pipeline {
	return &Pipeline{
		Name:         name,
		TargetBranch: targetBranch,
		Stages:       []*Stage{},
	}
}

// AddStage appends a stage to the pipeline.
// Stages execute in the order they are added; each is gated on the success
// of the previous one.
func (p *Pipeline) AddStage(stage *Stage) {
	p.Stages = append(p.Stages, stage)
}

// ConcurrencyKey returns the effective concurrency group key for this
// pipeline.
func (p *Pipeline) ConcurrencyKey() string {
	if p.GroupKey != "" {
		return p.GroupKey
	}
	return "pipeline:" + p.Name
}

// RunInfo holds serializable run information kept in the run's store.
type RunInfo struct {
	ID        string `json:"id"`
	Pipeline  string `json:"pipeline"`
	CommitRef string `json:"commitRef"`
	GroupKey  string `json:"groupKey"`
	CreatedAt string `json:"createdAt"`
}

// PipelineRun is one execution of the full stage graph, bound to the commit
// ref that triggered it. Its status is mutated only by the Scheduler and,
// for cancellation, by the Controller.
type PipelineRun struct {
	// ID is the unique identifier for the run.
	ID string
	// Pipeline is the definition this run executes.
	Pipeline *Pipeline
	// CommitRef is the commit the run is bound to.
	CommitRef string
	// GroupKey is the concurrency group the run belongs to.
	GroupKey string
	// Store holds the run's state: statuses, artifact refs, metadata.
	Store *store.KVStore
	// Stages holds the runtime state of each stage, parallel to
	// Pipeline.Stages.
	Stages []*StageState
	// CreatedAt is when the run was constructed.
	CreatedAt time.Time

	mu         sync.RWMutex
	status     Status
	stageIndex int
	failure    *Failure

	// cancel aborts the run's context; set by the controller when the run
	// is started.
	cancel func()
	// done is closed when the run reaches a terminal status.
	done chan struct{}
}

// NewRun constructs a pending run of this pipeline bound to a commit ref.
func (p *Pipeline) NewRun(commitRef string) *PipelineRun {
	run := &PipelineRun{
		ID:        uuid.NewString(),
		Pipeline:  p,
		CommitRef: commitRef,
		GroupKey:  p.ConcurrencyKey(),
		Store:     store.NewKVStore(),
		CreatedAt: time.Now(),
		status:    StatusPending,
		done:      make(chan struct{}),
	}

	for _, st := range p.Stages {
		run.Stages = append(run.Stages, newStageState(st))
	}

	run.saveToStore()
	return run
}

// saveToStore records the run's identity and initial statuses in the store.
func (r *PipelineRun) saveToStore() {
	info := RunInfo{
		ID:        r.ID,
		Pipeline:  r.Pipeline.Name,
		CommitRef: r.CommitRef,
		GroupKey:  r.GroupKey,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
	}

	meta := store.NewMetadata()
	meta.Description = "pipeline run " + r.ID
	meta.SetProperty(PropStatus, string(StatusPending))
	meta.SetProperty(PropCommitRef, r.CommitRef)
	meta.SetProperty(PropGroupKey, r.GroupKey)

	r.Store.PutWithMetadata(PrefixRun+r.ID, info, meta)

	for i, ss := range r.Stages {
		stageMeta := store.NewMetadata()
		stageMeta.Description = ss.Stage.Description
		stageMeta.SetProperty(PropStatus, string(StatusPending))
		r.Store.PutWithMetadata(PrefixStage+ss.Stage.Name, i, stageMeta)
	}
}

// Status returns the run's current status.
func (r *PipelineRun) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// StageIndex returns the index of the stage currently or last executed.
func (r *PipelineRun) StageIndex() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stageIndex
}

// Failure returns the identity of the first failure, or nil if the run has
// not failed.
func (r *PipelineRun) Failure() *Failure {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failure
}

// Done returns a channel closed once the run has reached a terminal status.
func (r *PipelineRun) Done() <-chan struct{} {
	return r.done
}

// Cancel transitions the run to cancelled and signals its context.
// Runs that already reached a terminal status are left untouched. Once
// cancelled, nothing belonging to the run transitions into running again.
func (r *PipelineRun) Cancel() {
	r.mu.Lock()
	if r.status.Terminal() {
		r.mu.Unlock()
		return
	}
	r.status = StatusCancelled
	cancel := r.cancel
	r.mu.Unlock()

	r.Store.SetProperty(PrefixRun+r.ID, PropStatus, string(StatusCancelled))
	if cancel != nil {
		cancel()
	}
}

// bindCancel attaches the cancellation function of the run's context. If
// the run was cancelled before its context existed, the function is invoked
// immediately so no work starts.
func (r *PipelineRun) bindCancel(cancel func()) {
	r.mu.Lock()
	cancelled := r.status == StatusCancelled
	r.cancel = cancel
	r.mu.Unlock()

	if cancelled {
		cancel()
	}
}

// setStatus transitions the run's status, refusing to resurrect a run that
// is already terminal. Returns the status actually in effect.
func (r *PipelineRun) setStatus(s Status) Status {
	r.mu.Lock()
	if r.status.Terminal() {
		s = r.status
		r.mu.Unlock()
		return s
	}
	r.status = s
	r.mu.Unlock()

	r.Store.SetProperty(PrefixRun+r.ID, PropStatus, string(s))
	return s
}

// setStageIndex records the stage the scheduler is about to execute.
func (r *PipelineRun) setStageIndex(i int) {
	r.mu.Lock()
	r.stageIndex = i
	r.mu.Unlock()
}

// recordFailure records the first failure of the run; later failures are
// ignored.
func (r *PipelineRun) recordFailure(f Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure == nil {
		r.failure = &f
	}
}

// finish closes the done channel exactly once.
func (r *PipelineRun) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

// StageState is the runtime state of one stage within a run.
type StageState struct {
	// Stage is the immutable definition.
	Stage *Stage

	mu       sync.RWMutex
	status   Status
	contexts []*ContextState
}

func newStageState(stage *Stage) *StageState {
	return &StageState{Stage: stage, status: StatusPending}
}

// Status returns the stage's current status.
func (s *StageState) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *StageState) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Contexts returns the per-variant states resolved for this stage. Empty
// until the stage starts.
func (s *StageState) Contexts() []*ContextState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contexts
}

func (s *StageState) setContexts(contexts []*ContextState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts = contexts
}

// ContextState is the runtime state of one execution context (matrix
// variant) within a stage. Sibling contexts never share mutable state.
type ContextState struct {
	// Context is the resolved variant and its flags.
	Context *ExecutionContext

	mu     sync.RWMutex
	status Status
	steps  []*StepState
}

func newContextState(ec *ExecutionContext, steps []Step) *ContextState {
	cs := &ContextState{Context: ec, status: StatusPending}
	for _, step := range steps {
		cs.steps = append(cs.steps, &StepState{Step: step, result: StatusPending})
	}
	return cs
}

// Variant returns the variant name of the context.
func (c *ContextState) Variant() string {
	return c.Context.Variant
}

// Status returns the context's current status.
func (c *ContextState) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *ContextState) setStatus(status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

// Steps returns the per-step states of the context, in declaration order.
func (c *ContextState) Steps() []*StepState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.steps
}

// StepState is the runtime result of one step within a context.
type StepState struct {
	// Step is the immutable definition.
	Step Step

	mu        sync.RWMutex
	result    Status
	err       error
	artifacts []string
}

// Result returns the step's execution result.
func (s *StepState) Result() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// Err returns the error that failed the step, if any.
func (s *StepState) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// ArtifactRefs returns the artifact refs the step reported.
func (s *StepState) ArtifactRefs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.artifacts
}

func (s *StepState) setResult(result Status, err error, artifacts []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = result
	s.err = err
	s.artifacts = artifacts
}
