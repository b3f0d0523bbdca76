// Package relpipe provides a release pipeline orchestration engine.
//
// relpipe runs a fixed, strictly ordered sequence of stages in response to a
// push to a designated branch: each stage fans out over a matrix of
// environment variants, executes its steps through external collaborators,
// and gates the next stage on its success. At most one run is active per
// concurrency group; a newer trigger supersedes and cancels the run in
// flight.
//
// Core components include:
//   - Pipeline and PipelineRun: the stage graph definition and one execution
//     of it, bound to a commit ref
//   - Scheduler: the strict linear stage state machine with middleware
//   - Stages: matrix fan-out/fan-in over isolated execution contexts
//   - Steps: guarded units of external work with exit-status semantics
//   - Controller: last-submitted-wins concurrency groups with cooperative
//     cancellation
//   - Listener: the branch-filtered trigger entry point
//
// Key features include deterministic matrix resolution, first-failure
// reporting, prometheus and OpenTelemetry instrumentation, YAML pipeline
// definitions, and a run archive.
package relpipe
