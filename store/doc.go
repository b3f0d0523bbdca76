// Package store provides a threadsafe, type-aware key-value store used to
// hold the state of a pipeline run: statuses keyed by run, stage, context
// and step, and artifact refs produced by steps.
//
// Values keep their concrete Go type, so retrieval with Get[T] requires no
// serialization round trip. Every entry can carry metadata: a description,
// tags for filtering, and arbitrary properties such as a status. The store
// can also describe the type of any stored value as a JSON schema, which is
// useful when inspecting run state from the outside.
package store
