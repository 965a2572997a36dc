// Package api contains the types shared by every part of the dealflow
// engine: the workflow template model, deals and versions, transition
// inputs and outcomes, queue rows and tasks, the repository interfaces the
// persistence adapters implement, and the Observer hooks.
//
// Most users interact with the higher-level dealflow package, which
// re-exports selected types from this package and wires the engine
// together. The api package is intended for custom stores, observers and
// integrations.
//
// # Templates
//
// A WorkflowTemplate is the parsed form of a YAML workflow. Entry actions
// are a closed set of kinds implementing Action; an ActionVisitor has one
// method per kind, so dispatchers fail to compile when a kind is added.
//
// # Errors
//
// Lookups return the sentinel errors in this package (ErrDealNotFound,
// ErrVersionNotFound, ...) wrapped with context; rejected transitions
// return a *TransitionError carrying the Validation that failed.
//
// # Observability
//
// Observer receives transition and action callbacks. LoggingObserver writes
// slog records, BasicMetrics keeps in-process counters and OtelObserver
// records OpenTelemetry metrics. NewCompositeObserver fans out to several.
package api
