// Package dealflow provides an embeddable engine that drives deals through a
// declarative, versioned workflow.
//
// A workflow is a YAML template: statuses with entry actions and exit
// requirements, role-gated transitions with guards, and per-status incoming
// webhook rules. Templates are stored as immutable versions; exactly one
// version per workflow is active and every deal is pinned to the version it
// was created or last resynced under.
//
// # Core Concepts
//
//  1. Service
//  2. Registry
//  3. Executor
//  4. Processor
//  5. Completer
//  6. Worker
//
// # Service
//
// The Service is the only component that changes a deal's status. A
// transition is validated against the pinned version (role, then every guard
// exhaustively), persisted with a compare-and-swap on the previous status,
// audited, and followed by the target status's entry actions. Guard failures
// and lost swaps are retried under a RetryPolicy:
//
//	policy := dealflow.Retry(4).WithExponentialBackoff(time.Second, 2, 10*time.Second).Policy()
//
// # Executor
//
// Entry actions never perform side effects inline. TASK_CREATE, NOTIFY,
// ESCALATE, WEBHOOK and SCHEDULE each enqueue a row keyed by a deterministic
// action hash, so replaying a transition enqueues nothing new.
//
// # Processor and Worker
//
// The Processor drains the queues in batches: notifications go to Telegram
// (or the log), outgoing webhooks are POSTed with a retry schedule, schedule
// rows are marked sent, and deferred task rows become tasks. A Worker calls
// the Processor on an interval, optionally holding a lock file so only one
// instance runs per host.
//
// # Completer
//
// Completing a task records its result in the deal payload and, when the
// task's guard key is an exit requirement of the current status, attempts
// the forward transition automatically.
//
// # Bundle
//
// NewBundle wires all of the above over one store. Open does the same from a
// config file, adding the Redis version cache and the MongoDB audit sink
// when they are configured:
//
//	cfg, _ := config.Load("dealflow.yaml")
//	bundle, err := dealflow.Open(ctx, cfg, logger)
//	defer bundle.Close()
//	http.ListenAndServe(cfg.HTTP.Addr, bundle.Handler())
package dealflow
