// Package worker drives the dealflow side-effect queues in the background.
//
// A Worker calls a Processor on a fixed interval. Each tick drains one batch
// of every queue: notifications, outbound webhooks, schedules and deferred
// tasks. Failures of a single row never stop the loop; they are recorded on
// the row by the processor. A failure to load a batch is logged and the
// next tick retries.
//
// # Single instance
//
// Queue rows are claimed by status only, so two workers draining the same
// database would deliver a webhook twice. When Config.LockFile is set the
// worker takes an exclusive file lock (github.com/gofrs/flock) before its
// first tick and releases it on shutdown. A second worker on the same host
// fails fast with ErrLocked.
//
// # Usage
//
//	w := worker.New(processor, worker.Config{
//		Interval:  5 * time.Second,
//		BatchSize: 25,
//		LockFile:  "/var/run/dealflow-worker.lock",
//	})
//	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
//		log.Fatal(err)
//	}
package worker
