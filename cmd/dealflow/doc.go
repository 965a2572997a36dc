// Command dealflow runs the deal workflow engine: the HTTP API, the queue
// worker, and maintenance commands for workflow versions, resyncs and queue
// batches.
//
// Configuration comes from dealflow.yaml (or --config) with DEALFLOW_*
// environment overrides, e.g. DEALFLOW_STORAGE_DRIVER=postgres.
package main
