// Package ingestion turns queued work items into searchable knowledge
// documents.
//
// A pool of workers consumes the work queue. Each message drives one job
// through its state machine: claim the Pending job with a conditional
// update, load the source, split it into chunks, embed the chunks in
// batches, write everything behind a staging visibility flag, and flip the
// document to ready atomically. Duplicate deliveries are harmless: terminal
// jobs are acknowledged without side effects, and losing a claim race exits
// early.
//
// Failures roll back any staged chunks before marking the job Failed, so
// the store never holds an orphaned partial document.
package ingestion
