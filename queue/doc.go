// Package queue provides an in-process work queue with at-least-once
// delivery semantics.
//
// Messages handed to a consumer become invisible for a visibility timeout.
// If the consumer does not acknowledge the delivery before the timeout
// expires, the message is redelivered. Messages that exhaust their maximum
// delivery attempts are moved to a dead-letter list instead of being
// delivered again.
//
// Consumers must therefore be idempotent: the same message can be observed
// more than once.
package queue
