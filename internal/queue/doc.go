// Package queue is a durable, at-least-once, time-delayed job dispatcher.
//
// Jobs are keyed: scheduling the same key again before it fires replaces the
// pending execution instead of duplicating it, and Remove cancels a pending
// execution by key. Firing is at-least-once: a worker crash mid-execution
// leaves a lease that expires and puts the job back in the backlog, so
// handlers must be idempotent. "Do not act twice" belongs to the consumer,
// not to this package.
package queue
