// Package queue is the durable recipient queue of a send.
//
// Every recipient becomes one ticket keyed by (send, lower(email)); the
// unique index is the only idempotency guarantee, so seeding and extending
// can be replayed freely. Claim reserves a bounded slice of pending tickets
// with a conditional update: racing claimers each win a disjoint subset, and
// an empty claim tells the caller the send has nothing left to do.
package queue
