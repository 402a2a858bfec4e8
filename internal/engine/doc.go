// Package engine runs newsletter sends end to end.
//
// Create composes the issue, stores it with a new send and schedules the
// durable run. Run seeds the recipient queue and loops claim, deliver,
// aggregate and pace until nothing is pending, then finalizes the send. The
// controller operations (Resume, RetryRecipient, ResendToNew,
// ResendToMissing, Status, History, UpdateStatus, Recipients) act on an
// existing send and reuse the same loop.
//
// Every counter is re-derived from ticket rows, and the only concurrency
// control is the conditional pending to sending update inside the queue, so
// a run racing a resume never delivers a ticket twice.
package engine
