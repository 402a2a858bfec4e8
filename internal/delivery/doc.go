// Package delivery sends one claimed ticket: it personalises the shared
// content of the send for the recipient (open pixel, click tracking,
// unsubscribe link) and hands the message to the email provider.
//
// A provider rejection marks the ticket failed and is reported in the
// Outcome, never as an error; only store writes fail a delivery, so one bad
// address cannot abort a batch.
package delivery
