// Package tasks binds the engine to durable background jobs: the per-send
// run and the periodic maintenance that keeps the recipient queue healthy.
package tasks
