// Package job runs background tasks on River, the Postgres-native queue.
//
// Tasks are plain structs with Name and Handle methods; the payload type is
// inferred from Handle's signature, so task packages never import River:
//
//	type RunSend struct{ engine *engine.Orchestrator }
//
//	func (t *RunSend) Name() string { return "run_send" }
//
//	func (t *RunSend) Handle(ctx context.Context, p RunSendPayload) error {
//		return t.engine.Run(ctx, p.SendID)
//	}
//
// Periodic tasks add a Schedule method returning a five-field cron
// expression:
//
//	func (t *SweepStaleClaims) Schedule() string { return "*/5 * * * *" }
//	func (t *SweepStaleClaims) Handle(ctx context.Context) error { ... }
//
// Registration and lifecycle:
//
//	m, err := job.NewManager(pool,
//		job.WithTask(tasks.NewRunSend(engine, log)),
//		job.WithScheduledTask(tasks.NewSweepStaleClaims(store, engine, ttl, metrics, log)),
//		job.WithQueue("sends", 4),
//		job.WithLogger(log),
//	)
//	if err := m.Start(ctx); err != nil { ... }
//	defer m.Stop(ctx)
//
//	err = m.Enqueue(ctx, "run_send", tasks.RunSendPayload{SendID: id},
//		job.InQueue("sends"), job.MaxAttempts(3))
//
// A handler that hits a condition retrying cannot fix returns Cancel(err):
// the job is finalized as cancelled instead of being rescheduled.
//
// River's own tables must exist before NewManager is used; apply them with
// rivermigrate or the river CLI alongside the application migrations.
package job
