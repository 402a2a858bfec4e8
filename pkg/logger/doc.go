// Package logger builds the service's slog.Logger.
//
// Records go to stdout as JSON (or text for local runs). Context extractors
// enrich every record with request-scoped attributes such as request_id or
// send_id, and when a Sentry DSN is configured error records are also
// reported to Sentry.
//
//	log := logger.New(cfg.Log,
//		middlewares.RequestIDExtractor(),
//		logger.ContextAttrsExtractor(),
//	)
//
//	ctx = logger.WithAttrs(ctx, slog.String("send_id", id))
//	log.InfoContext(ctx, "batch delivered") // carries send_id
package logger
