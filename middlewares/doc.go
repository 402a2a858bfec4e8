// Package middlewares provides net/http middleware shared by the newsletter
// HTTP surface.
//
// # Request ID
//
// RequestID assigns an ID to each request. An incoming X-Request-ID (or
// X-Correlation-ID) header is preserved; otherwise a UUID is generated.
// Pair it with RequestIDExtractor so every log line carries request_id:
//
//	log := logger.New(cfg.Log, middlewares.RequestIDExtractor())
//
// # Recover
//
// Recover turns a panic into a *PanicError and hands it to the configured
// error renderer, so a panicking handler still produces a JSON 500.
//
// # Timeout
//
// Timeout bounds the request context. Handlers that respect ctx.Done()
// return context.DeadlineExceeded, which error renderers map to 504 using
// IsTimeoutError.
//
// # Recommended Order
//
//	r.Use(
//	    middlewares.RequestID(),
//	    middlewares.Recover(middlewares.WithRecoverHandler(renderError)),
//	    middlewares.Timeout(30*time.Second),
//	)
package middlewares
