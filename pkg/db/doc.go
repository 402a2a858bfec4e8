// Package db wraps pgxpool for the delivery engine: pooled connections with
// startup retry, goose migrations from an embedded filesystem, transactions
// and a readiness check.
//
// Configuration is read from the environment through [Config]:
//
//	DATABASE_URL                - PostgreSQL connection URL (required)
//	DATABASE_MAX_OPEN_CONNS     - Maximum open connections (default: 20)
//	DATABASE_MIN_CONNS          - Minimum idle connections (default: 2)
//	DATABASE_HEALTHCHECK_PERIOD - Pool health check interval (default: 1m)
//	DATABASE_MAX_CONN_IDLE_TIME - Maximum connection idle time (default: 10m)
//	DATABASE_MAX_CONN_LIFETIME  - Maximum connection lifetime (default: 30m)
//	DATABASE_RETRY_ATTEMPTS     - Connection retry attempts (default: 3)
//	DATABASE_RETRY_INTERVAL     - Base retry interval (default: 2s)
//	DATABASE_MIGRATIONS_TABLE   - goose version table (default: newsletter_schema_migrations)
//
// Typical startup:
//
//	pool, err := db.Connect(ctx, cfg.Database)
//	if err != nil {
//		return err
//	}
//	if err := db.Migrate(ctx, pool, store.Migrations, cfg.Database.MigrationsTable, log); err != nil {
//		return err
//	}
//
// The pool size bounds the number of concurrent ticket writes, so keep
// DATABASE_MAX_OPEN_CONNS at or above the delivery batch size.
package db
