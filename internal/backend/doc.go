// Package backend opens the external services session stores and locks
// run on: PostgreSQL through a pgx pool, SQLite files, Redis and MongoDB.
//
// Every Connect function retries with a growing delay so a server started
// together with its database does not fail on the first refused
// connection, and every service has a health check suitable for a
// readiness endpoint:
//
//	pool, err := backend.ConnectPostgres(ctx, cfg.Postgres)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//	db := backend.PostgresDB(pool)
//	checks := backend.Checks{"postgres": backend.PostgresHealth(pool)}
//	mux.Handle("/healthz", checks.Handler())
package backend
