// Package httpserver runs the dispatch router together with the
// background work that belongs to it, such as the module watcher and the
// session sweeper, and stops all of it on cancellation or SIGINT/SIGTERM.
//
// Tasks registered with WithTask share a context that is cancelled when the
// listener stops. A task that fails stops the server, so a broken watcher
// does not leave a process serving stale modules unnoticed. Shutdown waits
// for in-flight requests up to the shutdown timeout and then for the tasks.
//
//	srv := httpserver.NewFromConfig(cfg,
//		httpserver.WithLogger(log),
//		httpserver.WithTask("watch", func(ctx context.Context) error {
//			return cache.Watch(ctx, dirs...)
//		}),
//	)
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("server stopped", logger.Error(err))
//	}
//
// Run wraps listen failures with ErrStart and task failures with ErrTask;
// Shutdown wraps http.Server.Shutdown failures with ErrShutdown.
package httpserver
