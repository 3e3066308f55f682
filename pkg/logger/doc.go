// Package logger builds *slog.Logger instances for modserve components.
//
// [New] assembles a text or JSON handler from functional options and wraps it
// in [LogHandlerDecorator], which runs registered [ContextExtractor] callbacks
// on every record so request-scoped values (request id, session id) show up
// without threading loggers through every call.
//
//	log := logger.New(
//	    logger.WithEnvironment("production", "modserve"),
//	    logger.WithContextValue("request_id", requestIDKey{}),
//	)
//	log.InfoContext(ctx, "module reloaded", logger.Module(label, path))
//
// Attribute helpers in attr.go keep key names consistent across packages.
package logger
