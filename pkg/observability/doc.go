// Package observability provides the shared operational surface for the
// service: structured JSON logging (log/slog), Prometheus metrics for HTTP
// traffic, permission checks and the permission cache, and liveness /
// readiness probes for the database and Redis dependencies.
//
// The logger travels through request contexts (see pkg/contextkeys) so
// handlers and authorizers log with the request ID attached:
//
//	log := observability.FromContext(ctx)
//	log.WithField("user_id", user.ID).Info("membership deactivated")
package observability
