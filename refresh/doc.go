// Package refresh keeps the access token renewed.
//
// # Single flight
//
// [Coordinator.Refresh] is the only renewal entry point. Concurrent callers
// share one in-flight attempt (golang.org/x/sync/singleflight), so at most one
// renewal request is ever on the wire. The attempt runs on a detached context
// bounded by a timeout: a caller that stops waiting never cancels it.
//
// # Proactive renewal
//
// [Scheduler] polls the stored access token on a fixed interval and calls the
// same Coordinator.Refresh when the remaining lifetime is positive but below
// the low-water mark. It is started and stopped explicitly by whoever owns the
// session lifecycle.
//
// # Architecture boundaries
//
// This package maps renewal outcomes to errors and hooks. The linear renewal
// sequence lives in internal/flows; persistence lives in session.
//
// # What this package must NOT do
//
//   - Retry a failed renewal on its own.
//   - Clear credentials on transient failures.
//   - Import goAuthClient, authorizer or bootstrap.
package refresh
