// Package flows contains pure-function orchestrators for the credential lifecycle.
//
// Each flow (RunRenewal, PlanBootstrap, RunReconcile) accepts a typed dependency
// struct and returns a tagged result instead of chaining callbacks. Callers
// branch on the result's failure kind and map it to their own sentinels.
//
// # Architecture boundaries
//
// Flows coordinate the token store, the authentication server client and the
// codec. They do NOT own any of these resources; ownership stays with the
// refresh coordinator and the bootstrapper.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goAuthClient, refresh or bootstrap (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency interfaces.
package flows
