// Package middleware gates local HTTP handlers on the client's shared session
// record, for processes that serve their own routes next to the outbound client
// (a backend-for-frontend, a local callback server, an admin port).
//
// # Guards
//
//   - [RequireSession] admits requests only while a session is authenticated.
//   - [RequireRole] additionally checks the role of the cached user.
//
// Each guard reads one snapshot from a [StateSource] and injects it into the
// request context, so the handler sees exactly the record the decision was
// made on. Use [StateFromContext] to read it back.
//
// # Architecture boundaries
//
// Guards never touch credentials and never trigger renewal. Outbound requests
// go through the client's transport; these guards only answer for inbound ones.
package middleware
