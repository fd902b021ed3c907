// Package goAuthClient keeps an application signed in against a token-issuing
// authentication server.
//
// A [Client] persists the access/refresh pair, restores it at start-up
// ([Client.Bootstrap]), renews the access token ahead of expiry and on demand
// with at most one renewal request in flight, and authorizes outgoing HTTP
// requests through [Client.HTTPClient], replaying a request once after a 401.
// Every change to the session is published in a single shared record that
// callers read with [Client.State] or follow with [Client.Subscribe].
//
// # Architecture boundaries
//
// goAuthClient is the public surface: [Builder], [Config], [Client] and value
// types. The pieces it wires live in sub-packages that can be used on their
// own: token (unverified claim decoding), session (credential storage),
// state (the shared record), authapi (server calls), refresh (coordinated and
// proactive renewal), authorizer (the round tripper) and bootstrap.
//
// # Failure model
//
// Renewal failures fall into two groups. Definitive answers (the server
// rejects the refresh token, or the refresh token is absent or expired) clear
// the credentials and end the session. Transient ones (transport errors,
// timeouts, 5xx/408/429, unusable responses) keep the credentials and surface
// [ErrRefreshNetwork]; retrying is the caller's decision.
//
// Tokens are never verified locally. Only their expiry and subject are read,
// and the server remains the authority.
package goAuthClient
