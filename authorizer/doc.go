// Package authorizer attaches bearer tokens to outgoing requests.
//
// [Transport] is an [http.RoundTripper]. Before sending it makes sure the
// token is valid, renewing through the shared coordinator when it is not.
// After sending it watches for 401: the first denial triggers one coordinated
// renewal and exactly one replay; a denial after the replay is terminal.
//
// # Architecture boundaries
//
// Renewal is delegated to a [Refresher]; this package never writes
// credentials. Session teardown after a terminal denial belongs to the owner
// of the OnDenied hook.
//
// # What this package must NOT do
//
//   - Send a protected request without a token known valid at send time.
//   - Replay a request more than once.
//   - Decide on navigation or user messaging.
package authorizer
