// Package token decodes self-contained bearer tokens and answers expiry questions
// about them without any I/O.
//
// # Token format
//
// Tokens use the header.payload.signature layout. The payload carries at least a
// subject, a role and an expiry. The signature is never checked here: no secret is
// available client-side and signature validation is the server's responsibility.
//
// # Architecture boundaries
//
// This package owns structural decode and the validity predicates used by the
// refresh coordinator, the request authorizer and the bootstrapper. It does not
// store tokens, talk to the network or compensate for clock skew.
//
// # What this package must NOT do
//
//   - Panic or return errors for malformed input. Malformed tokens decode to the
//     invalid tag (ok == false).
//   - Import any other package of this module.
package token
