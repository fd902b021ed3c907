// Package session persists the credential pair and the cached user snapshot, and
// defines the session data model shared by the rest of the module.
//
// # Storage slots
//
// A [TokenStore] owns a small fixed set of named slots in a [Backend]: the access
// token, the refresh token and the user snapshot. A fourth, legacy slot ("token")
// duplicated the access token in older releases. It is read through a single
// compatibility path in [TokenStore.Load], promoted into the canonical slot and
// never written again.
//
// # Atomicity
//
// Both tokens are written with one [Backend.SetMany] call while the store's write
// lock is held, so no reader observes one updated token next to a stale one. Every
// write bumps a generation counter; [TokenStore.StoreIfGeneration] lets a renewal
// that started before a logout discard its result instead of resurrecting the
// session.
//
// # What this package must NOT do
//
//   - Talk to the authentication server or decide when to renew.
//   - Propagate storage failures. The backing store is treated as infallible;
//     failures are logged and reads degrade to "absent".
//   - Import goAuthClient, refresh, authorizer or bootstrap (no upward imports).
package session
