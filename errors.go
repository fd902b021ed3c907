package goAuthClient

import (
	"errors"

	"github.com/MrEthical07/goAuthClient/authapi"
	"github.com/MrEthical07/goAuthClient/authorizer"
	"github.com/MrEthical07/goAuthClient/refresh"
)

// Errors returned by [Client] methods and by requests sent through
// [Client.HTTPClient]. Compare with errors.Is; most are wrapped.
var (
	// ErrRefreshUnavailable: no refresh token, or it has expired. Fatal; no network call was made.
	ErrRefreshUnavailable = refresh.ErrRefreshUnavailable
	// ErrRefreshFailed: the server definitively refused the refresh token. Fatal.
	ErrRefreshFailed = refresh.ErrRefreshFailed
	// ErrRefreshNetwork: renewal got no usable answer. Credentials are kept; retrying is the caller's call.
	ErrRefreshNetwork = refresh.ErrRefreshNetwork
	// ErrSessionClosed: a logout or a new login landed while renewal was in flight.
	ErrSessionClosed = refresh.ErrSessionClosed
	// ErrNoSession: a protected request or Token call without any credentials.
	ErrNoSession = authorizer.ErrNoSession
	// ErrAuthentication: a request was aborted because no valid token could be obtained.
	ErrAuthentication = authorizer.ErrAuthentication
	// ErrDenied: the server refused a bearer token during verification.
	ErrDenied = authapi.ErrDenied

	// ErrAuthorizationDenied is emitted with the session_expired event when a
	// replayed request is denied again.
	ErrAuthorizationDenied = errors.New("authorization denied after replay")
	// ErrClientNotReady is returned by methods called on a closed or unbuilt client.
	ErrClientNotReady = errors.New("client not ready")
	// ErrInvalidCredentials is returned by Establish for an unusable pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
