// Package authapi talks to the authentication server: token renewal, identity
// verification and best-effort revocation.
//
// Every failure is classified so callers can branch on it with errors.Is:
// [ErrRejected] and [ErrDenied] are definitive answers from the server, while
// [ErrUnavailable] and [ErrMalformedResponse] mean no usable answer was obtained.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/token"
)

var (
	// ErrRejected means the server refused the refresh token.
	ErrRejected = errors.New("refresh token rejected")
	// ErrDenied means the server refused the bearer token.
	ErrDenied = errors.New("authorization denied")
	// ErrUnavailable covers transport errors, timeouts, 5xx answers and any
	// 4xx other than 400, 401 and 403.
	ErrUnavailable = errors.New("authentication server unavailable")
	// ErrMalformedResponse means a 2xx answer could not be used.
	ErrMalformedResponse = errors.New("malformed authentication server response")
)

const maxResponseBytes = 1 << 20

// StatusError carries the HTTP status of a failed call. It unwraps to one of
// the package sentinels.
type StatusError struct {
	Op     string
	Status int
	Body   string
	kind   error
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %v (status %d)", e.Op, e.kind, e.Status)
	}
	return fmt.Sprintf("%s: %v (status %d): %s", e.Op, e.kind, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return e.kind }

// Options configures a [Client].
type Options struct {
	BaseURL     string
	RefreshPath string
	VerifyPath  string
	LogoutPath  string
	HTTPClient  *http.Client
	UserAgent   string
}

// Client is safe for concurrent use.
type Client struct {
	base       *url.URL
	refreshURL string
	verifyURL  string
	logoutURL  string
	http       *http.Client
	userAgent  string
}

// Tokens is a renewal result. RefreshToken is empty when the server does not rotate.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// New validates opts and builds a client. Missing paths default to /auth/refresh,
// /auth/verify and /auth/logout.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("authapi: invalid base url %q", opts.BaseURL)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	c := &Client{
		base:      base,
		http:      httpClient,
		userAgent: opts.UserAgent,
	}
	c.refreshURL = c.resolve(opts.RefreshPath, "/auth/refresh")
	c.verifyURL = c.resolve(opts.VerifyPath, "/auth/verify")
	c.logoutURL = c.resolve(opts.LogoutPath, "/auth/logout")
	return c, nil
}

func (c *Client) resolve(path, fallback string) string {
	if strings.TrimSpace(path) == "" {
		path = fallback
	}
	return c.base.JoinPath(path).String()
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken       string `json:"accessToken"`
	AccessTokenSnake  string `json:"access_token"`
	RefreshToken      string `json:"refreshToken"`
	RefreshTokenSnake string `json:"refresh_token"`
}

// Refresh exchanges refreshToken for a new access token.
//
//	Network: POST {base}/auth/refresh {"refreshToken": "..."}
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return Tokens{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.refreshURL, bytes.NewReader(body))
	if err != nil {
		return Tokens{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	data, err := c.do(req, "refresh", ErrRejected)
	if err != nil {
		return Tokens{}, err
	}

	var resp refreshResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Tokens{}, fmt.Errorf("refresh: %w: %v", ErrMalformedResponse, err)
	}
	out := Tokens{
		AccessToken:  firstNonEmpty(resp.AccessToken, resp.AccessTokenSnake),
		RefreshToken: firstNonEmpty(resp.RefreshToken, resp.RefreshTokenSnake),
	}
	if out.AccessToken == "" {
		return Tokens{}, fmt.Errorf("refresh: %w: missing access token", ErrMalformedResponse)
	}
	return out, nil
}

type verifyResponse struct {
	session.User
	Wrapped *session.User `json:"user"`
}

// Verify returns the server's view of the identity behind accessToken.
//
//	Network: GET {base}/auth/verify with a bearer header
func (c *Client) Verify(ctx context.Context, accessToken string) (session.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.verifyURL, nil)
	if err != nil {
		return session.User{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	data, err := c.do(req, "verify", ErrDenied)
	if err != nil {
		return session.User{}, err
	}

	var resp verifyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return session.User{}, fmt.Errorf("verify: %w: %v", ErrMalformedResponse, err)
	}
	u := resp.User
	if resp.Wrapped != nil {
		u = *resp.Wrapped
	}
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return session.User{}, fmt.Errorf("verify: %w: missing user id", ErrMalformedResponse)
	}
	u.Role = token.ParseRole(string(u.Role))
	return u, nil
}

// Logout asks the server to revoke refreshToken. Callers treat failures as
// best-effort: local credentials are cleared regardless.
//
//	Network: POST {base}/auth/logout {"refreshToken": "..."}
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.logoutURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req, "logout", ErrRejected)
	return err
}

func (c *Client) do(req *http.Request, op string, definitive error) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, &StatusError{
		Op:     op,
		Status: resp.StatusCode,
		Body:   strings.TrimSpace(string(truncate(data, 256))),
		kind:   classify(resp.StatusCode, definitive),
	}
}

// classify maps a non-2xx status to a sentinel. Only 400, 401 and 403 speak
// about the credential itself; a 404 or 405 from a misrouted proxy must not
// end a session.
func classify(status int, definitive error) error {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnauthorized, status == http.StatusForbidden:
		return definitive
	case status >= 400:
		return ErrUnavailable
	default:
		return ErrMalformedResponse
	}
}

// IsDefinitive reports whether err is a final answer from the server about the
// presented credential, as opposed to a failure to get an answer.
func IsDefinitive(err error) bool {
	return errors.Is(err, ErrRejected) || errors.Is(err, ErrDenied)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
