package authorizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/token"
	"github.com/google/uuid"
)

var (
	// ErrNoSession means a protected request was attempted with no credentials.
	ErrNoSession = errors.New("no session for protected endpoint")
	// ErrAuthentication means a valid token could not be obtained for the request.
	// It wraps the renewal error.
	ErrAuthentication = errors.New("authentication failed")
)

// DefaultRequestIDHeader carries a per-request id, kept identical on replay.
const DefaultRequestIDHeader = "X-Request-ID"

const maxDrainBytes = 64 << 10

// TokenSource reads the persisted pair.
type TokenSource interface {
	Load(ctx context.Context) (session.Credentials, bool)
}

// Refresher is the coordinated renewal entry point.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Hooks observe authorization outcomes. All fields are optional.
type Hooks struct {
	// OnRenewBeforeSend fires when the stored token was unusable before sending.
	OnRenewBeforeSend func()
	// OnReplay fires when a denied request is replayed.
	OnReplay func()
	// OnDenied fires when the replay was denied too. access is the token the
	// replay carried.
	OnDenied func(req *http.Request, access string)
	// OnRejected fires when a request is aborted before reaching the network.
	OnRejected func(err error)
}

// Options configures a [Transport].
type Options struct {
	// Base performs the actual round trip. Nil means http.DefaultTransport.
	Base       http.RoundTripper
	Source     TokenSource
	Refresher  Refresher
	Classifier Classifier
	// RequestIDHeader defaults to DefaultRequestIDHeader.
	RequestIDHeader string
	Logger          *slog.Logger
	Now             func() time.Time
	Hooks           Hooks
}

// Transport is safe for concurrent use.
type Transport struct {
	base       http.RoundTripper
	source     TokenSource
	refresher  Refresher
	classifier Classifier
	idHeader   string
	logger     *slog.Logger
	now        func() time.Time
	hooks      Hooks
}

// New builds a transport. Source and Refresher are required.
func New(opts Options) (*Transport, error) {
	if opts.Source == nil || opts.Refresher == nil {
		return nil, errors.New("authorizer: token source and refresher are required")
	}
	if opts.Base == nil {
		opts.Base = http.DefaultTransport
	}
	if opts.Classifier == nil {
		opts.Classifier = NewPrefixClassifier()
	}
	if opts.RequestIDHeader == "" {
		opts.RequestIDHeader = DefaultRequestIDHeader
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Transport{
		base:       opts.Base,
		source:     opts.Source,
		refresher:  opts.Refresher,
		classifier: opts.Classifier,
		idHeader:   opts.RequestIDHeader,
		logger:     opts.Logger,
		now:        opts.Now,
		hooks:      opts.Hooks,
	}, nil
}

// RoundTrip implements http.RoundTripper. The caller's request is never
// modified; each attempt is sent as a clone.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	public := publicFromContext(ctx) || t.classifier.Public(req)

	requestID := req.Header.Get(t.idHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	access, err := t.resolve(ctx, public)
	if err != nil {
		if t.hooks.OnRejected != nil {
			t.hooks.OnRejected(err)
		}
		closeBody(req)
		return nil, err
	}

	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	replayed := false
	for {
		resp, err := t.send(req, getBody, access, requestID)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized || access == "" || public {
			return resp, nil
		}
		if replayed {
			t.logger.Warn("goAuthClient: request denied after replay", "method", req.Method, "path", req.URL.Path, "request_id", requestID)
			if t.hooks.OnDenied != nil {
				t.hooks.OnDenied(req, access)
			}
			return resp, nil
		}

		replayed = true
		drain(resp)
		access, err = t.renewed(ctx, access)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrAuthentication, err)
			if t.hooks.OnRejected != nil {
				t.hooks.OnRejected(err)
			}
			return nil, err
		}
		if t.hooks.OnReplay != nil {
			t.hooks.OnReplay()
		}
	}
}

// renewed returns the token to replay with after denied was refused. A
// renewal that completed while this request was in flight has already
// replaced the stored token, so that one is used without another round trip.
func (t *Transport) renewed(ctx context.Context, denied string) (string, error) {
	if creds, ok := t.source.Load(ctx); ok && creds.AccessToken != denied && token.IsValid(creds.AccessToken, t.now()) {
		return creds.AccessToken, nil
	}
	return t.refresher.Refresh(ctx)
}

// resolve returns the token to attach, or "" for an unauthenticated public call.
func (t *Transport) resolve(ctx context.Context, public bool) (string, error) {
	creds, ok := t.source.Load(ctx)
	if public {
		// Public endpoints get a token only when one is already usable.
		if ok && token.IsValid(creds.AccessToken, t.now()) {
			return creds.AccessToken, nil
		}
		return "", nil
	}
	if !ok {
		return "", ErrNoSession
	}
	if token.IsValid(creds.AccessToken, t.now()) {
		return creds.AccessToken, nil
	}

	if t.hooks.OnRenewBeforeSend != nil {
		t.hooks.OnRenewBeforeSend()
	}
	access, err := t.refresher.Refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return access, nil
}

func (t *Transport) send(req *http.Request, getBody func() (io.ReadCloser, error), access, requestID string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
		out.GetBody = getBody
	}
	if access != "" {
		out.Header.Set("Authorization", "Bearer "+access)
	}
	out.Header.Set(t.idHeader, requestID)
	return t.base.RoundTrip(out)
}

// replayableBody returns a body factory for every attempt, buffering the
// original body when the request cannot rewind it itself.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		_ = req.Body.Close()
		return req.GetBody, nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("authorizer: buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	_ = resp.Body.Close()
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
