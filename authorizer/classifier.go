package authorizer

import (
	"context"
	"net/http"
	"strings"
)

// Classifier decides whether a request targets a public endpoint. Public
// endpoints proceed unauthenticated when there is no session.
type Classifier interface {
	Public(req *http.Request) bool
}

// ClassifierFunc adapts a function to [Classifier].
type ClassifierFunc func(req *http.Request) bool

func (f ClassifierFunc) Public(req *http.Request) bool { return f(req) }

// PrefixClassifier marks paths public by prefix. A prefix matches whole path
// segments only: "/api/public" matches "/api/public/items" but not "/api/publicity".
type PrefixClassifier struct {
	prefixes []string
}

// NewPrefixClassifier ignores blank prefixes and trailing slashes.
func NewPrefixClassifier(prefixes ...string) PrefixClassifier {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimRight(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		out = append(out, p)
	}
	return PrefixClassifier{prefixes: out}
}

func (c PrefixClassifier) Public(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	path := req.URL.Path
	for _, p := range c.prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

type publicEndpointKey struct{}

// WithPublicEndpoint marks every request made with ctx as public, regardless
// of the configured classifier.
func WithPublicEndpoint(ctx context.Context) context.Context {
	return context.WithValue(ctx, publicEndpointKey{}, true)
}

func publicFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(publicEndpointKey{}).(bool)
	return v
}
