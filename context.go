package goAuthClient

import (
	"context"

	"github.com/MrEthical07/goAuthClient/authorizer"
)

// WithPublicEndpoint marks requests made with ctx as public: they are sent
// without a session instead of failing with [ErrNoSession], and carry a token
// only when a valid one is already stored.
//
//	client.HTTPClient().Do(req.WithContext(goAuthClient.WithPublicEndpoint(ctx)))
func WithPublicEndpoint(ctx context.Context) context.Context {
	return authorizer.WithPublicEndpoint(ctx)
}
