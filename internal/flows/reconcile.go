package flows

import (
	"context"

	"github.com/MrEthical07/goAuthClient/session"
)

// ReconcileDeps captures reconciliation flow dependencies.
type ReconcileDeps struct {
	Verify   func(ctx context.Context, accessToken string) (session.User, error)
	IsDenied func(error) bool
	// Refresh is the coordinated renewal entry point, used once when the
	// server denies the current token.
	Refresh func(ctx context.Context) (string, error)
}

// ReconcileResult reports the server's view of the identity. Changed is set
// when it differs from the snapshot the caller passed in.
type ReconcileResult struct {
	User     session.User
	Changed  bool
	Renewed  bool
	Token    string
	Attempts int
	Err      error
}

// RunReconcile verifies accessToken against the server. A denial triggers one
// coordinated refresh followed by one more verification; nothing loops.
func RunReconcile(ctx context.Context, accessToken string, current session.User, deps ReconcileDeps) ReconcileResult {
	res := ReconcileResult{Token: accessToken}

	u, err := deps.Verify(ctx, accessToken)
	res.Attempts++
	if err != nil && deps.IsDenied != nil && deps.IsDenied(err) && deps.Refresh != nil {
		renewed, refreshErr := deps.Refresh(ctx)
		if refreshErr != nil {
			res.Err = refreshErr
			return res
		}
		res.Renewed = true
		res.Token = renewed
		u, err = deps.Verify(ctx, renewed)
		res.Attempts++
	}
	if err != nil {
		res.Err = err
		return res
	}

	res.User = u
	res.Changed = u != current
	return res
}
