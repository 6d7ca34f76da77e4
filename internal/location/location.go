// Package location provides location providers for the trip tracker:
// a push feed for clients that report positions, GPX replay, and a fixed
// sequence of positions for single captures.
package location

import (
	"context"
	stderrors "errors"
)

var (
	// ErrDenied reports that the user refused location access.
	ErrDenied = stderrors.New("location access denied")

	// ErrUnavailable reports that no position fix could be obtained.
	ErrUnavailable = stderrors.New("location unavailable")
)

// Authorizer is a static authorization decision shared by the providers.
type Authorizer struct {
	Denied bool
}

// RequestAuthorization returns ErrDenied when access was refused.
func (a *Authorizer) RequestAuthorization(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.Denied {
		return ErrDenied
	}
	return nil
}
