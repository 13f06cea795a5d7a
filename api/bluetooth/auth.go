package bluetooth

import (
	"context"
	"time"

	"github.com/bluetuith-org/handsfree/api/errorkinds"
)

// ConnectionAuthorizer decides whether a newly connected peer may keep its link.
// Returning an error refuses the connection.
type ConnectionAuthorizer interface {
	AuthorizeConnection(timeout AuthTimeout, address MacAddress) error
}

// AuthorizerFunc adapts a function to the ConnectionAuthorizer interface.
type AuthorizerFunc func(timeout AuthTimeout, address MacAddress) error

// AuthorizeConnection calls f.
func (f AuthorizerFunc) AuthorizeConnection(timeout AuthTimeout, address MacAddress) error {
	return f(timeout, address)
}

// AuthTimeout describes an authorization timeout duration.
// The context value is created with 'context.WithTimeout()'.
type AuthTimeout struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewAuthTimeout returns a new authorization timeout token.
func NewAuthTimeout(timeout time.Duration) AuthTimeout {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	return AuthTimeout{ctx, cancel}
}

// Context returns the inner context.
func (a AuthTimeout) Context() context.Context {
	return a.ctx
}

// Done returns the inner context's Done() channel.
func (a AuthTimeout) Done() <-chan struct{} {
	return a.ctx.Done()
}

// Cancel cancels the inner context.
func (a AuthTimeout) Cancel() {
	a.cancel()
}

// DefaultAuthorizer accepts every connection.
type DefaultAuthorizer struct{}

// AuthorizeConnection accepts all connections.
func (DefaultAuthorizer) AuthorizeConnection(AuthTimeout, MacAddress) error {
	return nil
}

// AllowList only accepts the listed peers. An empty list accepts every peer.
type AllowList []MacAddress

// AuthorizeConnection accepts the peer if it is listed.
func (a AllowList) AuthorizeConnection(_ AuthTimeout, address MacAddress) error {
	if len(a) == 0 {
		return nil
	}

	for _, allowed := range a {
		if allowed == address {
			return nil
		}
	}

	return errorkinds.ErrConnectionRefused
}
