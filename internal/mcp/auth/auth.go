// Package auth resolves the caller of an MCP or HTTP request from its
// bearer token.
package auth

import (
	"context"
	"strings"

	errors "github.com/Laisky/errors/v2"

	"github.com/Laisky/codepatch/internal/mcp/ctxkeys"
	"github.com/Laisky/codepatch/library"
	"github.com/Laisky/codepatch/library/jwt"
)

var (
	// ErrMissingAuthorization indicates that no authorization header was provided.
	ErrMissingAuthorization = errors.New("authorization header required")
	// ErrInvalidAuthorization indicates that the token did not verify.
	ErrInvalidAuthorization = errors.New("invalid authorization header")
)

// TokenParser verifies a bearer token.
type TokenParser interface {
	Parse(token string) (*jwt.UserClaims, error)
}

// Context is the verified identity of a caller.
type Context struct {
	UserID   string
	Username string
}

// ParseAuthorizationContext verifies an Authorization header value.
func ParseAuthorizationContext(header string, parser TokenParser) (*Context, error) {
	if strings.TrimSpace(header) == "" {
		return nil, ErrMissingAuthorization
	}
	token := library.StripBearerPrefix(header)
	if token == "" || parser == nil {
		return nil, ErrInvalidAuthorization
	}

	claims, err := parser.Parse(token)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidAuthorization, err.Error())
	}

	return &Context{UserID: claims.Subject, Username: claims.Username}, nil
}

// WithContext stores authorization context on a request context.
func WithContext(ctx context.Context, auth *Context) context.Context {
	if ctx == nil || auth == nil {
		return ctx
	}

	return context.WithValue(ctx, ctxkeys.AuthContext, auth)
}

// FromContext retrieves authorization context from a request context.
func FromContext(ctx context.Context) (*Context, bool) {
	if ctx == nil {
		return nil, false
	}

	auth, ok := ctx.Value(ctxkeys.AuthContext).(*Context)
	if !ok || auth == nil {
		return nil, false
	}

	return auth, true
}
