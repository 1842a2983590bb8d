// Package ctxkeys names the context values shared across request handlers.
package ctxkeys

// Key identifies a context value propagated across services.
type Key string

const (
	// Logger stores the per-request logger within tool contexts.
	Logger Key = "codepatch_logger"
	// AuthContext stores the verified caller of a request.
	AuthContext Key = "codepatch_auth_context"
)
