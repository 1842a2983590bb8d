package web

import (
	"net/http"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/codepatch/internal/mcp/auth"
)

// authenticate verifies the bearer token and stores the caller on the
// request context. It lets every request through when no verifier is set.
func (s *Server) authenticate(ctx *gin.Context) {
	if s.deps.Tokens == nil {
		ctx.Next()
		return
	}

	authCtx, err := auth.ParseAuthorizationContext(ctx.GetHeader("Authorization"), s.deps.Tokens)
	if err != nil {
		gmw.GetLogger(ctx).Debug("reject unauthenticated request", zap.Error(err))
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	ctx.Request = ctx.Request.WithContext(auth.WithContext(ctx.Request.Context(), authCtx))
	ctx.Next()
}

// callerID returns the authenticated user id, or "" for anonymous requests.
func callerID(ctx *gin.Context) string {
	if authCtx, ok := auth.FromContext(ctx.Request.Context()); ok {
		return authCtx.UserID
	}
	return ""
}
