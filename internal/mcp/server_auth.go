package mcp

import (
	"net/http"
	"strings"

	logSDK "github.com/Laisky/go-utils/v6/log"

	"github.com/Laisky/codepatch/library"
)

// withAuthorizationHeaderNormalization copies a token passed as a query
// parameter into the Authorization header, for clients that cannot set headers.
func withAuthorizationHeaderNormalization(next http.Handler, logger logSDK.Logger) http.Handler {
	if next == nil {
		return nil
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
			if token := tokenFromQuery(r); token != "" {
				r.Header.Set("Authorization", "Bearer "+token)
				if logger != nil {
					logger.Debug("normalized query token into authorization header")
				}
			}
		}

		next.ServeHTTP(w, r)
	})
}

// tokenFromQuery returns the first non-empty token query parameter.
func tokenFromQuery(r *http.Request) string {
	if r == nil || r.URL == nil {
		return ""
	}

	query := r.URL.Query()
	for _, key := range []string{"token", "access_token"} {
		if token := library.StripBearerPrefix(query.Get(key)); token != "" {
			return token
		}
	}
	return ""
}
