package auth

import (
	"encoding/json"
	"net/http"

	errors "github.com/Laisky/errors/v2"
)

// UnauthorizedCode is the error code carried by rejected requests.
const UnauthorizedCode = "UNAUTHORIZED"

// HTTPMiddleware rejects requests without a verifiable bearer token and
// attaches the caller to the request context of the rest.
func HTTPMiddleware(parser TokenParser, next http.Handler) http.Handler {
	if next == nil {
		return nil
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := ParseAuthorizationContext(r.Header.Get("Authorization"), parser)
		if err != nil {
			rejectCaller(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), caller)))
	})
}

func rejectCaller(w http.ResponseWriter, err error) {
	challenge := `Bearer realm="codepatch"`
	if !errors.Is(err, ErrMissingAuthorization) {
		challenge += `, error="invalid_token"`
	}

	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":      UnauthorizedCode,
		"error":     err.Error(),
		"retryable": false,
	})
}
