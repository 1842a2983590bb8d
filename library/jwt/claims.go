package jwt

import "github.com/golang-jwt/jwt/v5"

// UserClaims carries the caller identity. Subject is the user id.
type UserClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}
