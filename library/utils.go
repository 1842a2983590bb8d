// Package library contains helper functions
package library

import "strings"

const bearerPrefix = "bearer "

// StripBearerPrefix returns the token of an Authorization header value,
// dropping any number of case-insensitive "Bearer " prefixes.
func StripBearerPrefix(header string) string {
	value := strings.TrimSpace(header)
	for len(value) >= len(bearerPrefix) && strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
		value = strings.TrimSpace(value[len(bearerPrefix):])
	}
	return value
}
