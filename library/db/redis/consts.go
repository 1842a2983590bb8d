package redis

const (
	keyPrefix = "codepatch/"
	// KeyPrefixThrottle namespaces rate limit and breaker keys.
	KeyPrefixThrottle = keyPrefix + "throttle/"
)
