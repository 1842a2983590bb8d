package config

import (
	"fmt"
	"strings"

	gconfig "github.com/Laisky/go-config/v2"
)

// Int reads an int configuration value with a default fallback.
func Int(key string, def int) int {
	return int(Int64(key, int64(def)))
}

// Int64 reads an int64 configuration value with a default fallback.
func Int64(key string, def int64) int64 {
	switch v := gconfig.S.Get(key).(type) {
	case nil:
		return def
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return def
		}
		var parsed int64
		if _, err := fmt.Sscanf(trimmed, "%d", &parsed); err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// Bool reads a boolean configuration value with a default fallback.
func Bool(key string, def bool) bool {
	switch v := gconfig.S.Get(key).(type) {
	case nil:
		return def
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		default:
			return def
		}
	default:
		return def
	}
}

// Float reads a float64 configuration value with a default fallback.
func Float(key string, def float64) float64 {
	switch v := gconfig.S.Get(key).(type) {
	case nil:
		return def
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return def
		}
		var parsed float64
		if _, err := fmt.Sscanf(trimmed, "%f", &parsed); err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// String reads a trimmed string configuration value with a default fallback.
func String(key, def string) string {
	if value := strings.TrimSpace(gconfig.S.GetString(key)); value != "" {
		return value
	}
	return def
}

// StringSlice reads a list value. A comma separated string is also accepted.
func StringSlice(key string, def []string) []string {
	var out []string
	switch v := gconfig.S.Get(key).(type) {
	case nil:
		return def
	case []string:
		out = v
	case []any:
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
	case string:
		out = strings.Split(v, ",")
	default:
		return def
	}

	cleaned := make([]string, 0, len(out))
	for _, item := range out {
		if item = strings.TrimSpace(item); item != "" {
			cleaned = append(cleaned, item)
		}
	}
	if len(cleaned) == 0 {
		return def
	}
	return cleaned
}
