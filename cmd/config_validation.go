package cmd

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"

	"github.com/Laisky/codepatch/internal/library/kms"
	"github.com/Laisky/codepatch/internal/patch/store"
)

// configGetter retrieves raw configuration values by dotted key path.
type configGetter func(key string) any

// validateStartupConfig validates the shared configuration before any
// service is constructed.
func validateStartupConfig() error {
	return validateStartupConfigWithGetter(func(key string) any {
		return gconfig.S.Get(key)
	})
}

// validateStartupConfigWithGetter checks every known key reachable through get.
// Unset keys are skipped; all problems are reported in one error.
func validateStartupConfigWithGetter(get configGetter) error {
	if get == nil {
		return errors.New("config getter is nil")
	}

	c := &configCheck{get: get}
	c.database()
	c.backups()
	c.archive()
	c.llm()
	c.rateLimit()
	c.intAtLeast("settings.db.redis.db", 0)
	for _, tool := range []string{"apply", "rollback", "parse", "generate"} {
		c.boolean("settings.codepatch.mcp.tools." + tool + ".enabled")
	}
	c.web()

	if len(c.problems) == 0 {
		return nil
	}

	return errors.Errorf("invalid configuration:\n - %s", strings.Join(c.problems, "\n - "))
}

// configCheck accumulates problems found in optional configuration keys.
type configCheck struct {
	get      configGetter
	problems []string
}

func (c *configCheck) reject(format string, args ...any) {
	c.problems = append(c.problems, fmt.Sprintf(format, args...))
}

func (c *configCheck) database() {
	c.oneOf("settings.codepatch.db.driver", store.DriverSQLite, store.DriverPostgres)
	c.nonEmpty("settings.codepatch.db.dsn")
	c.intAtLeast("settings.codepatch.store.lock_timeout_ms", 1)
	c.intAtLeast("settings.codepatch.store.snapshot_cache_size", 1)
	c.nonEmpty("settings.codepatch.eventlog.dsn")
}

func (c *configCheck) backups() {
	c.intAtLeast("settings.codepatch.backup.max_per_project", 0)
	c.intAtLeast("settings.codepatch.backup.retention_days", 0)
	c.intAtLeast("settings.codepatch.backup.prune_interval_seconds", 1)
}

// archive requires connection fields only once the archive is enabled.
func (c *configCheck) archive() {
	c.boolean("settings.codepatch.archive.use_ssl")
	c.encryptionKeys("settings.codepatch.archive.encryption_keys")

	enabled, ok := c.boolean("settings.codepatch.archive.enabled")
	if !ok || !enabled {
		return
	}

	endpoint, _ := c.get("settings.codepatch.archive.endpoint").(string)
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" || strings.Contains(endpoint, "/") {
		c.reject("settings.codepatch.archive.endpoint must be a host[:port] when the archive is enabled")
	}
	c.nonEmpty("settings.codepatch.archive.bucket")
}

func (c *configCheck) llm() {
	c.absoluteURL("settings.codepatch.llm.base_url")
	c.nonEmpty("settings.codepatch.llm.model")
	c.intAtLeast("settings.codepatch.llm.timeout_ms", 1000)
	c.intAtLeast("settings.codepatch.llm.max_output_tokens", 1)
}

func (c *configCheck) rateLimit() {
	c.oneOf("settings.codepatch.ratelimit.backend", "sql", "redis")
	c.intAtLeast("settings.codepatch.ratelimit.requests_per_window", 1)
	c.intAtLeast("settings.codepatch.ratelimit.window_seconds", 1)
	c.intAtLeast("settings.codepatch.ratelimit.breaker_threshold", 1)
	c.intAtLeast("settings.codepatch.ratelimit.breaker_cooldown_seconds", 1)
}

func (c *configCheck) web() {
	c.intAtLeast("settings.web.shutdown_timeout_seconds", 1)

	raw := c.get("settings.web.jwt_secret")
	if raw == nil {
		return
	}
	if secret, ok := raw.(string); !ok || len(strings.TrimSpace(secret)) < 16 {
		c.reject("settings.web.jwt_secret must be at least 16 characters")
	}
}

// boolean reports the parsed value of key and whether it was set and valid.
func (c *configCheck) boolean(key string) (value, ok bool) {
	raw := c.get(key)
	if raw == nil {
		return false, false
	}
	if value, ok = asBool(raw); !ok {
		c.reject("%s must be a boolean", key)
	}
	return value, ok
}

func (c *configCheck) intAtLeast(key string, min int) {
	raw := c.get(key)
	if raw == nil {
		return
	}

	value, err := asInt(raw)
	switch {
	case err != nil:
		c.reject("%s must be an integer", key)
	case value < min:
		c.reject("%s must be >= %d", key, min)
	}
}

func (c *configCheck) nonEmpty(key string) {
	raw := c.get(key)
	if raw == nil {
		return
	}
	if value, ok := raw.(string); !ok || strings.TrimSpace(value) == "" {
		c.reject("%s must be a non-empty string", key)
	}
}

func (c *configCheck) absoluteURL(key string) {
	raw := c.get(key)
	if raw == nil {
		return
	}

	value, _ := raw.(string)
	parsed, err := url.Parse(strings.TrimSpace(value))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		c.reject("%s must be an absolute URL", key)
	}
}

// oneOf matches a string key against allowed, ignoring case.
func (c *configCheck) oneOf(key string, allowed ...string) {
	raw := c.get(key)
	if raw == nil {
		return
	}

	if value, ok := raw.(string); ok {
		value = strings.ToLower(strings.TrimSpace(value))
		for _, candidate := range allowed {
			if value == candidate {
				return
			}
		}
	}
	c.reject("%s must be one of %s", key, strings.Join(allowed, ", "))
}

// encryptionKeys checks "id:secret" entries the archive sealer accepts.
func (c *configCheck) encryptionKeys(key string) {
	var entries []string
	switch v := c.get(key).(type) {
	case nil:
		return
	case []string:
		entries = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				c.reject("%s must be a list of id:secret strings", key)
				return
			}
			entries = append(entries, s)
		}
	default:
		c.reject("%s must be a list of id:secret strings", key)
		return
	}

	if len(entries) == 0 {
		return
	}
	keks, err := kms.ParseKEKs(entries)
	if err == nil {
		_, err = kms.NewSealer(keks)
	}
	if err != nil {
		c.reject("%s: %v", key, err)
	}
}

// asBool accepts booleans, whole numbers and the usual yes/no spellings.
func asBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true, true
		case "false", "0", "no", "off":
			return false, true
		}
		return false, false
	}

	n, err := asInt(value)
	if err != nil {
		return false, false
	}
	return n != 0, true
}

// asInt accepts integer types, integral floats and numeric strings.
func asInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if math.Trunc(v) != v {
			return 0, errors.Errorf("%v is not an integer", v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, errors.Wrapf(err, "parse %q", v)
		}
		return n, nil
	default:
		return 0, errors.Errorf("unsupported int type %T", value)
	}
}
