package config

import (
	"strings"
	"time"
)

// maxAuditCacheTTL bounds how stale a cached audit query may be.
const maxAuditCacheTTL = time.Minute

// CacheConfig configures the Redis response cache in front of the audit
// query endpoint.  Caching is off when Enabled is false or Redis is
// unavailable.
type CacheConfig struct {
	Enabled      bool
	Methods      map[string]bool
	TTL          time.Duration
	Prefix       string
	MaxBodyBytes int
}

// LoadCacheConfig reads AUDIT_CACHE_* variables.  Audit entries are
// append-only, so the TTL only delays new entries; it is capped at one
// minute and a non-positive value disables the cache.
func LoadCacheConfig() CacheConfig {
	cfg := CacheConfig{
		Enabled:      envBool("AUDIT_CACHE_ENABLED", true),
		Methods:      methodSet(envStr("AUDIT_CACHE_METHODS", "GET")),
		TTL:          envDur("AUDIT_CACHE_TTL", 5*time.Second),
		Prefix:       envStr("AUDIT_CACHE_PREFIX", "parkline:audit"),
		MaxBodyBytes: envInt("AUDIT_CACHE_MAX_BODY_BYTES", 1<<20),
	}
	if cfg.TTL <= 0 {
		cfg.Enabled = false
	}
	if cfg.TTL > maxAuditCacheTTL {
		cfg.TTL = maxAuditCacheTTL
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return cfg
}

func methodSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, m := range strings.Split(s, ",") {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			set[m] = true
		}
	}
	return set
}
