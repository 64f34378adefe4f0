package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string

	// AuthMode selects how request principals are established: "header"
	// trusts upstream identity headers, "bearer" validates OIDC tokens,
	// "none" disables request auth. The admin key works in every mode.
	AuthMode    string
	AdminAPIKey string

	OIDCIssuerURL        string
	OIDCAudience         string
	OIDCJWKSURL          string
	OIDCClockSkewSeconds int

	AuditChainScope string

	ChallengeTTLSeconds   int
	ChallengeSweepSeconds int

	// TSAURLs is a comma-separated, ordered list of RFC 3161 endpoints.
	TSAURLs              string
	TSATimeoutSeconds    int
	TSADriftWarnSeconds  int
	TimeLocalFallback    bool
	VerifyCacheTTLMillis int

	ReauthRateLimit         int
	ReauthRateWindowSeconds int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PolicyBundlePath string
	UsersFile        string
	ContentDir       string
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:                addr,
		PostgresDSN:             os.Getenv("POSTGRES_DSN"),
		LogLevel:                envDefault("LOG_LEVEL", "info"),
		AuthMode:                envDefault("AUTH_MODE", "header"),
		AdminAPIKey:             os.Getenv("ADMIN_API_KEY"),
		OIDCIssuerURL:           os.Getenv("OIDC_ISSUER_URL"),
		OIDCAudience:            os.Getenv("OIDC_AUDIENCE"),
		OIDCJWKSURL:             os.Getenv("OIDC_JWKS_URL"),
		OIDCClockSkewSeconds:    envIntDefault("OIDC_CLOCK_SKEW_SECONDS", 30),
		AuditChainScope:         envDefault("AUDIT_CHAIN_SCOPE", "global"),
		ChallengeTTLSeconds:     envIntDefault("CHALLENGE_TTL_SECONDS", 300),
		ChallengeSweepSeconds:   envIntDefault("CHALLENGE_SWEEP_SECONDS", 600),
		TSAURLs:                 os.Getenv("TSA_URLS"),
		TSATimeoutSeconds:       envIntDefault("TSA_TIMEOUT_SECONDS", 5),
		TSADriftWarnSeconds:     envIntDefault("TSA_DRIFT_WARN_SECONDS", 30),
		TimeLocalFallback:       envBoolDefault("TIME_LOCAL_FALLBACK", false),
		VerifyCacheTTLMillis:    envIntDefault("VERIFY_CACHE_TTL_MILLIS", 30000),
		ReauthRateLimit:         envIntDefault("REAUTH_RATE_LIMIT", 5),
		ReauthRateWindowSeconds: envIntDefault("REAUTH_RATE_WINDOW_SECONDS", 900),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 envIntDefault("REDIS_DB", 0),
		PolicyBundlePath:        os.Getenv("POLICY_BUNDLE_PATH"),
		UsersFile:               os.Getenv("USERS_FILE"),
		ContentDir:              os.Getenv("CONTENT_DIR"),
	}
}

func (c Config) OIDCClockSkew() time.Duration {
	return time.Duration(c.OIDCClockSkewSeconds) * time.Second
}

func (c Config) ChallengeTTL() time.Duration {
	return time.Duration(c.ChallengeTTLSeconds) * time.Second
}

func (c Config) ChallengeSweepInterval() time.Duration {
	return time.Duration(c.ChallengeSweepSeconds) * time.Second
}

func (c Config) TSATimeout() time.Duration {
	return time.Duration(c.TSATimeoutSeconds) * time.Second
}

func (c Config) TSADriftWarn() time.Duration {
	return time.Duration(c.TSADriftWarnSeconds) * time.Second
}

func (c Config) VerifyCacheTTL() time.Duration {
	return time.Duration(c.VerifyCacheTTLMillis) * time.Millisecond
}

func (c Config) ReauthRateWindow() time.Duration {
	return time.Duration(c.ReauthRateWindowSeconds) * time.Second
}

// TSAServerList splits TSA_URLS preserving the configured failover order.
func (c Config) TSAServerList() []string {
	if strings.TrimSpace(c.TSAURLs) == "" {
		return nil
	}
	parts := strings.Split(c.TSAURLs, ",")
	servers := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			servers = append(servers, trimmed)
		}
	}
	return servers
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}
