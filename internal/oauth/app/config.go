package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
	Port      int    // HTTP server port (default: 8080)

	DatabaseFile string // Path to SQLite database file (default: ./regrant.db)

	CacheDriver   string        // Cache backend (memory, redis) (default: memory)
	CacheEnabled  bool          // Token caching on/off (default: on)
	RedisAddr     string        // Redis address (redis driver only)
	RedisPassword string        // Redis password (optional)
	RedisDB       int           // Redis database index
	CachePrefix   string        // Cache key namespace (default: regrant)
	CacheTTL      time.Duration // Default cache entry TTL (default: 15m)
	CacheTimeout  time.Duration // Post-commit cache sync timeout (default: 5s)

	StoreTimeout time.Duration // Persistence commit timeout (default: 10s)

	AccessTokenValidity  time.Duration // Global access-token validity; 0 = never expires
	RefreshTokenValidity time.Duration // Global refresh-token validity (default: 24h)
	RenewRefreshToken    bool          // Rotate refresh-token values (default: true)
	ExtendRenewedExpiry  bool          // Restart the expiry clock on renewal (default: true)
	MinRemainingValidity time.Duration // Expiry safety margin (default: 1s)
	TokenLookbackLimit   int           // Latest-token search bound (default: 10)

	IssuerName       string // Issuer claim for JWT access tokens
	JWTSigningSecret string // Optional: enables the JWT issuer when set

	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
	InactiveRetention    time.Duration // How long rotated-away records are kept (default: 30 days)
}

func LoadConfig() Config {
	return Config{
		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
		Port:      getEnvIntOrDefault("PORT", 8080),

		DatabaseFile: getEnvOrDefault("REGRANT_DATABASE_FILE", "regrant.db"),

		CacheDriver:   getEnvOrDefault("REGRANT_CACHE_DRIVER", "memory"),
		CacheEnabled:  getEnvBoolOrDefault("REGRANT_CACHE_ENABLED", true),
		RedisAddr:     getEnvOrDefault("REGRANT_REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REGRANT_REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("REGRANT_REDIS_DB", 0),
		CachePrefix:   getEnvOrDefault("REGRANT_CACHE_PREFIX", "regrant"),
		CacheTTL:      getEnvDurationOrDefault("REGRANT_CACHE_TTL", 15*time.Minute),
		CacheTimeout:  getEnvDurationOrDefault("REGRANT_CACHE_TIMEOUT", 5*time.Second),

		StoreTimeout: getEnvDurationOrDefault("REGRANT_STORE_TIMEOUT", 10*time.Second),

		AccessTokenValidity:  getEnvDurationOrDefault("REGRANT_ACCESS_TOKEN_VALIDITY", time.Hour),
		RefreshTokenValidity: getEnvDurationOrDefault("REGRANT_REFRESH_TOKEN_VALIDITY", 24*time.Hour),
		RenewRefreshToken:    getEnvBoolOrDefault("REGRANT_RENEW_REFRESH_TOKEN", true),
		ExtendRenewedExpiry:  getEnvBoolOrDefault("REGRANT_EXTEND_RENEWED_EXPIRY", true),
		MinRemainingValidity: getEnvDurationOrDefault("REGRANT_MIN_REMAINING_VALIDITY", time.Second),
		TokenLookbackLimit:   getEnvIntOrDefault("REGRANT_TOKEN_LOOKBACK_LIMIT", 10),

		IssuerName:       getEnvOrDefault("REGRANT_ISSUER", "regrant"),
		JWTSigningSecret: os.Getenv("REGRANT_JWT_SIGNING_SECRET"),

		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
		InactiveRetention:    getEnvDurationOrDefault("REGRANT_INACTIVE_RETENTION", 30*24*time.Hour),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Plain integers are read as minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
