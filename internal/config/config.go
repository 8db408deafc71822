// Package config loads typed configuration from the environment, following
// the service's established EnvConfig/Validator pattern: accessors read a
// prefixed environment variable with a typed default, and a Validator
// aggregates missing/invalid fields into a single startup error.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig reads prefixed environment variables.
type EnvConfig struct {
	prefix string
}

// NewEnvConfig returns an EnvConfig that builds keys as PREFIX_KEY.
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (e *EnvConfig) buildKey(key string) string {
	if e.prefix == "" {
		return key
	}
	return strings.ToUpper(e.prefix) + "_" + key
}

func (e *EnvConfig) GetString(key, fallback string) string {
	if v := os.Getenv(e.buildKey(key)); v != "" {
		return v
	}
	return fallback
}

func (e *EnvConfig) GetInt(key string, fallback int) int {
	if v := os.Getenv(e.buildKey(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (e *EnvConfig) GetBool(key string, fallback bool) bool {
	if v := os.Getenv(e.buildKey(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func (e *EnvConfig) GetDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(e.buildKey(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// Validator accumulates configuration errors for a single startup report.
type Validator struct {
	errs []string
}

func (v *Validator) RequireString(name, value string) {
	if strings.TrimSpace(value) == "" {
		v.errs = append(v.errs, fmt.Sprintf("%s must not be empty", name))
	}
}

func (v *Validator) RequirePositiveInt(name string, value int) {
	if value <= 0 {
		v.errs = append(v.errs, fmt.Sprintf("%s must be positive, got %d", name, value))
	}
}

func (v *Validator) RequireOneOf(name, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.errs = append(v.errs, fmt.Sprintf("%s must be one of %v, got %q", name, allowed, value))
}

func (v *Validator) IsValid() bool { return len(v.errs) == 0 }

func (v *Validator) Error() error {
	if v.IsValid() {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(v.errs, "; "))
}

// GraphStoreConfig configures the Neo4j connection (spec §1: connection
// parameters for the graph store are out-of-scope collaborator detail, but
// their shape is carried as ambient config per the teacher's convention).
type GraphStoreConfig struct {
	URI      string
	Username string
	Password string
}

// CacheConfig configures the external cache backend.
type CacheConfig struct {
	RedisURL  string
	TTL       time.Duration
	MaxSize   int
}

// LLMProviderConfig configures one registered LLM provider.
type LLMProviderConfig struct {
	Name   string
	APIKey string
}

// AuthConfig configures the middleware auth layer.
type AuthConfig struct {
	JWTSecret    string
	JWTIssuer    string
	TokenExpiry  time.Duration
	APIKeyHeader string
	APIKeys      map[string]string
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int
	RequestsPerMin  int
	ShutdownTimeout time.Duration
}

// Config is the fully assembled, validated service configuration.
type Config struct {
	ServiceName  string
	Version      string
	StandardsDir string
	Server       ServerConfig
	GraphStore   GraphStoreConfig
	Cache        CacheConfig
	Auth         AuthConfig
	Providers    []LLMProviderConfig
	SyncInterval time.Duration
}

// Load builds a Config from the environment and validates required fields.
func Load() (*Config, error) {
	e := NewEnvConfig("SA")

	cfg := &Config{
		ServiceName:  e.GetString("SERVICE_NAME", "standards-auditor"),
		Version:      e.GetString("VERSION", "dev"),
		StandardsDir: e.GetString("STANDARDS_DIR", "./standards"),
		Server: ServerConfig{
			Port:            e.GetInt("PORT", 8080),
			RequestsPerMin:  e.GetInt("RATE_LIMIT_PER_MIN", 60),
			ShutdownTimeout: e.GetDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		GraphStore: GraphStoreConfig{
			URI:      e.GetString("NEO4J_URI", "bolt://localhost:7687"),
			Username: e.GetString("NEO4J_USERNAME", "neo4j"),
			Password: e.GetString("NEO4J_PASSWORD", ""),
		},
		Cache: CacheConfig{
			RedisURL: e.GetString("REDIS_URL", ""),
			TTL:      e.GetDuration("CACHE_TTL", time.Hour),
			MaxSize:  e.GetInt("CACHE_MAX_SIZE", 1000),
		},
		Auth: AuthConfig{
			JWTSecret:    e.GetString("JWT_SECRET", ""),
			JWTIssuer:    e.GetString("JWT_ISSUER", "standards-auditor"),
			TokenExpiry:  e.GetDuration("JWT_EXPIRY", 24*time.Hour),
			APIKeyHeader: e.GetString("API_KEY_HEADER", "X-API-Key"),
			APIKeys:      map[string]string{},
		},
		SyncInterval: e.GetDuration("SYNC_INTERVAL", time.Hour),
	}

	for _, name := range []string{"GEMINI", "ANTHROPIC"} {
		if key := os.Getenv("SA_" + name + "_API_KEY"); key != "" {
			cfg.Providers = append(cfg.Providers, LLMProviderConfig{Name: strings.ToLower(name), APIKey: key})
		}
	}

	v := &Validator{}
	v.RequireString("STANDARDS_DIR", cfg.StandardsDir)
	v.RequirePositiveInt("PORT", cfg.Server.Port)
	if err := v.Error(); err != nil {
		return nil, err
	}
	return cfg, nil
}
