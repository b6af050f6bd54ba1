package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/rxledger/internal/platform/apperr"
	"github.com/ehr/rxledger/internal/platform/fieldcipher"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	AuthMode           string        `mapstructure:"AUTH_MODE"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	CatalogCacheTTL    time.Duration `mapstructure:"CATALOG_CACHE_TTL"`
	FieldEncryptionKey string        `mapstructure:"FIELD_ENCRYPTION_KEY"`
	SnapshotPassphrase string        `mapstructure:"SNAPSHOT_PASSPHRASE"`
	SnapshotHashSecret string        `mapstructure:"SNAPSHOT_HASH_SECRET"`
	DecryptPolicy      string        `mapstructure:"DECRYPT_POLICY"`
	TransitionPolicy   string        `mapstructure:"TRANSITION_POLICY"`
	AuthIssuer         string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience       string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey     string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	BodyLimit          string        `mapstructure:"BODY_LIMIT"`
	TLSEnabled         bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile        string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile         string        `mapstructure:"TLS_KEY_FILE"`
}

var envKeys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "CATALOG_CACHE_TTL",
	"FIELD_ENCRYPTION_KEY", "SNAPSHOT_PASSPHRASE", "SNAPSHOT_HASH_SECRET",
	"DECRYPT_POLICY", "TRANSITION_POLICY",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "BODY_LIMIT", "TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// minSigningKeyLen is the shortest HS256 secret accepted outside development.
const minSigningKeyLen = 32

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CATALOG_CACHE_TTL", "5m")
	v.SetDefault("DECRYPT_POLICY", "lenient")
	v.SetDefault("TRANSITION_POLICY", "permissive")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "1M")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		v.BindEnv(key)
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperr.Config("unmarshal config: %v", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, apperr.Config("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development runs
// with DevAuthMiddleware and every other environment requires JWTs.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Validate checks that the configuration is safe to run. All errors match
// apperr.ErrConfig.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return apperr.Config("DATABASE_URL is required")
	}

	if _, err := fieldcipher.NewDirectCipherFromBase64(c.FieldEncryptionKey); err != nil {
		return fmt.Errorf("FIELD_ENCRYPTION_KEY: %w", err)
	}
	if c.SnapshotPassphrase == "" {
		return apperr.Config("SNAPSHOT_PASSPHRASE is required")
	}
	if c.SnapshotHashSecret == "" {
		return apperr.Config("SNAPSHOT_HASH_SECRET is required")
	}
	if _, err := fieldcipher.ParsePolicy(c.DecryptPolicy); err != nil {
		return fmt.Errorf("DECRYPT_POLICY: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(c.TransitionPolicy)) {
	case "", "permissive", "strict":
	default:
		return apperr.Config("TRANSITION_POLICY must be \"permissive\" or \"strict\", got %q", c.TransitionPolicy)
	}

	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if c.IsProduction() {
			return apperr.Config("AUTH_MODE \"development\" is not allowed in production")
		}
	case "jwt":
		if len(c.AuthSigningKey) < minSigningKeyLen {
			return apperr.Config("AUTH_SIGNING_KEY must be at least %d bytes when AUTH_MODE is \"jwt\"", minSigningKeyLen)
		}
	default:
		return apperr.Config("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}

	if c.CatalogCacheTTL < 0 {
		return apperr.Config("CATALOG_CACHE_TTL must not be negative")
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return apperr.Config("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return apperr.Config("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
