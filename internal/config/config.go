package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/sleeprisk/screening/internal/domain/attachment"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	Port             string   `mapstructure:"PORT"`
	Env              string   `mapstructure:"ENV"`
	StoreBackend     string   `mapstructure:"STORE_BACKEND"`
	DatabaseURL      string   `mapstructure:"DATABASE_URL"`
	DBSchema         string   `mapstructure:"DB_SCHEMA"`
	DBMaxConns       int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32    `mapstructure:"DB_MIN_CONNS"`
	DocByteCeiling   int      `mapstructure:"DOC_BYTE_CEILING"`
	InlineLimitBytes int      `mapstructure:"INLINE_LIMIT_BYTES"`
	ChunkSizeBytes   int      `mapstructure:"CHUNK_SIZE_BYTES"`
	MaxUploadBytes   int64    `mapstructure:"MAX_UPLOAD_BYTES"`
	AdminUIDs        []string `mapstructure:"ADMIN_UIDS"`
	AuthIssuer       string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL      string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience     string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey   string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins      []string `mapstructure:"CORS_ORIGINS"`
	MigrationsDir    string   `mapstructure:"MIGRATIONS_DIR"`
}

var keys = []string{
	"PORT", "ENV", "STORE_BACKEND", "DATABASE_URL", "DB_SCHEMA", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DOC_BYTE_CEILING", "INLINE_LIMIT_BYTES", "CHUNK_SIZE_BYTES", "MAX_UPLOAD_BYTES",
	"ADMIN_UIDS", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "MIGRATIONS_DIR",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_BACKEND", BackendPostgres)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DOC_BYTE_CEILING", 1<<20)
	// 600 KiB decoded is 800 KiB once base64 encoded.
	v.SetDefault("INLINE_LIMIT_BYTES", 600*1024)
	v.SetDefault("CHUNK_SIZE_BYTES", 600*1024)
	v.SetDefault("MAX_UPLOAD_BYTES", 10<<20)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("MIGRATIONS_DIR", "migrations")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.AdminUIDs = splitList(v.GetString("ADMIN_UIDS"))

	if cfg.StoreBackend == BackendPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=%s", BackendPostgres)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Limits are the attachment sizing bounds.
func (c *Config) Limits() attachment.Limits {
	return attachment.Limits{
		InlineLimit: c.InlineLimitBytes,
		ChunkSize:   c.ChunkSizeBytes,
		Ceiling:     c.DocByteCeiling,
	}
}

// Validate checks that the configuration is safe to run. Attachment sizing
// must leave every document under the byte ceiling, and outside development
// some way of verifying tokens must be configured.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMemory, c.StoreBackend)
	}
	if err := c.Limits().Validate(); err != nil {
		return fmt.Errorf("attachment limits: %w", err)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"one of AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set outside development (current ENV=%q)", c.Env)
	}
	if !c.IsDev() && c.StoreBackend == BackendMemory {
		return fmt.Errorf("STORE_BACKEND=%s is for development only", BackendMemory)
	}
	return nil
}
