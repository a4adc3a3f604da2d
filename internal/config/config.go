package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                     string        `mapstructure:"PORT"`
	Env                      string        `mapstructure:"ENV"`
	DatabaseURL              string        `mapstructure:"DATABASE_URL"`
	DBMaxConns               int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns               int32         `mapstructure:"DB_MIN_CONNS"`
	JWTSigningKey            string        `mapstructure:"JWT_SIGNING_KEY"`
	SessionTTL               time.Duration `mapstructure:"SESSION_TTL"`
	CORSOrigins              []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS             float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst           int           `mapstructure:"RATE_LIMIT_BURST"`
	RequireEmailConfirmation bool          `mapstructure:"REQUIRE_EMAIL_CONFIRMATION"`
	VerifyRowPolicy          bool          `mapstructure:"VERIFY_ROW_POLICY"`
	MigrationsDir            string        `mapstructure:"MIGRATIONS_DIR"`
	ExportDir                string        `mapstructure:"EXPORT_DIR"`
}

// devSigningKey is only accepted when ENV=development.
const devSigningKey = "6d656469636c6561722d6465762d6b65792d646f2d6e6f742d7573652d707264"

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUIRE_EMAIL_CONFIRMATION", false)
	v.SetDefault("VERIFY_ROW_POLICY", false)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("EXPORT_DIR", ".")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"JWT_SIGNING_KEY", "SESSION_TTL", "CORS_ORIGINS", "RATE_LIMIT_RPS",
		"RATE_LIMIT_BURST", "REQUIRE_EMAIL_CONFIRMATION", "VERIFY_ROW_POLICY",
		"MIGRATIONS_DIR", "EXPORT_DIR",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	origins := v.GetString("CORS_ORIGINS")
	if origins != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSigningKey == "" && cfg.IsDev() {
		cfg.JWTSigningKey = devSigningKey
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningKey decodes JWT_SIGNING_KEY.
func (c *Config) SigningKey() ([]byte, error) {
	key, err := hex.DecodeString(c.JWTSigningKey)
	if err != nil {
		return nil, fmt.Errorf("JWT_SIGNING_KEY is not valid hex: %w", err)
	}
	return key, nil
}

// Validate checks that the configuration is safe to run. Outside development
// the signing key must be set, decode to at least 32 bytes and differ from
// the built-in development key.
func (c *Config) Validate() error {
	if c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	key, err := c.SigningKey()
	if err != nil {
		return err
	}
	if len(key) < 32 {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	if !c.IsDev() && c.JWTSigningKey == devSigningKey {
		return fmt.Errorf("the development JWT_SIGNING_KEY must not be used when ENV=%q", c.Env)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
