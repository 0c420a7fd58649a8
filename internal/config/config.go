// Package config loads service configuration from the environment.
//
// Values are read from an optional .env file and from ELECTRO_* variables,
// laid over Defaults and validated before use. The resulting Config is
// built once at startup and treated as immutable.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "ELECTRO_"

// Config is the process-wide configuration.
type Config struct {
	Env             string        `koanf:"env" validate:"required,oneof=development test production"`
	HTTPAddr        string        `koanf:"http_addr" validate:"required"`
	GRPCAddr        string        `koanf:"grpc_addr"`
	DatabaseDSN     string        `koanf:"pg_dsn"`
	MigrateOnStart  bool          `koanf:"migrate_on_start"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=1s"`

	AuthSecret string        `koanf:"auth_secret" validate:"required,min=16"`
	AuthIssuer string        `koanf:"auth_issuer" validate:"required"`
	TokenTTL   time.Duration `koanf:"token_ttl" validate:"min=1m,max=24h"`
	BcryptCost int           `koanf:"bcrypt_cost" validate:"min=4,max=31"`

	LoginRateBurst  int `koanf:"login_rate_burst" validate:"min=1"`
	LoginRatePerSec int `koanf:"login_rate_per_sec" validate:"min=1"`

	LogLevel  string `koanf:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat string `koanf:"log_format" validate:"oneof=json console"`

	UploadDir   string `koanf:"upload_dir"`
	CORSOrigins string `koanf:"cors_origins"`

	AdminEmail    string `koanf:"admin_email" validate:"omitempty,email"`
	AdminPassword string `koanf:"admin_password" validate:"required_with=AdminEmail"`
	AdminUsername string `koanf:"admin_username"`
}

// Defaults returns the configuration used when a variable is not set.
func Defaults() Config {
	return Config{
		Env:             "development",
		HTTPAddr:        ":8080",
		GRPCAddr:        ":9090",
		ShutdownTimeout: 10 * time.Second,
		AuthIssuer:      "serviceelectro",
		TokenTTL:        time.Hour,
		BcryptCost:      12,
		LoginRateBurst:  10,
		LoginRatePerSec: 1,
		LogLevel:        "info",
		LogFormat:       "json",
		UploadDir:       "uploads",
	}
}

// Load reads .env files (if present) and ELECTRO_* variables.
func Load(dotenvFiles ...string) (Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}

	k := koanf.New(".")
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.AdminEmail = strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// AllowedOrigins splits CORSOrigins on commas.
func (c Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// InMemory reports whether no database is configured.
func (c Config) InMemory() bool {
	return strings.TrimSpace(c.DatabaseDSN) == ""
}
