package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration, loaded from environment
// variables. Every knob has a workable default so a bare `auth` binary
// starts up for local development.
type Config struct {
	Env       string `env:"ENV" envDefault:"dev"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Issuer       string `env:"AUTH_ISSUER" envDefault:"tally-auth"`
	DatabaseFile string `env:"AUTH_DATABASE_FILE" envDefault:"auth.db"`

	// PepperFile holds the password-hashing pepper; generated on first
	// run when absent.
	PepperFile string `env:"AUTH_PEPPER_FILE" envDefault:"pepper"`

	// MasterKeyPath points at the key that encrypts TOTP secrets at
	// rest. Empty falls back to AUTH_MASTER_KEY or an ephemeral key.
	MasterKeyPath string `env:"AUTH_MASTER_KEY_PATH"`

	// SigningKeyPath points at a PEM Ed25519 private key for JWTs. Empty
	// generates an ephemeral key, invalidating tokens across restarts.
	SigningKeyPath string `env:"AUTH_SIGNING_KEY_PATH"`

	AccessTokenTTL  time.Duration `env:"AUTH_ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"AUTH_REFRESH_TOKEN_TTL" envDefault:"168h"`
	PendingTokenTTL time.Duration `env:"AUTH_PENDING_TOKEN_TTL" envDefault:"5m"`
	ResetTokenTTL   time.Duration `env:"AUTH_RESET_TOKEN_TTL" envDefault:"1h"`
	DeviceWindow    time.Duration `env:"AUTH_TRUSTED_DEVICE_WINDOW" envDefault:"720h"`

	AllowRegistration bool `env:"AUTH_ALLOW_REGISTRATION" envDefault:"true"`
	RequireTwoFactor  bool `env:"AUTH_REQUIRE_2FA" envDefault:"false"`

	LoginAttempts int           `env:"AUTH_LOGIN_ATTEMPTS" envDefault:"5"`
	LoginWindow   time.Duration `env:"AUTH_LOGIN_WINDOW" envDefault:"1m"`
	LoginBurst    int           `env:"AUTH_LOGIN_BURST" envDefault:"5"`

	HousekeepingInterval time.Duration `env:"HOUSEKEEPING_INTERVAL" envDefault:"1h"`
	ShutdownGracePeriod  time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
