// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

var ErrMissingKeys = errors.New("config: INVITEGATE_PRIVATE_KEY_PEM and INVITEGATE_PUBLIC_KEY_PEM are required")

// Config is the full runtime configuration of the API process. PEM values
// may carry literal \n sequences when injected through single-line secrets.
type Config struct {
	Addr  string `env:"INVITEGATE_ADDR" envDefault:":8080"`
	PGDSN string `env:"INVITEGATE_PG_DSN"`

	PrivateKeyPEM string `env:"INVITEGATE_PRIVATE_KEY_PEM"`
	PublicKeyPEM  string `env:"INVITEGATE_PUBLIC_KEY_PEM"`
	Issuer        string `env:"INVITEGATE_ISSUER" envDefault:"invitegate"`

	RateLimitRPS   float64 `env:"INVITEGATE_RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int     `env:"INVITEGATE_RATE_LIMIT_BURST" envDefault:"100"`
	MaxBodyBytes   int64   `env:"INVITEGATE_MAX_BODY_BYTES" envDefault:"1048576"`
}

// Load parses the environment and validates the result. Key material is
// mandatory: the service must fail at startup, not on the first request.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.PrivateKeyPEM == "" || cfg.PublicKeyPEM == "" {
		return Config{}, ErrMissingKeys
	}
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst <= 0 {
		return Config{}, fmt.Errorf("config: rate limit values must be positive")
	}
	return cfg, nil
}
