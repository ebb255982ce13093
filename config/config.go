// Package config holds the uploader settings and the env-tag parser that
// loads them.
package config

import (
	"errors"
	"fmt"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

const (
	// DefaultMaxFiles is the per-session file count limit.
	DefaultMaxFiles = 250
	// DefaultMaxBytes is the per-session total size limit.
	DefaultMaxBytes = ByteSize(5 * units.GiB)
	// DefaultHealthcheckFile is the probe object name resolved at PIN time.
	DefaultHealthcheckFile = "healthcheck.txt"
)

// Secret is a string that is never printed.
type Secret string

// String masks the secret value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

// ByteSize is a size in bytes, parsed from strings like "5GiB" or "500m".
type ByteSize int64

// String ...
func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

// Config ...
type Config struct {
	PIN             Secret   `env:"SUAS_PIN"`
	PINHash         Secret   `env:"SUAS_PIN_HASH"`
	SigningURL      string   `env:"SUAS_SIGNING_URL,required"`
	MaxFiles        int      `env:"SUAS_MAX_FILES"`
	MaxBytes        ByteSize `env:"SUAS_MAX_BYTES"`
	SkipHealthcheck bool     `env:"SUAS_SKIP_HEALTHCHECK"`
	HealthcheckFile string   `env:"SUAS_HEALTHCHECK_FILE"`
	Verbose         bool     `env:"SUAS_VERBOSE"`
	Analytics       bool     `env:"SUAS_ANALYTICS"`
}

// Defaults returns a Config with every optional setting populated.
func Defaults() Config {
	return Config{
		MaxFiles:        DefaultMaxFiles,
		MaxBytes:        DefaultMaxBytes,
		HealthcheckFile: DefaultHealthcheckFile,
	}
}

// Load builds the config from defaults overlaid with the environment.
func Load(envRepo env.Repository) (Config, error) {
	cfg := Defaults()
	if err := NewInputParser(envRepo).Parse(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate ...
func (c Config) Validate() error {
	var errs []error
	if c.PIN == "" && c.PINHash == "" {
		errs = append(errs, errors.New("either SUAS_PIN or SUAS_PIN_HASH must be set"))
	}
	if c.SigningURL == "" {
		errs = append(errs, errors.New("SUAS_SIGNING_URL must not be empty"))
	}
	if c.MaxFiles <= 0 {
		errs = append(errs, fmt.Errorf("max files should be positive, got %d", c.MaxFiles))
	}
	if c.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("max bytes should be positive, got %d", c.MaxBytes))
	}
	if c.HealthcheckFile == "" {
		errs = append(errs, errors.New("healthcheck file name must not be empty"))
	}
	return errors.Join(errs...)
}

// Print logs the effective configuration with secrets masked.
func Print(logger log.Logger, c Config) {
	logger.Infof("Configuration:")
	logger.Printf("- PIN: %s", c.PIN)
	logger.Printf("- PIN hash: %s", c.PINHash)
	logger.Printf("- Signing URL: %s", c.SigningURL)
	logger.Printf("- Max files: %d", c.MaxFiles)
	logger.Printf("- Max bytes: %s", c.MaxBytes)
	logger.Printf("- Skip healthcheck: %t", c.SkipHealthcheck)
	logger.Printf("- Healthcheck file: %s", c.HealthcheckFile)
	logger.Printf("- Verbose: %t", c.Verbose)
	logger.Printf("- Analytics: %t", c.Analytics)
}
