package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load fills cfg from the process environment using its `env` tags.
func Load(cfg any) error {
	return LoadFrom(cfg, nil)
}

// LoadFrom fills cfg from environ instead of the process environment when
// environ is non-nil. Tests use it to avoid mutating os.Environ.
func LoadFrom(cfg any, environ map[string]string) error {
	opts := env.Options{Environment: environ}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
