package config

import (
	"github.com/mongomigrate/mongomigrate/errors"
)

// Validate checks that the source and target URIs are set and distinct.
func Validate(cfg *Config) error {
	switch {
	case cfg.Source == "" && cfg.Target == "":
		return errors.New("source URI and target URI are empty")
	case cfg.Source == "":
		return errors.New("source URI is empty")
	case cfg.Target == "":
		return errors.New("target URI is empty")
	case cfg.Source == cfg.Target:
		return errors.New("source URI and target URI are identical")
	}

	return nil
}

// ValidatePort checks the HTTP server port. Zero selects [DefaultServerPort].
func ValidatePort(port int) error {
	if port == 0 {
		port = DefaultServerPort
	}

	if port <= 1024 || port > 65535 {
		return errors.New("port value is outside the supported range [1024 - 65535]")
	}

	return nil
}
