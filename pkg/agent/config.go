package agent

import (
	"errors"
	"time"
)

// Default bounds for establishing the agent socket.
const (
	DefaultConnectTimeout    = 5 * time.Second
	DefaultValidationTimeout = 30 * time.Second
)

// Config controls how the Manager connects to the local agent.
type Config struct {
	// ConnectTimeout bounds the TCP dial.
	ConnectTimeout time.Duration
	// ValidationTimeout bounds the wait for the agent's token, measured from
	// the moment validation starts.
	ValidationTimeout time.Duration
}

// DefaultConfig returns the default connection bounds.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    DefaultConnectTimeout,
		ValidationTimeout: DefaultValidationTimeout,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ConnectTimeout != 0 {
		defaults.ConnectTimeout = c.ConnectTimeout
	}
	if c.ValidationTimeout != 0 {
		defaults.ValidationTimeout = c.ValidationTimeout
	}
	return defaults
}

// Validate checks whether the config is usable.
func (c Config) Validate() error {
	if c.ConnectTimeout < 0 {
		return errors.New("connect_timeout must be zero or positive")
	}
	if c.ValidationTimeout < 0 {
		return errors.New("validation_timeout must be zero or positive")
	}
	return nil
}
