package watcher

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches every ConfigurationError via errors.Is
	ErrConfiguration = errors.New("watcher: destination not configured")

	// ErrAlreadyRunning is returned by Start while a session is active
	ErrAlreadyRunning = errors.New("watcher: already running")
)

// ConfigurationError is returned by Start when there is no usable destination
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfiguration.Error(), e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
