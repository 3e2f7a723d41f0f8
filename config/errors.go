package config

import "errors"

var (
	// ErrInvalidConfig indicates a configuration value is out of range.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownKey indicates the file contains a key no setting maps to.
	ErrUnknownKey = errors.New("unknown configuration key")
)
