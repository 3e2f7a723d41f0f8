package predict

import "errors"

var (
	// ErrNetworkRequired is returned when a synaptic network is not provided.
	ErrNetworkRequired = errors.New("synaptic network required")

	// ErrInsightNotFound is returned for feedback on an unknown or expired insight.
	ErrInsightNotFound = errors.New("insight not found")

	// ErrUnknownOutcome is returned for feedback outcomes with no effect.
	ErrUnknownOutcome = errors.New("unknown prediction outcome")

	// ErrInvalidConfig is returned when engine tunables are out of range.
	ErrInvalidConfig = errors.New("invalid prediction configuration")

	// ErrAlreadyStarted is returned by Start on a running engine.
	ErrAlreadyStarted = errors.New("predictive engine already started")
)
