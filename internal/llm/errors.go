package llm

import "errors"

var (
	errNoAPIKey     = errors.New("API key not configured")
	errEmptyChoices = errors.New("response contained no choices")

	// ErrCircuitOpen is returned when a provider's circuit is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrUnknownModel is returned when no provider accepts a model id.
	ErrUnknownModel = errors.New("no provider registered for model")
)
