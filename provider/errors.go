package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownProvider is returned for a provider missing from the
	// loader's catalog.
	ErrUnknownProvider = errors.New("provider: unknown provider")

	// ErrBudgetExhausted is returned when a provider reached its daily
	// call limit. No request is made.
	ErrBudgetExhausted = errors.New("provider: daily limit reached")

	// ErrNoData is returned by the typed loaders when the upstream
	// answered without the requested item.
	ErrNoData = errors.New("provider: no data")

	// ErrBodyTooLarge is returned when an upstream response is longer than
	// the loader reads. Nothing is cached.
	ErrBodyTooLarge = errors.New("provider: response body too large")
)

// StatusError is returned when an upstream answers with a non-2xx status.
type StatusError struct {
	Provider string
	Code     int
	Body     []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider: %s answered %d", e.Provider, e.Code)
}
