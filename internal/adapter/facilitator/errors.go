package facilitator

import (
	"fmt"

	"settlement-pipeline/internal/core/domain"
)

// ErrMissingCredentials means a CDP-backed network was resolved but no CDP
// key is configured. It wraps domain.ErrFacilitatorConfig.
var ErrMissingCredentials = fmt.Errorf("%w: missing facilitator credentials", domain.ErrFacilitatorConfig)

// TransportError is returned when every attempt failed with a network error,
// a timeout or a non-2xx status.
type TransportError struct {
	Op         string // verify, settle, supported
	Attempts   int
	StatusCode int // last HTTP status, 0 if none was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("facilitator %s failed after %d attempts: HTTP %d: %v", e.Op, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("facilitator %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
