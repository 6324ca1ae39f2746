package tracking

import "errors"

// Sentinel errors for the tracking service.
var (
	ErrEmailNotFound    = errors.New("email not found")
	ErrInvalidSignature = errors.New("invalid tracking signature")
)
