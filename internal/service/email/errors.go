package email

import "errors"

// Sentinel errors for the email service layer.
var (
	ErrNotFound          = errors.New("email not found")
	ErrNotSendable       = errors.New("email not found or cannot be sent")
	ErrNotEditable       = errors.New("email not found or cannot be updated")
	ErrNotDeletable      = errors.New("email not found or cannot be deleted")
	ErrNotSchedulable    = errors.New("email not found or cannot be scheduled")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrQuotaExhausted    = errors.New("monthly email quota exceeded")
	ErrValidation        = errors.New("validation failed")
)
