package transport

import "errors"

// Sentinel errors for the transport layer.
var (
	ErrNoSMTPConfigured = errors.New("SMTP settings are not configured")
	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidSettings  = errors.New("invalid SMTP settings")
)
