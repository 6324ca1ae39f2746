package quota

import "errors"

// Sentinel errors for the quota ledger.
var (
	ErrQuotaExceeded = errors.New("sending this email would exceed your monthly quota")
	ErrUserNotFound  = errors.New("user not found")
	ErrInvalidCount  = errors.New("recipient count must be positive")
)
