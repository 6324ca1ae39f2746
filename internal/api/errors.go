package api

import (
	"errors"
	"net/http"

	"github.com/gojob/email-sender/internal/pkg/httputil"
	"github.com/gojob/email-sender/internal/service/email"
	"github.com/gojob/email-sender/internal/service/quota"
	"github.com/gojob/email-sender/internal/service/transport"
)

// notFoundMessages are the client-facing texts for the "missing or wrong
// status" sentinels. Ownership misses share them so ids do not leak.
var notFoundMessages = map[error]string{
	email.ErrNotFound:         "Email not found",
	email.ErrNotSendable:      "Email not found or cannot be sent",
	email.ErrNotEditable:      "Email not found or cannot be updated",
	email.ErrNotDeletable:     "Email not found or cannot be deleted",
	email.ErrNotSchedulable:   "Email not found or cannot be scheduled",
	quota.ErrUserNotFound:     "User not found",
	transport.ErrUserNotFound: "User not found",
}

// writeServiceError maps service sentinels to status codes. Anything not
// recognised is logged and returned as a generic 500.
func writeServiceError(w http.ResponseWriter, err error) {
	for sentinel, msg := range notFoundMessages {
		if errors.Is(err, sentinel) {
			httputil.NotFound(w, msg)
			return
		}
	}
	switch {
	case errors.Is(err, email.ErrValidation):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, quota.ErrQuotaExceeded):
		httputil.ErrorWithCode(w, http.StatusForbidden, "quota_exceeded",
			"Sending this email would exceed your monthly quota")
	case errors.Is(err, email.ErrQuotaExhausted):
		httputil.ErrorWithCode(w, http.StatusForbidden, "quota_exceeded",
			"Monthly email quota exceeded")
	case errors.Is(err, transport.ErrNoSMTPConfigured):
		httputil.ErrorWithCode(w, http.StatusBadRequest, "smtp_not_configured",
			"SMTP settings are not configured")
	default:
		httputil.InternalError(w, err)
	}
}
