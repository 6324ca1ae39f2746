package api

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/gojob/email-sender/internal/pkg/httputil"
	"github.com/gojob/email-sender/internal/pkg/logger"
	"github.com/gojob/email-sender/internal/service/tracking"
)

// transparentGIF is a 1x1 transparent GIF.
var transparentGIF, _ = base64.StdEncoding.DecodeString("R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7")

// TrackingRecorder is the part of tracking.Recorder the handlers call.
type TrackingRecorder interface {
	RecordOpen(ctx context.Context, emailID, recipient, ip, userAgent string) (bool, error)
	RecordClick(ctx context.Context, emailID, recipient, target, sig, ip string) (string, error)
}

// TrackingHandler serves the unauthenticated open pixel and click redirect.
type TrackingHandler struct {
	recorder TrackingRecorder
}

func NewTrackingHandler(rec TrackingRecorder) *TrackingHandler {
	return &TrackingHandler{recorder: rec}
}

// Routes mounts the tracking routes on r, relative to /api/emails.
func (h *TrackingHandler) Routes(r chi.Router) {
	r.Get("/{id}/track/{recipient}", h.HandleOpen)
	r.Get("/{id}/click/{recipient}", h.HandleClick)
}

// HandleOpen records the first open and always answers with the pixel, so
// mail clients never show a broken image.
//
//	GET /api/emails/{id}/track/{recipient}
func (h *TrackingHandler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	emailID, recipient := pathParam(r, "id"), pathParam(r, "recipient")
	if _, err := h.recorder.RecordOpen(r.Context(), emailID, recipient, clientIP(r), r.UserAgent()); err != nil {
		if errors.Is(err, tracking.ErrEmailNotFound) {
			logger.Debug("open for unknown email", "email_id", emailID)
		} else {
			logger.Error("record open", "email_id", emailID, "error", err)
		}
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(transparentGIF)
}

// HandleClick records the first click and redirects to the signed target.
//
//	GET /api/emails/{id}/click/{recipient}?url=...&sig=...
func (h *TrackingHandler) HandleClick(w http.ResponseWriter, r *http.Request) {
	emailID, recipient := pathParam(r, "id"), pathParam(r, "recipient")
	q := r.URL.Query()
	target, err := h.recorder.RecordClick(r.Context(), emailID, recipient, q.Get("url"), q.Get("sig"), clientIP(r))
	switch {
	case errors.Is(err, tracking.ErrInvalidSignature):
		httputil.BadRequest(w, "Invalid tracking link")
		return
	case errors.Is(err, tracking.ErrEmailNotFound):
		httputil.NotFound(w, "Email not found")
		return
	case err != nil:
		httputil.InternalError(w, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// pathParam unescapes a route parameter; chi matches on the raw path when
// the request carries escapes.
func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

// clientIP strips the port from RemoteAddr, which middleware.RealIP has
// already replaced with the forwarded address when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
