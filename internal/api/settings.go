package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gojob/email-sender/internal/auth"
	"github.com/gojob/email-sender/internal/domain"
	"github.com/gojob/email-sender/internal/pkg/httputil"
	"github.com/gojob/email-sender/internal/service/transport"
)

// SMTPSettingsService reads and saves per-user SMTP credentials.
type SMTPSettingsService interface {
	Settings(ctx context.Context, userID string) (*domain.SMTPSettings, error)
	SaveSettings(ctx context.Context, userID string, s domain.SMTPSettings) (domain.SMTPSettings, error)
}

// QuotaReader reads a user's quota counters.
type QuotaReader interface {
	Usage(ctx context.Context, userID string) (domain.EmailQuota, error)
}

// SettingsHandler serves /api/settings.
type SettingsHandler struct {
	smtp  SMTPSettingsService
	quota QuotaReader
}

func NewSettingsHandler(smtp SMTPSettingsService, quota QuotaReader) *SettingsHandler {
	return &SettingsHandler{smtp: smtp, quota: quota}
}

func (h *SettingsHandler) Routes(r chi.Router) {
	r.Get("/smtp", h.HandleGetSMTP)
	r.Put("/smtp", h.HandleSaveSMTP)
	r.Get("/quota", h.HandleQuota)
}

// smtpView never carries the password back to the client.
type smtpView struct {
	Configured bool   `json:"configured"`
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	User       string `json:"user,omitempty"`
}

func newSMTPView(s *domain.SMTPSettings) smtpView {
	if s == nil {
		return smtpView{}
	}
	return smtpView{Configured: s.Configured(), Host: s.Host, Port: s.Port, User: s.User}
}

func (h *SettingsHandler) HandleGetSMTP(w http.ResponseWriter, r *http.Request) {
	s, err := h.smtp.Settings(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, "", httputil.Fields{"smtp": newSMTPView(s)})
}

type saveSMTPRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	User string `json:"user"`
	Pass string `json:"pass"`
}

// HandleSaveSMTP stores credentials; host and port default to Gmail's
// submission endpoint.
//
//	PUT /api/settings/smtp
func (h *SettingsHandler) HandleSaveSMTP(w http.ResponseWriter, r *http.Request) {
	var req saveSMTPRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	saved, err := h.smtp.SaveSettings(r.Context(), auth.UserID(r.Context()), domain.SMTPSettings{
		Host: req.Host,
		Port: req.Port,
		User: req.User,
		Pass: req.Pass,
	})
	switch {
	case errors.Is(err, transport.ErrNoSMTPConfigured):
		httputil.BadRequest(w, "SMTP user and password are required")
		return
	case errors.Is(err, transport.ErrInvalidSettings):
		httputil.BadRequest(w, err.Error())
		return
	case err != nil:
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, "SMTP settings saved", httputil.Fields{"smtp": newSMTPView(&saved)})
}

func (h *SettingsHandler) HandleQuota(w http.ResponseWriter, r *http.Request) {
	q, err := h.quota.Usage(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	remaining := q.Monthly - q.Used
	if remaining < 0 {
		remaining = 0
	}
	httputil.OK(w, "", httputil.Fields{"quota": q, "remaining": remaining})
}
