package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gojob/email-sender/internal/auth"
	"github.com/gojob/email-sender/internal/domain"
	"github.com/gojob/email-sender/internal/pkg/httputil"
	"github.com/gojob/email-sender/internal/service/email"
)

// EmailService is the part of email.Service the handlers call.
type EmailService interface {
	List(ctx context.Context, userID string, f domain.EmailFilter) ([]domain.Email, int, error)
	Get(ctx context.Context, userID, id string) (*domain.Email, error)
	Create(ctx context.Context, userID string, in email.CreateInput) (*domain.Email, error)
	Update(ctx context.Context, userID, id string, in email.UpdateInput) (*domain.Email, error)
	Delete(ctx context.Context, userID, id string) error
	SendNow(ctx context.Context, userID, id string) (*email.SendReport, error)
	Schedule(ctx context.Context, userID, id string, in email.ScheduleInput) (*domain.Email, error)
	Analytics(ctx context.Context, userID, id string) (domain.Analytics, error)
}

// EmailHandler serves /api/emails.
type EmailHandler struct {
	svc EmailService
}

func NewEmailHandler(svc EmailService) *EmailHandler {
	return &EmailHandler{svc: svc}
}

// Routes mounts the authenticated email routes on r.
func (h *EmailHandler) Routes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Post("/", h.HandleCreate)
	r.Get("/{id}", h.HandleGet)
	r.Put("/{id}", h.HandleUpdate)
	r.Delete("/{id}", h.HandleDelete)
	r.Post("/{id}/send", h.HandleSend)
	r.Post("/{id}/schedule", h.HandleSchedule)
	r.Get("/{id}/analytics", h.HandleAnalytics)
}

// HandleList returns a page of the user's emails.
//
//	GET /api/emails?status=&search=&page=&limit=
func (h *EmailHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r, 10, 100)
	q := r.URL.Query()
	emails, total, err := h.svc.List(r.Context(), auth.UserID(r.Context()), domain.EmailFilter{
		Status: domain.EmailStatus(q.Get("status")),
		Search: q.Get("search"),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, "", httputil.Fields{
		"emails":     emails,
		"pagination": p.Meta(total),
	})
}

func (h *EmailHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.Get(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, "", httputil.Fields{"email": e})
}

// HandleCreate stores a draft, or a scheduled email when scheduledAt is set.
//
//	POST /api/emails
func (h *EmailHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in email.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	e, err := h.svc.Create(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Created(w, "Email created successfully", httputil.Fields{"email": e})
}

func (h *EmailHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var in email.UpdateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	e, err := h.svc.Update(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, "Email updated successfully", httputil.Fields{"email": e})
}

func (h *EmailHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, "Email deleted successfully", nil)
}

// HandleSend sends a draft or scheduled email to every recipient now.
// Per-recipient failures are reported in results, not as an error status.
//
//	POST /api/emails/{id}/send
func (h *EmailHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.SendNow(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, "Email sent successfully", httputil.Fields{
		"results": report.Results,
		"email":   report.Email,
	})
}

// HandleSchedule schedules a draft.
//
//	POST /api/emails/{id}/schedule  {"scheduledAt": "...", "timeZone": "Asia/Kolkata"}
func (h *EmailHandler) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	var in email.ScheduleInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	e, err := h.svc.Schedule(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, "Email scheduled successfully", httputil.Fields{"email": e})
}

func (h *EmailHandler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Analytics(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, "", httputil.Fields{"analytics": a})
}
