package email

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"path/filepath"
	"time"

	"github.com/gojob/email-sender/internal/domain"
	"github.com/gojob/email-sender/internal/pkg/logger"
	"github.com/gojob/email-sender/internal/service/quota"
	"github.com/gojob/email-sender/internal/service/transport"
)

// Outcome names how a queued send job ended.
type Outcome string

const (
	// OutcomeSent: the batch went out and the email is sent.
	OutcomeSent Outcome = "sent"
	// OutcomeSkipped: the email was gone or no longer scheduled.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeQuotaExceeded: the email was failed without sending.
	OutcomeQuotaExceeded Outcome = "quota_exceeded"
	// OutcomeTransportFailed: no SMTP transport; every recipient failed.
	OutcomeTransportFailed Outcome = "transport_failed"
	// OutcomeRetriesExhausted: the job kept failing and was given up on.
	OutcomeRetriesExhausted Outcome = "retries_exhausted"
)

// earlyFireTolerance absorbs clock skew between queue and worker hosts.
const earlyFireTolerance = 30 * time.Second

// SendReport is the result of an immediate send.
type SendReport struct {
	Email   *domain.Email       `json:"email"`
	Results []domain.SendResult `json:"results"`
}

// SendNow sends a draft or scheduled email immediately. Nothing is
// changed when the quota check fails or no SMTP transport is configured.
func (s *Service) SendNow(ctx context.Context, userID, id string) (*SendReport, error) {
	e, err := s.repo.Get(ctx, userID, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotSendable
	}
	if err != nil {
		return nil, err
	}
	if !e.IsEditable() {
		return nil, ErrNotSendable
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	n := len(e.To)
	if !s.quota.CanSend(user.Quota, n) {
		return nil, quota.ErrQuotaExceeded
	}

	t, err := s.transports.Resolve(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve transport: %w", err)
	}
	msgs, err := s.buildMessages(ctx, e)
	if err != nil {
		return nil, err
	}

	prev := e.Status
	if err := s.beginSend(ctx, e, []domain.EmailStatus{prev}); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil, ErrNotSendable
		}
		return nil, err
	}
	if err := s.quota.Commit(ctx, userID, n); err != nil {
		s.revertSending(ctx, e, prev)
		return nil, err
	}

	results := s.sender.SendBulk(ctx, msgs, t)
	if err := s.finishSend(ctx, e, results); err != nil {
		return nil, err
	}
	if prev == domain.EmailScheduled {
		s.cancel(ctx, e.ID)
	}
	return &SendReport{Email: e, Results: results}, nil
}

// ProcessScheduled runs one queued send job. A returned error means the
// job should be retried; every non-error return is final.
func (s *Service) ProcessScheduled(ctx context.Context, job domain.SendJob) (Outcome, error) {
	e, err := s.repo.Get(ctx, job.UserID, job.EmailID)
	if errors.Is(err, ErrNotFound) {
		logger.Info("send job skipped: email not found", "email_id", job.EmailID)
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", err
	}
	if e.Status != domain.EmailScheduled {
		logger.Info("send job skipped: email not scheduled", "email_id", e.ID, "status", string(e.Status))
		return OutcomeSkipped, nil
	}
	if e.ScheduledAt != nil && e.ScheduledAt.After(s.now().Add(earlyFireTolerance)) {
		// moved later while this job was in flight; the newer job sends it
		logger.Info("send job skipped: email rescheduled", "email_id", e.ID)
		return OutcomeSkipped, nil
	}

	user, err := s.users.GetUser(ctx, job.UserID)
	if err != nil {
		return "", err
	}
	n := len(e.To)
	if !s.quota.CanSend(user.Quota, n) {
		return s.failScheduled(ctx, e, OutcomeQuotaExceeded, nil)
	}

	msgs, err := s.buildMessages(ctx, e)
	if err != nil {
		return "", err
	}

	t, err := s.transports.Resolve(ctx, job.UserID)
	if errors.Is(err, transport.ErrNoSMTPConfigured) {
		return s.failScheduled(ctx, e, OutcomeTransportFailed, failedDeliveries(e, err.Error()))
	}
	if err != nil {
		return "", fmt.Errorf("resolve transport: %w", err)
	}

	if err := s.beginSend(ctx, e, []domain.EmailStatus{domain.EmailScheduled}); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			logger.Info("send job skipped: lost race for email", "email_id", e.ID)
			return OutcomeSkipped, nil
		}
		return "", err
	}
	if err := s.quota.Commit(ctx, job.UserID, n); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			return s.failFrom(ctx, e, domain.EmailSending, OutcomeQuotaExceeded, nil)
		}
		s.revertSending(ctx, e, domain.EmailScheduled)
		return "", err
	}

	results := s.sender.SendBulk(ctx, msgs, t)
	if err := s.finishSend(ctx, e, results); err != nil {
		return "", err
	}
	return OutcomeSent, nil
}

// FailAbandoned fails a scheduled email whose job the queue gave up on,
// recording reason against every recipient. Emails that already left
// scheduled are left alone.
func (s *Service) FailAbandoned(ctx context.Context, job domain.SendJob, reason string) (Outcome, error) {
	e, err := s.repo.Get(ctx, job.UserID, job.EmailID)
	if errors.Is(err, ErrNotFound) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", err
	}
	if e.Status != domain.EmailScheduled {
		return OutcomeSkipped, nil
	}
	return s.failScheduled(ctx, e, OutcomeRetriesExhausted, failedDeliveries(e, reason))
}

func (s *Service) beginSend(ctx context.Context, e *domain.Email, from []domain.EmailStatus) error {
	err := s.repo.Transition(ctx, e.UserID, e.ID, StatusChange{From: from, To: domain.EmailSending})
	if err != nil {
		return err
	}
	e.Status = domain.EmailSending
	return nil
}

func (s *Service) revertSending(ctx context.Context, e *domain.Email, to domain.EmailStatus) {
	err := s.repo.Transition(context.WithoutCancel(ctx), e.UserID, e.ID, StatusChange{
		From: []domain.EmailStatus{domain.EmailSending},
		To:   to,
	})
	if err != nil {
		logger.Error("revert sending status", "email_id", e.ID, "error", err)
		return
	}
	e.Status = to
}

// finishSend records the batch. The email becomes sent whatever the
// per-recipient outcomes were; the deliveries carry the detail.
func (s *Service) finishSend(ctx context.Context, e *domain.Email, results []domain.SendResult) error {
	now := s.now().UTC()
	deliveries := make([]domain.Delivery, len(results))
	for i, r := range results {
		sentAt := r.SentAt
		d := domain.Delivery{Email: r.Email, Status: domain.DeliverySent, SentAt: &sentAt}
		if !r.Success {
			d.Status = domain.DeliveryFailed
			d.FailureReason = r.Error
		}
		deliveries[i] = d
	}

	err := s.repo.Transition(context.WithoutCancel(ctx), e.UserID, e.ID, StatusChange{
		From:       []domain.EmailStatus{domain.EmailSending},
		To:         domain.EmailSent,
		SentAt:     &now,
		Deliveries: deliveries,
	})
	if err != nil {
		return fmt.Errorf("record send results: %w", err)
	}
	e.Status = domain.EmailSent
	e.SentAt = &now
	e.DeliveryStatus = deliveries

	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	logger.Info("email sent", "email_id", e.ID, "recipients", len(results), "succeeded", ok)
	return nil
}

func (s *Service) failScheduled(ctx context.Context, e *domain.Email, outcome Outcome, deliveries []domain.Delivery) (Outcome, error) {
	return s.failFrom(ctx, e, domain.EmailScheduled, outcome, deliveries)
}

func (s *Service) failFrom(ctx context.Context, e *domain.Email, from domain.EmailStatus, outcome Outcome, deliveries []domain.Delivery) (Outcome, error) {
	err := s.repo.Transition(ctx, e.UserID, e.ID, StatusChange{
		From:       []domain.EmailStatus{from},
		To:         domain.EmailFailed,
		Deliveries: deliveries,
	})
	if errors.Is(err, ErrInvalidTransition) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", err
	}
	e.Status = domain.EmailFailed
	if deliveries != nil {
		e.DeliveryStatus = deliveries
	}
	logger.Warn("email failed before sending", "email_id", e.ID, "outcome", string(outcome))
	return outcome, nil
}

func failedDeliveries(e *domain.Email, reason string) []domain.Delivery {
	out := make([]domain.Delivery, len(e.To))
	for i, r := range e.To {
		out[i] = domain.Delivery{Email: r.Email, Status: domain.DeliveryFailed, FailureReason: reason}
	}
	return out
}

// buildMessages makes one message per "to" recipient, each carrying the
// shared cc, bcc and attachments.
func (s *Service) buildMessages(ctx context.Context, e *domain.Email) ([]domain.OutboundMessage, error) {
	attachments, err := s.loadAttachments(ctx, e)
	if err != nil {
		return nil, err
	}

	msgs := make([]domain.OutboundMessage, 0, len(e.To))
	for _, r := range e.To {
		subject, html := s.personalize(e, r)
		if s.decorator != nil {
			decorated, err := s.decorator.Decorate(html, e.ID, r.Email, e.OpenTracking.Enabled, e.ClickTracking.Enabled)
			if err != nil {
				logger.Warn("tracking injection failed", "email_id", e.ID, "error", err)
			} else {
				html = decorated
			}
		}
		msgs = append(msgs, domain.OutboundMessage{
			From:        e.From,
			To:          r.Email,
			CC:          e.CC,
			BCC:         e.BCC,
			Subject:     subject,
			HTML:        html,
			Attachments: attachments,
		})
	}
	return msgs, nil
}

// personalize returns the subject and content for r. Emails that did not
// opt in are sent exactly as authored.
func (s *Service) personalize(e *domain.Email, r domain.Recipient) (string, string) {
	if !e.Personalize {
		return e.Subject, e.Content
	}
	vars := recipientVars(r.Email, r.Name)
	subject, err := s.tmpl.render(e.Subject, vars)
	if err != nil {
		logger.Warn("subject template failed, sending as authored", "email_id", e.ID, "error", err)
		subject = e.Subject
	}
	html, err := s.tmpl.render(e.Content, vars)
	if err != nil {
		logger.Warn("content template failed, sending as authored", "email_id", e.ID, "error", err)
		html = e.Content
	}
	return subject, html
}

// loadAttachments resolves the email's attachment files. Files that are
// unknown, not owned by the sender or missing from storage are skipped.
func (s *Service) loadAttachments(ctx context.Context, e *domain.Email) ([]domain.Attachment, error) {
	if len(e.AttachmentIDs) == 0 || s.files == nil || s.blobs == nil {
		return nil, nil
	}
	files, err := s.files.Attachments(ctx, e.UserID, e.AttachmentIDs)
	if err != nil {
		return nil, fmt.Errorf("load attachments: %w", err)
	}
	if len(files) < len(e.AttachmentIDs) {
		logger.Warn("some attachments not found", "email_id", e.ID,
			"requested", len(e.AttachmentIDs), "found", len(files))
	}

	out := make([]domain.Attachment, 0, len(files))
	for _, f := range files {
		content, err := s.blobs.Read(ctx, f.Path)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("attachment file missing, skipping", "email_id", e.ID, "file_id", f.ID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read attachment %s: %w", f.ID, err)
		}
		name := f.OriginalName
		if name == "" {
			name = f.Filename
		}
		out = append(out, domain.Attachment{
			Filename:    name,
			ContentType: contentType(name, f.MimeType),
			Content:     content,
		})
	}
	return out, nil
}

func contentType(name, stored string) string {
	if stored != "" {
		return stored
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// RecoverStuck fails emails left in sending for longer than age, which
// happens when a process dies between starting and recording a batch.
// It returns how many emails were moved.
func (s *Service) RecoverStuck(ctx context.Context, age time.Duration, limit int) (int, error) {
	stuck, err := s.repo.ListStale(ctx, domain.EmailSending, s.now().Add(-age), limit)
	if err != nil {
		return 0, fmt.Errorf("list stuck emails: %w", err)
	}
	moved := 0
	for _, e := range stuck {
		err := s.repo.Transition(ctx, e.UserID, e.ID, StatusChange{
			From: []domain.EmailStatus{domain.EmailSending},
			To:   domain.EmailFailed,
		})
		if errors.Is(err, ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return moved, err
		}
		moved++
		logger.Warn("stuck email marked failed", "email_id", e.ID, "user_id", e.UserID)
	}
	return moved, nil
}
