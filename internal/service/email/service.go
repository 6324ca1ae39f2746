package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gojob/email-sender/internal/domain"
	"github.com/gojob/email-sender/internal/pkg/logger"
	"github.com/gojob/email-sender/internal/service/sending"
)

// Deps are the collaborators of a Service. Files, Blobs and Decorator may
// be nil: attachments are then skipped and HTML is sent undecorated.
type Deps struct {
	Repo       Repository
	Users      UserStore
	Files      FileStore
	Blobs      BlobReader
	Quota      QuotaLedger
	Transports sending.Resolver
	Sender     BulkSender
	Scheduler  Scheduler
	Decorator  Decorator
	Now        func() time.Time
}

// Service implements email business logic. All public methods are safe for
// concurrent use if the underlying stores are.
type Service struct {
	repo       Repository
	users      UserStore
	files      FileStore
	blobs      BlobReader
	quota      QuotaLedger
	transports sending.Resolver
	sender     BulkSender
	scheduler  Scheduler
	decorator  Decorator
	tmpl       *personalizer
	now        func() time.Time
}

// NewService creates an email service.
func NewService(d Deps) *Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:       d.Repo,
		users:      d.Users,
		files:      d.Files,
		blobs:      d.Blobs,
		quota:      d.Quota,
		transports: d.Transports,
		sender:     d.Sender,
		scheduler:  d.Scheduler,
		decorator:  d.Decorator,
		tmpl:       newPersonalizer(),
		now:        now,
	}
}

// CreateInput holds the fields for authoring a new email.
type CreateInput struct {
	From        string             `json:"from"`
	To          []domain.Recipient `json:"to"`
	CC          []string           `json:"cc"`
	BCC         []string           `json:"bcc"`
	Subject     string             `json:"subject"`
	Content     string             `json:"content"`
	Template    string             `json:"template"`
	Personalize bool               `json:"personalize"`
	Attachments []string           `json:"attachments"`
	ScheduledAt string             `json:"scheduledAt"`
	TimeZone    string             `json:"timeZone"`
	TrackOpens  *bool              `json:"trackOpens"`
	TrackClicks *bool              `json:"trackClicks"`
}

// UpdateInput holds a partial update. Nil fields are left alone. A non-nil
// empty ScheduledAt clears the schedule and returns the email to draft.
type UpdateInput struct {
	From        *string             `json:"from"`
	To          *[]domain.Recipient `json:"to"`
	CC          *[]string           `json:"cc"`
	BCC         *[]string           `json:"bcc"`
	Subject     *string             `json:"subject"`
	Content     *string             `json:"content"`
	Template    *string             `json:"template"`
	Personalize *bool               `json:"personalize"`
	Attachments *[]string           `json:"attachments"`
	ScheduledAt *string             `json:"scheduledAt"`
	TimeZone    string              `json:"timeZone"`
	TrackOpens  *bool               `json:"trackOpens"`
	TrackClicks *bool               `json:"trackClicks"`
}

// Get returns one of the user's emails.
func (s *Service) Get(ctx context.Context, userID, id string) (*domain.Email, error) {
	return s.repo.Get(ctx, userID, id)
}

// List returns the user's emails matching the filter.
func (s *Service) List(ctx context.Context, userID string, f domain.EmailFilter) ([]domain.Email, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 10
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Search = strings.TrimSpace(f.Search)
	return s.repo.List(ctx, userID, f)
}

// Create validates and stores a new email. It is a draft unless a schedule
// is given, in which case its send job is enqueued too.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*domain.Email, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.quota.Exhausted(user.Quota) {
		return nil, ErrQuotaExhausted
	}

	now := s.now().UTC()
	e := &domain.Email{
		ID:            uuid.New().String(),
		UserID:        userID,
		From:          strings.TrimSpace(in.From),
		To:            in.To,
		CC:            nonNil(in.CC),
		BCC:           nonNil(in.BCC),
		Subject:       in.Subject,
		Content:       in.Content,
		TemplateID:    in.Template,
		Personalize:   in.Personalize,
		AttachmentIDs: nonNil(in.Attachments),
		Status:        domain.EmailDraft,
		OpenTracking:  domain.OpenTracking{Enabled: boolOr(in.TrackOpens, true)},
		ClickTracking: domain.ClickTracking{Enabled: boolOr(in.TrackClicks, true)},
		MaxRetries:    domain.DefaultMaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.ScheduledAt != "" {
		at, err := ParseScheduledAt(in.ScheduledAt, in.TimeZone)
		if err != nil {
			return nil, err
		}
		e.ScheduledAt = &at
		e.Status = domain.EmailScheduled
	}
	if err := s.validate(e); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create email: %w", err)
	}
	if e.Status == domain.EmailScheduled {
		if err := s.enqueue(ctx, e); err != nil {
			return nil, err
		}
	}
	logger.Info("email created", "email_id", e.ID, "user_id", userID, "status", string(e.Status))
	return e, nil
}

// Update applies a partial update to a draft or scheduled email. Moving
// the schedule re-enqueues the send job; clearing it cancels the job.
func (s *Service) Update(ctx context.Context, userID, id string, in UpdateInput) (*domain.Email, error) {
	e, err := s.repo.Get(ctx, userID, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotEditable
	}
	if err != nil {
		return nil, err
	}
	if !e.IsEditable() {
		return nil, ErrNotEditable
	}
	prev := e.Status
	wasScheduled := prev == domain.EmailScheduled

	if in.From != nil {
		e.From = strings.TrimSpace(*in.From)
	}
	if in.To != nil {
		e.To = *in.To
	}
	if in.CC != nil {
		e.CC = nonNil(*in.CC)
	}
	if in.BCC != nil {
		e.BCC = nonNil(*in.BCC)
	}
	if in.Subject != nil {
		e.Subject = *in.Subject
	}
	if in.Content != nil {
		e.Content = *in.Content
	}
	if in.Template != nil {
		e.TemplateID = *in.Template
	}
	if in.Personalize != nil {
		e.Personalize = *in.Personalize
	}
	if in.Attachments != nil {
		e.AttachmentIDs = nonNil(*in.Attachments)
	}
	if in.TrackOpens != nil {
		e.OpenTracking.Enabled = *in.TrackOpens
	}
	if in.TrackClicks != nil {
		e.ClickTracking.Enabled = *in.TrackClicks
	}
	reschedule := false
	if in.ScheduledAt != nil {
		if *in.ScheduledAt == "" {
			e.ScheduledAt = nil
			e.Status = domain.EmailDraft
		} else {
			at, err := ParseScheduledAt(*in.ScheduledAt, in.TimeZone)
			if err != nil {
				return nil, err
			}
			e.ScheduledAt = &at
			e.Status = domain.EmailScheduled
			reschedule = true
		}
	}
	if err := s.validate(e); err != nil {
		return nil, err
	}
	e.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, e, prev); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotEditable
		}
		return nil, fmt.Errorf("update email: %w", err)
	}

	switch {
	case reschedule:
		if err := s.enqueue(ctx, e); err != nil {
			return nil, err
		}
	case wasScheduled && e.Status == domain.EmailDraft:
		s.cancel(ctx, e.ID)
	}
	return e, nil
}

func (s *Service) validate(e *domain.Email) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !e.Personalize {
		return nil
	}
	if err := s.tmpl.check("subject", e.Subject); err != nil {
		return err
	}
	return s.tmpl.check("content", e.Content)
}

// Delete removes a draft or scheduled email and drops its pending job.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotDeletable
		}
		return fmt.Errorf("delete email: %w", err)
	}
	s.cancel(ctx, id)
	return nil
}

// ScheduleInput is the body of a schedule request.
type ScheduleInput struct {
	ScheduledAt string `json:"scheduledAt"`
	TimeZone    string `json:"timeZone"`
}

// Schedule moves a draft to scheduled at the given instant and enqueues
// its send job. A time at or before now is sent as soon as a worker is free.
func (s *Service) Schedule(ctx context.Context, userID, id string, in ScheduleInput) (*domain.Email, error) {
	at, err := ParseScheduledAt(in.ScheduledAt, in.TimeZone)
	if err != nil {
		return nil, err
	}

	err = s.repo.Transition(ctx, userID, id, StatusChange{
		From:        []domain.EmailStatus{domain.EmailDraft},
		To:          domain.EmailScheduled,
		ScheduledAt: &at,
	})
	if errors.Is(err, ErrInvalidTransition) {
		return nil, ErrNotSchedulable
	}
	if err != nil {
		return nil, fmt.Errorf("schedule email: %w", err)
	}

	e, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, e); err != nil {
		return nil, err
	}
	logger.Info("email scheduled", "email_id", id, "scheduled_at", at.Format(time.RFC3339))
	return e, nil
}

// Analytics returns delivery and engagement counts for one email.
func (s *Service) Analytics(ctx context.Context, userID, id string) (domain.Analytics, error) {
	e, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return domain.Analytics{}, err
	}
	return ComputeAnalytics(e), nil
}

// enqueue schedules e's send job. On failure the email is put back to
// draft so it does not sit in scheduled with nothing to fire it.
func (s *Service) enqueue(ctx context.Context, e *domain.Email) error {
	delay := time.Duration(0)
	if e.ScheduledAt != nil {
		delay = delayUntil(*e.ScheduledAt, s.now())
	}
	err := s.scheduler.Enqueue(ctx, domain.SendJob{EmailID: e.ID, UserID: e.UserID}, delay)
	if err == nil {
		return nil
	}

	revertErr := s.repo.Transition(context.WithoutCancel(ctx), e.UserID, e.ID, StatusChange{
		From:             []domain.EmailStatus{domain.EmailScheduled},
		To:               domain.EmailDraft,
		ClearScheduledAt: true,
	})
	if revertErr != nil {
		logger.Error("revert to draft after enqueue failure", "email_id", e.ID, "error", revertErr)
	} else {
		e.Status = domain.EmailDraft
		e.ScheduledAt = nil
	}
	return fmt.Errorf("enqueue send job: %w", err)
}

func (s *Service) cancel(ctx context.Context, emailID string) {
	if err := s.scheduler.Cancel(ctx, emailID); err != nil {
		// a job that still fires finds the email gone or not scheduled and skips
		logger.Warn("cancel send job", "email_id", emailID, "error", err)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
