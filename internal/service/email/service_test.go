package email_test

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gojob/email-sender/internal/domain"
	"github.com/gojob/email-sender/internal/repository/memory"
	"github.com/gojob/email-sender/internal/service/email"
	"github.com/gojob/email-sender/internal/service/quota"
	"github.com/gojob/email-sender/internal/service/sending"
	"github.com/gojob/email-sender/internal/service/tracking"
	"github.com/gojob/email-sender/internal/service/transport"
)

const testUser = "user-1"

var testNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type fakeTransport struct {
	mu      sync.Mutex
	fail    map[string]bool
	sent    []domain.OutboundMessage
	attempt int
}

func (f *fakeTransport) Send(_ context.Context, msg *domain.OutboundMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempt++
	if f.fail[msg.To] {
		return "", errors.New("550 mailbox unavailable")
	}
	f.sent = append(f.sent, *msg)
	return fmt.Sprintf("<%d@test>", f.attempt), nil
}

type fakeResolver struct {
	t   *fakeTransport
	err error
}

func (r *fakeResolver) Resolve(context.Context, string) (sending.Transport, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.t, nil
}

type fakeScheduler struct {
	mu       sync.Mutex
	enqueued map[string]time.Duration
	cancels  []string
	err      error
}

func (f *fakeScheduler) Enqueue(_ context.Context, job domain.SendJob, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.enqueued[job.EmailID] = delay
	return nil
}

func (f *fakeScheduler) Cancel(_ context.Context, emailID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, emailID)
	delete(f.enqueued, emailID)
	return nil
}

type fakeBlobs map[string][]byte

func (b fakeBlobs) Read(_ context.Context, path string) ([]byte, error) {
	data, ok := b[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, fs.ErrNotExist)
	}
	return data, nil
}

type harness struct {
	svc       *email.Service
	store     *memory.Store
	transport *fakeTransport
	resolver  *fakeResolver
	scheduler *fakeScheduler
	blobs     fakeBlobs
}

func newHarness(t *testing.T, q domain.EmailQuota) *harness {
	t.Helper()
	store := memory.NewStore()
	store.Now = func() time.Time { return testNow }
	store.PutUser(&domain.User{
		ID:    testUser,
		Email: "owner@example.com",
		Quota: q,
		SMTP:  &domain.SMTPSettings{Host: "smtp.example.com", Port: 587, User: "u", Pass: "p"},
	})

	h := &harness{
		store:     store,
		transport: &fakeTransport{fail: map[string]bool{}},
		scheduler: &fakeScheduler{enqueued: map[string]time.Duration{}},
		blobs:     fakeBlobs{},
	}
	h.resolver = &fakeResolver{t: h.transport}
	h.svc = email.NewService(email.Deps{
		Repo:       store,
		Users:      store,
		Files:      store,
		Blobs:      h.blobs,
		Quota:      quota.NewLedger(store),
		Transports: h.resolver,
		Sender:     sending.NewBulkSender(time.Second),
		Scheduler:  h.scheduler,
		Now:        func() time.Time { return testNow },
	})
	return h
}

func draftInput(recipients ...string) email.CreateInput {
	in := email.CreateInput{
		From:        "owner@example.com",
		Subject:     "Launch",
		Content:     "<p>Hello {{ name }}</p>",
		Personalize: true,
	}
	for i, r := range recipients {
		in.To = append(in.To, domain.Recipient{Email: r, Name: fmt.Sprintf("R%d", i)})
	}
	return in
}

func (h *harness) usage(t *testing.T) int {
	t.Helper()
	q, err := h.store.Usage(context.Background(), testUser)
	require.NoError(t, err)
	return q.Used
}

func (h *harness) status(t *testing.T, id string) domain.EmailStatus {
	t.Helper()
	e, err := h.store.Get(context.Background(), testUser, id)
	require.NoError(t, err)
	return e.Status
}

func TestCreateDraftAndScheduled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 100})

	draft, err := h.svc.Create(ctx, testUser, draftInput("a@example.com"))
	require.NoError(t, err)
	assert.Equal(t, domain.EmailDraft, draft.Status)
	assert.True(t, draft.OpenTracking.Enabled)
	assert.Empty(t, h.scheduler.enqueued)

	in := draftInput("a@example.com")
	in.ScheduledAt = "2024-06-01T10:00:00"
	in.TimeZone = "Asia/Kolkata"
	scheduled, err := h.svc.Create(ctx, testUser, in)
	require.NoError(t, err)
	assert.Equal(t, domain.EmailScheduled, scheduled.Status)
	assert.Equal(t, time.Date(2024, 6, 1, 4, 30, 0, 0, time.UTC), *scheduled.ScheduledAt)
	assert.Equal(t, 4*time.Hour+30*time.Minute, h.scheduler.enqueued[scheduled.ID])
}

func TestCreateRejections(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, domain.EmailQuota{Used: 10, Monthly: 10})
	_, err := h.svc.Create(ctx, testUser, draftInput("a@example.com"))
	assert.ErrorIs(t, err, email.ErrQuotaExhausted)

	h = newHarness(t, domain.EmailQuota{Monthly: 10})
	_, err = h.svc.Create(ctx, testUser, draftInput())
	assert.ErrorIs(t, err, email.ErrValidation)

	in := draftInput("a@example.com")
	in.ScheduledAt = "tomorrow-ish"
	_, err = h.svc.Create(ctx, testUser, in)
	assert.ErrorIs(t, err, email.ErrValidation)
}

func TestSendNowRecordsPerRecipientResults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Used: 0, Monthly: 10})
	h.transport.fail["b@example.com"] = true

	e, err := h.svc.Create(ctx, testUser, draftInput("a@example.com", "b@example.com"))
	require.NoError(t, err)

	report, err := h.svc.SendNow(ctx, testUser, e.ID)
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.True(t, report.Results[0].Success)
	assert.False(t, report.Results[1].Success)

	stored, err := h.store.Get(ctx, testUser, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EmailSent, stored.Status)
	require.NotNil(t, stored.SentAt)
	require.Len(t, stored.DeliveryStatus, 2)
	assert.Equal(t, domain.DeliverySent, stored.DeliveryStatus[0].Status)
	assert.Equal(t, domain.DeliveryFailed, stored.DeliveryStatus[1].Status)
	assert.Equal(t, "550 mailbox unavailable", stored.DeliveryStatus[1].FailureReason)

	assert.Equal(t, 2, h.usage(t), "quota counts attempted sends")
	require.Len(t, h.transport.sent, 1)
	assert.Contains(t, h.transport.sent[0].HTML, "Hello R0")
}

func TestSendNowQuotaBoundary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Used: 0, Monthly: 10})
	e, err := h.svc.Create(ctx, testUser, draftInput("a@example.com", "b@example.com"))
	require.NoError(t, err)
	_, err = h.store.IncrementUsage(ctx, testUser, 9)
	require.NoError(t, err)

	_, err = h.svc.SendNow(ctx, testUser, e.ID)
	assert.ErrorIs(t, err, quota.ErrQuotaExceeded)
	assert.Equal(t, domain.EmailDraft, h.status(t, e.ID))
	assert.Equal(t, 9, h.usage(t))
	assert.Zero(t, h.transport.attempt)
}

func TestSendNowWithoutSMTP(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	h.resolver.err = transport.ErrNoSMTPConfigured
	e, err := h.svc.Create(ctx, testUser, draftInput("a@example.com"))
	require.NoError(t, err)

	_, err = h.svc.SendNow(ctx, testUser, e.ID)
	assert.ErrorIs(t, err, transport.ErrNoSMTPConfigured)
	assert.Equal(t, domain.EmailDraft, h.status(t, e.ID))
	assert.Zero(t, h.usage(t))
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	e, err := h.svc.Create(ctx, testUser, draftInput("a@example.com"))
	require.NoError(t, err)
	_, err = h.svc.SendNow(ctx, testUser, e.ID)
	require.NoError(t, err)

	_, err = h.svc.SendNow(ctx, testUser, e.ID)
	assert.ErrorIs(t, err, email.ErrNotSendable)

	subject := "changed"
	_, err = h.svc.Update(ctx, testUser, e.ID, email.UpdateInput{Subject: &subject})
	assert.ErrorIs(t, err, email.ErrNotEditable)

	assert.ErrorIs(t, h.svc.Delete(ctx, testUser, e.ID), email.ErrNotDeletable)

	_, err = h.svc.Schedule(ctx, testUser, e.ID, email.ScheduleInput{ScheduledAt: "2030-01-01T00:00:00Z"})
	assert.ErrorIs(t, err, email.ErrNotSchedulable)

	assert.Equal(t, domain.EmailSent, h.status(t, e.ID))
	assert.Equal(t, 1, h.usage(t))
}

func TestSendNowOtherUsersEmail(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	e, err := h.svc.Create(ctx, testUser, draftInput("a@example.com"))
	require.NoError(t, err)

	_, err = h.svc.SendNow(ctx, "someone-else", e.ID)
	assert.ErrorIs(t, err, email.ErrNotSendable)
}

func scheduleDraft(t *testing.T, h *harness, at string, recipients ...string) *domain.Email {
	t.Helper()
	ctx := context.Background()
	e, err := h.svc.Create(ctx, testUser, draftInput(recipients...))
	require.NoError(t, err)
	e, err = h.svc.Schedule(ctx, testUser, e.ID, email.ScheduleInput{ScheduledAt: at})
	require.NoError(t, err)
	return e
}

func TestScheduleTimeZoneAndDelay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	e, err := h.svc.Create(ctx, testUser, draftInput("a@example.com"))
	require.NoError(t, err)

	e, err = h.svc.Schedule(ctx, testUser, e.ID, email.ScheduleInput{
		ScheduledAt: "2024-06-01T10:00:00",
		TimeZone:    "Asia/Kolkata",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EmailScheduled, e.Status)
	assert.Equal(t, "2024-06-01T04:30:00Z", e.ScheduledAt.Format(time.RFC3339))
	assert.Equal(t, 4*time.Hour+30*time.Minute, h.scheduler.enqueued[e.ID])

	past := scheduleDraft(t, h, "2024-05-01T00:00:00Z", "b@example.com")
	assert.Equal(t, time.Duration(0), h.scheduler.enqueued[past.ID])

	// only drafts can be scheduled
	_, err = h.svc.Schedule(ctx, testUser, e.ID, email.ScheduleInput{ScheduledAt: "2024-07-01T00:00:00Z"})
	assert.ErrorIs(t, err, email.ErrNotSchedulable)
}

func TestScheduleEnqueueFailureRevertsToDraft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	e, err := h.svc.Create(ctx, testUser, draftInput("a@example.com"))
	require.NoError(t, err)

	h.scheduler.err = errors.New("redis down")
	_, err = h.svc.Schedule(ctx, testUser, e.ID, email.ScheduleInput{ScheduledAt: "2024-06-02T00:00:00Z"})
	require.Error(t, err)
	assert.Equal(t, domain.EmailDraft, h.status(t, e.ID))
}

func TestProcessScheduledSendsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	e := scheduleDraft(t, h, "2024-06-01T00:00:00Z", "a@example.com", "b@example.com")
	job := domain.SendJob{EmailID: e.ID, UserID: testUser}

	outcome, err := h.svc.ProcessScheduled(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, email.OutcomeSent, outcome)
	assert.Equal(t, domain.EmailSent, h.status(t, e.ID))
	assert.Equal(t, 2, h.usage(t))

	// duplicate delivery of the same job
	outcome, err = h.svc.ProcessScheduled(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, email.OutcomeSkipped, outcome)
	assert.Equal(t, 2, h.transport.attempt)
	assert.Equal(t, 2, h.usage(t))
}

func TestProcessScheduledSkips(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})

	outcome, err := h.svc.ProcessScheduled(ctx, domain.SendJob{EmailID: "gone", UserID: testUser})
	require.NoError(t, err)
	assert.Equal(t, email.OutcomeSkipped, outcome)

	draft, err := h.svc.Create(ctx, testUser, draftInput("a@example.com"))
	require.NoError(t, err)
	outcome, err = h.svc.ProcessScheduled(ctx, domain.SendJob{EmailID: draft.ID, UserID: testUser})
	require.NoError(t, err)
	assert.Equal(t, email.OutcomeSkipped, outcome)
	assert.Equal(t, domain.EmailDraft, h.status(t, draft.ID))
}

func TestProcessScheduledQuotaExceeded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 1})
	e := scheduleDraft(t, h, "2024-06-01T00:00:00Z", "a@example.com", "b@example.com")

	outcome, err := h.svc.ProcessScheduled(ctx, domain.SendJob{EmailID: e.ID, UserID: testUser})
	require.NoError(t, err)
	assert.Equal(t, email.OutcomeQuotaExceeded, outcome)
	assert.Equal(t, domain.EmailFailed, h.status(t, e.ID))
	assert.Zero(t, h.transport.attempt)
	assert.Zero(t, h.usage(t))
}

func TestProcessScheduledWithoutSMTP(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	h.resolver.err = transport.ErrNoSMTPConfigured
	e := scheduleDraft(t, h, "2024-06-01T00:00:00Z", "a@example.com", "b@example.com")

	outcome, err := h.svc.ProcessScheduled(ctx, domain.SendJob{EmailID: e.ID, UserID: testUser})
	require.NoError(t, err)
	assert.Equal(t, email.OutcomeTransportFailed, outcome)

	stored, err := h.store.Get(ctx, testUser, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EmailFailed, stored.Status)
	require.Len(t, stored.DeliveryStatus, 2)
	for _, d := range stored.DeliveryStatus {
		assert.Equal(t, domain.DeliveryFailed, d.Status)
		assert.Equal(t, transport.ErrNoSMTPConfigured.Error(), d.FailureReason)
	}
	assert.Zero(t, h.usage(t))
}

func TestProcessScheduledTransientResolveError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	h.resolver.err = errors.New("connection refused")
	e := scheduleDraft(t, h, "2024-06-01T00:00:00Z", "a@example.com")

	_, err := h.svc.ProcessScheduled(ctx, domain.SendJob{EmailID: e.ID, UserID: testUser})
	require.Error(t, err)
	assert.Equal(t, domain.EmailScheduled, h.status(t, e.ID), "retryable errors leave the email scheduled")
}

func TestUpdateReschedulesAndClears(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	e, err := h.svc.Create(ctx, testUser, draftInput("a@example.com"))
	require.NoError(t, err)

	at := "2024-06-01T02:00:00Z"
	e, err = h.svc.Update(ctx, testUser, e.ID, email.UpdateInput{ScheduledAt: &at})
	require.NoError(t, err)
	assert.Equal(t, domain.EmailScheduled, e.Status)
	assert.Equal(t, 2*time.Hour, h.scheduler.enqueued[e.ID])

	cleared := ""
	e, err = h.svc.Update(ctx, testUser, e.ID, email.UpdateInput{ScheduledAt: &cleared})
	require.NoError(t, err)
	assert.Equal(t, domain.EmailDraft, e.Status)
	assert.Nil(t, e.ScheduledAt)
	assert.Contains(t, h.scheduler.cancels, e.ID)

	bad := []domain.Recipient{}
	_, err = h.svc.Update(ctx, testUser, e.ID, email.UpdateInput{To: &bad})
	assert.ErrorIs(t, err, email.ErrValidation)
}

func TestDeleteCancelsJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	e := scheduleDraft(t, h, "2024-06-02T00:00:00Z", "a@example.com")

	require.NoError(t, h.svc.Delete(ctx, testUser, e.ID))
	assert.Contains(t, h.scheduler.cancels, e.ID)

	_, err := h.svc.Get(ctx, testUser, e.ID)
	assert.ErrorIs(t, err, email.ErrNotFound)

	outcome, err := h.svc.ProcessScheduled(ctx, domain.SendJob{EmailID: e.ID, UserID: testUser})
	require.NoError(t, err)
	assert.Equal(t, email.OutcomeSkipped, outcome)
}

func TestAttachmentsMissingBlobSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	h.store.PutFile(&domain.File{ID: "f1", UserID: testUser, OriginalName: "report.pdf", Path: "u/report.pdf", Category: domain.FileAttachment})
	h.store.PutFile(&domain.File{ID: "f2", UserID: testUser, OriginalName: "gone.txt", Path: "u/gone.txt", Category: domain.FileAttachment})
	h.store.PutFile(&domain.File{ID: "f3", UserID: "other", OriginalName: "theirs.txt", Path: "o/theirs.txt", Category: domain.FileAttachment})
	h.blobs["u/report.pdf"] = []byte("%PDF")
	h.blobs["o/theirs.txt"] = []byte("nope")

	in := draftInput("a@example.com")
	in.Attachments = []string{"f1", "f2", "f3"}
	e, err := h.svc.Create(ctx, testUser, in)
	require.NoError(t, err)

	_, err = h.svc.SendNow(ctx, testUser, e.ID)
	require.NoError(t, err)

	require.Len(t, h.transport.sent, 1)
	atts := h.transport.sent[0].Attachments
	require.Len(t, atts, 1)
	assert.Equal(t, "report.pdf", atts[0].Filename)
	assert.Equal(t, "application/pdf", atts[0].ContentType)
}

func TestTrackingDecoration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	store := h.store
	h.svc = email.NewService(email.Deps{
		Repo:       store,
		Users:      store,
		Quota:      quota.NewLedger(store),
		Transports: h.resolver,
		Sender:     sending.NewBulkSender(time.Second),
		Scheduler:  h.scheduler,
		Decorator:  tracking.NewInjector(tracking.NewSigner("https://t.example.com", "k")),
		Now:        func() time.Time { return testNow },
	})

	in := draftInput("a@example.com")
	in.Content = `<p>Hi {{ name }}</p><a href="https://example.com">go</a>`
	e, err := h.svc.Create(ctx, testUser, in)
	require.NoError(t, err)
	_, err = h.svc.SendNow(ctx, testUser, e.ID)
	require.NoError(t, err)

	html := h.transport.sent[0].HTML
	assert.Contains(t, html, "Hi R0")
	assert.Contains(t, html, "/api/emails/"+e.ID+"/track/a@example.com")
	assert.True(t, strings.Contains(html, "/api/emails/"+e.ID+"/click/a@example.com?"))
}

func TestAnalytics(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	h.transport.fail["c@example.com"] = true
	e, err := h.svc.Create(ctx, testUser, draftInput("a@example.com", "b@example.com", "c@example.com"))
	require.NoError(t, err)
	_, err = h.svc.SendNow(ctx, testUser, e.ID)
	require.NoError(t, err)
	_, err = h.store.AddOpen(ctx, e.ID, domain.OpenRecord{Email: "a@example.com", OpenedAt: testNow})
	require.NoError(t, err)

	a, err := h.svc.Analytics(ctx, testUser, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, a.TotalRecipients)
	assert.Equal(t, 2, a.Sent)
	assert.Equal(t, 1, a.Failed)
	assert.Equal(t, 1, a.Opened)
	assert.Equal(t, 33.33, a.OpenRate)
	assert.Equal(t, 0.0, a.ClickRate)
}

func TestRecoverStuck(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	old, err := h.svc.Create(ctx, testUser, draftInput("a@example.com"))
	require.NoError(t, err)
	fresh, err := h.svc.Create(ctx, testUser, draftInput("b@example.com"))
	require.NoError(t, err)
	h.store.SetStatus(old.ID, domain.EmailSending, testNow.Add(-2*time.Hour))
	h.store.SetStatus(fresh.ID, domain.EmailSending, testNow.Add(-time.Minute))

	moved, err := h.svc.RecoverStuck(ctx, 30*time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	assert.Equal(t, domain.EmailFailed, h.status(t, old.ID))
	assert.Equal(t, domain.EmailSending, h.status(t, fresh.ID))
}

func TestProcessScheduledRescheduledLater(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	e := scheduleDraft(t, h, "2024-06-03T00:00:00Z", "a@example.com")

	outcome, err := h.svc.ProcessScheduled(ctx, domain.SendJob{EmailID: e.ID, UserID: testUser})
	require.NoError(t, err)
	assert.Equal(t, email.OutcomeSkipped, outcome)
	assert.Equal(t, domain.EmailScheduled, h.status(t, e.ID))
	assert.Zero(t, h.transport.attempt)
}

func TestAuthoredBracesSentVerbatim(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	in := draftInput("a@example.com")
	in.Personalize = false
	in.Subject = "Use {{ PROMO2024 }} today"
	in.Content = `<p>Code: {{ PROMO2024 }}, was {{price}}</p><p>{% raw %}</p>`
	e, err := h.svc.Create(ctx, testUser, in)
	require.NoError(t, err)

	_, err = h.svc.SendNow(ctx, testUser, e.ID)
	require.NoError(t, err)
	require.Len(t, h.transport.sent, 1)
	assert.Equal(t, in.Subject, h.transport.sent[0].Subject)
	assert.Equal(t, in.Content, h.transport.sent[0].HTML)
}

func TestPersonalizeRejectsUnknownVariables(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})

	in := draftInput("a@example.com")
	in.Content = "<p>Hello {{ nmae }}</p>"
	_, err := h.svc.Create(ctx, testUser, in)
	assert.ErrorIs(t, err, email.ErrValidation)

	e, err := h.svc.Create(ctx, testUser, draftInput("a@example.com"))
	require.NoError(t, err)
	subject := "Hi {{ first_name }}"
	_, err = h.svc.Update(ctx, testUser, e.ID, email.UpdateInput{Subject: &subject})
	assert.ErrorIs(t, err, email.ErrValidation)

	// turning personalisation off accepts the same text as literal
	off := false
	updated, err := h.svc.Update(ctx, testUser, e.ID, email.UpdateInput{Subject: &subject, Personalize: &off})
	require.NoError(t, err)
	assert.False(t, updated.Personalize)
	assert.Equal(t, subject, updated.Subject)
}

func TestStaleUpdateDoesNotUndoSchedule(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	e, err := h.svc.Create(ctx, testUser, draftInput("a@example.com"))
	require.NoError(t, err)

	stale, err := h.store.Get(ctx, testUser, e.ID)
	require.NoError(t, err)
	_, err = h.svc.Schedule(ctx, testUser, e.ID, email.ScheduleInput{ScheduledAt: "2024-06-02T00:00:00Z"})
	require.NoError(t, err)

	stale.Subject = "edited"
	err = h.store.Update(ctx, stale, domain.EmailDraft)
	assert.ErrorIs(t, err, email.ErrNotFound)

	stored, err := h.store.Get(ctx, testUser, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EmailScheduled, stored.Status)
	require.NotNil(t, stored.ScheduledAt)
	assert.Equal(t, "Launch", stored.Subject)
}

func TestConcurrentDeliveriesSendOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	e := scheduleDraft(t, h, "2024-06-01T00:00:00Z", "a@example.com", "b@example.com")
	job := domain.SendJob{EmailID: e.ID, UserID: testUser}

	const workers = 4
	outcomes := make([]email.Outcome, workers)
	errs := make([]error, workers)
	var sendNowErr error
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = h.svc.ProcessScheduled(ctx, job)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, sendNowErr = h.svc.SendNow(ctx, testUser, e.ID)
	}()
	wg.Wait()

	sent := 0
	for i := range outcomes {
		require.NoError(t, errs[i])
		if outcomes[i] == email.OutcomeSent {
			sent++
		}
	}
	if sendNowErr == nil {
		sent++
	} else {
		assert.ErrorIs(t, sendNowErr, email.ErrNotSendable)
	}
	assert.Equal(t, 1, sent, "exactly one caller sends")
	assert.Equal(t, 2, h.transport.attempt, "one attempt per recipient")
	assert.Equal(t, 2, h.usage(t), "quota charged once")
	assert.Equal(t, domain.EmailSent, h.status(t, e.ID))
}

func TestFailAbandoned(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	e := scheduleDraft(t, h, "2024-06-01T00:00:00Z", "a@example.com", "b@example.com")
	job := domain.SendJob{EmailID: e.ID, UserID: testUser}

	outcome, err := h.svc.FailAbandoned(ctx, job, "resolve transport: connection refused")
	require.NoError(t, err)
	assert.Equal(t, email.OutcomeRetriesExhausted, outcome)

	stored, err := h.store.Get(ctx, testUser, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EmailFailed, stored.Status)
	require.Len(t, stored.DeliveryStatus, 2)
	for _, d := range stored.DeliveryStatus {
		assert.Equal(t, domain.DeliveryFailed, d.Status)
		assert.Equal(t, "resolve transport: connection refused", d.FailureReason)
	}
	assert.Zero(t, h.usage(t))

	// already failed, and gone
	outcome, err = h.svc.FailAbandoned(ctx, job, "again")
	require.NoError(t, err)
	assert.Equal(t, email.OutcomeSkipped, outcome)
	outcome, err = h.svc.FailAbandoned(ctx, domain.SendJob{EmailID: "gone", UserID: testUser}, "x")
	require.NoError(t, err)
	assert.Equal(t, email.OutcomeSkipped, outcome)
}

func TestFailAbandonedLeavesDraftAlone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.EmailQuota{Monthly: 10})
	e, err := h.svc.Create(ctx, testUser, draftInput("a@example.com"))
	require.NoError(t, err)

	outcome, err := h.svc.FailAbandoned(ctx, domain.SendJob{EmailID: e.ID, UserID: testUser}, "boom")
	require.NoError(t, err)
	assert.Equal(t, email.OutcomeSkipped, outcome)
	assert.Equal(t, domain.EmailDraft, h.status(t, e.ID))
}
