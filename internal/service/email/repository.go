package email

import (
	"context"
	"time"

	"github.com/gojob/email-sender/internal/domain"
	"github.com/gojob/email-sender/internal/service/sending"
)

// Repository defines the data access contract for emails.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a new email. e.ID must be set.
	Create(ctx context.Context, e *domain.Email) error

	// Get returns an email owned by userID. Returns ErrNotFound.
	Get(ctx context.Context, userID, id string) (*domain.Email, error)

	// List returns the user's emails matching f, newest first, and the
	// total match count before pagination.
	List(ctx context.Context, userID string, f domain.EmailFilter) ([]domain.Email, int, error)

	// Update writes the mutable fields and status of e, only while the
	// stored status is still expected and editable. Returns ErrNotFound
	// otherwise, so a status change made since e was read is never undone.
	Update(ctx context.Context, e *domain.Email, expected domain.EmailStatus) error

	// Delete removes a draft or scheduled email. Returns ErrNotFound otherwise.
	Delete(ctx context.Context, userID, id string) error

	// Transition applies ch in one conditional update. Returns
	// ErrInvalidTransition when the email is missing or its status is not
	// in ch.From.
	Transition(ctx context.Context, userID, id string, ch StatusChange) error

	// ListStale returns up to limit emails in status whose last update is
	// before cutoff, across all users.
	ListStale(ctx context.Context, status domain.EmailStatus, cutoff time.Time, limit int) ([]domain.Email, error)
}

// StatusChange describes one atomic status move and the fields written
// with it.
type StatusChange struct {
	From []domain.EmailStatus
	To   domain.EmailStatus

	ScheduledAt      *time.Time
	ClearScheduledAt bool
	SentAt           *time.Time
	// Deliveries replaces the stored delivery list when non-nil.
	Deliveries []domain.Delivery
}

// UserStore loads account data for quota checks.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// FileStore returns attachment metadata. Only files owned by userID in the
// attachment category are returned; unknown ids are left out.
type FileStore interface {
	Attachments(ctx context.Context, userID string, ids []string) ([]domain.File, error)
}

// BlobReader reads stored file content. A missing blob is reported with an
// error matching fs.ErrNotExist.
type BlobReader interface {
	Read(ctx context.Context, path string) ([]byte, error)
}

// QuotaLedger checks and charges the monthly allotment.
type QuotaLedger interface {
	CanSend(q domain.EmailQuota, n int) bool
	Exhausted(q domain.EmailQuota) bool
	Commit(ctx context.Context, userID string, n int) error
}

// Scheduler defers a send job. Enqueueing an email that already has a
// pending job replaces it.
type Scheduler interface {
	Enqueue(ctx context.Context, job domain.SendJob, delay time.Duration) error
	Cancel(ctx context.Context, emailID string) error
}

// Decorator adds tracking to one recipient's HTML.
type Decorator interface {
	Decorate(content, emailID, recipient string, opens, clicks bool) (string, error)
}

// BulkSender sends a batch over one transport.
type BulkSender interface {
	SendBulk(ctx context.Context, msgs []domain.OutboundMessage, t sending.Transport) []domain.SendResult
}
