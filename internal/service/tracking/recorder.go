package tracking

import (
	"context"
	"strings"
	"time"

	"github.com/gojob/email-sender/internal/domain"
	"github.com/gojob/email-sender/internal/pkg/logger"
)

// Store persists engagement events.
// Implementations must be safe for concurrent use.
type Store interface {
	// EmailByID loads an email without owner scoping. Returns ErrEmailNotFound.
	EmailByID(ctx context.Context, id string) (*domain.Email, error)

	// AddOpen stores rec unless an open for the same recipient exists.
	// It reports whether a new record was written.
	AddOpen(ctx context.Context, emailID string, rec domain.OpenRecord) (bool, error)

	// AddClick stores rec unless a click for the same recipient exists.
	AddClick(ctx context.Context, emailID string, rec domain.ClickRecord) (bool, error)
}

// Recorder records opens and clicks.
type Recorder struct {
	store  Store
	signer *Signer
	now    func() time.Time
}

// NewRecorder creates a recorder. signer verifies click redirects.
func NewRecorder(store Store, signer *Signer) *Recorder {
	return &Recorder{store: store, signer: signer, now: time.Now}
}

// RecordOpen stores the first open for recipient. It reports whether this
// call wrote the record; later opens are no-ops.
func (r *Recorder) RecordOpen(ctx context.Context, emailID, recipient, ip, userAgent string) (bool, error) {
	recipient = strings.TrimSpace(recipient)
	if _, err := r.store.EmailByID(ctx, emailID); err != nil {
		return false, err
	}
	added, err := r.store.AddOpen(ctx, emailID, domain.OpenRecord{
		Email:     recipient,
		OpenedAt:  r.now().UTC(),
		IPAddress: ip,
		UserAgent: userAgent,
	})
	if err != nil {
		return false, err
	}
	if added {
		logger.Debug("open recorded", "email_id", emailID, "recipient", recipient)
	}
	return added, nil
}

// RecordClick verifies the signed target, stores the first click for
// recipient and returns the target to redirect to.
func (r *Recorder) RecordClick(ctx context.Context, emailID, recipient, target, sig, ip string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if !r.signer.Verify(emailID, recipient, target, sig) {
		return "", ErrInvalidSignature
	}
	if _, err := r.store.EmailByID(ctx, emailID); err != nil {
		return "", err
	}
	added, err := r.store.AddClick(ctx, emailID, domain.ClickRecord{
		Email:     recipient,
		Link:      target,
		ClickedAt: r.now().UTC(),
		IPAddress: ip,
	})
	if err != nil {
		return "", err
	}
	if added {
		logger.Debug("click recorded", "email_id", emailID, "recipient", recipient)
	}
	return target, nil
}
