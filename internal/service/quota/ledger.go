package quota

import (
	"context"
	"fmt"

	"github.com/gojob/email-sender/internal/domain"
)

// Store persists quota counters.
// Implementations must be safe for concurrent use.
type Store interface {
	// Usage returns the user's current counters. Returns ErrUserNotFound.
	Usage(ctx context.Context, userID string) (domain.EmailQuota, error)

	// IncrementUsage adds n to used only if used+n stays within monthly,
	// as one atomic operation. It reports whether the increment applied.
	IncrementUsage(ctx context.Context, userID string, n int) (bool, error)
}

// Ledger enforces the monthly quota.
type Ledger struct {
	store Store
}

// NewLedger creates a ledger backed by the given store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// CanSend reports whether n more sends fit within q. It has no side effects.
func CanSend(q domain.EmailQuota, n int) bool {
	return n > 0 && q.Used+n <= q.Monthly
}

// CanSend is the method form of the package-level check.
func (l *Ledger) CanSend(q domain.EmailQuota, n int) bool {
	return CanSend(q, n)
}

// Exhausted reports whether no further send fits at all.
func (l *Ledger) Exhausted(q domain.EmailQuota) bool {
	return q.Used >= q.Monthly
}

// Commit charges n attempted sends to userID. It returns ErrQuotaExceeded
// and leaves usage untouched when the charge would overrun the allotment.
func (l *Ledger) Commit(ctx context.Context, userID string, n int) error {
	if n <= 0 {
		return ErrInvalidCount
	}
	ok, err := l.store.IncrementUsage(ctx, userID, n)
	if err != nil {
		return fmt.Errorf("commit quota: %w", err)
	}
	if !ok {
		return ErrQuotaExceeded
	}
	return nil
}

// Usage returns the user's counters.
func (l *Ledger) Usage(ctx context.Context, userID string) (domain.EmailQuota, error) {
	return l.store.Usage(ctx, userID)
}
