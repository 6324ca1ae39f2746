// Package sending delivers a batch of per-recipient messages over a single
// resolved transport.
//
// The BulkSender walks the batch strictly in order. A recipient's failure is
// captured in its own result and never stops the rest of the batch.
package sending

import (
	"context"

	"github.com/gojob/email-sender/internal/domain"
)

// Transport delivers one message. It returns the Message-ID on success.
// Implementations must be safe for sequential reuse within one batch.
type Transport interface {
	Send(ctx context.Context, msg *domain.OutboundMessage) (string, error)
}

// Resolver returns the transport bound to a user's SMTP settings.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (Transport, error)
}
