package sending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gojob/email-sender/internal/domain"
	"github.com/gojob/email-sender/internal/pkg/logger"
)

// ErrMessageTimeout marks a recipient whose SMTP exchange ran past the
// per-message limit.
var ErrMessageTimeout = errors.New("smtp exchange timed out")

// BulkSender sends messages one after another through a transport.
type BulkSender struct {
	messageTimeout time.Duration
	now            func() time.Time
}

// NewBulkSender creates a sender that bounds each message by timeout.
// A zero timeout leaves messages bounded only by the caller's context.
func NewBulkSender(timeout time.Duration) *BulkSender {
	return &BulkSender{messageTimeout: timeout, now: time.Now}
}

// SendBulk attempts every message and returns exactly one result per input,
// in input order. It performs no retries.
func (b *BulkSender) SendBulk(ctx context.Context, msgs []domain.OutboundMessage, t Transport) []domain.SendResult {
	results := make([]domain.SendResult, 0, len(msgs))
	for i := range msgs {
		msg := &msgs[i]
		res := domain.SendResult{Email: msg.To}

		id, err := b.sendOne(ctx, msg, t)
		res.SentAt = b.now().UTC()
		if err != nil {
			res.Error = err.Error()
			logger.Warn("recipient send failed", "recipient", msg.To, "error", err)
		} else {
			res.Success = true
			res.MessageID = id
		}
		results = append(results, res)
	}
	return results
}

func (b *BulkSender) sendOne(ctx context.Context, msg *domain.OutboundMessage, t Transport) (id string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sendCtx := ctx
	if b.messageTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, b.messageTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()

	id, err = t.Send(sendCtx, msg)
	if err != nil && errors.Is(sendCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return "", fmt.Errorf("%w after %s: %v", ErrMessageTimeout, b.messageTimeout, err)
	}
	return id, err
}

// Summarize counts successes and failures in a result set.
func Summarize(results []domain.SendResult) (sent, failed int) {
	for _, r := range results {
		if r.Success {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed
}
