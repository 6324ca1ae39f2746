package worker

import (
	"context"
	"errors"
	"time"

	"github.com/gojob/email-sender/internal/domain"
	"github.com/gojob/email-sender/internal/pkg/logger"
	"github.com/gojob/email-sender/internal/queue"
	"github.com/gojob/email-sender/internal/service/email"
	"github.com/gojob/email-sender/internal/service/quota"
)

// JobProcessor runs one scheduled send. *email.Service implements it.
type JobProcessor interface {
	ProcessScheduled(ctx context.Context, job domain.SendJob) (email.Outcome, error)
}

// NewSendJobHandler adapts a JobProcessor to the queue. Final outcomes ack
// the job; errors retry it, except for a user that no longer exists.
func NewSendJobHandler(p JobProcessor) queue.Handler {
	return func(ctx context.Context, job domain.SendJob) error {
		start := time.Now()
		outcome, err := p.ProcessScheduled(ctx, job)
		if err != nil {
			if errors.Is(err, quota.ErrUserNotFound) {
				return queue.Permanent(err)
			}
			return err
		}
		logger.Info("send job done",
			"email_id", job.EmailID,
			"user_id", job.UserID,
			"outcome", string(outcome),
			"attempt", job.Attempts+1,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}
}

// AbandonedFailer fails an email whose send job was given up on.
// *email.Service implements it.
type AbandonedFailer interface {
	FailAbandoned(ctx context.Context, job domain.SendJob, reason string) (email.Outcome, error)
}

// NewDeadJobHandler moves the email of a buried job to failed so a job
// that never succeeds still ends in a terminal status.
func NewDeadJobHandler(f AbandonedFailer) queue.DeadHandler {
	return func(ctx context.Context, job domain.SendJob, cause error) {
		reason := "send job failed"
		if cause != nil {
			reason = cause.Error()
		}
		outcome, err := f.FailAbandoned(ctx, job, reason)
		if err != nil {
			logger.Error("failing abandoned email", "email_id", job.EmailID, "error", err)
			return
		}
		logger.Warn("send job abandoned", "email_id", job.EmailID, "outcome", string(outcome))
	}
}
