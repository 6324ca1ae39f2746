package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gojob/email-sender/internal/domain"
)

const maxBackoff = time.Hour

// Options configure a Queue. Zero values take the defaults below.
type Options struct {
	Prefix      string        // default "gojob:email-queue"
	MaxAttempts int           // default 5
	BackoffBase time.Duration // default 5s, doubled per attempt
	Visibility  time.Duration // lease length, default 10m
}

// Delivery is one claimed job. It must be passed back to Ack or Nack.
type Delivery struct {
	ID  string
	Job domain.SendJob
}

// DeadLetter is a job that exhausted its attempts.
type DeadLetter struct {
	Job      domain.SendJob `json:"job"`
	Error    string         `json:"error"`
	FailedAt time.Time      `json:"failedAt"`
}

// Stats are the current key sizes.
type Stats struct {
	Delayed int64 `json:"delayed"`
	Active  int64 `json:"active"`
	Dead    int64 `json:"dead"`
}

// Queue is a Redis-backed delayed queue of send jobs. It satisfies the
// email service's Scheduler.
type Queue struct {
	rdb  redis.UniversalClient
	opts Options

	delayedKey string
	activeKey  string
	jobsKey    string
	deadKey    string

	now func() time.Time
}

// New creates a queue on rdb.
func New(rdb redis.UniversalClient, opts Options) *Queue {
	if opts.Prefix == "" {
		opts.Prefix = "gojob:email-queue"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 5 * time.Second
	}
	if opts.Visibility <= 0 {
		opts.Visibility = 10 * time.Minute
	}
	return &Queue{
		rdb:        rdb,
		opts:       opts,
		delayedKey: opts.Prefix + ":delayed",
		activeKey:  opts.Prefix + ":active",
		jobsKey:    opts.Prefix + ":jobs",
		deadKey:    opts.Prefix + ":dead",
		now:        time.Now,
	}
}

// JobID is the queue id of an email's send job.
func JobID(emailID string) string { return "email:" + emailID }

// Visibility is the lease granted to each claim.
func (q *Queue) Visibility() time.Duration { return q.opts.Visibility }

func millis(t time.Time) int64 { return t.UnixMilli() }

// Enqueue makes job due after delay. An existing job for the same email is
// replaced, including its attempt count.
func (q *Queue) Enqueue(ctx context.Context, job domain.SendJob, delay time.Duration) error {
	if job.EmailID == "" {
		return errors.New("queue: job has no email id")
	}
	if delay < 0 {
		delay = 0
	}
	job.Attempts = 0
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	id := JobID(job.EmailID)
	due := millis(q.now().Add(delay))

	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.jobsKey, id, payload)
		p.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(due), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", id, err)
	}
	return nil
}

// Cancel drops the email's job if one exists. A job already leased to a
// consumer keeps running; its ack finds nothing left to delete.
func (q *Queue) Cancel(ctx context.Context, emailID string) error {
	id := JobID(emailID)
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.delayedKey, id)
		p.HDel(ctx, q.jobsKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	return nil
}

// Claim leases up to n due jobs.
func (q *Queue) Claim(ctx context.Context, n int) ([]Delivery, error) {
	if n <= 0 {
		return nil, nil
	}
	now := q.now()
	raw, err := claimScript.Run(ctx, q.rdb,
		[]string{q.delayedKey, q.activeKey, q.jobsKey},
		millis(now), n, millis(now.Add(q.opts.Visibility)),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}

	out := make([]Delivery, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		var job domain.SendJob
		if err := json.Unmarshal([]byte(raw[i+1]), &job); err != nil {
			// unreadable payloads would be leased forever; bury them
			_ = q.bury(ctx, raw[i], fmt.Sprintf("decode payload: %v", err))
			continue
		}
		out = append(out, Delivery{ID: raw[i], Job: job})
	}
	return out, nil
}

// Extend renews the lease on d for another visibility period. It reports
// false when the lease already expired and the job was requeued.
func (q *Queue) Extend(ctx context.Context, d Delivery) (bool, error) {
	n, err := extendScript.Run(ctx, q.rdb, []string{q.activeKey},
		d.ID, millis(q.now().Add(q.opts.Visibility)),
	).Int()
	if err != nil {
		return false, fmt.Errorf("extend %s: %w", d.ID, err)
	}
	return n == 1, nil
}

// Ack finishes a delivery.
func (q *Queue) Ack(ctx context.Context, d Delivery) error {
	err := ackScript.Run(ctx, q.rdb, []string{q.delayedKey, q.activeKey, q.jobsKey}, d.ID).Err()
	if err != nil {
		return fmt.Errorf("ack %s: %w", d.ID, err)
	}
	return nil
}

// Nack returns a failed delivery for retry with exponential backoff, or
// moves it to the dead list once attempts run out or cause is Permanent.
// It reports whether the job was buried.
func (q *Queue) Nack(ctx context.Context, d Delivery, cause error) (bool, error) {
	job := d.Job
	job.Attempts++
	bury := job.Attempts >= q.opts.MaxAttempts || IsPermanent(cause)

	payload, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("encode job: %w", err)
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	dead, err := json.Marshal(DeadLetter{Job: job, Error: reason, FailedAt: q.now().UTC()})
	if err != nil {
		return false, fmt.Errorf("encode dead letter: %w", err)
	}
	buryFlag := "0"
	if bury {
		buryFlag = "1"
	}
	retryAt := millis(q.now().Add(q.Backoff(job.Attempts)))

	res, err := nackScript.Run(ctx, q.rdb,
		[]string{q.delayedKey, q.activeKey, q.jobsKey, q.deadKey},
		d.ID, payload, buryFlag, retryAt, dead,
	).Int()
	if err != nil {
		return false, fmt.Errorf("nack %s: %w", d.ID, err)
	}
	return res == 2, nil
}

func (q *Queue) bury(ctx context.Context, id, reason string) error {
	dead, err := json.Marshal(DeadLetter{Error: reason, FailedAt: q.now().UTC()})
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.activeKey, id)
		p.HDel(ctx, q.jobsKey, id)
		p.LPush(ctx, q.deadKey, dead)
		return nil
	})
	return err
}

// Backoff is the wait before retry number attempts.
func (q *Queue) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := q.opts.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// RequeueExpired puts jobs whose lease ran out back in delayed, due now.
func (q *Queue) RequeueExpired(ctx context.Context) (int, error) {
	n, err := requeueScript.Run(ctx, q.rdb,
		[]string{q.activeKey, q.delayedKey, q.jobsKey},
		millis(q.now()),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("requeue expired: %w", err)
	}
	return n, nil
}

// DeadLetters returns up to limit buried jobs, newest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	raw, err := q.rdb.LRange(ctx, q.deadKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, r := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(r), &dl); err != nil {
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}

// Stats reports the size of each key.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var delayed, active, dead *redis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		delayed = p.ZCard(ctx, q.delayedKey)
		active = p.ZCard(ctx, q.activeKey)
		dead = p.LLen(ctx, q.deadKey)
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Delayed: delayed.Val(), Active: active.Val(), Dead: dead.Val()}, nil
}

// Pending reports when the email's job is due, if one is waiting.
func (q *Queue) Pending(ctx context.Context, emailID string) (time.Time, bool, error) {
	score, err := q.rdb.ZScore(ctx, q.delayedKey, JobID(emailID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(int64(score)), true, nil
}
