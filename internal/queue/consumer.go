package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gojob/email-sender/internal/domain"
	"github.com/gojob/email-sender/internal/pkg/logger"
)

// Handler processes one job. A nil return acks it; an error retries it
// unless wrapped with Permanent.
type Handler func(ctx context.Context, job domain.SendJob) error

// DeadHandler is told about a job that was moved to the dead letters,
// with the error from its last attempt.
type DeadHandler func(ctx context.Context, job domain.SendJob, cause error)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Consumer polls a Queue and runs a bounded number of handlers at once.
type Consumer struct {
	queue        *Queue
	handler      Handler
	onDead       DeadHandler
	concurrency  int
	pollInterval time.Duration

	slots chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewConsumer creates a consumer running at most concurrency handlers.
func NewConsumer(q *Queue, h Handler, concurrency int, pollInterval time.Duration) *Consumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Consumer{
		queue:        q,
		handler:      h,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		slots:        make(chan struct{}, concurrency),
	}
}

// OnDead registers h to run whenever a job is buried. Call before Start.
func (c *Consumer) OnDead(h DeadHandler) {
	c.onDead = h
}

// Start begins polling in the background.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("consumer already running")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.running = true

	c.wg.Add(1)
	go c.loop(ctx)

	log.Printf("[QueueConsumer] Starting with concurrency %d, poll interval: %v", c.concurrency, c.pollInterval)
	return nil
}

// Stop stops polling and waits for in-flight handlers to return.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()

	log.Printf("[QueueConsumer] Stopping...")
	c.wg.Wait()
	log.Printf("[QueueConsumer] Stopped")
}

func (c *Consumer) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := c.Poll(ctx); err != nil && ctx.Err() == nil {
			logger.Error("queue poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll requeues expired leases, then claims as many due jobs as there are
// free slots and dispatches them. It returns the number dispatched.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	if n, err := c.queue.RequeueExpired(ctx); err != nil {
		return 0, err
	} else if n > 0 {
		logger.Warn("requeued jobs with expired leases", "count", n)
	}

	free := c.concurrency - len(c.slots)
	if free <= 0 {
		return 0, nil
	}
	deliveries, err := c.queue.Claim(ctx, free)
	if err != nil {
		return 0, err
	}
	for _, d := range deliveries {
		c.slots <- struct{}{}
		c.wg.Add(1)
		go func(d Delivery) {
			defer func() {
				<-c.slots
				c.wg.Done()
			}()
			c.process(ctx, d)
		}(d)
	}
	return len(deliveries), nil
}

// Wait blocks until every dispatched handler has returned. Used with Poll
// when driving the consumer by hand.
func (c *Consumer) Wait() {
	for i := 0; i < c.concurrency; i++ {
		c.slots <- struct{}{}
	}
	for i := 0; i < c.concurrency; i++ {
		<-c.slots
	}
}

func (c *Consumer) process(ctx context.Context, d Delivery) {
	// Stop lets in-flight sends finish; the lease is renewed until they do
	jobCtx := context.WithoutCancel(ctx)
	stopBeat := c.heartbeat(jobCtx, d)
	err := c.run(jobCtx, d.Job)
	stopBeat()

	if err == nil {
		if ackErr := c.queue.Ack(jobCtx, d); ackErr != nil {
			logger.Error("ack failed", "job_id", d.ID, "error", ackErr)
		}
		return
	}

	buried, nackErr := c.queue.Nack(jobCtx, d, err)
	switch {
	case nackErr != nil:
		logger.Error("nack failed", "job_id", d.ID, "error", nackErr)
	case buried:
		logger.Error("job moved to dead letters", "job_id", d.ID, "attempts", d.Job.Attempts+1, "error", err)
		if c.onDead != nil {
			c.onDead(jobCtx, d.Job, err)
		}
	default:
		logger.Warn("job failed, will retry", "job_id", d.ID, "attempts", d.Job.Attempts+1,
			"retry_in", c.queue.Backoff(d.Job.Attempts+1).String(), "error", err)
	}
}

// heartbeat renews d's lease every third of the visibility period until
// the returned func is called, so a long batch is never requeued under a
// running handler.
func (c *Consumer) heartbeat(ctx context.Context, d Delivery) func() {
	every := c.queue.Visibility() / 3
	if every <= 0 {
		every = time.Millisecond
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				ok, err := c.queue.Extend(ctx, d)
				if err != nil {
					logger.Warn("lease renewal failed", "job_id", d.ID, "error", err)
					continue
				}
				if !ok {
					logger.Warn("lease lost while job was running", "job_id", d.ID)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func (c *Consumer) run(ctx context.Context, job domain.SendJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, job)
}
