package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gojob/email-sender/internal/pkg/distlock"
	"github.com/gojob/email-sender/internal/pkg/logger"
)

const (
	// DefaultRecoveryInterval is how often we scan for stuck sends.
	DefaultRecoveryInterval = time.Minute

	// DefaultStaleAge is how long an email may sit in sending before we
	// consider the process that started it dead.
	DefaultStaleAge = 30 * time.Minute

	recoveryBatch = 500
)

// StuckRecoverer fails emails stuck in sending. *email.Service implements it.
type StuckRecoverer interface {
	RecoverStuck(ctx context.Context, age time.Duration, limit int) (int, error)
}

// StuckSendRecovery periodically fails emails whose send never finished.
// Only one replica scans at a time, guarded by a distributed lock.
type StuckSendRecovery struct {
	recoverer StuckRecoverer
	lock      distlock.DistLock
	interval  time.Duration
	staleAge  time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewStuckSendRecovery creates a recovery worker. Zero durations take the
// defaults. lock may be nil for a single-replica deployment.
func NewStuckSendRecovery(r StuckRecoverer, lock distlock.DistLock, interval, staleAge time.Duration) *StuckSendRecovery {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	return &StuckSendRecovery{
		recoverer: r,
		lock:      lock,
		interval:  interval,
		staleAge:  staleAge,
	}
}

// Start begins the recovery loop in the background.
func (w *StuckSendRecovery) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.running = true

	logger.Info("stuck send recovery started", "interval", w.interval.String(), "stale_age", w.staleAge.String())

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.RunOnce(ctx)
			}
		}
	}()
}

// Stop ends the loop and waits for a scan in progress.
func (w *StuckSendRecovery) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()
	w.wg.Wait()
	logger.Info("stuck send recovery stopped")
}

// RunOnce performs one scan and returns the number of emails failed.
func (w *StuckSendRecovery) RunOnce(ctx context.Context) int {
	scanCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	moved := 0
	scan := func(ctx context.Context) error {
		n, err := w.recoverer.RecoverStuck(ctx, w.staleAge, recoveryBatch)
		moved = n
		return err
	}

	var err error
	if w.lock == nil {
		err = scan(scanCtx)
	} else {
		err = distlock.Do(scanCtx, w.lock, scan)
	}
	switch {
	case errors.Is(err, distlock.ErrNotAcquired):
		logger.Debug("stuck send recovery skipped, another replica holds the lock")
	case err != nil:
		logger.Error("stuck send recovery failed", "error", err, "recovered", moved)
	case moved > 0:
		logger.Warn("stuck sends marked failed", "count", moved)
	}
	return moved
}
