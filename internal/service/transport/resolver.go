package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gojob/email-sender/internal/domain"
	"github.com/gojob/email-sender/internal/service/sending"
)

// SettingsStore reads and writes per-user SMTP settings.
type SettingsStore interface {
	// SMTPSettings returns nil settings when the user has none saved.
	// Returns ErrUserNotFound for an unknown user.
	SMTPSettings(ctx context.Context, userID string) (*domain.SMTPSettings, error)
	SaveSMTPSettings(ctx context.Context, userID string, s domain.SMTPSettings) error
}

// Resolver hands out transports bound to each user's SMTP settings.
type Resolver struct {
	store    SettingsStore
	opts     Options
	cacheTTL time.Duration
	now      func() time.Time

	mu         sync.Mutex
	transports map[string]cachedTransport
}

type cachedTransport struct {
	t       *SMTPTransport
	expires time.Time
}

// NewResolver creates a resolver. A positive cacheTTL reuses each user's
// transport for that long. Invalidate and SaveSettings only clear this
// process's cache, so another process picks up new credentials once its
// entry expires.
func NewResolver(store SettingsStore, opts Options, cacheTTL time.Duration) *Resolver {
	return &Resolver{
		store:      store,
		opts:       opts,
		cacheTTL:   cacheTTL,
		now:        time.Now,
		transports: make(map[string]cachedTransport),
	}
}

// Resolve returns the user's transport, or ErrNoSMTPConfigured when the
// user has no SMTP username or password saved.
func (r *Resolver) Resolve(ctx context.Context, userID string) (sending.Transport, error) {
	return r.resolve(ctx, userID)
}

func (r *Resolver) resolve(ctx context.Context, userID string) (*SMTPTransport, error) {
	if r.cacheTTL > 0 {
		r.mu.Lock()
		c, ok := r.transports[userID]
		if ok && !r.now().Before(c.expires) {
			delete(r.transports, userID)
			ok = false
		}
		r.mu.Unlock()
		if ok {
			return c.t, nil
		}
	}

	settings, err := r.store.SMTPSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load smtp settings: %w", err)
	}
	if !settings.Configured() {
		return nil, ErrNoSMTPConfigured
	}
	s := withDefaults(*settings)
	t := NewSMTPTransport(s, r.opts)

	if r.cacheTTL > 0 {
		r.mu.Lock()
		r.transports[userID] = cachedTransport{t: t, expires: r.now().Add(r.cacheTTL)}
		r.mu.Unlock()
	}
	return t, nil
}

// Invalidate drops any cached transport for userID.
func (r *Resolver) Invalidate(userID string) {
	r.mu.Lock()
	delete(r.transports, userID)
	r.mu.Unlock()
}

// Settings returns the user's saved settings, or nil if none.
func (r *Resolver) Settings(ctx context.Context, userID string) (*domain.SMTPSettings, error) {
	return r.store.SMTPSettings(ctx, userID)
}

// SaveSettings validates and stores new credentials, then invalidates the
// cached transport so the next batch uses them.
func (r *Resolver) SaveSettings(ctx context.Context, userID string, s domain.SMTPSettings) (domain.SMTPSettings, error) {
	if s.User == "" || s.Pass == "" {
		return s, fmt.Errorf("%w: user and pass are required", ErrNoSMTPConfigured)
	}
	s = withDefaults(s)
	if s.Port < 1 || s.Port > 65535 {
		return s, fmt.Errorf("%w: port %d out of range", ErrInvalidSettings, s.Port)
	}
	if err := r.store.SaveSMTPSettings(ctx, userID, s); err != nil {
		return s, err
	}
	r.Invalidate(userID)
	return s, nil
}

func withDefaults(s domain.SMTPSettings) domain.SMTPSettings {
	if s.Host == "" {
		s.Host = domain.DefaultSMTPHost
	}
	if s.Port == 0 {
		s.Port = domain.DefaultSMTPPort
	}
	return s
}
