package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gojob/email-sender/internal/domain"
)

type memSettings struct {
	users map[string]*domain.SMTPSettings
	reads int
}

func (m *memSettings) SMTPSettings(_ context.Context, userID string) (*domain.SMTPSettings, error) {
	m.reads++
	s, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	if s == nil {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memSettings) SaveSMTPSettings(_ context.Context, userID string, s domain.SMTPSettings) error {
	if _, ok := m.users[userID]; !ok {
		return ErrUserNotFound
	}
	m.users[userID] = &s
	return nil
}

func TestResolveRequiresCredentials(t *testing.T) {
	store := &memSettings{users: map[string]*domain.SMTPSettings{
		"none":    nil,
		"no-pass": {Host: "smtp.example.com", Port: 587, User: "u"},
	}}
	r := NewResolver(store, Options{}, 0)

	for _, id := range []string{"none", "no-pass"} {
		_, err := r.Resolve(context.Background(), id)
		assert.ErrorIs(t, err, ErrNoSMTPConfigured, id)
	}

	_, err := r.Resolve(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NotErrorIs(t, err, ErrNoSMTPConfigured)
}

func TestResolveAppliesDefaults(t *testing.T) {
	store := &memSettings{users: map[string]*domain.SMTPSettings{
		"u1": {User: "u", Pass: "p"},
	}}
	r := NewResolver(store, Options{}, 0)

	tr, err := r.resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSMTPHost, tr.Settings().Host)
	assert.Equal(t, domain.DefaultSMTPPort, tr.Settings().Port)
}

func TestResolverCacheInvalidatedOnSave(t *testing.T) {
	ctx := context.Background()
	store := &memSettings{users: map[string]*domain.SMTPSettings{
		"u1": {Host: "old.example.com", Port: 587, User: "u", Pass: "p"},
	}}
	r := NewResolver(store, Options{}, time.Minute)

	first, err := r.resolve(ctx, "u1")
	require.NoError(t, err)
	again, err := r.resolve(ctx, "u1")
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, store.reads)

	saved, err := r.SaveSettings(ctx, "u1", domain.SMTPSettings{Host: "new.example.com", User: "u2", Pass: "p2"})
	require.NoError(t, err)
	assert.Equal(t, 587, saved.Port)

	next, err := r.resolve(ctx, "u1")
	require.NoError(t, err)
	assert.NotSame(t, first, next)
	assert.Equal(t, "new.example.com", next.Settings().Host)
	assert.Equal(t, "u2", next.Settings().User)
}

func TestResolverWithoutCacheReadsEveryTime(t *testing.T) {
	store := &memSettings{users: map[string]*domain.SMTPSettings{
		"u1": {Host: "h", Port: 25, User: "u", Pass: "p"},
	}}
	r := NewResolver(store, Options{}, 0)
	_, _ = r.Resolve(context.Background(), "u1")
	_, _ = r.Resolve(context.Background(), "u1")
	assert.Equal(t, 2, store.reads)
}

func TestSaveSettingsValidation(t *testing.T) {
	store := &memSettings{users: map[string]*domain.SMTPSettings{"u1": nil}}
	r := NewResolver(store, Options{}, 0)

	_, err := r.SaveSettings(context.Background(), "u1", domain.SMTPSettings{User: "u"})
	assert.ErrorIs(t, err, ErrNoSMTPConfigured)

	_, err = r.SaveSettings(context.Background(), "u1", domain.SMTPSettings{User: "u", Pass: "p", Port: 70000})
	assert.ErrorIs(t, err, ErrInvalidSettings)
	assert.Nil(t, store.users["u1"])
}

func TestResolverCacheExpires(t *testing.T) {
	ctx := context.Background()
	store := &memSettings{users: map[string]*domain.SMTPSettings{
		"u1": {Host: "old.example.com", Port: 587, User: "u", Pass: "p"},
	}}
	r := NewResolver(store, Options{}, 5*time.Minute)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	first, err := r.resolve(ctx, "u1")
	require.NoError(t, err)

	// saved by another process, which cannot clear this cache
	store.users["u1"] = &domain.SMTPSettings{Host: "new.example.com", Port: 587, User: "u2", Pass: "p2"}

	now = now.Add(4 * time.Minute)
	cached, err := r.resolve(ctx, "u1")
	require.NoError(t, err)
	assert.Same(t, first, cached)

	now = now.Add(time.Minute)
	fresh, err := r.resolve(ctx, "u1")
	require.NoError(t, err)
	assert.NotSame(t, first, fresh)
	assert.Equal(t, "new.example.com", fresh.Settings().Host)
	assert.Equal(t, 2, store.reads)
}
