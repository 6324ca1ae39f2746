package memory

import (
	"context"

	"github.com/gojob/email-sender/internal/domain"
	"github.com/gojob/email-sender/internal/service/quota"
	"github.com/gojob/email-sender/internal/service/transport"
)

// PutUser inserts or replaces a user.
func (s *Store) PutUser(u *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = copyUser(u)
}

func (s *Store) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, quota.ErrUserNotFound
	}
	return copyUser(u), nil
}

func (s *Store) Usage(_ context.Context, userID string) (domain.EmailQuota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.EmailQuota{}, quota.ErrUserNotFound
	}
	return u.Quota, nil
}

func (s *Store) IncrementUsage(_ context.Context, userID string, n int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, quota.ErrUserNotFound
	}
	if u.Quota.Used+n > u.Quota.Monthly {
		return false, nil
	}
	u.Quota.Used += n
	return true, nil
}

func (s *Store) SMTPSettings(_ context.Context, userID string) (*domain.SMTPSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, transport.ErrUserNotFound
	}
	if u.SMTP == nil {
		return nil, nil
	}
	cp := *u.SMTP
	return &cp, nil
}

func (s *Store) SaveSMTPSettings(_ context.Context, userID string, settings domain.SMTPSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return transport.ErrUserNotFound
	}
	u.SMTP = &settings
	u.UpdatedAt = s.Now().UTC()
	return nil
}
