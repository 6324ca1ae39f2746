package memory

import (
	"context"

	"github.com/gojob/email-sender/internal/domain"
	"github.com/gojob/email-sender/internal/service/tracking"
)

func (s *Store) EmailByID(_ context.Context, id string) (*domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.emails[id]
	if !ok {
		return nil, tracking.ErrEmailNotFound
	}
	return copyEmail(e), nil
}

func (s *Store) AddOpen(_ context.Context, emailID string, rec domain.OpenRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[emailID]
	if !ok {
		return false, tracking.ErrEmailNotFound
	}
	for _, o := range e.OpenTracking.OpenedBy {
		if o.Email == rec.Email {
			return false, nil
		}
	}
	e.OpenTracking.OpenedBy = append(e.OpenTracking.OpenedBy, rec)
	return true, nil
}

func (s *Store) AddClick(_ context.Context, emailID string, rec domain.ClickRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[emailID]
	if !ok {
		return false, tracking.ErrEmailNotFound
	}
	for _, c := range e.ClickTracking.Clicks {
		if c.Email == rec.Email {
			return false, nil
		}
	}
	e.ClickTracking.Clicks = append(e.ClickTracking.Clicks, rec)
	return true, nil
}
