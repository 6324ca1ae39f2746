package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/gojob/email-sender/internal/domain"
	"github.com/gojob/email-sender/internal/service/email"
)

func (s *Store) Create(_ context.Context, e *domain.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails[e.ID] = copyEmail(e)
	return nil
}

func (s *Store) Get(_ context.Context, userID, id string) (*domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.emails[id]
	if !ok || e.UserID != userID {
		return nil, email.ErrNotFound
	}
	return copyEmail(e), nil
}

func (s *Store) List(_ context.Context, userID string, f domain.EmailFilter) ([]domain.Email, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(f.Search)
	var matched []*domain.Email
	for _, e := range s.emails {
		if e.UserID != userID {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if search != "" && !matchesSearch(e, search) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := min(f.Offset, total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	out := make([]domain.Email, 0, end-start)
	for _, e := range matched[start:end] {
		out = append(out, *copyEmail(e))
	}
	return out, total, nil
}

func matchesSearch(e *domain.Email, needle string) bool {
	if strings.Contains(strings.ToLower(e.Subject), needle) {
		return true
	}
	for _, r := range e.To {
		if strings.Contains(strings.ToLower(r.Email), needle) {
			return true
		}
	}
	return false
}

func (s *Store) Update(_ context.Context, e *domain.Email, expected domain.EmailStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.emails[e.ID]
	if !ok || cur.UserID != e.UserID || !cur.IsEditable() || cur.Status != expected {
		return email.ErrNotFound
	}
	next := copyEmail(e)
	// engagement and delivery history are not part of an edit
	next.DeliveryStatus = cur.DeliveryStatus
	next.OpenTracking.OpenedBy = cur.OpenTracking.OpenedBy
	next.ClickTracking.Clicks = cur.ClickTracking.Clicks
	next.SentAt = cur.SentAt
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = s.Now().UTC()
	s.emails[e.ID] = next
	return nil
}

func (s *Store) Delete(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.emails[id]
	if !ok || cur.UserID != userID || !cur.IsEditable() {
		return email.ErrNotFound
	}
	delete(s.emails, id)
	return nil
}

func (s *Store) Transition(_ context.Context, userID, id string, ch email.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.emails[id]
	if !ok || cur.UserID != userID || !slices.Contains(ch.From, cur.Status) {
		return email.ErrInvalidTransition
	}
	cur.Status = ch.To
	if ch.ScheduledAt != nil {
		t := *ch.ScheduledAt
		cur.ScheduledAt = &t
	}
	if ch.ClearScheduledAt {
		cur.ScheduledAt = nil
	}
	if ch.SentAt != nil {
		t := *ch.SentAt
		cur.SentAt = &t
	}
	if ch.Deliveries != nil {
		cur.DeliveryStatus = append([]domain.Delivery{}, ch.Deliveries...)
	}
	cur.UpdatedAt = s.Now().UTC()
	return nil
}

func (s *Store) ListStale(_ context.Context, status domain.EmailStatus, cutoff time.Time, limit int) ([]domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Email
	for _, e := range s.emails {
		if e.Status == status && e.UpdatedAt.Before(cutoff) {
			out = append(out, *copyEmail(e))
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// SetStatus forces a status, bypassing transition rules. Test helper.
func (s *Store) SetStatus(id string, status domain.EmailStatus, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.emails[id]; ok {
		e.Status = status
		e.UpdatedAt = updatedAt
	}
}
