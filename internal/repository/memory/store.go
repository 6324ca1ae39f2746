// Package memory provides in-process implementations of the service
// repositories. They back the service tests and a database-free local mode.
package memory

import (
	"sync"
	"time"

	"github.com/gojob/email-sender/internal/domain"
)

// Store holds users, emails and files behind one lock. It satisfies every
// repository interface the services declare.
type Store struct {
	mu     sync.RWMutex
	users  map[string]*domain.User
	emails map[string]*domain.Email
	files  map[string]*domain.File

	// Now stamps updated_at; tests replace it.
	Now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:  make(map[string]*domain.User),
		emails: make(map[string]*domain.Email),
		files:  make(map[string]*domain.File),
		Now:    time.Now,
	}
}

func copyEmail(e *domain.Email) *domain.Email {
	cp := *e
	cp.To = append([]domain.Recipient(nil), e.To...)
	cp.CC = append([]string{}, e.CC...)
	cp.BCC = append([]string{}, e.BCC...)
	cp.AttachmentIDs = append([]string{}, e.AttachmentIDs...)
	cp.DeliveryStatus = append([]domain.Delivery{}, e.DeliveryStatus...)
	cp.OpenTracking.OpenedBy = append([]domain.OpenRecord{}, e.OpenTracking.OpenedBy...)
	cp.ClickTracking.Clicks = append([]domain.ClickRecord{}, e.ClickTracking.Clicks...)
	if e.ScheduledAt != nil {
		t := *e.ScheduledAt
		cp.ScheduledAt = &t
	}
	if e.SentAt != nil {
		t := *e.SentAt
		cp.SentAt = &t
	}
	return &cp
}

func copyUser(u *domain.User) *domain.User {
	cp := *u
	if u.SMTP != nil {
		s := *u.SMTP
		cp.SMTP = &s
	}
	return &cp
}
