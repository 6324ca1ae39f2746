package memory

import (
	"context"

	"github.com/gojob/email-sender/internal/domain"
)

// PutFile inserts or replaces file metadata.
func (s *Store) PutFile(f *domain.File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	s.files[f.ID] = &cp
}

func (s *Store) Attachments(_ context.Context, userID string, ids []string) ([]domain.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.File, 0, len(ids))
	for _, id := range ids {
		f, ok := s.files[id]
		if !ok || f.UserID != userID || f.Category != domain.FileAttachment {
			continue
		}
		out = append(out, *f)
	}
	return out, nil
}
