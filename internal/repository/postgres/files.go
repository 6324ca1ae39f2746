package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/gojob/email-sender/internal/domain"
)

// FileRepo implements email.FileStore.
type FileRepo struct{ db *sql.DB }

// NewFileRepo creates a Postgres-backed file repository.
func NewFileRepo(db *sql.DB) *FileRepo { return &FileRepo{db: db} }

// Attachments returns the attachment files among ids that userID owns.
// Unknown ids are left out.
func (r *FileRepo) Attachments(ctx context.Context, userID string, ids []string) ([]domain.File, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, filename, original_name, mime_type, size, path, category, created_at
		FROM files
		WHERE user_id = $1 AND id = ANY($2) AND category = 'attachment'
		ORDER BY created_at
	`, userID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []domain.File
	for rows.Next() {
		var f domain.File
		if err := rows.Scan(&f.ID, &f.UserID, &f.Filename, &f.OriginalName, &f.MimeType,
			&f.Size, &f.Path, &f.Category, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
