package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gojob/email-sender/internal/domain"
	"github.com/gojob/email-sender/internal/service/tracking"
)

// TrackingRepo implements tracking.Store. Opens and clicks live in their
// own tables keyed by (email_id, recipient), so the first record wins.
type TrackingRepo struct{ db *sql.DB }

// NewTrackingRepo creates a Postgres-backed tracking store.
func NewTrackingRepo(db *sql.DB) *TrackingRepo { return &TrackingRepo{db: db} }

func (r *TrackingRepo) EmailByID(ctx context.Context, id string) (*domain.Email, error) {
	e, err := scanEmail(r.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tracking.ErrEmailNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email: %w", err)
	}
	if err := loadEngagement(ctx, r.db, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *TrackingRepo) AddOpen(ctx context.Context, emailID string, rec domain.OpenRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO email_opens (email_id, recipient, opened_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email_id, recipient) DO NOTHING
	`, emailID, rec.Email, rec.OpenedAt, rec.IPAddress, rec.UserAgent)
	if err != nil {
		return false, fmt.Errorf("record open: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *TrackingRepo) AddClick(ctx context.Context, emailID string, rec domain.ClickRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO email_clicks (email_id, recipient, link, clicked_at, ip_address)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email_id, recipient) DO NOTHING
	`, emailID, rec.Email, rec.Link, rec.ClickedAt, rec.IPAddress)
	if err != nil {
		return false, fmt.Errorf("record click: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// loadEngagement fills in e's recorded opens and clicks.
func loadEngagement(ctx context.Context, db *sql.DB, e *domain.Email) error {
	rows, err := db.QueryContext(ctx, `
		SELECT recipient, opened_at, ip_address, user_agent
		FROM email_opens WHERE email_id = $1 ORDER BY opened_at
	`, e.ID)
	if err != nil {
		return fmt.Errorf("load opens: %w", err)
	}
	e.OpenTracking.OpenedBy = []domain.OpenRecord{}
	for rows.Next() {
		var o domain.OpenRecord
		if err := rows.Scan(&o.Email, &o.OpenedAt, &o.IPAddress, &o.UserAgent); err != nil {
			rows.Close()
			return fmt.Errorf("scan open: %w", err)
		}
		e.OpenTracking.OpenedBy = append(e.OpenTracking.OpenedBy, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load opens: %w", err)
	}

	rows, err = db.QueryContext(ctx, `
		SELECT recipient, link, clicked_at, ip_address
		FROM email_clicks WHERE email_id = $1 ORDER BY clicked_at
	`, e.ID)
	if err != nil {
		return fmt.Errorf("load clicks: %w", err)
	}
	defer rows.Close()
	e.ClickTracking.Clicks = []domain.ClickRecord{}
	for rows.Next() {
		var c domain.ClickRecord
		if err := rows.Scan(&c.Email, &c.Link, &c.ClickedAt, &c.IPAddress); err != nil {
			return fmt.Errorf("scan click: %w", err)
		}
		e.ClickTracking.Clicks = append(e.ClickTracking.Clicks, c)
	}
	return rows.Err()
}
