package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gojob/email-sender/internal/domain"
	"github.com/gojob/email-sender/internal/service/quota"
	"github.com/gojob/email-sender/internal/service/transport"
)

// UserRepo implements email.UserStore, quota.Store and
// transport.SettingsStore over the users table.
type UserRepo struct{ db *sql.DB }

// NewUserRepo creates a Postgres-backed user repository.
func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

func (r *UserRepo) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var (
		u                domain.User
		host, user, pass sql.NullString
		port             sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, verified, quota_used, quota_monthly, quota_daily,
		       smtp_host, smtp_port, smtp_user, smtp_pass, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Verified,
		&u.Quota.Used, &u.Quota.Monthly, &u.Quota.Daily,
		&host, &port, &user, &pass, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, quota.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user.Valid || pass.Valid {
		u.SMTP = &domain.SMTPSettings{
			Host: host.String,
			Port: int(port.Int64),
			User: user.String,
			Pass: pass.String,
		}
	}
	return &u, nil
}

func (r *UserRepo) Usage(ctx context.Context, userID string) (domain.EmailQuota, error) {
	var q domain.EmailQuota
	err := r.db.QueryRowContext(ctx,
		`SELECT quota_used, quota_monthly, quota_daily FROM users WHERE id = $1`, userID,
	).Scan(&q.Used, &q.Monthly, &q.Daily)
	if errors.Is(err, sql.ErrNoRows) {
		return q, quota.ErrUserNotFound
	}
	if err != nil {
		return q, fmt.Errorf("get quota: %w", err)
	}
	return q, nil
}

// IncrementUsage is a single conditional UPDATE, so concurrent senders can
// never push used past monthly.
func (r *UserRepo) IncrementUsage(ctx context.Context, userID string, n int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET quota_used = quota_used + $2, updated_at = NOW()
		WHERE id = $1 AND quota_used + $2 <= quota_monthly
	`, userID, n)
	if err != nil {
		return false, fmt.Errorf("increment quota: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return false, quota.ErrUserNotFound
	}
	return false, nil
}

func (r *UserRepo) SMTPSettings(ctx context.Context, userID string) (*domain.SMTPSettings, error) {
	var (
		host, user, pass sql.NullString
		port             sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT smtp_host, smtp_port, smtp_user, smtp_pass FROM users WHERE id = $1`, userID,
	).Scan(&host, &port, &user, &pass)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transport.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get smtp settings: %w", err)
	}
	if !user.Valid && !pass.Valid {
		return nil, nil
	}
	return &domain.SMTPSettings{
		Host: host.String,
		Port: int(port.Int64),
		User: user.String,
		Pass: pass.String,
	}, nil
}

func (r *UserRepo) SaveSMTPSettings(ctx context.Context, userID string, s domain.SMTPSettings) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET smtp_host = $2, smtp_port = $3, smtp_user = $4, smtp_pass = $5, updated_at = NOW()
		WHERE id = $1
	`, userID, s.Host, s.Port, s.User, s.Pass)
	if err != nil {
		return fmt.Errorf("save smtp settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return transport.ErrUserNotFound
	}
	return nil
}
