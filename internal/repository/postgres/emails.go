package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/gojob/email-sender/internal/domain"
	"github.com/gojob/email-sender/internal/service/email"
)

const emailColumns = `id, user_id, from_address, recipients, cc, bcc, subject, content,
	template_id, attachment_ids, status, scheduled_at, sent_at, delivery_status,
	open_tracking_enabled, click_tracking_enabled, retry_count, max_retries,
	created_at, updated_at, personalize`

// editableStatuses is the SQL form of domain.Email.IsEditable.
const editableStatuses = `('draft', 'scheduled')`

// EmailRepo implements email.Repository against PostgreSQL.
type EmailRepo struct{ db *sql.DB }

// NewEmailRepo creates a Postgres-backed email repository.
func NewEmailRepo(db *sql.DB) *EmailRepo { return &EmailRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmail(row rowScanner) (*domain.Email, error) {
	var (
		e                      domain.Email
		recipients, deliveries []byte
		scheduledAt, sentAt    sql.NullTime
	)
	err := row.Scan(
		&e.ID, &e.UserID, &e.From, &recipients, pq.Array(&e.CC), pq.Array(&e.BCC),
		&e.Subject, &e.Content, &e.TemplateID, pq.Array(&e.AttachmentIDs), &e.Status,
		&scheduledAt, &sentAt, &deliveries,
		&e.OpenTracking.Enabled, &e.ClickTracking.Enabled, &e.RetryCount, &e.MaxRetries,
		&e.CreatedAt, &e.UpdatedAt, &e.Personalize,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(recipients, &e.To); err != nil {
		return nil, fmt.Errorf("decode recipients of %s: %w", e.ID, err)
	}
	if len(deliveries) > 0 {
		if err := json.Unmarshal(deliveries, &e.DeliveryStatus); err != nil {
			return nil, fmt.Errorf("decode delivery status of %s: %w", e.ID, err)
		}
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time.UTC()
		e.ScheduledAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time.UTC()
		e.SentAt = &t
	}
	if e.CC == nil {
		e.CC = []string{}
	}
	if e.BCC == nil {
		e.BCC = []string{}
	}
	if e.AttachmentIDs == nil {
		e.AttachmentIDs = []string{}
	}
	if e.DeliveryStatus == nil {
		e.DeliveryStatus = []domain.Delivery{}
	}
	return &e, nil
}

func (r *EmailRepo) Create(ctx context.Context, e *domain.Email) error {
	recipients, err := json.Marshal(e.To)
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}
	deliveries, err := json.Marshal(nonNilDeliveries(e.DeliveryStatus))
	if err != nil {
		return fmt.Errorf("encode delivery status: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO emails (`+emailColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, e.ID, e.UserID, e.From, recipients, pq.Array(strs(e.CC)), pq.Array(strs(e.BCC)), e.Subject, e.Content,
		e.TemplateID, pq.Array(strs(e.AttachmentIDs)), string(e.Status), e.ScheduledAt, e.SentAt, deliveries,
		e.OpenTracking.Enabled, e.ClickTracking.Enabled, e.RetryCount, e.MaxRetries,
		e.CreatedAt, e.UpdatedAt, e.Personalize)
	if err != nil {
		return fmt.Errorf("insert email: %w", err)
	}
	return nil
}

// Get returns the email with its recorded opens and clicks.
func (r *EmailRepo) Get(ctx context.Context, userID, id string) (*domain.Email, error) {
	e, err := scanEmail(r.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, email.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email: %w", err)
	}
	if err := loadEngagement(ctx, r.db, e); err != nil {
		return nil, err
	}
	return e, nil
}

// List returns a page of the user's emails, newest first. Opens and clicks
// are not loaded.
func (r *EmailRepo) List(ctx context.Context, userID string, f domain.EmailFilter) ([]domain.Email, int, error) {
	where := []string{"user_id = $1"}
	args := []any{userID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+escapeLike(f.Search)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(subject ILIKE $%d OR recipients::text ILIKE $%d)", n, n))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count emails: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = total
	}
	args = append(args, limit, f.Offset)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM emails
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, emailColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list emails: %w", err)
	}
	defer rows.Close()

	out := []domain.Email{}
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan email: %w", err)
		}
		out = append(out, *e)
	}
	return out, total, rows.Err()
}

// Update overwrites the editable fields, only while the stored status is
// still expected.
func (r *EmailRepo) Update(ctx context.Context, e *domain.Email, expected domain.EmailStatus) error {
	recipients, err := json.Marshal(e.To)
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE emails SET
			from_address = $3, recipients = $4, cc = $5, bcc = $6, subject = $7, content = $8,
			template_id = $9, attachment_ids = $10, status = $11, scheduled_at = $12,
			open_tracking_enabled = $13, click_tracking_enabled = $14, personalize = $15,
			updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = $16 AND status IN `+editableStatuses,
		e.ID, e.UserID, e.From, recipients, pq.Array(strs(e.CC)), pq.Array(strs(e.BCC)), e.Subject, e.Content,
		e.TemplateID, pq.Array(strs(e.AttachmentIDs)), string(e.Status), e.ScheduledAt,
		e.OpenTracking.Enabled, e.ClickTracking.Enabled, e.Personalize, string(expected))
	if err != nil {
		return fmt.Errorf("update email: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return email.ErrNotFound
	}
	return nil
}

func (r *EmailRepo) Delete(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM emails WHERE id = $1 AND user_id = $2 AND status IN `+editableStatuses,
		id, userID)
	if err != nil {
		return fmt.Errorf("delete email: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return email.ErrNotFound
	}
	return nil
}

// Transition applies ch as a single conditional UPDATE. When the email is
// missing or not in one of ch.From it returns email.ErrInvalidTransition.
func (r *EmailRepo) Transition(ctx context.Context, userID, id string, ch email.StatusChange) error {
	from := make([]string, len(ch.From))
	for i, s := range ch.From {
		from[i] = string(s)
	}

	sets := []string{"status = $4", "updated_at = NOW()"}
	args := []any{id, userID, pq.Array(from), string(ch.To)}
	switch {
	case ch.ClearScheduledAt:
		sets = append(sets, "scheduled_at = NULL")
	case ch.ScheduledAt != nil:
		args = append(args, *ch.ScheduledAt)
		sets = append(sets, fmt.Sprintf("scheduled_at = $%d", len(args)))
	}
	if ch.SentAt != nil {
		args = append(args, *ch.SentAt)
		sets = append(sets, fmt.Sprintf("sent_at = $%d", len(args)))
	}
	if ch.Deliveries != nil {
		data, err := json.Marshal(ch.Deliveries)
		if err != nil {
			return fmt.Errorf("encode delivery status: %w", err)
		}
		args = append(args, data)
		sets = append(sets, fmt.Sprintf("delivery_status = $%d", len(args)))
	}

	res, err := r.db.ExecContext(ctx, `UPDATE emails SET `+strings.Join(sets, ", ")+`
		WHERE id = $1 AND user_id = $2 AND status = ANY($3)`, args...)
	if err != nil {
		return fmt.Errorf("transition email %s to %s: %w", id, ch.To, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return email.ErrInvalidTransition
	}
	return nil
}

// ListStale returns emails in status whose last change is older than cutoff,
// oldest first.
func (r *EmailRepo) ListStale(ctx context.Context, status domain.EmailStatus, cutoff time.Time, limit int) ([]domain.Email, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+emailColumns+` FROM emails
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`, string(status), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale emails: %w", err)
	}
	defer rows.Close()

	var out []domain.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func nonNilDeliveries(d []domain.Delivery) []domain.Delivery {
	if d == nil {
		return []domain.Delivery{}
	}
	return d
}

// strs keeps nil slices from becoming NULL in NOT NULL array columns.
func strs(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
