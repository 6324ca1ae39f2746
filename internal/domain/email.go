package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// EmailStatus enumerates the lifecycle states of an email.
type EmailStatus string

const (
	EmailDraft     EmailStatus = "draft"
	EmailScheduled EmailStatus = "scheduled"
	EmailSending   EmailStatus = "sending"
	EmailSent      EmailStatus = "sent"
	EmailFailed    EmailStatus = "failed"
)

// Valid reports whether s is a known status.
func (s EmailStatus) Valid() bool {
	switch s {
	case EmailDraft, EmailScheduled, EmailSending, EmailSent, EmailFailed:
		return true
	}
	return false
}

// SendableStatuses are the states from which a send attempt may start.
var SendableStatuses = []EmailStatus{EmailDraft, EmailScheduled}

// MaxSubjectLength bounds Email.Subject.
const MaxSubjectLength = 200

// DefaultMaxRetries is stored on new emails. It is not consulted by the
// send path.
const DefaultMaxRetries = 3

// Recipient is a single "to" address.
type Recipient struct {
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	GroupID string `json:"groupId,omitempty"`
}

// DeliveryState is the per-recipient outcome of the latest send pass.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
	DeliveryBounced   DeliveryState = "bounced"
)

// Delivery records what happened to one recipient.
type Delivery struct {
	Email         string        `json:"email"`
	Status        DeliveryState `json:"status"`
	SentAt        *time.Time    `json:"sentAt,omitempty"`
	FailureReason string        `json:"failureReason,omitempty"`
}

// OpenRecord is the first open observed for a recipient.
type OpenRecord struct {
	Email     string    `json:"email"`
	OpenedAt  time.Time `json:"openedAt"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
}

// ClickRecord is the first tracked click observed for a recipient.
type ClickRecord struct {
	Email     string    `json:"email"`
	Link      string    `json:"link"`
	ClickedAt time.Time `json:"clickedAt"`
	IPAddress string    `json:"ipAddress,omitempty"`
}

// OpenTracking holds the open-pixel flag and recorded opens.
type OpenTracking struct {
	Enabled  bool         `json:"enabled"`
	OpenedBy []OpenRecord `json:"openedBy"`
}

// ClickTracking holds the link-rewrite flag and recorded clicks.
type ClickTracking struct {
	Enabled bool          `json:"enabled"`
	Clicks  []ClickRecord `json:"clicks"`
}

// Email is a user-authored message addressed to one or more recipients.
type Email struct {
	ID             string        `json:"id"`
	UserID         string        `json:"userId"`
	From           string        `json:"from"`
	To             []Recipient   `json:"to"`
	CC             []string      `json:"cc"`
	BCC            []string      `json:"bcc"`
	Subject        string        `json:"subject"`
	Content        string        `json:"content"`
	TemplateID     string        `json:"template,omitempty"`
	Personalize    bool          `json:"personalize"`
	AttachmentIDs  []string      `json:"attachments"`
	Status         EmailStatus   `json:"status"`
	ScheduledAt    *time.Time    `json:"scheduledAt,omitempty"`
	SentAt         *time.Time    `json:"sentAt,omitempty"`
	DeliveryStatus []Delivery    `json:"deliveryStatus"`
	OpenTracking   OpenTracking  `json:"openTracking"`
	ClickTracking  ClickTracking `json:"clickTracking"`
	RetryCount     int           `json:"retryCount"`
	MaxRetries     int           `json:"maxRetries"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// IsTerminal returns true if the email can no longer change state.
func (e *Email) IsTerminal() bool {
	return e.Status == EmailSent || e.Status == EmailFailed
}

// IsEditable returns true if the email may be updated or deleted.
func (e *Email) IsEditable() bool {
	return e.Status == EmailDraft || e.Status == EmailScheduled
}

// RecipientAddresses returns the "to" addresses in order.
func (e *Email) RecipientAddresses() []string {
	out := make([]string, len(e.To))
	for i, r := range e.To {
		out[i] = r.Email
	}
	return out
}

// HasRecipient reports whether addr is one of the "to" addresses,
// compared case-insensitively.
func (e *Email) HasRecipient(addr string) bool {
	for _, r := range e.To {
		if strings.EqualFold(r.Email, addr) {
			return true
		}
	}
	return false
}

// Validate checks the authoring constraints on an email.
func (e *Email) Validate() error {
	if err := validAddress(e.From); err != nil {
		return fmt.Errorf("from: %w", err)
	}
	if len(e.To) == 0 {
		return fmt.Errorf("to: at least one recipient is required")
	}
	for i, r := range e.To {
		if err := validAddress(r.Email); err != nil {
			return fmt.Errorf("to[%d]: %w", i, err)
		}
	}
	for i, a := range e.CC {
		if err := validAddress(a); err != nil {
			return fmt.Errorf("cc[%d]: %w", i, err)
		}
	}
	for i, a := range e.BCC {
		if err := validAddress(a); err != nil {
			return fmt.Errorf("bcc[%d]: %w", i, err)
		}
	}
	subject := strings.TrimSpace(e.Subject)
	if subject == "" {
		return fmt.Errorf("subject is required")
	}
	if len([]rune(subject)) > MaxSubjectLength {
		return fmt.Errorf("subject must be at most %d characters", MaxSubjectLength)
	}
	if strings.TrimSpace(e.Content) == "" {
		return fmt.Errorf("content is required")
	}
	return nil
}

func validAddress(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("address is required")
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return fmt.Errorf("%q is not a valid email address", addr)
	}
	return nil
}

// EmailFilter narrows a listing of a user's emails.
type EmailFilter struct {
	Status EmailStatus
	Search string
	Limit  int
	Offset int
}

// Analytics summarizes the latest send pass and engagement of an email.
type Analytics struct {
	TotalRecipients int     `json:"totalRecipients"`
	Sent            int     `json:"sent"`
	Failed          int     `json:"failed"`
	Delivered       int     `json:"delivered"`
	Opened          int     `json:"opened"`
	Clicks          int     `json:"clicks"`
	OpenRate        float64 `json:"openRate"`
	ClickRate       float64 `json:"clickRate"`
}
