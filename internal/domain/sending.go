package domain

import "time"

// Attachment is a file resolved for inclusion in an outbound message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// OutboundMessage is the fully-resolved message for a single "to" recipient.
// Personalization and tracking injection are already applied.
type OutboundMessage struct {
	From        string
	To          string
	CC          []string
	BCC         []string
	Subject     string
	HTML        string
	Attachments []Attachment
	Headers     map[string]string
}

// SendResult is the outcome of one recipient's SMTP exchange.
type SendResult struct {
	Email     string    `json:"email"`
	Success   bool      `json:"success"`
	MessageID string    `json:"messageId,omitempty"`
	Error     string    `json:"error,omitempty"`
	SentAt    time.Time `json:"sentAt"`
}

// SendJob is the payload of a delayed send. It is never exposed over HTTP.
type SendJob struct {
	EmailID  string `json:"emailId"`
	UserID   string `json:"userId"`
	Attempts int    `json:"attempts"`
}
