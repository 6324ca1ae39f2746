package domain

import "time"

// TrackingEventType enumerates the engagement events recorded per recipient.
type TrackingEventType string

const (
	EventOpen  TrackingEventType = "open"
	EventClick TrackingEventType = "click"
)

// TrackingEvent is a single open or click observed by the tracking endpoints.
type TrackingEvent struct {
	EmailID   string            `json:"emailId"`
	Recipient string            `json:"email"`
	Type      TrackingEventType `json:"type"`
	URL       string            `json:"url,omitempty"`
	IPAddress string            `json:"ipAddress,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
	At        time.Time         `json:"at"`
}
