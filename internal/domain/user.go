package domain

import "time"

// Default quota allotments for new accounts.
const (
	DefaultMonthlyQuota = 1000
	DefaultDailyQuota   = 100
)

// EmailQuota counts attempted sends against the monthly allotment.
// Daily is stored but not enforced.
type EmailQuota struct {
	Used    int `json:"used"`
	Monthly int `json:"monthly"`
	Daily   int `json:"daily"`
}

// Remaining returns how many more sends fit in the monthly allotment.
func (q EmailQuota) Remaining() int {
	if r := q.Monthly - q.Used; r > 0 {
		return r
	}
	return 0
}

// Default SMTP endpoint used when the user omits host or port.
const (
	DefaultSMTPHost = "smtp.gmail.com"
	DefaultSMTPPort = 587
)

// SMTPSettings are the per-user relay credentials.
type SMTPSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	User string `json:"user"`
	Pass string `json:"-"`
}

// Configured reports whether credentials are present.
func (s *SMTPSettings) Configured() bool {
	return s != nil && s.User != "" && s.Pass != ""
}

// User is an account that owns emails, files and SMTP settings.
type User struct {
	ID           string        `json:"id"`
	Email        string        `json:"email"`
	PasswordHash string        `json:"-"`
	Verified     bool          `json:"verified"`
	Quota        EmailQuota    `json:"emailQuota"`
	SMTP         *SMTPSettings `json:"smtp,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}
