package transport

import (
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"time"

	gomail "github.com/emersion/go-message/mail"

	"github.com/gojob/email-sender/internal/domain"
)

// Compose renders msg as an RFC 5322 message. It returns the raw bytes and
// the generated Message-ID. Bcc addresses are envelope-only and never
// appear in the headers.
func Compose(msg *domain.OutboundMessage, now time.Time) ([]byte, string, error) {
	var h gomail.Header
	h.SetDate(now)
	h.SetSubject(msg.Subject)

	from, err := parseList([]string{msg.From})
	if err != nil {
		return nil, "", fmt.Errorf("from: %w", err)
	}
	h.SetAddressList("From", from)

	to, err := parseList([]string{msg.To})
	if err != nil {
		return nil, "", fmt.Errorf("to: %w", err)
	}
	h.SetAddressList("To", to)

	if len(msg.CC) > 0 {
		cc, err := parseList(msg.CC)
		if err != nil {
			return nil, "", fmt.Errorf("cc: %w", err)
		}
		h.SetAddressList("Cc", cc)
	}
	for k, v := range msg.Headers {
		h.Set(k, v)
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, "", fmt.Errorf("generate message id: %w", err)
	}
	messageID, err := h.MessageID()
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", err
	}

	var ih gomail.InlineHeader
	ih.Set("Content-Type", "text/html; charset=utf-8")
	body, err := mw.CreateSingleInline(ih)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.WriteString(body, msg.HTML); err != nil {
		return nil, "", err
	}
	if err := body.Close(); err != nil {
		return nil, "", err
	}

	for _, a := range msg.Attachments {
		var ah gomail.AttachmentHeader
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		ah.Set("Content-Type", ct)
		ah.SetFilename(a.Filename)
		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, "", fmt.Errorf("attachment %s: %w", a.Filename, err)
		}
		if _, err := w.Write(a.Content); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "<" + messageID + ">", nil
}

// Envelope returns the RCPT TO list: to, then cc, then bcc.
func Envelope(msg *domain.OutboundMessage) []string {
	rcpts := make([]string, 0, 1+len(msg.CC)+len(msg.BCC))
	rcpts = append(rcpts, msg.To)
	rcpts = append(rcpts, msg.CC...)
	rcpts = append(rcpts, msg.BCC...)
	return rcpts
}

func parseList(addrs []string) ([]*gomail.Address, error) {
	out := make([]*gomail.Address, 0, len(addrs))
	for _, a := range addrs {
		parsed, err := mail.ParseAddress(a)
		if err != nil {
			return nil, err
		}
		out = append(out, &gomail.Address{Name: parsed.Name, Address: parsed.Address})
	}
	return out, nil
}
