package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Signer builds and verifies tracking URLs.
type Signer struct {
	baseURL    string
	signingKey []byte
}

// NewSigner creates a signer for URLs rooted at baseURL.
func NewSigner(baseURL, signingKey string) *Signer {
	return &Signer{baseURL: strings.TrimRight(baseURL, "/"), signingKey: []byte(signingKey)}
}

// PixelURL is the open-tracking image URL for one recipient.
func (s *Signer) PixelURL(emailID, recipient string) string {
	return fmt.Sprintf("%s/api/emails/%s/track/%s", s.baseURL, url.PathEscape(emailID), url.PathEscape(recipient))
}

// ClickURL wraps target in a signed redirect through the click endpoint.
func (s *Signer) ClickURL(emailID, recipient, target string) string {
	q := url.Values{}
	q.Set("url", target)
	q.Set("sig", s.sign(emailID, recipient, target))
	return fmt.Sprintf("%s/api/emails/%s/click/%s?%s", s.baseURL, url.PathEscape(emailID), url.PathEscape(recipient), q.Encode())
}

// Verify checks a click signature.
func (s *Signer) Verify(emailID, recipient, target, sig string) bool {
	return hmac.Equal([]byte(s.sign(emailID, recipient, target)), []byte(sig))
}

func (s *Signer) sign(parts ...string) string {
	h := hmac.New(sha256.New, s.signingKey)
	h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
