package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/gojob/email-sender/internal/domain"
)

// implicitTLSPort is the SMTPS port where TLS starts before the greeting.
const implicitTLSPort = 465

// Options tune every SMTP transport created by a Resolver.
type Options struct {
	DialTimeout time.Duration
	HeloName    string
	// TLSConfig overrides the client TLS settings. ServerName is filled in
	// from the host when empty.
	TLSConfig *tls.Config
}

// SMTPTransport sends through one relay with one set of credentials.
// Each Send opens its own connection, so a transport is safe to share.
type SMTPTransport struct {
	settings domain.SMTPSettings
	opts     Options
	now      func() time.Time

	// set once the relay has offered STARTTLS
	startTLS atomic.Bool
}

// NewSMTPTransport binds a transport to settings.
func NewSMTPTransport(settings domain.SMTPSettings, opts Options) *SMTPTransport {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.HeloName == "" {
		opts.HeloName = "localhost"
	}
	return &SMTPTransport{settings: settings, opts: opts, now: time.Now}
}

// Settings returns the relay settings the transport is bound to.
func (t *SMTPTransport) Settings() domain.SMTPSettings { return t.settings }

func (t *SMTPTransport) addr() string {
	return net.JoinHostPort(t.settings.Host, strconv.Itoa(t.settings.Port))
}

func (t *SMTPTransport) tlsConfig() *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if t.opts.TLSConfig != nil {
		cfg = t.opts.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = t.settings.Host
	}
	return cfg
}

// Send delivers msg and returns its Message-ID. STARTTLS is used when the
// server offers it; port 465 connects with TLS from the start.
func (t *SMTPTransport) Send(ctx context.Context, msg *domain.OutboundMessage) (string, error) {
	raw, messageID, err := Compose(msg, t.now())
	if err != nil {
		return "", fmt.Errorf("compose message: %w", err)
	}
	sender, err := bareAddress(msg.From)
	if err != nil {
		return "", fmt.Errorf("from: %w", err)
	}

	c, err := t.connect(ctx)
	if err != nil {
		return "", err
	}
	defer c.close()

	if t.settings.User != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(sasl.NewPlainClient("", t.settings.User, t.settings.Pass)); err != nil {
				return "", fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := c.Mail(sender, nil); err != nil {
		return "", fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range Envelope(msg) {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return "", fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return "", fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return "", fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("smtp end data: %w", err)
	}
	// accepted at end-of-data; a failed QUIT does not undo that
	_ = c.Quit()
	return messageID, nil
}

// session is a greeted client whose connection closes when ctx ends.
type session struct {
	*smtp.Client
	stop func() bool
}

func (s *session) close() {
	s.stop()
	s.Client.Close()
}

// connect returns a client past EHLO, upgraded with STARTTLS when the
// server offers it. go-smtp only upgrades while creating a client, so the
// first connection to a relay reads the EHLO reply and, when STARTTLS is
// listed, reconnects with the upgrade. Later sends upgrade straight away.
func (t *SMTPTransport) connect(ctx context.Context) (*session, error) {
	if t.settings.Port == implicitTLSPort || !t.startTLS.Load() {
		s, err := t.open(ctx, false)
		if err != nil {
			return nil, err
		}
		if t.settings.Port == implicitTLSPort {
			return s, nil
		}
		if ok, _ := s.Extension("STARTTLS"); !ok {
			return s, nil
		}
		s.close()
		t.startTLS.Store(true)
	}
	return t.open(ctx, true)
}

func (t *SMTPTransport) open(ctx context.Context, startTLS bool) (*session, error) {
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	// unblock reads and writes if ctx ends mid-exchange
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	var c *smtp.Client
	if startTLS {
		c, err = smtp.NewClientStartTLS(conn, t.tlsConfig())
		if err != nil {
			stop()
			conn.Close()
			return nil, fmt.Errorf("smtp starttls: %w", err)
		}
	} else {
		c = smtp.NewClient(conn)
	}
	// after an upgrade the server forgets the first EHLO, so this one goes
	// over TLS
	if err := c.Hello(t.opts.HeloName); err != nil {
		stop()
		c.Close()
		return nil, fmt.Errorf("smtp hello: %w", err)
	}
	return &session{Client: c, stop: stop}, nil
}

func (t *SMTPTransport) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: t.opts.DialTimeout}
	if t.settings.Port == implicitTLSPort {
		td := &tls.Dialer{NetDialer: dialer, Config: t.tlsConfig()}
		conn, err := td.DialContext(ctx, "tcp", t.addr())
		if err != nil {
			return nil, fmt.Errorf("smtp dial %s: %w", t.addr(), err)
		}
		return conn, nil
	}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr())
	if err != nil {
		return nil, fmt.Errorf("smtp dial %s: %w", t.addr(), err)
	}
	return conn, nil
}

func bareAddress(addr string) (string, error) {
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return "", err
	}
	return parsed.Address, nil
}
