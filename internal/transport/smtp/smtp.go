// Package smtp submits messages to an SMTP relay (a custom server or Gmail)
// through gomail.
package smtp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/mail"
	"net/textproto"
	"sort"
	"strings"
	"sync"

	"gopkg.in/gomail.v2"

	"github.com/shineum/mail-dispatch/internal/email"
	"github.com/shineum/mail-dispatch/internal/mailerr"
)

// Gmail submission endpoint used for managed gmail relays.
const (
	GmailHost = "smtp.gmail.com"
	GmailPort = 587
)

// Config holds the settings for one SMTP relay.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// Sender is the envelope and header From used when a message has none.
	Sender string
	// ImplicitTLS connects over TLS from the first byte. Otherwise port 465
	// implies TLS and any other port upgrades with STARTTLS when offered.
	ImplicitTLS bool
	TLSConfig   *tls.Config
	LocalName   string
}

// Transport holds one SMTP session open between submissions.
type Transport struct {
	mu     sync.Mutex
	dialer *gomail.Dialer
	sender string
	conn   gomail.SendCloser
}

// New creates an SMTP transport. The connection is opened on first use.
func New(cfg Config) (*Transport, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, fmt.Errorf("smtp relay requires host and port")
	}

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.ImplicitTLS || cfg.Port == 465
	d.TLSConfig = cfg.TLSConfig
	d.LocalName = cfg.LocalName

	sender := cfg.Sender
	if sender == "" {
		sender = cfg.Username
	}
	return &Transport{dialer: d, sender: sender}, nil
}

// Submit sends msg over the cached session, dialing first when needed.
// Any failure drops the session so the next call reconnects.
func (t *Transport) Submit(ctx context.Context, msg *email.Email) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	from := msg.From
	if from == "" {
		from = t.sender
	}
	envelopeFrom, err := addressOf(from)
	if err != nil {
		return "", mailerr.Transient(fmt.Errorf("invalid sender: %w", err))
	}

	rcpts, err := recipients(msg)
	if err != nil {
		return "", mailerr.Transient(err)
	}

	m := buildMessage(msg, from)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		conn, err := t.dialer.Dial()
		if err != nil {
			return "", classify(err)
		}
		t.conn = conn
	}

	if err := t.conn.Send(envelopeFrom, rcpts, m); err != nil {
		t.dropLocked()
		return "", classify(err)
	}

	if msg.MessageID != "" {
		return msg.MessageID, nil
	}
	return "250 OK", nil
}

// Verify dials the relay and authenticates without sending anything.
func (t *Transport) Verify(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	conn, err := t.dialer.Dial()
	if err != nil {
		return classify(err)
	}
	return conn.Close()
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "smtp"
}

// Close ends the cached session, if any.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *Transport) dropLocked() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

func buildMessage(msg *email.Email, from string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	if len(msg.To) > 0 {
		m.SetHeader("To", msg.To...)
	}
	if len(msg.Cc) > 0 {
		m.SetHeader("Cc", msg.Cc...)
	}
	m.SetHeader("Subject", msg.Subject)
	if msg.MessageID != "" {
		m.SetHeader("Message-ID", msg.MessageID)
	}

	names := make([]string, 0, len(msg.Headers))
	for name := range msg.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m.SetHeader(name, msg.Headers[name])
	}

	switch {
	case msg.TextBody != "" && msg.HtmlBody != "":
		m.SetBody("text/plain", msg.TextBody)
		m.AddAlternative("text/html", msg.HtmlBody)
	case msg.HtmlBody != "":
		m.SetBody("text/html", msg.HtmlBody)
	default:
		m.SetBody("text/plain", msg.TextBody)
	}

	for _, att := range msg.Attachments {
		content := att.Content
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
		}
		if att.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{
				"Content-Type": {att.ContentType},
			}))
		}
		m.Attach(att.Filename, settings...)
	}
	return m
}

func recipients(msg *email.Email) ([]string, error) {
	var out []string
	for _, list := range [][]string{msg.To, msg.Cc, msg.Bcc} {
		for _, raw := range list {
			addr, err := addressOf(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid recipient %q: %w", raw, err)
			}
			out = append(out, addr)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("message has no recipients")
	}
	return out, nil
}

func addressOf(s string) (string, error) {
	a, err := mail.ParseAddress(s)
	if err != nil {
		return "", err
	}
	return a.Address, nil
}

// classify maps SMTP and network failures onto relay failure kinds.
func classify(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case 421:
			return mailerr.Connection(err)
		case 530, 534, 535:
			return mailerr.Auth(err)
		default:
			return mailerr.Transient(err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return mailerr.Connection(err)
	}

	var certErr *tls.CertificateVerificationError
	var hostErr x509.HostnameError
	var authorityErr x509.UnknownAuthorityError
	if errors.As(err, &certErr) || errors.As(err, &hostErr) || errors.As(err, &authorityErr) {
		return mailerr.Connection(err)
	}

	// net/smtp refuses some auth exchanges client side without a reply code.
	msg := err.Error()
	for _, marker := range []string{"unencrypted connection", "wrong host name", "unexpected server challenge"} {
		if strings.Contains(msg, marker) {
			return mailerr.Auth(err)
		}
	}
	return mailerr.Transient(err)
}
