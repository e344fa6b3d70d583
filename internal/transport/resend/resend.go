// Package resend implements a Transport backed by the Resend HTTP API.
package resend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/resend/resend-go/v3"

	"github.com/shineum/mail-dispatch/internal/email"
	"github.com/shineum/mail-dispatch/internal/mailerr"
)

// Config holds the configuration for creating a Transport.
type Config struct {
	APIKey      string
	SenderEmail string
	SenderName  string
}

// emailsAPI is the part of the Resend client used to send.
type emailsAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Transport sends messages through Resend.
type Transport struct {
	emails emailsAPI
	config Config
}

// New creates a Transport for the given API key.
func New(cfg Config) *Transport {
	return &Transport{
		emails: resend.NewClient(cfg.APIKey).Emails,
		config: cfg,
	}
}

// Submit sends msg and returns the Resend email id.
func (t *Transport) Submit(ctx context.Context, msg *email.Email) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	from := msg.From
	if from == "" {
		if t.config.SenderName != "" {
			from = fmt.Sprintf("%s <%s>", t.config.SenderName, t.config.SenderEmail)
		} else {
			from = t.config.SenderEmail
		}
	}

	req := &resend.SendEmailRequest{
		From:    from,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HtmlBody,
		Text:    msg.TextBody,
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
		Headers: headers(msg),
	}

	if len(msg.Attachments) > 0 {
		req.Attachments = make([]*resend.Attachment, len(msg.Attachments))
		for i, a := range msg.Attachments {
			req.Attachments[i] = &resend.Attachment{
				Filename:    a.Filename,
				Content:     a.Content,
				ContentType: a.ContentType,
			}
		}
	}

	resp, err := t.emails.SendWithContext(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Id, nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "resend"
}

func headers(msg *email.Email) map[string]string {
	if len(msg.Headers) == 0 && msg.MessageID == "" {
		return nil
	}
	out := make(map[string]string, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		out[k] = v
	}
	if msg.MessageID != "" {
		out["Message-ID"] = msg.MessageID
	}
	return out
}

var authMarkers = []string{"api key", "api_key", "unauthorized", "forbidden", "401", "403", "restricted"}

// classify maps Resend client errors onto the relay failure taxonomy. The
// client reports API failures as plain errors, so auth refusals are
// recognised by their message.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return mailerr.Connection(fmt.Errorf("resend: %w", err))
	}

	lower := strings.ToLower(err.Error())
	for _, marker := range authMarkers {
		if strings.Contains(lower, marker) {
			return mailerr.Auth(fmt.Errorf("resend: %w", err))
		}
	}
	return mailerr.Transient(fmt.Errorf("resend: failed to send email: %w", err))
}
