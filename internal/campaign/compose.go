package campaign

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/shineum/mail-dispatch/internal/email"
	"github.com/shineum/mail-dispatch/internal/mailerr"
	"github.com/shineum/mail-dispatch/internal/metrics"
	"github.com/shineum/mail-dispatch/internal/recipient"
	"github.com/shineum/mail-dispatch/internal/render"
)

// Mailer is the X-Mailer header value.
const Mailer = "mail-dispatch"

// DefaultSubject is used when the subject template is empty.
const DefaultSubject = "No Subject"

// fallbackDomain names Message-IDs when no sender is configured.
const fallbackDomain = "mail-dispatch.local"

// compose builds the personalized message for one recipient. A render
// failure is recorded and the message goes out without the attachment.
func (d *Dispatcher) compose(ctx context.Context, result *Result, index int, tpl Templates, rec recipient.Recipient, addr string) *email.Email {
	subject := DefaultSubject
	if strings.TrimSpace(tpl.Subject) != "" {
		subject = rec.Fill(tpl.Subject)
	}

	html := rec.Fill(tpl.HTML)
	text := rec.Fill(tpl.Text)
	if tpl.Text == "" {
		text = render.PlainText(html)
	}

	msg := &email.Email{
		From:      d.sender,
		To:        []string{addr},
		Subject:   subject,
		TextBody:  text,
		HtmlBody:  html,
		MessageID: messageID(d.sender),
		Headers: map[string]string{
			"X-Mailer":      Mailer,
			"X-Priority":    "3",
			"Importance":    "Normal",
			"X-Campaign-Id": result.ID,
		},
	}

	if tpl.Attachment == "" || d.renderer == nil {
		return msg
	}

	data, err := d.renderer.Render(ctx, rec.Fill(tpl.Attachment))
	if err != nil {
		metrics.CampaignRenderFailures.Inc()
		result.addError(index, addr, StageRender, &mailerr.RenderError{Err: err})
		d.logger.Warn("attachment render failed, sending without attachment",
			"campaign_id", result.ID,
			"index", index,
			"error", err,
		)
		return msg
	}

	msg.Attachments = []email.Attachment{{
		Filename:    attachmentName(rec, addr, d.renderer.Extension()),
		ContentType: d.renderer.ContentType(),
		Content:     data,
	}}
	return msg
}

// attachmentName is Invoice_<invoice>.<ext> for recipients with an invoice
// field, otherwise Document_<local part>.<ext>.
func attachmentName(rec recipient.Recipient, addr, ext string) string {
	if inv := rec.First("invoice", "Invoice"); inv != "" {
		return fmt.Sprintf("Invoice_%s.%s", inv, ext)
	}
	local, _, _ := strings.Cut(addr, "@")
	return fmt.Sprintf("Document_%s.%s", local, ext)
}

func messageID(sender string) string {
	domain := fallbackDomain
	if _, host, ok := strings.Cut(sender, "@"); ok && host != "" {
		domain = strings.TrimRight(host, ">")
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
