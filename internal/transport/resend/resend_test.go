package resend

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"

	"github.com/resend/resend-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mail-dispatch/internal/email"
	"github.com/shineum/mail-dispatch/internal/mailerr"
)

type fakeEmails struct {
	err  error
	last *resend.SendEmailRequest
}

func (f *fakeEmails) SendWithContext(_ context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	f.last = params
	if f.err != nil {
		return nil, f.err
	}
	return &resend.SendEmailResponse{Id: "re_123"}, nil
}

func newTestTransport(fake *fakeEmails) *Transport {
	return &Transport{
		emails: fake,
		config: Config{SenderEmail: "billing@example.com", SenderName: "Billing"},
	}
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	fake := &fakeEmails{}
	tr := newTestTransport(fake)

	id, err := tr.Submit(context.Background(), &email.Email{
		To:        []string{"ana@example.com"},
		Subject:   "Invoice INV-1",
		HtmlBody:  "<p>Hi Ana</p>",
		TextBody:  "Hi Ana",
		MessageID: "<m1@example.com>",
		Headers:   map[string]string{"X-Priority": "3"},
		Attachments: []email.Attachment{
			{Filename: "Invoice_INV-1.html", ContentType: "text/html", Content: []byte("<p>doc</p>")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "re_123", id)

	req := fake.last
	assert.Equal(t, "Billing <billing@example.com>", req.From)
	assert.Equal(t, []string{"ana@example.com"}, req.To)
	assert.Equal(t, "<p>Hi Ana</p>", req.Html)
	assert.Equal(t, "Hi Ana", req.Text)
	assert.Equal(t, map[string]string{"X-Priority": "3", "Message-ID": "<m1@example.com>"}, req.Headers)
	require.Len(t, req.Attachments, 1)
	assert.Equal(t, "Invoice_INV-1.html", req.Attachments[0].Filename)
}

func TestSubmit_MessageFromWins(t *testing.T) {
	t.Parallel()

	fake := &fakeEmails{}
	tr := newTestTransport(fake)

	_, err := tr.Submit(context.Background(), &email.Email{From: "ops@example.com", To: []string{"a@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", fake.last.From)
	assert.Nil(t, fake.last.Headers)
}

func TestSubmit_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want mailerr.Kind
	}{
		{"invalid key", errors.New("[ERROR]: API key is invalid"), mailerr.KindAuth},
		{"restricted key", errors.New("This API key is restricted to only send emails"), mailerr.KindAuth},
		{"network", &url.Error{Op: "Post", URL: "https://api.resend.com/emails", Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}, mailerr.KindConnection},
		{"validation", errors.New("[ERROR]: Invalid `to` field"), mailerr.KindTransient},
		{"rate limit", errors.New("Too many requests"), mailerr.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := newTestTransport(&fakeEmails{err: tt.err})
			_, err := tr.Submit(context.Background(), &email.Email{To: []string{"a@example.com"}})
			require.Error(t, err)
			assert.Equal(t, tt.want, mailerr.KindOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestSubmit_CancelledContext(t *testing.T) {
	t.Parallel()

	fake := &fakeEmails{}
	tr := newTestTransport(fake)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Submit(ctx, &email.Email{To: []string{"a@example.com"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, fake.last)
}

func TestName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "resend", New(Config{APIKey: "re_test"}).Name())
}
