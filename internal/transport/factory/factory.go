// Package factory builds relay transports from relay configurations.
package factory

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/shineum/mail-dispatch/internal/relay"
	smtptls "github.com/shineum/mail-dispatch/internal/tls"
	"github.com/shineum/mail-dispatch/internal/transport"
	"github.com/shineum/mail-dispatch/internal/transport/graph"
	"github.com/shineum/mail-dispatch/internal/transport/resend"
	"github.com/shineum/mail-dispatch/internal/transport/ses"
	"github.com/shineum/mail-dispatch/internal/transport/smtp"
	"github.com/shineum/mail-dispatch/internal/transport/stdout"
)

// Factory opens the transport matching a relay's kind and provider.
// It implements relay.TransportFactory.
type Factory struct {
	// Stdout receives dry-run output from stdout relays. Nil means os.Stdout.
	Stdout io.Writer
	// LocalName is sent in HELO/EHLO by SMTP relays.
	LocalName string
}

// New returns a Factory writing dry-run output to os.Stdout.
func New() *Factory {
	return &Factory{Stdout: os.Stdout}
}

// Open returns a transport for cfg. Configuration problems are returned
// unclassified; the pool treats them as connection failures.
func (f *Factory) Open(ctx context.Context, cfg relay.Config) (transport.Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.ProviderName() {
	case "smtp":
		return smtp.New(smtp.Config{
			Host:        cfg.Host,
			Port:        cfg.Port,
			Username:    cfg.Username,
			Password:    cfg.Secret,
			Sender:      cfg.FromAddress(),
			ImplicitTLS: cfg.UseTLS,
			TLSConfig:   smtptls.ClientConfig(cfg.Host, cfg.InsecureSkipVerify),
			LocalName:   f.LocalName,
		})

	case relay.ProviderGmail:
		return smtp.New(smtp.Config{
			Host:      smtp.GmailHost,
			Port:      smtp.GmailPort,
			Username:  cfg.Username,
			Password:  cfg.Secret,
			Sender:    cfg.FromAddress(),
			TLSConfig: smtptls.ClientConfig(smtp.GmailHost, false),
			LocalName: f.LocalName,
		})

	case relay.ProviderSES:
		return ses.New(ctx, ses.Config{
			Region:          cfg.Region,
			AccessKeyID:     cfg.Username,
			SecretAccessKey: cfg.Secret,
			Sender:          cfg.FromAddress(),
		})

	case relay.ProviderGraph:
		return graph.New(graph.Config{
			TenantID:     cfg.TenantID,
			ClientID:     cfg.Username,
			ClientSecret: cfg.Secret,
			Sender:       cfg.Sender,
		}), nil

	case relay.ProviderResend:
		return resend.New(resend.Config{
			APIKey:      cfg.Secret,
			SenderEmail: cfg.FromAddress(),
		}), nil

	case relay.ProviderStdout:
		w := f.Stdout
		if w == nil {
			w = os.Stdout
		}
		return stdout.NewWithWriter(w), nil

	default:
		return nil, fmt.Errorf("unsupported relay provider %q", cfg.ProviderName())
	}
}
