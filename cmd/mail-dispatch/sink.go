package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/mail-dispatch/internal/smtpsink"
	smtptls "github.com/shineum/mail-dispatch/internal/tls"
	"github.com/shineum/mail-dispatch/internal/transport/stdout"
)

func newSinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sink",
		Short: "Run a local SMTP relay that prints accepted messages",
		Long: `sink runs a local SMTP relay for rehearsing campaigns. Accepted messages
are printed to stdout. reject_auth and throttle_every in the sink
configuration inject failures to exercise relay failover.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			tlsConfig, err := smtptls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.Sink.Hostname)
			if err != nil {
				return err
			}

			tlsMode := "self-signed"
			if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
				tlsMode = "file"
			}

			server := smtpsink.New(smtpsink.Config{
				ListenAddr:     cfg.Sink.Listen,
				Hostname:       cfg.Sink.Hostname,
				Transport:      stdout.New(),
				TLSConfig:      tlsConfig,
				Username:       cfg.Sink.Username,
				Password:       cfg.Sink.Password,
				RejectAuth:     cfg.Sink.RejectAuth,
				ThrottleEvery:  cfg.Sink.ThrottleEvery,
				MaxMessageSize: cfg.Sink.MaxMessageSize,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			serveMetrics(ctx, cfg.Metrics.Listen)

			slog.Info("starting relay sink",
				"listen", cfg.Sink.Listen,
				"auth_enabled", cfg.SinkAuthEnabled(),
				"tls_mode", tlsMode,
				"reject_auth", cfg.Sink.RejectAuth,
				"throttle_every", cfg.Sink.ThrottleEvery,
			)

			// Blocks until the context is cancelled
			if err := server.ListenAndServe(ctx); err != nil {
				return err
			}
			slog.Info("relay sink stopped", "accepted", server.Accepted())
			return nil
		},
	}
}
