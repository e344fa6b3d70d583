package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/mail-dispatch/internal/campaign"
	"github.com/shineum/mail-dispatch/internal/config"
	"github.com/shineum/mail-dispatch/internal/recipient"
	"github.com/shineum/mail-dispatch/internal/relay"
	"github.com/shineum/mail-dispatch/internal/render"
	"github.com/shineum/mail-dispatch/internal/transport/factory"
)

func newSendCmd() *cobra.Command {
	var (
		recipientsPath string
		dryRun         bool
		warmup         bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Run a campaign over a recipient list",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if recipientsPath != "" {
				cfg.Campaign.Recipients = recipientsPath
			}
			if warmup {
				cfg.Pacing.WarmupMode = true
			}
			if dryRun {
				cfg.Relays = []relay.Config{stdoutRelay(cfg.Campaign.Sender)}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result, err := runSend(ctx, cfg)
			if result != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(result); encErr != nil {
					slog.Error("failed to write campaign result", "error", encErr)
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&recipientsPath, "recipients", "r", "", "recipient list (.csv, .json, .yaml)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print messages to stdout instead of sending")
	cmd.Flags().BoolVar(&warmup, "warmup", false, "enforce warm-up pacing")
	return cmd
}

func runSend(ctx context.Context, cfg *config.Config) (*campaign.Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Campaign.Recipients == "" {
		return nil, fmt.Errorf("no recipient list configured")
	}

	recipients, err := recipient.LoadFile(cfg.Campaign.Recipients)
	if err != nil {
		return nil, err
	}

	templates, err := loadTemplates(cfg.Campaign)
	if err != nil {
		return nil, err
	}

	opts := []campaign.Option{campaign.WithSender(cfg.Campaign.Sender)}
	if templates.Attachment != "" {
		r, err := render.New(cfg.Campaign.Renderer)
		if err != nil {
			return nil, err
		}
		opts = append(opts, campaign.WithRenderer(r))
	}

	var poolOpts []relay.PoolOption
	if cfg.Campaign.ConnectionReuse > 0 {
		poolOpts = append(poolOpts, relay.WithConnectionReuse(cfg.Campaign.ConnectionReuse))
	}

	pool, err := relay.NewPool(cfg.Relays, factory.New(), poolOpts...)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	serveMetrics(ctx, cfg.Metrics.Listen)

	slog.Info("starting campaign",
		"recipients", len(recipients),
		"relays", pool.Len(),
		"renderer", cfg.Campaign.Renderer,
	)

	d := campaign.New(pool, opts...)
	return d.Run(ctx, campaign.Request{
		Recipients:  recipients,
		Templates:   templates,
		Pacing:      cfg.Pacing,
		MaxAttempts: cfg.Campaign.MaxAttempts,
	})
}

func stdoutRelay(sender string) relay.Config {
	return relay.Config{Kind: relay.KindManaged, Provider: relay.ProviderStdout, Sender: sender}
}

func loadTemplates(c config.CampaignConfig) (campaign.Templates, error) {
	t := campaign.Templates{
		Subject:    c.Subject,
		HTML:       c.HTML,
		Text:       c.Text,
		Attachment: c.Attachment,
	}
	if t.HTML == "" && c.HTMLFile != "" {
		data, err := os.ReadFile(c.HTMLFile)
		if err != nil {
			return t, fmt.Errorf("failed to read html template: %w", err)
		}
		t.HTML = string(data)
	}
	return t, nil
}
