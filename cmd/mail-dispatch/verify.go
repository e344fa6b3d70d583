package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/shineum/mail-dispatch/internal/mailerr"
	"github.com/shineum/mail-dispatch/internal/relay"
	"github.com/shineum/mail-dispatch/internal/transport/factory"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that every configured relay is reachable and accepts its credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			pool, err := relay.NewPool(cfg.Relays, factory.New())
			if err != nil {
				return err
			}
			defer pool.Close()

			results := pool.Verify(cmd.Context())

			ids := make([]string, 0, len(results))
			for id := range results {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			failed := 0
			out := cmd.OutOrStdout()
			for _, id := range ids {
				err := results[id]
				switch {
				case err == nil:
					fmt.Fprintf(out, "ok       %s\n", id)
				case errors.Is(err, relay.ErrVerifyUnsupported):
					fmt.Fprintf(out, "skipped  %s (verification not supported)\n", id)
				default:
					failed++
					fmt.Fprintf(out, "failed   %s [%s] %v\n", id, mailerr.KindOf(err), err)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d relays failed verification", failed, len(ids))
			}
			return nil
		},
	}
}
