package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/modserve/internal/app"
	"github.com/dmitrymomot/modserve/pkg/session"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired sessions from the configured store",
	Long:  `Runs one cleanup pass over SESSION_STORE. Suitable for a cron job when probabilistic cleanup is off.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := newLogger(cfg)
		ctx := cmdContext(cmd)

		b, err := app.OpenBackends(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer b.Close()
		if b.Store == nil {
			return fmt.Errorf("sessions are disabled (SESSION_STORE=%s)", cfg.Store)
		}

		start := time.Now()
		n, err := session.NewFromConfig(b.Store, cfg.Session, session.WithLogger(log)).Cleanup(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired sessions in %s\n", n, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
