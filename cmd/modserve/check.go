package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/modserve/pkg/modcache"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate locations and load every handler module",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmdContext(cmd)
		var errs []error
		for _, loc := range a.Locations {
			for _, h := range loc.Handlers {
				if err := a.Dispatcher.Check(ctx, loc, h); err != nil {
					var le *modcache.LoadError
					if errors.As(err, &le) {
						err = fmt.Errorf("%s: %w", le.Path, le.Err)
					}
					errs = append(errs, fmt.Errorf("%s %s: %w", loc.Path, h, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok  %s %s\n", loc.Path, h)
			}
		}
		return errors.Join(errs...)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
