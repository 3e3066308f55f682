package main

import (
	"net"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/modserve/pkg/httpserver"
	"github.com/dmitrymomot/modserve/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Starts serving every configured location. With --watch, module directories
are watched and changed modules reload on the next request without waiting
for the mtime check.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.HTTP.Addr = addr
		}
		log := newLogger(cfg)

		a, err := newAppFromConfig(cmd, cfg, log)
		if err != nil {
			return err
		}

		opts := []httpserver.Option{
			httpserver.WithLogger(log),
			httpserver.WithTask("session-sweep", a.Sweep),
			httpserver.WithStopHook(func() {
				if err := a.Close(); err != nil {
					log.Error("closing backends failed", logger.Error(err))
				}
			}),
			httpserver.WithStartHook(func(addr net.Addr) {
				log.Info("serving locations", logger.Count("locations", len(a.Locations)))
			}),
		}
		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			opts = append(opts, httpserver.WithTask("module-watch", a.Watch))
		}

		return httpserver.NewFromConfig(cfg.HTTP, opts...).Run(cmdContext(cmd), a.Handler)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (overrides HTTP_ADDR)")
	serveCmd.Flags().Bool("watch", false, "watch module directories for changes")
}
