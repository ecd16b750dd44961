package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/plugins"
	"github.com/jingkaihe/skillgate/pkg/server"
	"github.com/jingkaihe/skillgate/pkg/session"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host sessions over HTTP",
	Long: `Start the session API. When watching is enabled, edits to pack directories
rebuild the catalog; sessions opened afterwards use the new catalog while open
sessions keep the one they started with.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg, discovery, err := loadRegistry(ctx)
		if err != nil {
			return err
		}
		setup, err := newSessionSetup(ctx)
		if err != nil {
			return err
		}
		defer setup.Close()

		manager := session.NewManager(reg, setup.config, setup.opts...)

		if cfg.Server.Watch {
			startWatcher(ctx, discovery, manager)
		}

		var opts []server.Option
		if lister, ok := setup.sink.(audit.Lister); ok {
			opts = append(opts, server.WithAuditLister(lister))
		}
		return server.New(manager, opts...).Start(ctx, cfg.Server.Addr)
	},
}

func startWatcher(ctx context.Context, d *plugins.Discovery, manager *session.Manager) {
	w := plugins.NewWatcher(d, func(ctx context.Context, reg *skills.Registry, err error) {
		if err != nil {
			logger.G(ctx).WithError(err).Warn("pack reload reported problems")
		}
		if reg != nil {
			manager.SetRegistry(reg)
			logger.G(ctx).WithField("descriptors", reg.Len()).Info("skill catalog reloaded")
		}
	}, plugins.DefaultDebounce)

	if err := w.Start(ctx); err != nil {
		logger.G(ctx).WithError(err).Warn("pack watching disabled")
	}
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")
	serveCmd.Flags().Bool("watch", true, "Reload packs when their files change")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("server.watch", serveCmd.Flags().Lookup("watch"))
}
