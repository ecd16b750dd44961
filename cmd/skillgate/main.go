package main

import (
	"context"
	"os"

	"github.com/jingkaihe/skillgate/pkg/config"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/telemetry"
	"github.com/jingkaihe/skillgate/pkg/version"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg             config.Config
	shutdownTracing telemetry.ShutdownFunc
)

var rootCmd = &cobra.Command{
	Use:   "skillgate",
	Short: "Skill activation and context budget engine",
	Long: `skillgate decides which skills enter a working session's bounded context,
evicts what no longer fits and enforces the action policy of the session's mode.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return setup(cmd.Context())
	},
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		if shutdownTracing == nil {
			return nil
		}
		return shutdownTracing(cmd.Context())
	},
}

func setup(ctx context.Context) error {
	v := viper.GetViper()
	if err := config.Init(v); err != nil {
		return err
	}

	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = loaded

	if err := logger.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		return errors.Wrapf(err, "invalid log level %q", cfg.LogLevel)
	}

	tc := cfg.Tracing
	tc.ServiceVersion = version.Get().Version
	shutdownTracing, err = telemetry.InitTracer(ctx, tc)
	if err != nil {
		return errors.Wrap(err, "failed to initialize tracing")
	}
	return nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("base-dir", "", "Repository-local skillgate directory (default .skillgate)")
	flags.Int("budget", 0, "Context budget in weight units (overrides config)")
	flags.String("identity-file", "", "File holding the always-resident project identity")
	flags.StringSlice("enable-pack", nil, "Force-enable a pack (repeatable)")
	flags.StringSlice("disable-pack", nil, "Force-disable a pack (repeatable)")
	flags.StringSlice("pack-priority", nil, "Pack order used to break ranking ties")
	flags.Bool("builtin-packs", true, "Include the packs compiled into skillgate")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (fmt or json)")

	viper.BindPFlag("base_dir", flags.Lookup("base-dir"))
	viper.BindPFlag("budget", flags.Lookup("budget"))
	viper.BindPFlag("identity_file", flags.Lookup("identity-file"))
	viper.BindPFlag("enabled_packs", flags.Lookup("enable-pack"))
	viper.BindPFlag("disabled_packs", flags.Lookup("disable-pack"))
	viper.BindPFlag("pack_priority", flags.Lookup("pack-priority"))
	viper.BindPFlag("builtin_packs", flags.Lookup("builtin-packs"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))

	rootCmd.AddCommand(packsCmd)
	rootCmd.AddCommand(skillsCmd)
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(modesCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		presenter.Error(err, "")
		os.Exit(1)
	}
}
