package main

import (
	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the mode transition log",
}

var auditListCmd = &cobra.Command{
	Use:   "list [session-id]",
	Short: "List recorded mode transitions",
	Long:  `List transitions recorded by the file or sqlite audit driver, optionally for one session.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sink, err := audit.New(ctx, cfg.Audit.Driver, cfg.Audit.Path)
		if err != nil {
			return err
		}
		if c, ok := sink.(audit.Closer); ok {
			defer c.Close()
		}
		lister, ok := sink.(audit.Lister)
		if !ok {
			return errors.Errorf("audit driver %q keeps no readable log; use file or sqlite", cfg.Audit.Driver)
		}

		var sessionID string
		if len(args) == 1 {
			sessionID = args[0]
		}
		entries, err := lister.List(ctx, sessionID)
		if err != nil {
			return err
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return writeJSON(cmd.OutOrStdout(), entries)
		}
		if len(entries) == 0 {
			presenter.Info("No transitions recorded")
			return nil
		}
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{e.Timestamp.Format("2006-01-02 15:04:05"), e.SessionID, e.From, e.To, e.Reason})
		}
		presenter.Table([]string{"TIME", "SESSION", "FROM", "TO", "REASON"}, rows)
		return nil
	},
}

func init() {
	auditCmd.PersistentFlags().String("driver", "", "Audit driver (file or sqlite; overrides config)")
	auditCmd.PersistentFlags().String("path", "", "Audit log path (overrides config)")
	viper.BindPFlag("audit.driver", auditCmd.PersistentFlags().Lookup("driver"))
	viper.BindPFlag("audit.path", auditCmd.PersistentFlags().Lookup("path"))
	auditListCmd.Flags().Bool("json", false, "Output as JSON")
	auditCmd.AddCommand(auditListCmd)
}
