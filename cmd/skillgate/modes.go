package main

import (
	"fmt"
	"strings"

	"github.com/jingkaihe/skillgate/pkg/mode"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/spf13/cobra"
)

var modesCmd = &cobra.Command{
	Use:   "modes",
	Short: "Show the action policy of every mode",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rows := make([][]string, 0, len(mode.All()))
		for _, m := range mode.All() {
			rows = append(rows, []string{m.String(), joinActions(mode.Allowed(m)), joinActions(mode.Denied(m))})
		}
		presenter.Table([]string{"MODE", "ALLOWED", "DENIED"}, rows)
		return nil
	},
}

var modesAuthorizeCmd = &cobra.Command{
	Use:   "authorize <mode> <action>",
	Short: "Check whether an action is permitted in a mode",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := mode.Parse(args[0])
		if err != nil {
			return err
		}
		a := mode.Authorize(m, mode.ParseAction(args[1]))

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return writeJSON(cmd.OutOrStdout(), a)
		}
		if a.Allowed {
			presenter.Success(fmt.Sprintf("%s is allowed in %s mode", a.Action, a.Mode))
			return nil
		}
		presenter.Warning(a.Reason)
		if a.Suggested != "" {
			presenter.Info(fmt.Sprintf("Suggested mode: %s", a.Suggested))
		}
		if a.Signal != "" {
			presenter.Info(fmt.Sprintf("Signal: %s", a.Signal))
		}
		return nil
	},
}

func joinActions(actions []mode.Action) string {
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		parts = append(parts, string(a))
	}
	return strings.Join(parts, ", ")
}

func init() {
	modesAuthorizeCmd.Flags().Bool("json", false, "Output as JSON")
	modesCmd.AddCommand(modesAuthorizeCmd)
}
