package main

import (
	"strconv"
	"strings"

	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/spf13/cobra"
)

var packsCmd = &cobra.Command{
	Use:   "packs",
	Short: "Inspect skill packs",
}

var packsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered packs in precedence order",
	Long: `List packs from the repository, the home directory and the builtin set.
A pack whose id is already provided by a higher precedence source is shown as shadowed.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		d, err := newDiscovery()
		if err != nil {
			return err
		}
		infos, err := d.List(cmd.Context())
		reportLoadErrors(err)

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return writeJSON(cmd.OutOrStdout(), infos)
		}

		if len(infos) == 0 {
			presenter.Info("No packs found in " + strings.Join(d.PackDirs(), ", "))
			return nil
		}
		rows := make([][]string, 0, len(infos))
		for _, p := range infos {
			status := "enabled"
			switch {
			case p.Shadowed:
				status = "shadowed"
			case !p.Enabled:
				status = "disabled"
			}
			rows = append(rows, []string{p.ID, status, strconv.Itoa(len(p.Skills)), strconv.Itoa(len(p.Recipes)), p.Path})
		}
		presenter.Table([]string{"PACK", "STATUS", "SKILLS", "RECIPES", "PATH"}, rows)
		return nil
	},
}

func init() {
	packsListCmd.Flags().Bool("json", false, "Output as JSON")
	packsCmd.AddCommand(packsListCmd)
}
