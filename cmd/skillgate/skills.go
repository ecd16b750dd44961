package main

import (
	"strconv"
	"strings"

	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect the skill catalog",
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List skills and recipes in declaration order",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, _, err := loadRegistry(cmd.Context())
		if err != nil {
			return err
		}

		all, _ := cmd.Flags().GetBool("all")
		var descs []skills.Descriptor
		for _, p := range reg.Packs() {
			if !p.Enabled && !all {
				continue
			}
			descs = append(descs, p.Descriptors...)
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return writeJSON(cmd.OutOrStdout(), descs)
		}

		rows := make([][]string, 0, len(descs))
		for _, d := range descs {
			rules := make([]string, 0, len(d.Rules))
			for _, r := range d.Rules {
				rules = append(rules, r.String())
			}
			rows = append(rows, []string{d.ID, string(d.Layer), strconv.Itoa(d.Weight), strings.Join(rules, " ")})
		}
		presenter.Table([]string{"ID", "LAYER", "WEIGHT", "RULES"}, rows)
		return nil
	},
}

var skillsLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Check descriptors against their pack's declared scope",
	Long: `Report malformed descriptors and descriptors whose description or keywords
mention a term their pack declares out of scope. Exits non-zero on findings.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		d, err := newDiscovery()
		if err != nil {
			return err
		}
		reg, loadErr := d.LoadRegistry(cmd.Context())

		problems := 0
		for _, md := range skills.MalformedDescriptors(loadErr) {
			presenter.Warning(md.Error())
			problems++
		}
		if loadErr != nil && !skills.IsMalformed(loadErr) && problems == 0 {
			presenter.Warning(loadErr.Error())
			problems++
		}
		for _, p := range reg.Packs() {
			for _, f := range skills.Lint(p) {
				presenter.Warning(f.String())
				problems++
			}
		}

		if problems > 0 {
			return errors.Errorf("%d problem(s) found", problems)
		}
		presenter.Success("No problems found")
		return nil
	},
}

func init() {
	skillsListCmd.Flags().Bool("all", false, "Include skills of disabled packs")
	skillsListCmd.Flags().Bool("json", false, "Output as JSON")
	skillsCmd.AddCommand(skillsListCmd)
	skillsCmd.AddCommand(skillsLintCmd)
}
