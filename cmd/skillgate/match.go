package main

import (
	"strconv"
	"strings"

	"github.com/jingkaihe/skillgate/pkg/activation"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/spf13/cobra"
)

var matchCmd = &cobra.Command{
	Use:   "match [text]",
	Short: "Show which skills a request would activate",
	Long: `Evaluate activation rules against a request without admitting anything.
Candidates are listed most specific first.

Examples:
  skillgate match "add a unit test for the parser"
  skillgate match --invoke /tests
  skillgate match --resource pkg/parser/parser_test.go --domain backend`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reg, _, err := loadRegistry(ctx)
		if err != nil {
			return err
		}

		req := activation.Context{Text: strings.Join(args, " ")}
		req.Resources, _ = cmd.Flags().GetStringSlice("resource")
		req.DomainTags, _ = cmd.Flags().GetStringSlice("domain")
		req.Invocation, _ = cmd.Flags().GetString("invoke")

		candidates := cfg.Matcher().Match(ctx, req, reg)

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			type row struct {
				ID          string `json:"id"`
				Layer       string `json:"layer"`
				Weight      int    `json:"weight"`
				Specificity int    `json:"specificity"`
				Rule        string `json:"rule"`
			}
			out := make([]row, 0, len(candidates))
			for _, c := range candidates {
				out = append(out, row{c.Descriptor.ID, string(c.Descriptor.Layer), c.Descriptor.Weight, int(c.Specificity), c.MatchedRule()})
			}
			return writeJSON(cmd.OutOrStdout(), out)
		}

		if len(candidates) == 0 {
			presenter.Info("No skills match")
			return nil
		}
		rows := make([][]string, 0, len(candidates))
		for _, c := range candidates {
			rows = append(rows, []string{
				c.Descriptor.ID,
				strconv.Itoa(int(c.Specificity)),
				c.MatchedRule(),
				strconv.Itoa(c.Descriptor.Weight),
			})
		}
		presenter.Table([]string{"ID", "SPECIFICITY", "RULE", "WEIGHT"}, rows)
		return nil
	},
}

func init() {
	matchCmd.Flags().StringSlice("resource", nil, "Working resource identifier (repeatable)")
	matchCmd.Flags().StringSlice("domain", nil, "Project domain tag (repeatable)")
	matchCmd.Flags().String("invoke", "", "Explicit invocation token, e.g. /tests")
	matchCmd.Flags().Bool("json", false, "Output as JSON")
}
