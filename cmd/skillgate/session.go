package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jingkaihe/skillgate/pkg/mode"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/session"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Script is a scripted session: turns and mode transitions replayed in order.
type Script struct {
	ID    string `yaml:"id"`
	Steps []Step `yaml:"steps"`
}

// Step is either a turn or a transition.
type Step struct {
	Turn       *session.Turn   `yaml:"turn,omitempty"`
	Transition *TransitionStep `yaml:"transition,omitempty"`
}

// TransitionStep requests a mode change.
type TransitionStep struct {
	To     string `yaml:"to"`
	Reason string `yaml:"reason"`
}

// StepResult records what one step produced.
type StepResult struct {
	Step       int                    `json:"step"`
	Decision   *session.Decision      `json:"decision,omitempty"`
	Transition *mode.TransitionRecord `json:"transition,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// ParseScript decodes a session script.
func ParseScript(data []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, errors.Wrap(err, "failed to parse session script")
	}
	for i, step := range s.Steps {
		if (step.Turn == nil) == (step.Transition == nil) {
			return s, errors.Errorf("step %d must have exactly one of turn or transition", i+1)
		}
	}
	return s, nil
}

// runScript replays script against a new session of m. A rejected transition
// or an unknown assumed mode is recorded in its step result and does not stop
// the script.
func runScript(ctx context.Context, m *session.Manager, script Script) ([]StepResult, error) {
	var opts []session.Option
	if script.ID != "" {
		opts = append(opts, session.WithID(script.ID))
	}
	c, err := m.Create(ctx, opts...)
	if err != nil {
		return nil, err
	}
	defer m.Close(ctx, c.ID())

	results := make([]StepResult, 0, len(script.Steps))
	for i, step := range script.Steps {
		res := StepResult{Step: i + 1}

		if step.Turn != nil {
			turn := *step.Turn
			turn.Action = mode.ParseAction(string(turn.Action))
			if turn.AssumedMode != "" {
				assumed, err := mode.Parse(string(turn.AssumedMode))
				if err != nil {
					res.Error = err.Error()
					results = append(results, res)
					continue
				}
				turn.AssumedMode = assumed
			}
			d, err := m.Handle(ctx, c.ID(), turn)
			if err != nil {
				return results, errors.Wrapf(err, "step %d", i+1)
			}
			res.Decision = d
		} else {
			to, err := mode.Parse(step.Transition.To)
			if err == nil {
				var rec mode.TransitionRecord
				rec, err = m.Transition(ctx, c.ID(), to, step.Transition.Reason)
				if err == nil {
					res.Transition = &rec
				}
			}
			if err != nil {
				res.Error = err.Error()
			}
		}
		results = append(results, res)
	}
	return results, nil
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Run working sessions",
}

var sessionRunCmd = &cobra.Command{
	Use:   "run <script.yaml>",
	Short: "Replay a scripted session and print every decision",
	Long: `Replay a YAML session script. Each step is a turn or a transition:

  id: demo
  steps:
    - turn:
        context: {text: "add a unit test", invocation: /tests}
        action: read
    - transition: {to: implement, reason: "plan approved"}
    - turn:
        action: edit`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return errors.Wrap(err, "failed to read session script")
		}
		script, err := ParseScript(data)
		if err != nil {
			return err
		}

		reg, _, err := loadRegistry(ctx)
		if err != nil {
			return err
		}
		setup, err := newSessionSetup(ctx)
		if err != nil {
			return err
		}
		defer setup.Close()

		m := session.NewManager(reg, setup.config, setup.opts...)
		results, err := runScript(ctx, m, script)
		if err != nil {
			return err
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
		} else {
			printResults(results)
		}

		if strict, _ := cmd.Flags().GetBool("strict"); strict {
			if n := countViolations(results); n > 0 {
				return errors.Errorf("%d protocol violation(s)", n)
			}
		}
		return nil
	},
}

func printResults(results []StepResult) {
	for _, r := range results {
		switch {
		case r.Decision != nil:
			presenter.Decision(r.Decision)
		case r.Transition != nil:
			presenter.Success(fmt.Sprintf("mode %s -> %s: %s", r.Transition.From, r.Transition.To, r.Transition.Reason))
		case r.Error != "":
			presenter.Warning(fmt.Sprintf("step %d: %s", r.Step, r.Error))
		}
		presenter.Separator()
	}
}

func countViolations(results []StepResult) int {
	n := 0
	for _, r := range results {
		if r.Decision != nil {
			n += len(r.Decision.Violations)
		}
		if r.Error != "" {
			n++
		}
	}
	return n
}

func init() {
	sessionRunCmd.Flags().Bool("json", false, "Output step results as JSON")
	sessionRunCmd.Flags().Bool("strict", false, "Exit non-zero when any violation or rejected transition occurs")
	sessionCmd.AddCommand(sessionRunCmd)
}
