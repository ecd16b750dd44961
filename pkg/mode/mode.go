// Package mode implements the cognitive mode state machine and its closed-world
// action authorization table.
package mode

import (
	"strings"

	"github.com/pkg/errors"
)

// Mode is a cognitive mode of a session.
type Mode string

// Modes in canonical order.
const (
	Explore   Mode = "explore"
	Architect Mode = "architect"
	Implement Mode = "implement"
	Review    Mode = "review"
	Verify    Mode = "verify"
)

// Action is a category of action a turn wants to perform.
type Action string

// Action categories named by the authorization table.
const (
	ActionRead                       Action = "read"
	ActionSearch                     Action = "search"
	ActionAsk                        Action = "ask"
	ActionPropose                    Action = "propose"
	ActionEvaluate                   Action = "evaluate"
	ActionEdit                       Action = "edit"
	ActionBuildRun                   Action = "build-run"
	ActionAnnotateIssue              Action = "annotate-issue"
	ActionExecuteTest                Action = "execute-test"
	ActionReport                     Action = "report"
	ActionModify                     Action = "modify"
	ActionExecuteBuild               Action = "execute-build"
	ActionModifySource               Action = "modify-source"
	ActionIntroduceNewDesignDecision Action = "introduce-new-design-decision"
	ActionSuppressFailure            Action = "suppress-failure"
)

// Signal is raised alongside a denial when the mode protocol expects a handoff.
type Signal string

// NeedsArchitect asks for a design decision to be taken in Architect mode.
const NeedsArchitect Signal = "NeedsArchitect"

// All returns every mode in canonical order.
func All() []Mode {
	return []Mode{Explore, Architect, Implement, Review, Verify}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	_, ok := policies[m]
	return ok
}

func (m Mode) String() string {
	return string(m)
}

// Parse resolves a mode name case-insensitively.
func Parse(name string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(name)))
	if !m.Valid() {
		return "", errors.Wrapf(ErrUnknownMode, "%q", name)
	}
	return m, nil
}

// ParseAction normalizes an action category name.
func ParseAction(name string) Action {
	return Action(strings.ToLower(strings.TrimSpace(name)))
}
