package mode

import "fmt"

type policy struct {
	allowed []Action
	denied  []Action
}

// policies is the fixed authorization table. Anything not allowed is denied;
// the denied column only names the categories each mode must refuse loudly.
var policies = map[Mode]policy{
	Explore: {
		allowed: []Action{ActionRead, ActionSearch, ActionAsk},
		denied:  []Action{ActionModify, ActionExecuteBuild},
	},
	Architect: {
		allowed: []Action{ActionPropose, ActionEvaluate},
		denied:  []Action{ActionModifySource},
	},
	Implement: {
		allowed: []Action{ActionEdit, ActionBuildRun},
		denied:  []Action{ActionIntroduceNewDesignDecision},
	},
	Review: {
		allowed: []Action{ActionRead, ActionAnnotateIssue},
		denied:  []Action{ActionModifySource},
	},
	Verify: {
		allowed: []Action{ActionExecuteTest, ActionReport},
		denied:  []Action{ActionSuppressFailure},
	},
}

type suggestion struct {
	mode   Mode
	signal Signal
}

// suggestions override the canonical-order fallback. A zero mode means no
// mode permits the action.
var suggestions = map[Mode]map[Action]suggestion{
	Explore: {
		ActionModify:       {mode: Implement},
		ActionExecuteBuild: {mode: Implement},
	},
	Architect: {
		ActionModifySource: {mode: Implement},
	},
	Implement: {
		ActionIntroduceNewDesignDecision: {mode: Architect, signal: NeedsArchitect},
	},
	Review: {
		ActionModifySource: {mode: Implement},
	},
	Verify: {
		ActionSuppressFailure: {},
	},
}

// Authorization is the verdict for one action in one mode.
type Authorization struct {
	Mode      Mode   `json:"mode"`
	Action    Action `json:"action"`
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	Suggested Mode   `json:"suggested,omitempty"`
	Signal    Signal `json:"signal,omitempty"`
}

// Denied reports whether the action was refused.
func (a Authorization) Denied() bool {
	return !a.Allowed
}

// Authorize checks action against the table for m. It is pure and never
// changes any mode state.
func Authorize(m Mode, action Action) Authorization {
	result := Authorization{Mode: m, Action: action}

	p, ok := policies[m]
	if !ok {
		result.Reason = fmt.Sprintf("unknown mode %q", m)
		return result
	}

	if containsAction(p.allowed, action) {
		result.Allowed = true
		return result
	}

	if containsAction(p.denied, action) {
		result.Reason = fmt.Sprintf("%s is denied in %s mode", action, m)
	} else {
		result.Reason = fmt.Sprintf("%s is not permitted in %s mode", action, m)
	}

	if s, ok := suggestions[m][action]; ok {
		result.Suggested = s.mode
		result.Signal = s.signal
	} else {
		result.Suggested = firstAllowing(action)
	}

	return result
}

// Allowed returns the actions permitted in m.
func Allowed(m Mode) []Action {
	return append([]Action(nil), policies[m].allowed...)
}

// Denied returns the actions m explicitly refuses.
func Denied(m Mode) []Action {
	return append([]Action(nil), policies[m].denied...)
}

func firstAllowing(action Action) Mode {
	for _, m := range All() {
		if containsAction(policies[m].allowed, action) {
			return m
		}
	}
	return ""
}

func containsAction(actions []Action, action Action) bool {
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}
