package session

import (
	"github.com/jingkaihe/skillgate/pkg/activation"
	"github.com/jingkaihe/skillgate/pkg/budget"
	"github.com/jingkaihe/skillgate/pkg/mode"
	"github.com/jingkaihe/skillgate/pkg/skills"
)

// Turn is the input of one Handle call.
type Turn struct {
	Context activation.Context `json:"context" yaml:"context"`
	// Action is the action category the turn wants to perform. Empty means
	// the turn only loads context.
	Action mode.Action `json:"action,omitempty" yaml:"action"`
	// AssumedMode is the mode the caller believes the session is in.
	AssumedMode mode.Mode `json:"assumed_mode,omitempty" yaml:"assumed_mode"`
	// Requires lists content identifiers the action depends on.
	Requires []string          `json:"requires,omitempty" yaml:"requires"`
	Working  map[string]string `json:"working,omitempty" yaml:"working"`
	// Args are rendered into admitted recipe bodies.
	Args     map[string]string `json:"args,omitempty" yaml:"args"`
	Executed []string          `json:"executed,omitempty" yaml:"executed"`
	Checks   []CheckOutcome    `json:"checks,omitempty" yaml:"checks"`
}

// CheckOutcome is the result of one verification check run during a turn.
type CheckOutcome struct {
	Name   string `json:"name" yaml:"name"`
	Passed bool   `json:"passed" yaml:"passed"`
	Detail string `json:"detail,omitempty" yaml:"detail"`
}

// CandidateInfo describes one matched or expanded candidate.
type CandidateInfo struct {
	ID          string             `json:"id"`
	Layer       skills.Layer       `json:"layer"`
	Weight      int                `json:"weight"`
	Specificity skills.Specificity `json:"specificity"`
	Rule        string             `json:"rule"`
	// Via names the recipe that pulled this candidate in.
	Via string `json:"via,omitempty"`
}

// AdmittedContent is one entry resident in the session's context after the turn.
type AdmittedContent struct {
	ID           string       `json:"id"`
	Layer        skills.Layer `json:"layer"`
	Weight       int          `json:"weight"`
	Description  string       `json:"description,omitempty"`
	Body         string       `json:"body"`
	AdmittedTurn int          `json:"admitted_turn"`
	LastUsedTurn int          `json:"last_used_turn"`
	// New is set for entries admitted by this turn.
	New bool `json:"new,omitempty"`
}

// NoticeKind classifies a non-fatal notice.
type NoticeKind string

// Notice kinds.
const (
	NoticeUnknownReference  NoticeKind = "unknown_reference"
	NoticeDisabledReference NoticeKind = "disabled_reference"
	NoticeMissingContent    NoticeKind = "missing_content"
	NoticeRenderFailed      NoticeKind = "render_failed"
	NoticeUnsatisfied       NoticeKind = "unsatisfied_requirement"
	NoticeReportIgnored     NoticeKind = "report_ignored"
	NoticeNestedReference   NoticeKind = "nested_reference"
)

// Notice is informational output of a turn.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	ID      string     `json:"id,omitempty"`
	Message string     `json:"message"`
}

// ViolationKind classifies a protocol violation.
type ViolationKind string

// Violation kinds.
const (
	ViolationModeBleed        ViolationKind = "mode_bleed"
	ViolationWorkingOnly      ViolationKind = "working_only_dependency"
	ViolationIncompleteReport ViolationKind = "incomplete_report"
)

// Violation is a protocol violation detected during a turn. Violations are
// reported, never corrected.
type Violation struct {
	Kind    ViolationKind `json:"kind"`
	ID      string        `json:"id,omitempty"`
	Message string        `json:"message"`
}

// Decision is the outcome of one turn.
type Decision struct {
	SessionID     string              `json:"session_id"`
	Turn          int                 `json:"turn"`
	Mode          mode.Mode           `json:"mode"`
	Identity      budget.Identity     `json:"identity"`
	Admitted      []AdmittedContent   `json:"admitted"`
	Candidates    []CandidateInfo     `json:"candidates"`
	Authorization *mode.Authorization `json:"authorization,omitempty"`
	Evicted       []budget.Eviction   `json:"evicted"`
	Rejected      []budget.Rejection  `json:"rejected"`
	Notices       []Notice            `json:"notices"`
	Violations    []Violation         `json:"violations"`
	Report        *mode.Summary       `json:"report,omitempty"`
	TotalWeight   int                 `json:"total_weight"`
	Budget        int                 `json:"budget"`
}

// Denied reports whether the turn's action was refused.
func (d *Decision) Denied() bool {
	return d.Authorization != nil && !d.Authorization.Allowed
}

// HasViolation reports whether a violation of kind was recorded.
func (d *Decision) HasViolation(kind ViolationKind) bool {
	for _, v := range d.Violations {
		if v.Kind == kind {
			return true
		}
	}
	return false
}
