package mode

import (
	"strings"

	"github.com/pkg/errors"
)

// Check is the outcome of one executed verification check.
type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Detail  string `json:"detail,omitempty"`
	Missing bool   `json:"missing,omitempty"`
}

// Summary is a finalized verification report.
type Summary struct {
	Checks []Check  `json:"checks"`
	Passed bool     `json:"passed"`
	Failed []string `json:"failed,omitempty"`
	// Missing lists executed checks that never reported an outcome.
	Missing []string `json:"missing,omitempty"`
}

// Report collects check outcomes in Verify mode so that no executed check can
// be left out of what is reported.
type Report struct {
	order    []string
	outcomes map[string]Check
}

// NewReport starts a report for the given executed checks.
func NewReport(executed ...string) *Report {
	r := &Report{outcomes: make(map[string]Check)}
	for _, name := range executed {
		r.track(name)
	}
	return r
}

func (r *Report) track(name string) {
	for _, n := range r.order {
		if n == name {
			return
		}
	}
	r.order = append(r.order, name)
}

// Record sets the outcome of a check. Recording an unlisted check also marks
// it executed. A later outcome for the same check replaces the earlier one.
func (r *Report) Record(name string, passed bool, detail string) {
	r.track(name)
	r.outcomes[name] = Check{Name: name, Passed: passed, Detail: detail}
}

// Finalize produces the summary. Every executed check appears in it; checks
// without an outcome are marked missing and make the report fail with
// ErrIncompleteReport. The summary is returned in both cases. A report with
// no checks at all never passes.
func (r *Report) Finalize() (Summary, error) {
	s := Summary{Checks: make([]Check, 0, len(r.order)), Passed: len(r.order) > 0}
	for _, name := range r.order {
		c, ok := r.outcomes[name]
		if !ok {
			c = Check{Name: name, Missing: true}
			s.Missing = append(s.Missing, name)
		}
		if !c.Passed {
			s.Passed = false
			if ok {
				s.Failed = append(s.Failed, name)
			}
		}
		s.Checks = append(s.Checks, c)
	}

	if len(s.Missing) > 0 {
		return s, errors.Wrapf(ErrIncompleteReport, "no outcome for %s", strings.Join(s.Missing, ", "))
	}
	return s, nil
}
