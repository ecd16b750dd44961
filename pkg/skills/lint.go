package skills

import (
	"fmt"
	"strings"
)

// LintFinding is a scope-boundary violation found in a pack.
type LintFinding struct {
	Pack       string `json:"pack"`
	Descriptor string `json:"descriptor"`
	Term       string `json:"term"`
	Field      string `json:"field"`
}

func (f LintFinding) String() string {
	return fmt.Sprintf("%s: %s mentions excluded term %q", f.Descriptor, f.Field, f.Term)
}

// Lint checks a pack's descriptors against the terms its scope excludes.
// Lint is advisory and never consulted when matching.
func Lint(p Pack) []LintFinding {
	var findings []LintFinding
	for _, term := range p.Scope.Excludes {
		needle := strings.ToLower(strings.TrimSpace(term))
		if needle == "" {
			continue
		}
		for _, d := range p.Descriptors {
			if strings.Contains(strings.ToLower(d.Description), needle) {
				findings = append(findings, LintFinding{Pack: p.ID, Descriptor: d.ID, Term: term, Field: "description"})
			}
			for _, rule := range d.Rules {
				kw, ok := rule.(KeywordTrigger)
				if !ok {
					continue
				}
				for _, phrase := range kw.Phrases {
					if strings.Contains(strings.ToLower(phrase), needle) {
						findings = append(findings, LintFinding{Pack: p.ID, Descriptor: d.ID, Term: term, Field: "keyword " + phrase})
					}
				}
			}
		}
	}
	return findings
}
