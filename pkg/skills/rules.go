package skills

import (
	"fmt"
	"strings"
)

// RuleKind names an activation rule variant.
type RuleKind string

// Rule kinds.
const (
	RuleKeyword  RuleKind = "keyword"
	RuleContext  RuleKind = "context"
	RuleExplicit RuleKind = "explicit"
)

// Specificity ranks how deliberate a match is. Higher wins.
type Specificity int

// Specificity levels per rule kind.
const (
	SpecificityNone     Specificity = 0
	SpecificityKeyword  Specificity = 1
	SpecificityContext  Specificity = 2
	SpecificityExplicit Specificity = 3
)

// Rule is a closed set of activation rule variants: KeywordTrigger,
// ContextTrigger and ExplicitTrigger.
type Rule interface {
	Kind() RuleKind
	Specificity() Specificity
	String() string
	isRule()
}

// KeywordTrigger matches when any phrase occurs in the request text, ignoring case.
type KeywordTrigger struct {
	Phrases []string `json:"phrases"`
}

func (KeywordTrigger) Kind() RuleKind           { return RuleKeyword }
func (KeywordTrigger) Specificity() Specificity { return SpecificityKeyword }
func (KeywordTrigger) isRule()                  {}

func (k KeywordTrigger) String() string {
	return fmt.Sprintf("keyword(%s)", strings.Join(k.Phrases, "|"))
}

// ContextTrigger matches on ambient session context: declared project domain
// tags (glob patterns) or working resource identifiers (doublestar patterns).
type ContextTrigger struct {
	DomainTags []string `json:"domain_tags,omitempty"`
	Resources  []string `json:"resources,omitempty"`
}

func (ContextTrigger) Kind() RuleKind           { return RuleContext }
func (ContextTrigger) Specificity() Specificity { return SpecificityContext }
func (ContextTrigger) isRule()                  {}

func (c ContextTrigger) String() string {
	var parts []string
	if len(c.DomainTags) > 0 {
		parts = append(parts, "domains="+strings.Join(c.DomainTags, "|"))
	}
	if len(c.Resources) > 0 {
		parts = append(parts, "resources="+strings.Join(c.Resources, "|"))
	}
	return fmt.Sprintf("context(%s)", strings.Join(parts, ","))
}

// ExplicitTrigger matches a literal invocation token such as "/review".
type ExplicitTrigger struct {
	Token string `json:"token"`
}

func (ExplicitTrigger) Kind() RuleKind           { return RuleExplicit }
func (ExplicitTrigger) Specificity() Specificity { return SpecificityExplicit }
func (ExplicitTrigger) isRule()                  {}

func (e ExplicitTrigger) String() string {
	return fmt.Sprintf("explicit(%s)", e.Token)
}

// NormalizeToken lower-cases an invocation token and strips a leading slash.
func NormalizeToken(token string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(token), "/"))
}

func validateRule(r Rule) string {
	switch rule := r.(type) {
	case KeywordTrigger:
		for _, p := range rule.Phrases {
			if strings.TrimSpace(p) != "" {
				return ""
			}
		}
		return "keyword trigger has no phrases"
	case ContextTrigger:
		if len(rule.DomainTags) == 0 && len(rule.Resources) == 0 {
			return "context trigger has neither domain tags nor resources"
		}
		return ""
	case ExplicitTrigger:
		if NormalizeToken(rule.Token) == "" {
			return "explicit trigger has an empty token"
		}
		return ""
	case nil:
		return "nil activation rule"
	default:
		return fmt.Sprintf("unsupported activation rule %T", r)
	}
}
