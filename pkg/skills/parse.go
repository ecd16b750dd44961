package skills

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

// SkillFileName is the file that defines a skill inside its directory.
const SkillFileName = "SKILL.md"

// Frontmatter is the decoded YAML header of a markdown definition.
type Frontmatter map[string]any

// ParseFrontmatter splits a markdown document into its frontmatter and body.
func ParseFrontmatter(content []byte) (Frontmatter, string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, "", errors.Wrap(err, "failed to parse markdown")
	}

	metaData, err := meta.TryGet(pctx)
	if err != nil {
		return nil, "", errors.Wrap(err, "invalid frontmatter")
	}
	if len(metaData) == 0 {
		return nil, "", errors.New("missing frontmatter")
	}

	return Frontmatter(metaData), extractBodyContent(string(content)), nil
}

// String returns a string value or "".
func (f Frontmatter) String(key string) string {
	return asString(f[key])
}

// Strings returns a list value. A scalar is treated as a one-element list.
func (f Frontmatter) Strings(key string) []string {
	return asStrings(f[key])
}

// Int returns an integer value and whether the key was present.
func (f Frontmatter) Int(key string) (int, bool, error) {
	v, ok := f[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case uint64:
		return int(n), true, nil
	case float64:
		return int(n), true, nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, true, errors.Errorf("%s must be an integer, got %q", key, n)
		}
		return i, true, nil
	default:
		return 0, true, errors.Errorf("%s must be an integer, got %T", key, v)
	}
}

// ParseSkillFile reads and parses a SKILL.md file for the given pack.
func ParseSkillFile(path, packID string) (Descriptor, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, errors.Wrap(err, "failed to read skill file")
	}
	d, err := ParseSkill(content, packID)
	if err != nil {
		return Descriptor{}, err
	}
	d.Source = path
	return d, nil
}

// ParseSkill builds a procedural descriptor from SKILL.md content.
//
// Activation rules come from an ordered "rules" list when present, otherwise
// from the flat keys in the order invoke, domains/resources, keywords.
func ParseSkill(content []byte, packID string) (Descriptor, error) {
	fm, body, err := ParseFrontmatter(content)
	if err != nil {
		return Descriptor{}, err
	}

	name := fm.String("name")
	description := fm.String("description")
	if name == "" {
		return Descriptor{}, errors.New("skill name is required in frontmatter")
	}
	if description == "" {
		return Descriptor{}, errors.New("skill description is required in frontmatter")
	}

	weight, present, err := fm.Int("weight")
	if err != nil {
		return Descriptor{}, err
	}
	if !present {
		weight = EstimateWeight(body)
	}

	rules, err := RulesFromFrontmatter(fm)
	if err != nil {
		return Descriptor{}, err
	}

	return Descriptor{
		ID:            JoinID(packID, name),
		Name:          name,
		Pack:          packID,
		Description:   description,
		Rules:         rules,
		Weight:        weight,
		Preconditions: fm.Strings("preconditions"),
		Guarantees:    fm.Strings("guarantees"),
		Layer:         LayerProcedural,
		Body:          body,
	}, nil
}

// RulesFromFrontmatter decodes activation rules from a frontmatter header.
func RulesFromFrontmatter(fm Frontmatter) ([]Rule, error) {
	if raw, ok := fm["rules"]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return nil, errors.Errorf("rules must be a list, got %T", raw)
		}
		rules := make([]Rule, 0, len(list))
		for i, item := range list {
			entry := normalizeMap(item)
			if entry == nil {
				return nil, errors.Errorf("rules[%d] must be a mapping", i)
			}
			rule, err := ruleFromMap(entry)
			if err != nil {
				return nil, errors.Wrapf(err, "rules[%d]", i)
			}
			rules = append(rules, rule)
		}
		return rules, nil
	}

	var rules []Rule
	if token := fm.String("invoke"); token != "" {
		rules = append(rules, ExplicitTrigger{Token: token})
	}
	domains, resources := fm.Strings("domains"), fm.Strings("resources")
	if len(domains) > 0 || len(resources) > 0 {
		rules = append(rules, ContextTrigger{DomainTags: domains, Resources: resources})
	}
	if phrases := fm.Strings("keywords"); len(phrases) > 0 {
		rules = append(rules, KeywordTrigger{Phrases: phrases})
	}
	return rules, nil
}

func ruleFromMap(m map[string]any) (Rule, error) {
	if token := asString(m["invoke"]); token != "" {
		return ExplicitTrigger{Token: token}, nil
	}
	domains, resources := asStrings(m["domains"]), asStrings(m["resources"])
	if len(domains) > 0 || len(resources) > 0 {
		return ContextTrigger{DomainTags: domains, Resources: resources}, nil
	}
	if phrases := asStrings(m["keywords"]); len(phrases) > 0 {
		return KeywordTrigger{Phrases: phrases}, nil
	}
	return nil, errors.New("rule must declare invoke, domains, resources or keywords")
}

// goldmark-meta decodes with yaml.v2, so nested mappings arrive keyed by any.
func normalizeMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out
	default:
		return nil
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

func asStrings(v any) []string {
	switch s := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str := asString(item); str != "" {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return s
	default:
		if str := asString(s); str != "" {
			return []string{str}
		}
		return nil
	}
}

// extractBodyContent removes YAML frontmatter and returns the body
func extractBodyContent(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	frontmatterEnd := -1

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			frontmatterEnd = i
			break
		}
	}

	if frontmatterEnd == -1 {
		return content
	}

	return strings.TrimLeft(strings.Join(lines[frontmatterEnd+1:], "\n"), "\n")
}
