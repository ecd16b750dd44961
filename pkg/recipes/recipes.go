// Package recipes parses composition recipes: short markdown documents that
// name which procedural skills to admit for a task, plus an optional
// text/template body rendered against turn arguments.
package recipes

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/pkg/errors"
)

// DefaultWeight is the composition weight used when none is configured.
const DefaultWeight = 1

// Extension is the file extension of recipe files.
const Extension = ".md"

// Recipe is a parsed recipe file.
type Recipe struct {
	Name        string
	Description string
	// Skills are the referenced skill identifiers. Bare names are resolved
	// within the recipe's own pack.
	Skills   []string
	Invoke   string
	Keywords []string
	Body     string
	Source   string
}

// Parse reads a recipe from markdown with frontmatter. defaultName is used when
// the frontmatter has no name. When the recipe declares neither an invoke token
// nor keywords it is invoked by its name.
func Parse(content []byte, defaultName string) (Recipe, error) {
	fm, body, err := skills.ParseFrontmatter(content)
	if err != nil {
		return Recipe{}, err
	}

	r := Recipe{
		Name:        fm.String("name"),
		Description: fm.String("description"),
		Skills:      fm.Strings("skills"),
		Invoke:      fm.String("invoke"),
		Keywords:    fm.Strings("keywords"),
		Body:        body,
	}
	if r.Name == "" {
		r.Name = defaultName
	}
	if r.Name == "" {
		return Recipe{}, errors.New("recipe name is required in frontmatter")
	}
	if r.Invoke == "" && len(r.Keywords) == 0 {
		r.Invoke = r.Name
	}
	return r, nil
}

// ParseFile reads and parses a recipe file. A missing name defaults to the
// file name without extension.
func ParseFile(path string) (Recipe, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Recipe{}, errors.Wrapf(err, "failed to read recipe file '%s'", path)
	}
	r, err := Parse(content, NameFromPath(path))
	if err != nil {
		return Recipe{}, errors.Wrapf(err, "failed to parse recipe file '%s'", path)
	}
	r.Source = path
	return r, nil
}

// NameFromPath returns the recipe name implied by a file path.
func NameFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), Extension)
}

// Descriptor converts the recipe into a composition-layer descriptor of the
// given pack with a fixed weight.
func (r Recipe) Descriptor(packID string, weight int) skills.Descriptor {
	if weight <= 0 {
		weight = DefaultWeight
	}

	var rules []skills.Rule
	if r.Invoke != "" {
		rules = append(rules, skills.ExplicitTrigger{Token: r.Invoke})
	}
	if len(r.Keywords) > 0 {
		rules = append(rules, skills.KeywordTrigger{Phrases: r.Keywords})
	}

	return skills.Descriptor{
		ID:          skills.JoinID(packID, r.Name),
		Name:        r.Name,
		Pack:        packID,
		Description: r.Description,
		Rules:       rules,
		Weight:      weight,
		Layer:       skills.LayerComposition,
		References:  QualifyReferences(packID, r.Skills),
		Body:        r.Body,
		Source:      r.Source,
	}
}

// QualifyReferences prefixes bare skill names with packID.
func QualifyReferences(packID string, refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if !strings.Contains(ref, "/") {
			ref = skills.JoinID(packID, ref)
		}
		out = append(out, ref)
	}
	return out
}

// Render executes a recipe body as a text/template against args. Missing
// arguments render as empty strings.
func Render(ctx context.Context, body string, args map[string]string) (string, error) {
	logger.G(ctx).WithField("args", len(args)).Debug("rendering recipe body")

	tmpl, err := template.New("recipe").Funcs(template.FuncMap{
		"default": func(fallback, v string) string {
			if v == "" {
				return fallback
			}
			return v
		},
		"join":  strings.Join,
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
	}).Option("missingkey=zero").Parse(body)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse template")
	}

	data := make(map[string]string, len(args))
	for k, v := range args {
		data[k] = v
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "failed to execute template")
	}
	return buf.String(), nil
}
