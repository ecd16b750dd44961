// Package activation decides which skill descriptors are candidates for a turn.
//
// Matching is pattern and metadata based: keyword phrases against the request
// text, glob patterns against ambient context, and literal invocation tokens.
// The matcher never loads content; it only ranks candidacy.
package activation

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gobwas/glob"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/sirupsen/logrus"
)

// Context is the per-turn request context the matcher evaluates rules against.
type Context struct {
	Text       string   `json:"text,omitempty" yaml:"text"`
	Resources  []string `json:"resources,omitempty" yaml:"resources"`
	DomainTags []string `json:"domain_tags,omitempty" yaml:"domain_tags"`
	Invocation string   `json:"invocation,omitempty" yaml:"invocation"`
}

// Candidate is a descriptor selected for admission consideration.
type Candidate struct {
	Descriptor  skills.Descriptor  `json:"descriptor"`
	Rule        skills.Rule        `json:"-"`
	Specificity skills.Specificity `json:"specificity"`
}

// MatchedRule describes the rule that selected the candidate.
func (c Candidate) MatchedRule() string {
	if c.Rule == nil {
		return ""
	}
	return c.Rule.String()
}

// Matcher evaluates activation rules. Compiled domain-tag patterns are cached,
// so a Matcher may be shared between sessions.
type Matcher struct {
	packPriority map[string]int

	mu       sync.Mutex
	globs    map[string]glob.Glob
	badGlobs map[string]bool
}

// Option configures a Matcher
type Option func(*Matcher)

// WithPackPriority ranks candidates of equal specificity by the given pack
// order before falling back to declaration order. Packs not listed rank after
// all listed packs.
func WithPackPriority(packIDs ...string) Option {
	return func(m *Matcher) {
		if len(packIDs) == 0 {
			return
		}
		m.packPriority = make(map[string]int, len(packIDs))
		for i, id := range packIDs {
			if _, dup := m.packPriority[id]; !dup {
				m.packPriority[id] = i
			}
		}
	}
}

// NewMatcher creates a new matcher
func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{
		globs:    make(map[string]glob.Glob),
		badGlobs: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match returns the candidates for the turn, ordered by specificity (highest
// first) and then by registry declaration order. Descriptors of disabled packs
// are never considered. A turn matching nothing yields an empty slice.
func (m *Matcher) Match(ctx context.Context, req Context, reg *skills.Registry) []Candidate {
	candidates := make([]Candidate, 0)
	if reg == nil {
		return candidates
	}

	in := newInput(req)
	for _, d := range reg.DescriptorsInEnabledPacks() {
		for _, rule := range d.Rules {
			if m.satisfied(ctx, rule, in) {
				candidates = append(candidates, Candidate{
					Descriptor:  d,
					Rule:        rule,
					Specificity: rule.Specificity(),
				})
				break
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Specificity != b.Specificity {
			return a.Specificity > b.Specificity
		}
		if pa, pb := m.rank(a.Descriptor.Pack), m.rank(b.Descriptor.Pack); pa != pb {
			return pa < pb
		}
		return a.Descriptor.Order < b.Descriptor.Order
	})

	if len(candidates) > 0 {
		logger.G(ctx).WithField("candidates", len(candidates)).Debug("activation matched")
	}
	return candidates
}

func (m *Matcher) rank(pack string) int {
	if m.packPriority == nil {
		return 0
	}
	if r, ok := m.packPriority[pack]; ok {
		return r
	}
	return len(m.packPriority)
}

type input struct {
	text       string
	resources  []string
	domainTags []string
	invocation string
}

func newInput(req Context) input {
	tags := make([]string, 0, len(req.DomainTags))
	for _, t := range req.DomainTags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tags = append(tags, t)
		}
	}
	return input{
		text:       strings.ToLower(req.Text),
		resources:  req.Resources,
		domainTags: tags,
		invocation: skills.NormalizeToken(req.Invocation),
	}
}

func (m *Matcher) satisfied(ctx context.Context, rule skills.Rule, in input) bool {
	switch r := rule.(type) {
	case skills.ExplicitTrigger:
		return in.invocation != "" && skills.NormalizeToken(r.Token) == in.invocation
	case skills.ContextTrigger:
		return m.matchDomains(ctx, r.DomainTags, in.domainTags) || matchResources(ctx, r.Resources, in.resources)
	case skills.KeywordTrigger:
		if in.text == "" {
			return false
		}
		for _, phrase := range r.Phrases {
			p := strings.ToLower(strings.TrimSpace(phrase))
			if p != "" && strings.Contains(in.text, p) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (m *Matcher) matchDomains(ctx context.Context, patterns, tags []string) bool {
	if len(patterns) == 0 || len(tags) == 0 {
		return false
	}
	for _, pattern := range patterns {
		g := m.compile(ctx, strings.ToLower(strings.TrimSpace(pattern)))
		if g == nil {
			continue
		}
		for _, tag := range tags {
			if g.Match(tag) {
				return true
			}
		}
	}
	return false
}

func (m *Matcher) compile(ctx context.Context, pattern string) glob.Glob {
	if pattern == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.globs[pattern]; ok {
		return g
	}
	if m.badGlobs[pattern] {
		return nil
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		m.badGlobs[pattern] = true
		logger.G(ctx).WithError(err).WithField("pattern", pattern).Warn("invalid domain pattern ignored")
		return nil
	}
	m.globs[pattern] = g
	return g
}

func matchResources(ctx context.Context, patterns, resources []string) bool {
	if len(patterns) == 0 || len(resources) == 0 {
		return false
	}
	for _, pattern := range patterns {
		for _, res := range resources {
			ok, err := doublestar.Match(pattern, res)
			if err != nil {
				logger.G(ctx).WithFields(logrus.Fields{"pattern": pattern}).WithError(err).Debug("invalid resource pattern ignored")
				break
			}
			if ok {
				return true
			}
		}
	}
	return false
}
