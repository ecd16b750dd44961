// Package session runs the per-turn pipeline of a working session: match the
// turn against the catalog, admit the matches under the context budget and
// authorize the turn's action for the current mode.
//
// A Controller owns one session's admitted set and mode. It is not safe for
// concurrent use; Manager serialises turns per session.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jingkaihe/skillgate/pkg/activation"
	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/budget"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/mode"
	"github.com/jingkaihe/skillgate/pkg/recipes"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/jingkaihe/skillgate/pkg/telemetry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds the budget settings of a session.
type Config struct {
	Budget           int
	IdentityOverhead int
}

// Controller is one working session.
type Controller struct {
	id       string
	reg      *skills.Registry
	matcher  *activation.Matcher
	budget   *budget.Manager
	machine  *mode.Machine
	set      *budget.AdmittedSet
	identity budget.Identity
	sink     audit.Sink
	now      func() time.Time
	created  time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithID sets the session identifier instead of generating one.
func WithID(id string) Option {
	return func(c *Controller) { c.id = id }
}

// WithAuditSink sets where mode transitions are recorded.
func WithAuditSink(sink audit.Sink) Option {
	return func(c *Controller) { c.sink = sink }
}

// WithClock overrides the time source for admission and transitions.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithMatcher replaces the default matcher.
func WithMatcher(m *activation.Matcher) Option {
	return func(c *Controller) { c.matcher = m }
}

// WithIdentity sets the always-resident identity content.
func WithIdentity(content string) Option {
	return func(c *Controller) { c.identity.Content = content }
}

// New starts a session in Explore mode with an empty admitted set. It fails
// with budget.ErrBudgetTooSmallForIdentity when the identity overhead does not
// fit the budget.
func New(ctx context.Context, reg *skills.Registry, cfg Config, opts ...Option) (*Controller, error) {
	if reg == nil {
		return nil, errors.New("session requires a registry")
	}

	c := &Controller{
		reg:  reg,
		sink: audit.LogSink{},
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		c.id = uuid.New().String()
	}
	if c.matcher == nil {
		c.matcher = activation.NewMatcher()
	}

	mgr, err := budget.NewManager(cfg.Budget, cfg.IdentityOverhead, budget.WithClock(c.now))
	if err != nil {
		return nil, errors.Wrap(err, "failed to start session")
	}
	c.budget = mgr
	c.identity.Weight = cfg.IdentityOverhead
	c.set = budget.NewAdmittedSet()
	c.machine = mode.NewMachine(
		mode.WithSessionID(c.id),
		mode.WithAuditSink(c.sink),
		mode.WithClock(c.now),
	)
	c.created = c.now()

	logger.G(ctx).WithFields(logrus.Fields{
		logger.FieldSession: c.id,
		"budget":            cfg.Budget,
		"identity_overhead": cfg.IdentityOverhead,
		"descriptors":       reg.Len(),
	}).Info("session started")

	return c, nil
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// Mode returns the current mode.
func (c *Controller) Mode() mode.Mode { return c.machine.Current() }

// Registry returns the catalog the session was started with.
func (c *Controller) Registry() *skills.Registry { return c.reg }

// Transition changes mode. It is the only way the mode changes.
func (c *Controller) Transition(ctx context.Context, to mode.Mode, reason string) (mode.TransitionRecord, error) {
	ctx = logger.WithSession(ctx, c.id)
	return c.machine.Transition(ctx, to, reason)
}

// Handle processes one turn. On error the session state is unchanged.
func (c *Controller) Handle(ctx context.Context, turn Turn) (*Decision, error) {
	ctx = logger.WithFields(ctx, logrus.Fields{
		logger.FieldSession: c.id,
		logger.FieldTurn:    c.set.Turn() + 1,
	})

	var decision *Decision
	err := telemetry.WithSpan(ctx, "session.handle", func(ctx context.Context) error {
		d, err := c.handle(ctx, turn)
		if err != nil {
			return err
		}
		telemetry.SetAttributes(ctx,
			telemetry.AttrMode.String(string(d.Mode)),
			attribute.Int("skillgate.admitted", len(d.Admitted)),
			attribute.Int("skillgate.total_weight", d.TotalWeight),
		)
		decision = d
		return nil
	},
		telemetry.AttrSession.String(c.id),
		telemetry.AttrTurn.Int(c.set.Turn()+1),
		telemetry.AttrAction.String(string(turn.Action)),
	)
	if err != nil {
		return nil, err
	}
	return decision, nil
}

func (c *Controller) handle(ctx context.Context, turn Turn) (*Decision, error) {
	working := budget.NewWorking(turn.Working)
	defer working.Reset()

	d := &Decision{
		SessionID:  c.id,
		Identity:   c.identity,
		Admitted:   []AdmittedContent{},
		Candidates: []CandidateInfo{},
		Notices:    []Notice{},
		Violations: []Violation{},
		Budget:     c.budget.Budget(),
	}

	matched := c.matcher.Match(ctx, turn.Context, c.reg)
	expanded := c.expand(matched, d)
	telemetry.AddEvent(ctx, "matched", attribute.Int("skillgate.candidates", len(expanded)))

	requests := make([]budget.Request, 0, len(expanded))
	for _, cand := range expanded {
		requests = append(requests, budget.Request{
			ID:     cand.Descriptor.ID,
			Layer:  cand.Descriptor.Layer,
			Weight: cand.Descriptor.Weight,
		})
	}

	res, err := c.budget.Admit(ctx, requests, c.set)
	if err != nil {
		return nil, errors.Wrap(err, "admission failed")
	}
	d.Turn = res.Set.Turn()
	d.Evicted = res.Evicted
	d.Rejected = res.Rejected
	d.TotalWeight = res.Set.Total()

	current := c.machine.Current()
	d.Mode = current

	if turn.AssumedMode != "" && turn.AssumedMode != current {
		d.Violations = append(d.Violations, Violation{
			Kind:    ViolationModeBleed,
			Message: fmt.Sprintf("turn assumes %s mode but the session is in %s mode; transition explicitly first", turn.AssumedMode, current),
		})
	}

	for _, id := range turn.Requires {
		switch {
		case res.Set.Has(id):
		case working.Has(id):
			d.Violations = append(d.Violations, Violation{
				Kind:    ViolationWorkingOnly,
				ID:      id,
				Message: fmt.Sprintf("%s is only present in working memory, which is discarded at turn end", id),
			})
		default:
			d.Notices = append(d.Notices, Notice{
				Kind:    NoticeUnsatisfied,
				ID:      id,
				Message: fmt.Sprintf("%s is not admitted", id),
			})
		}
	}

	if turn.Action != "" {
		authz := mode.Authorize(current, turn.Action)
		d.Authorization = &authz
		if !authz.Allowed {
			logger.G(ctx).WithFields(logrus.Fields{
				logger.FieldMode: current,
				"action":         turn.Action,
				"suggested":      authz.Suggested,
			}).Info("action denied")
		}
	}

	if len(turn.Executed) > 0 || len(turn.Checks) > 0 {
		c.report(turn, current, d)
	}

	newIDs := make(map[string]bool, len(res.Admitted))
	for _, id := range res.Admitted {
		newIDs[id] = true
	}
	for _, e := range res.Set.Entries() {
		d.Admitted = append(d.Admitted, c.content(ctx, e, newIDs[e.ID], turn.Args, d))
	}

	c.set = res.Set
	return d, nil
}

// expand appends the procedural descriptors each matched recipe references
// right after the recipe, ranked with the recipe's specificity. A referenced
// recipe is expanded in turn and noted. Duplicates keep their first position.
func (c *Controller) expand(matched []activation.Candidate, d *Decision) []activation.Candidate {
	out := make([]activation.Candidate, 0, len(matched))
	seen := make(map[string]bool, len(matched))

	add := func(cand activation.Candidate, via string) {
		if seen[cand.Descriptor.ID] {
			return
		}
		seen[cand.Descriptor.ID] = true
		out = append(out, cand)
		d.Candidates = append(d.Candidates, CandidateInfo{
			ID:          cand.Descriptor.ID,
			Layer:       cand.Descriptor.Layer,
			Weight:      cand.Descriptor.Weight,
			Specificity: cand.Specificity,
			Rule:        cand.MatchedRule(),
			Via:         via,
		})
	}

	// expandRefs follows recipe references depth first. Nested recipes are
	// expanded too; seen stops reference cycles.
	var expandRefs func(recipe skills.Descriptor, root activation.Candidate)
	expandRefs = func(recipe skills.Descriptor, root activation.Candidate) {
		for _, ref := range recipe.References {
			desc, err := c.reg.Lookup(ref)
			if err != nil {
				d.Notices = append(d.Notices, Notice{
					Kind:    NoticeUnknownReference,
					ID:      ref,
					Message: fmt.Sprintf("recipe %s references unknown skill %s", recipe.ID, ref),
				})
				continue
			}
			if !c.reg.IsEnabled(desc.Pack) {
				d.Notices = append(d.Notices, Notice{
					Kind:    NoticeDisabledReference,
					ID:      ref,
					Message: fmt.Sprintf("recipe %s references %s from disabled pack %s", recipe.ID, ref, desc.Pack),
				})
				continue
			}
			if seen[desc.ID] {
				continue
			}
			add(activation.Candidate{Descriptor: desc, Rule: root.Rule, Specificity: root.Specificity}, recipe.ID)
			if desc.IsComposition() {
				d.Notices = append(d.Notices, Notice{
					Kind:    NoticeNestedReference,
					ID:      ref,
					Message: fmt.Sprintf("recipe %s references recipe %s; its skills are expanded too", recipe.ID, ref),
				})
				expandRefs(desc, root)
			}
		}
	}

	for _, cand := range matched {
		if seen[cand.Descriptor.ID] {
			continue
		}
		add(cand, "")
		if cand.Descriptor.IsComposition() {
			expandRefs(cand.Descriptor, cand)
		}
	}
	return out
}

func (c *Controller) report(turn Turn, current mode.Mode, d *Decision) {
	if current != mode.Verify {
		d.Notices = append(d.Notices, Notice{
			Kind:    NoticeReportIgnored,
			Message: fmt.Sprintf("check outcomes are only reported in verify mode, session is in %s mode", current),
		})
		return
	}

	r := mode.NewReport(turn.Executed...)
	for _, check := range turn.Checks {
		r.Record(check.Name, check.Passed, check.Detail)
	}
	summary, err := r.Finalize()
	d.Report = &summary
	if err != nil {
		d.Violations = append(d.Violations, Violation{
			Kind:    ViolationIncompleteReport,
			Message: err.Error(),
		})
	}
}

func (c *Controller) content(ctx context.Context, e budget.Entry, isNew bool, args map[string]string, d *Decision) AdmittedContent {
	ac := AdmittedContent{
		ID:           e.ID,
		Layer:        e.Layer,
		Weight:       e.Weight,
		AdmittedTurn: e.AdmittedTurn,
		LastUsedTurn: e.LastUsedTurn,
		New:          isNew,
	}

	desc, err := c.reg.Lookup(e.ID)
	if err != nil {
		d.Notices = append(d.Notices, Notice{Kind: NoticeMissingContent, ID: e.ID, Message: err.Error()})
		return ac
	}
	ac.Description = desc.Description
	ac.Body = desc.Body

	if desc.IsComposition() && desc.Body != "" {
		rendered, err := recipes.Render(ctx, desc.Body, args)
		if err != nil {
			d.Notices = append(d.Notices, Notice{Kind: NoticeRenderFailed, ID: e.ID, Message: err.Error()})
		} else {
			ac.Body = rendered
		}
	}
	return ac
}

// State is a point-in-time view of a session.
type State struct {
	ID          string                  `json:"id"`
	Mode        mode.Mode               `json:"mode"`
	Turn        int                     `json:"turn"`
	TotalWeight int                     `json:"total_weight"`
	Budget      int                     `json:"budget"`
	Identity    budget.Identity         `json:"identity"`
	Admitted    []budget.Entry          `json:"admitted"`
	History     []mode.TransitionRecord `json:"history"`
	CreatedAt   time.Time               `json:"created_at"`
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() State {
	return State{
		ID:          c.id,
		Mode:        c.machine.Current(),
		Turn:        c.set.Turn(),
		TotalWeight: c.set.Total(),
		Budget:      c.budget.Budget(),
		Identity:    c.identity,
		Admitted:    c.set.Entries(),
		History:     c.machine.History(),
		CreatedAt:   c.created,
	}
}
