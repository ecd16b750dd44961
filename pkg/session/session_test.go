package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jingkaihe/skillgate/pkg/activation"
	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/budget"
	"github.com/jingkaihe/skillgate/pkg/mode"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func keywords(phrases ...string) []skills.Rule {
	return []skills.Rule{skills.KeywordTrigger{Phrases: phrases}}
}

func testRegistry(t *testing.T) *skills.Registry {
	t.Helper()
	reg, err := skills.Load(context.Background(), []skills.Pack{
		{
			ID:      "world",
			Enabled: true,
			Descriptors: []skills.Descriptor{
				{ID: "world/terrain", Pack: "world", Description: "Terrain", Weight: 10, Rules: keywords("terrain"), Body: "Terrain body"},
				{ID: "world/water", Pack: "world", Description: "Water", Weight: 20, Rules: keywords("water"), Body: "Water body"},
				{ID: "world/lighting", Pack: "world", Description: "Lighting", Weight: 15, Rules: []skills.Rule{
					skills.KeywordTrigger{Phrases: []string{"light"}},
					skills.ExplicitTrigger{Token: "/light"},
				}, Body: "Lighting body"},
				{
					ID:          "world/new-level",
					Pack:        "world",
					Description: "New level recipe",
					Weight:      1,
					Layer:       skills.LayerComposition,
					Rules:       keywords("new level"),
					References:  []string{"world/terrain", "world/missing", "audio/mix"},
					Body:        "Level {{.name}}",
				},
			},
		},
		{
			ID: "audio",
			Descriptors: []skills.Descriptor{
				{ID: "audio/mix", Pack: "audio", Description: "Mixing", Weight: 5, Rules: keywords("mix")},
			},
		},
	})
	require.NoError(t, err)
	return reg
}

func newController(t *testing.T, cfg Config, opts ...Option) *Controller {
	t.Helper()
	c, err := New(context.Background(), testRegistry(t), cfg, opts...)
	require.NoError(t, err)
	return c
}

func ids(contents []AdmittedContent) []string {
	out := make([]string, 0, len(contents))
	for _, c := range contents {
		out = append(out, c.ID)
	}
	return out
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, nil, Config{Budget: 10})
	require.Error(t, err)

	_, err = New(ctx, testRegistry(t), Config{Budget: 10, IdentityOverhead: 11})
	require.Error(t, err)
	assert.True(t, errors.Is(err, budget.ErrBudgetTooSmallForIdentity))

	c := newController(t, Config{Budget: 50, IdentityOverhead: 5}, WithID("fixed"), WithIdentity("project charter"))
	assert.Equal(t, "fixed", c.ID())
	assert.Equal(t, mode.Explore, c.Mode())

	generated := newController(t, Config{Budget: 50})
	assert.Len(t, generated.ID(), 36)
}

func TestHandleScenarioA(t *testing.T) {
	c := newController(t, Config{Budget: 25}, WithIdentity("charter"))

	d, err := c.Handle(context.Background(), Turn{Context: activation.Context{Text: "terrain, water and light"}})
	require.NoError(t, err)

	assert.Equal(t, 1, d.Turn)
	assert.Equal(t, mode.Explore, d.Mode)
	assert.Nil(t, d.Authorization)
	assert.Equal(t, []string{"world/terrain", "world/lighting"}, ids(d.Admitted))
	require.Len(t, d.Rejected, 1)
	assert.Equal(t, "world/water", d.Rejected[0].ID)
	assert.Equal(t, 25, d.TotalWeight)
	assert.Equal(t, 25, d.Budget)
	assert.Equal(t, "charter", d.Identity.Content)
	assert.Equal(t, "Terrain body", d.Admitted[0].Body)
	assert.True(t, d.Admitted[0].New)
	require.Len(t, d.Candidates, 3)
	assert.Equal(t, "keyword(light)", d.Candidates[2].Rule)
}

func TestHandleExpandsRecipes(t *testing.T) {
	c := newController(t, Config{Budget: 100})

	d, err := c.Handle(context.Background(), Turn{
		Context: activation.Context{Text: "start a new level with terrain"},
		Args:    map[string]string{"name": "alpha"},
	})
	require.NoError(t, err)

	require.Len(t, d.Candidates, 2)
	assert.Equal(t, "world/terrain", d.Candidates[0].ID)
	assert.Empty(t, d.Candidates[0].Via)
	assert.Equal(t, "world/new-level", d.Candidates[1].ID)

	assert.Equal(t, []string{"world/terrain", "world/new-level"}, ids(d.Admitted))
	assert.Equal(t, "Level alpha", d.Admitted[1].Body)
	assert.Equal(t, skills.LayerComposition, d.Admitted[1].Layer)

	require.Len(t, d.Notices, 2)
	assert.Equal(t, NoticeUnknownReference, d.Notices[0].Kind)
	assert.Equal(t, "world/missing", d.Notices[0].ID)
	assert.Equal(t, NoticeDisabledReference, d.Notices[1].Kind)
	assert.Equal(t, "audio/mix", d.Notices[1].ID)
}

func TestHandleRecipeReferencesFollowRecipe(t *testing.T) {
	c := newController(t, Config{Budget: 100})

	d, err := c.Handle(context.Background(), Turn{Context: activation.Context{Text: "new level"}})
	require.NoError(t, err)

	require.Len(t, d.Candidates, 2)
	assert.Equal(t, "world/new-level", d.Candidates[0].ID)
	assert.Equal(t, "world/terrain", d.Candidates[1].ID)
	assert.Equal(t, "world/new-level", d.Candidates[1].Via)
	assert.Equal(t, d.Candidates[0].Specificity, d.Candidates[1].Specificity)
}

func TestHandleExpandsNestedRecipes(t *testing.T) {
	ctx := context.Background()
	reg, err := skills.Load(ctx, []skills.Pack{{
		ID:      "p",
		Enabled: true,
		Descriptors: []skills.Descriptor{
			{ID: "p/leaf", Weight: 5, Rules: keywords("leafy"), Body: "Leaf body"},
			{ID: "p/inner", Weight: 1, Layer: skills.LayerComposition, Rules: keywords("inner"), References: []string{"p/leaf", "p/outer"}},
			{ID: "p/outer", Weight: 1, Layer: skills.LayerComposition, Rules: keywords("ship it"), References: []string{"p/inner"}},
		},
	}})
	require.NoError(t, err)

	c, err := New(ctx, reg, Config{Budget: 100})
	require.NoError(t, err)

	d, err := c.Handle(ctx, Turn{Context: activation.Context{Text: "ship it"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"p/outer", "p/inner", "p/leaf"}, ids(d.Admitted))
	require.Len(t, d.Candidates, 3)
	assert.Equal(t, "p/outer", d.Candidates[1].Via)
	assert.Equal(t, "p/inner", d.Candidates[2].Via)
	assert.Equal(t, d.Candidates[0].Specificity, d.Candidates[2].Specificity)

	require.Len(t, d.Notices, 1)
	assert.Equal(t, NoticeNestedReference, d.Notices[0].Kind)
	assert.Equal(t, "p/inner", d.Notices[0].ID)
}

func TestHandleDeniesWithoutSwitchingMode(t *testing.T) {
	ctx := context.Background()
	sink := audit.NewMemorySink()
	c := newController(t, Config{Budget: 50}, WithAuditSink(sink), WithID("s1"))

	_, err := c.Transition(ctx, mode.Implement, "design agreed")
	require.NoError(t, err)

	d, err := c.Handle(ctx, Turn{Action: mode.ActionIntroduceNewDesignDecision})
	require.NoError(t, err)
	require.NotNil(t, d.Authorization)
	assert.True(t, d.Denied())
	assert.Equal(t, mode.Architect, d.Authorization.Suggested)
	assert.Equal(t, mode.NeedsArchitect, d.Authorization.Signal)
	assert.Equal(t, mode.Implement, d.Mode)
	assert.Equal(t, mode.Implement, c.Mode())

	entries, err := sink.List(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHandleReportsModeBleed(t *testing.T) {
	c := newController(t, Config{Budget: 50})

	d, err := c.Handle(context.Background(), Turn{Action: mode.ActionEdit, AssumedMode: mode.Implement})
	require.NoError(t, err)

	assert.True(t, d.HasViolation(ViolationModeBleed))
	assert.True(t, d.Denied())
	assert.Equal(t, mode.Implement, d.Authorization.Suggested)
	assert.Equal(t, mode.Explore, c.Mode())

	d, err = c.Handle(context.Background(), Turn{Action: mode.ActionRead, AssumedMode: mode.Explore})
	require.NoError(t, err)
	assert.Empty(t, d.Violations)
	assert.False(t, d.Denied())
}

func TestHandleWorkingOnlyDependency(t *testing.T) {
	c := newController(t, Config{Budget: 50})

	d, err := c.Handle(context.Background(), Turn{
		Context:  activation.Context{Text: "terrain"},
		Requires: []string{"world/terrain", "scratch-plan", "world/water"},
		Working:  map[string]string{"scratch-plan": "draft"},
	})
	require.NoError(t, err)

	require.Len(t, d.Violations, 1)
	assert.Equal(t, ViolationWorkingOnly, d.Violations[0].Kind)
	assert.Equal(t, "scratch-plan", d.Violations[0].ID)
	require.Len(t, d.Notices, 1)
	assert.Equal(t, NoticeUnsatisfied, d.Notices[0].Kind)
	assert.Equal(t, "world/water", d.Notices[0].ID)
}

func TestHandleVerifyReport(t *testing.T) {
	ctx := context.Background()
	c := newController(t, Config{Budget: 50})

	turn := Turn{
		Action:   mode.ActionReport,
		Executed: []string{"unit", "e2e"},
		Checks:   []CheckOutcome{{Name: "unit", Passed: true}},
	}

	d, err := c.Handle(ctx, turn)
	require.NoError(t, err)
	assert.Nil(t, d.Report)
	require.Len(t, d.Notices, 1)
	assert.Equal(t, NoticeReportIgnored, d.Notices[0].Kind)

	_, err = c.Transition(ctx, mode.Verify, "run checks")
	require.NoError(t, err)

	d, err = c.Handle(ctx, turn)
	require.NoError(t, err)
	require.NotNil(t, d.Report)
	assert.False(t, d.Report.Passed)
	assert.Equal(t, []string{"e2e"}, d.Report.Missing)
	assert.Len(t, d.Report.Checks, 2)
	assert.True(t, d.HasViolation(ViolationIncompleteReport))
	assert.False(t, d.Denied())
}

func TestTransitionRequiresReason(t *testing.T) {
	ctx := context.Background()
	c := newController(t, Config{Budget: 50})

	_, err := c.Transition(ctx, mode.Review, "")
	require.Error(t, err)
	assert.True(t, mode.IsModeBleed(err))
	assert.Equal(t, mode.Explore, c.Mode())
	assert.Empty(t, c.Snapshot().History)
}

func TestHandleKeepsRecentlyAdmitted(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	c := newController(t, Config{Budget: 25}, WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))

	_, err := c.Handle(ctx, Turn{Context: activation.Context{Text: "water"}})
	require.NoError(t, err)

	// water was admitted in the previous turn and cannot be evicted yet.
	d, err := c.Handle(ctx, Turn{Context: activation.Context{Text: "light"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"world/water"}, ids(d.Admitted))
	require.Len(t, d.Rejected, 1)

	d, err = c.Handle(ctx, Turn{Context: activation.Context{Text: "light"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"world/lighting"}, ids(d.Admitted))
	require.Len(t, d.Evicted, 1)
	assert.Equal(t, "world/water", d.Evicted[0].ID)

	state := c.Snapshot()
	assert.Equal(t, 3, state.Turn)
	assert.Equal(t, 15, state.TotalWeight)
	require.Len(t, state.Admitted, 1)
}

func TestHandleIsTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	c := newController(t, Config{Budget: 50})
	_, err := c.Handle(context.Background(), Turn{Context: activation.Context{Text: "terrain"}})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "session.handle", spans[0].Name())
}

func TestManager(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testRegistry(t), Config{Budget: 30})

	a, err := m.Create(ctx)
	require.NoError(t, err)
	b, err := m.Create(ctx, WithID("b"))
	require.NoError(t, err)
	assert.Equal(t, "b", b.ID())
	assert.Len(t, m.IDs(), 2)

	_, err = m.Create(ctx, WithID("b"))
	require.Error(t, err)

	_, err = m.Transition(ctx, "b", mode.Architect, "design")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		for _, id := range []string{a.ID(), "b"} {
			wg.Add(1)
			go func(id string, i int) {
				defer wg.Done()
				text := "terrain"
				if i%2 == 1 {
					text = "light"
				}
				_, err := m.Handle(ctx, id, Turn{Context: activation.Context{Text: text}})
				assert.NoError(t, err)
			}(id, i)
		}
	}
	wg.Wait()

	sa, err := m.Snapshot(a.ID())
	require.NoError(t, err)
	sb, err := m.Snapshot("b")
	require.NoError(t, err)
	assert.Equal(t, 10, sa.Turn)
	assert.Equal(t, 10, sb.Turn)
	assert.Equal(t, mode.Explore, sa.Mode)
	assert.Equal(t, mode.Architect, sb.Mode)
	assert.LessOrEqual(t, sa.TotalWeight, 30)

	_, err = m.Handle(ctx, "missing", Turn{})
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	_, err = m.Snapshot("missing")
	assert.True(t, errors.Is(err, ErrSessionNotFound))

	require.NoError(t, m.Close(ctx, "b"))
	assert.True(t, errors.Is(m.Close(ctx, "b"), ErrSessionNotFound))
	assert.Equal(t, []string{a.ID()}, m.IDs())
}

func TestManagerSetRegistry(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testRegistry(t), Config{Budget: 30})
	old, err := m.Create(ctx)
	require.NoError(t, err)

	reg, err := skills.Load(ctx, []skills.Pack{{
		ID:      "fresh",
		Enabled: true,
		Descriptors: []skills.Descriptor{
			{ID: "fresh/terrain", Pack: "fresh", Weight: 3, Rules: keywords("terrain")},
		},
	}})
	require.NoError(t, err)
	m.SetRegistry(reg)
	assert.Same(t, reg, m.Registry())

	fresh, err := m.Create(ctx)
	require.NoError(t, err)

	d, err := m.Handle(ctx, fresh.ID(), Turn{Context: activation.Context{Text: "terrain"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh/terrain"}, ids(d.Admitted))

	d, err = m.Handle(ctx, old.ID(), Turn{Context: activation.Context{Text: "terrain"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"world/terrain"}, ids(d.Admitted))
}

func ExampleController_Handle() {
	ctx := context.Background()
	reg, _ := skills.Load(ctx, []skills.Pack{{
		ID:      "core",
		Enabled: true,
		Descriptors: []skills.Descriptor{
			{ID: "core/tests", Pack: "core", Weight: 4, Rules: []skills.Rule{skills.ExplicitTrigger{Token: "/tests"}}},
		},
	}})

	c, _ := New(ctx, reg, Config{Budget: 10}, WithID("demo"), WithAuditSink(audit.NewMemorySink()))
	d, _ := c.Handle(ctx, Turn{
		Context: activation.Context{Invocation: "/tests"},
		Action:  mode.ActionEdit,
	})

	fmt.Println(d.Admitted[0].ID, d.TotalWeight, d.Authorization.Allowed, d.Authorization.Suggested)
	// Output: core/tests 4 false implement
}
