package main

import (
	"context"
	"testing"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/mode"
	"github.com/jingkaihe/skillgate/pkg/session"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demoScript = `
id: demo
steps:
  - turn:
      context:
        text: please add a unit test
      action: read
  - turn:
      action: Edit
  - transition:
      to: Implement
      reason: plan approved
  - turn:
      context:
        invocation: /tests
      action: edit
      assumed_mode: verify
  - transition:
      to: verify
      reason: ""
`

func scriptManager(t *testing.T, sink audit.Sink) *session.Manager {
	t.Helper()
	reg, err := skills.Load(context.Background(), []skills.Pack{{
		ID:      "core",
		Enabled: true,
		Descriptors: []skills.Descriptor{
			{ID: "core/tests", Weight: 10, Body: "Use testify.", Rules: []skills.Rule{
				skills.ExplicitTrigger{Token: "/tests"},
				skills.KeywordTrigger{Phrases: []string{"unit test"}},
			}},
		},
	}})
	require.NoError(t, err)
	return session.NewManager(reg, session.Config{Budget: 50}, session.WithAuditSink(sink))
}

func TestParseScript(t *testing.T) {
	script, err := ParseScript([]byte(demoScript))
	require.NoError(t, err)

	assert.Equal(t, "demo", script.ID)
	require.Len(t, script.Steps, 5)
	assert.Equal(t, "please add a unit test", script.Steps[0].Turn.Context.Text)
	assert.Equal(t, mode.Action("read"), script.Steps[0].Turn.Action)
	assert.Equal(t, "Implement", script.Steps[2].Transition.To)
	assert.Equal(t, mode.Verify, script.Steps[3].Turn.AssumedMode)
}

func TestParseScriptRejectsAmbiguousSteps(t *testing.T) {
	_, err := ParseScript([]byte("steps:\n  - {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1 must have exactly one of turn or transition")

	_, err = ParseScript([]byte("steps: [\n"))
	assert.Error(t, err)
}

func TestRunScript(t *testing.T) {
	script, err := ParseScript([]byte(demoScript))
	require.NoError(t, err)

	sink := audit.NewMemorySink()
	m := scriptManager(t, sink)
	results, err := runScript(context.Background(), m, script)
	require.NoError(t, err)
	require.Len(t, results, 5)

	first := results[0].Decision
	require.NotNil(t, first)
	assert.True(t, first.Authorization.Allowed)
	require.Len(t, first.Admitted, 1)
	assert.Equal(t, "core/tests", first.Admitted[0].ID)

	second := results[1].Decision
	assert.True(t, second.Denied())
	assert.Equal(t, mode.Implement, second.Authorization.Suggested)
	assert.Equal(t, mode.Explore, second.Mode)

	require.NotNil(t, results[2].Transition)
	assert.Equal(t, mode.Implement, results[2].Transition.To)

	fourth := results[3].Decision
	assert.True(t, fourth.Authorization.Allowed)
	assert.True(t, fourth.HasViolation(session.ViolationModeBleed))

	assert.Nil(t, results[4].Transition)
	assert.Contains(t, results[4].Error, "mode bleed")

	assert.Equal(t, 2, countViolations(results))
	assert.Empty(t, m.IDs(), "script sessions are closed when done")

	entries, err := sink.List(context.Background(), "demo")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "plan approved", entries[0].Reason)
}

func TestRunScriptNormalizesAssumedMode(t *testing.T) {
	script, err := ParseScript([]byte(`
steps:
  - turn:
      action: read
      assumed_mode: Explore
  - turn:
      action: read
      assumed_mode: debug
`))
	require.NoError(t, err)

	results, err := runScript(context.Background(), scriptManager(t, audit.NewMemorySink()), script)
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.NotNil(t, results[0].Decision)
	assert.Empty(t, results[0].Decision.Violations)
	assert.True(t, results[0].Decision.Authorization.Allowed)

	assert.Nil(t, results[1].Decision)
	assert.Contains(t, results[1].Error, "unknown mode")
	assert.Equal(t, 1, countViolations(results))
}

func TestGenerateSchema(t *testing.T) {
	for _, name := range []string{"decision", "turn", "state"} {
		schema, err := generateSchema(name)
		require.NoError(t, err, name)
		require.NotNil(t, schema.Properties, name)
	}

	schema, err := generateSchema("decision")
	require.NoError(t, err)
	_, ok := schema.Properties.Get("admitted")
	assert.True(t, ok)

	_, err = generateSchema("packs")
	assert.Error(t, err)
}
