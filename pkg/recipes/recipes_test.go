package recipes

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const terrainRecipe = `---
name: new-terrain
description: Build a terrain chunk end to end
skills:
  - heightmap
  - shared/lod
keywords:
  - new terrain
---
Build {{.region}} at {{default "medium" .detail}} detail.
`

func TestParse(t *testing.T) {
	r, err := Parse([]byte(terrainRecipe), "")
	require.NoError(t, err)

	assert.Equal(t, "new-terrain", r.Name)
	assert.Equal(t, []string{"heightmap", "shared/lod"}, r.Skills)
	assert.Equal(t, []string{"new terrain"}, r.Keywords)
	assert.Empty(t, r.Invoke)
	assert.Contains(t, r.Body, "Build {{.region}}")
}

func TestParseDefaultsInvokeToName(t *testing.T) {
	r, err := Parse([]byte("---\nname: release\nskills: [changelog]\n---\nShip it.\n"), "")
	require.NoError(t, err)
	assert.Equal(t, "release", r.Invoke)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("just text"), "x")
	require.Error(t, err)

	_, err = Parse([]byte("---\ndescription: nameless\n---\nbody\n"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")

	r, err := Parse([]byte("---\ndescription: nameless\nskills: [a]\n---\nbody\n"), "from-file")
	require.NoError(t, err)
	assert.Equal(t, "from-file", r.Name)
}

func TestDescriptor(t *testing.T) {
	r, err := Parse([]byte(terrainRecipe), "")
	require.NoError(t, err)

	d := r.Descriptor("world", 0)
	assert.Equal(t, "world/new-terrain", d.ID)
	assert.Equal(t, skills.LayerComposition, d.Layer)
	assert.Equal(t, DefaultWeight, d.Weight)
	assert.Equal(t, []string{"world/heightmap", "shared/lod"}, d.References)
	require.Len(t, d.Rules, 1)
	assert.Equal(t, skills.RuleKeyword, d.Rules[0].Kind())
	assert.True(t, d.IsComposition())

	r.Invoke = "/terrain"
	d = r.Descriptor("world", 3)
	assert.Equal(t, 3, d.Weight)
	require.Len(t, d.Rules, 2)
	assert.Equal(t, skills.RuleExplicit, d.Rules[0].Kind())
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new-terrain.md")
	require.NoError(t, os.WriteFile(path, []byte(terrainRecipe), 0o644))

	r, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, r.Source)
	assert.Equal(t, "new-terrain", NameFromPath(path))

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.md"))
	require.Error(t, err)
}

func TestRender(t *testing.T) {
	ctx := context.Background()
	r, err := Parse([]byte(terrainRecipe), "")
	require.NoError(t, err)

	tests := []struct {
		name string
		args map[string]string
		want string
	}{
		{"all args", map[string]string{"region": "north", "detail": "high"}, "Build north at high detail.\n"},
		{"default applied", map[string]string{"region": "south"}, "Build south at medium detail.\n"},
		{"missing args", nil, "Build  at medium detail.\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(ctx, r.Body, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = Render(ctx, "{{.broken", nil)
	require.Error(t, err)
}
