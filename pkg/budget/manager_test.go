package budget

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proc(id string, weight int) Request {
	return Request{ID: id, Layer: skills.LayerProcedural, Weight: weight}
}

func recipe(id string, weight int) Request {
	return Request{ID: id, Layer: skills.LayerComposition, Weight: weight}
}

func newManager(t *testing.T, budget int) *Manager {
	t.Helper()
	m, err := NewManager(budget, 0)
	require.NoError(t, err)
	return m
}

func admit(t *testing.T, m *Manager, set *AdmittedSet, reqs ...Request) *Result {
	t.Helper()
	res, err := m.Admit(context.Background(), reqs, set)
	require.NoError(t, err)
	require.LessOrEqual(t, res.Set.Total(), m.Budget())
	return res
}

func TestNewManager(t *testing.T) {
	tests := []struct {
		name     string
		budget   int
		overhead int
		wantErr  bool
	}{
		{"valid", 100, 10, false},
		{"overhead equals budget", 10, 10, false},
		{"overhead too large", 10, 11, true},
		{"zero budget", 0, 0, true},
		{"negative overhead", 10, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(tt.budget, tt.overhead)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrBudgetTooSmallForIdentity))
				assert.Nil(t, m)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.budget, m.Budget())
			assert.Equal(t, tt.overhead, m.IdentityOverhead())
		})
	}
}

func TestAdmitScenarioA(t *testing.T) {
	m := newManager(t, 25)

	res := admit(t, m, NewAdmittedSet(), proc("p/ten", 10), proc("p/twenty", 20), proc("p/fifteen", 15))

	assert.Equal(t, []string{"p/ten", "p/fifteen"}, res.Admitted)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "p/twenty", res.Rejected[0].ID)
	assert.Equal(t, 20, res.Rejected[0].Weight)
	assert.Empty(t, res.Evicted)
	assert.Equal(t, 25, res.Set.Total())
}

func TestAdmitRefreshesAdmittedEntries(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, err := NewManager(50, 0, WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	require.NoError(t, err)

	first := admit(t, m, NewAdmittedSet(), proc("p/a", 10))
	second := admit(t, m, first.Set, proc("p/a", 10), proc("p/a", 10))

	assert.Empty(t, second.Admitted)
	assert.Equal(t, []string{"p/a"}, second.Refreshed)
	assert.Equal(t, 10, second.Set.Total())

	e, ok := second.Set.Get("p/a")
	require.True(t, ok)
	assert.Equal(t, 1, e.AdmittedTurn)
	assert.Equal(t, 2, e.LastUsedTurn)
	assert.Equal(t, 2, e.UseCount)
	assert.True(t, e.LastUsedAt.After(e.AdmittedAt))
}

func TestAdmitDoesNotMutateInput(t *testing.T) {
	m := newManager(t, 10)
	base := admit(t, m, NewAdmittedSet(), proc("p/a", 6))
	_ = admit(t, m, base.Set, proc("p/b", 4))
	res := admit(t, m, base.Set, proc("p/c", 4))

	assert.Equal(t, 1, base.Set.Turn())
	assert.Equal(t, 6, base.Set.Total())
	assert.False(t, base.Set.Has("p/b"))
	assert.True(t, res.Set.Has("p/c"))
}

func TestAdmitEvictsLeastRecentlyUsed(t *testing.T) {
	m := newManager(t, 10)

	set := admit(t, m, NewAdmittedSet(), proc("p/a", 5)).Set
	set = admit(t, m, set, proc("p/b", 5)).Set
	assert.Equal(t, 10, set.Total())

	// p/b was admitted in the previous turn and is protected; p/a is evicted.
	res := admit(t, m, set, proc("p/c", 5))
	assert.Equal(t, []string{"p/c"}, res.Admitted)
	require.Len(t, res.Evicted, 1)
	assert.Equal(t, "p/a", res.Evicted[0].ID)
	assert.Equal(t, "p/c", res.Evicted[0].ForID)
	assert.True(t, res.Set.Has("p/b"))

	res = admit(t, m, res.Set, proc("p/d", 5))
	require.Len(t, res.Evicted, 1)
	assert.Equal(t, "p/b", res.Evicted[0].ID)
	assert.True(t, res.Set.Has("p/c"))
}

func TestAdmitRecencyFloor(t *testing.T) {
	m := newManager(t, 10)

	set := admit(t, m, NewAdmittedSet(), proc("p/big", 10)).Set

	res := admit(t, m, set, proc("p/small", 5))
	assert.Empty(t, res.Evicted)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "p/small", res.Rejected[0].ID)
	assert.True(t, res.Set.Has("p/big"))

	res = admit(t, m, res.Set, proc("p/small", 5))
	assert.Equal(t, []string{"p/small"}, res.Admitted)
	require.Len(t, res.Evicted, 1)
	assert.Equal(t, "p/big", res.Evicted[0].ID)
}

func TestAdmitNeverEvictsCurrentCandidates(t *testing.T) {
	m := newManager(t, 10)

	set := admit(t, m, NewAdmittedSet(), proc("p/a", 6)).Set
	set = admit(t, m, set).Set

	res := admit(t, m, set, proc("p/a", 6), proc("p/b", 6))
	assert.Equal(t, []string{"p/a"}, res.Refreshed)
	assert.Empty(t, res.Evicted)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "p/b", res.Rejected[0].ID)
}

func TestAdmitEvictionIsAllOrNothing(t *testing.T) {
	m := newManager(t, 12)

	set := admit(t, m, NewAdmittedSet(), proc("p/a", 4)).Set
	set = admit(t, m, set).Set
	set = admit(t, m, set, proc("p/b", 8)).Set

	// Needs 8: p/a (4) is evictable, p/b is protected. Nothing is evicted.
	res := admit(t, m, set, proc("p/c", 8))
	assert.Empty(t, res.Evicted)
	require.Len(t, res.Rejected, 1)
	assert.True(t, res.Set.Has("p/a"))
	assert.Equal(t, 12, res.Set.Total())
}

func TestAdmitEvictsStrictlyInOrder(t *testing.T) {
	m := newManager(t, 12)

	set := admit(t, m, NewAdmittedSet(), proc("p/a", 1)).Set
	set = admit(t, m, set, proc("p/b", 10)).Set
	set = admit(t, m, set).Set

	// p/b alone would free enough, but p/a is older and goes first.
	res := admit(t, m, set, proc("p/c", 6))
	assert.Equal(t, []string{"p/c"}, res.Admitted)
	var evicted []string
	for _, e := range res.Evicted {
		evicted = append(evicted, e.ID)
	}
	assert.Equal(t, []string{"p/a", "p/b"}, evicted)
	assert.Equal(t, 6, res.Set.Total())
}

func TestAdmitPrefersRetainingComposition(t *testing.T) {
	m := newManager(t, 10)

	set := admit(t, m, NewAdmittedSet(), recipe("p/recipe", 1), proc("p/old", 4)).Set
	set = admit(t, m, set, proc("p/newer", 4)).Set
	set = admit(t, m, set).Set

	// Recipe is least recently used but is retained over procedural entries.
	res := admit(t, m, set, proc("p/c", 4))
	require.Len(t, res.Evicted, 1)
	assert.Equal(t, "p/old", res.Evicted[0].ID)
	assert.True(t, res.Set.Has("p/recipe"))

	res = admit(t, m, res.Set, proc("p/d", 6))
	var evicted []string
	for _, e := range res.Evicted {
		evicted = append(evicted, e.ID)
	}
	// p/c is protected; p/newer then the recipe go.
	assert.Equal(t, []string{"p/newer", "p/recipe"}, evicted)
	assert.Equal(t, skills.LayerComposition, res.Evicted[1].Layer)
}

func TestAdmitRejectsInvalidAndOversized(t *testing.T) {
	m := newManager(t, 10)

	res := admit(t, m, NewAdmittedSet(), proc("p/huge", 11), proc("p/zero", 0), Request{Weight: 3}, proc("p/ok", 3))
	assert.Equal(t, []string{"p/ok"}, res.Admitted)
	require.Len(t, res.Rejected, 3)
	assert.Contains(t, res.Rejected[0].Reason, "exceeds budget")
	assert.Equal(t, "invalid request", res.Rejected[1].Reason)
	assert.Equal(t, "invalid request", res.Rejected[2].Reason)
}

func TestAdmitNilSet(t *testing.T) {
	m := newManager(t, 10)
	res, err := m.Admit(context.Background(), []Request{proc("p/a", 3)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Set.Total())
	assert.Equal(t, 1, res.Set.Turn())
}

func TestAdmitBudgetInvariantHolds(t *testing.T) {
	const budget = 40
	m := newManager(t, budget)
	rng := rand.New(rand.NewSource(42))

	catalog := make([]Request, 0, 20)
	for i := 0; i < 20; i++ {
		layer := skills.LayerProcedural
		if i%5 == 0 {
			layer = skills.LayerComposition
		}
		catalog = append(catalog, Request{ID: fmt.Sprintf("p/s%02d", i), Layer: layer, Weight: 1 + rng.Intn(25)})
	}

	set := NewAdmittedSet()
	for turn := 0; turn < 500; turn++ {
		n := rng.Intn(6)
		reqs := make([]Request, 0, n)
		for i := 0; i < n; i++ {
			reqs = append(reqs, catalog[rng.Intn(len(catalog))])
		}

		res, err := m.Admit(context.Background(), reqs, set)
		require.NoError(t, err)
		require.LessOrEqual(t, res.Set.Total(), budget, "turn %d", turn)

		sum := 0
		for _, e := range res.Set.Entries() {
			sum += e.Weight
		}
		require.Equal(t, sum, res.Set.Total(), "turn %d", turn)

		// Entries admitted in the previous turn survive this one.
		for _, e := range set.Entries() {
			if e.AdmittedTurn == set.Turn() {
				require.True(t, res.Set.Has(e.ID), "turn %d evicted protected %s", turn, e.ID)
			}
		}
		set = res.Set
	}
}

func TestEntriesInAdmissionOrder(t *testing.T) {
	m := newManager(t, 100)
	res := admit(t, m, NewAdmittedSet(), proc("p/z", 1), proc("p/a", 1), proc("p/m", 1))

	var got []string
	for _, e := range res.Set.Entries() {
		got = append(got, e.ID)
	}
	assert.Equal(t, []string{"p/z", "p/a", "p/m"}, got)
	assert.Equal(t, 3, res.Set.Len())
}

func TestWorking(t *testing.T) {
	seed := map[string]string{"b": "2", "a": "1"}
	w := NewWorking(seed)
	seed["c"] = "3"

	assert.Equal(t, []string{"a", "b"}, w.Keys())
	w.Put("scratch", "x")
	v, ok := w.Get("scratch")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
	assert.True(t, w.Has("a"))

	w.Reset()
	assert.Empty(t, w.Keys())
	assert.False(t, w.Has("a"))
}
