//go:build unit

package merge

import (
	"testing"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func items(source backend.Identity, pairs ...any) []backend.Item {
	out := make([]backend.Item, 0, len(pairs)/2)

	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, backend.Item{ID: pairs[i].(string), Score: pairs[i+1].(float64), Source: source})
	}

	return out
}

type scored struct {
	ID     string
	Score  float64
	Source backend.Identity
}

func flatten(in []backend.Item) []scored {
	out := make([]scored, len(in))
	for i, item := range in {
		out[i] = scored{ID: item.ID, Score: item.Score, Source: item.Source}
	}

	return out
}

func TestUnion_CachePreferredOnCollision(t *testing.T) {
	cache := items(backend.Cache, "1", 0.9, "2", 0.5)
	primary := items(backend.Primary, "2", 0.7, "3", 0.8)

	merged, err := Merge(cache, primary, Union, Options{Priority: backend.Cache, Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, []scored{
		{ID: "1", Score: 0.9, Source: backend.Cache},
		{ID: "3", Score: 0.8, Source: backend.Primary},
		{ID: "2", Score: 0.5, Source: backend.Cache},
	}, flatten(merged))
}

func TestUnion_PrimaryPriority(t *testing.T) {
	cache := items(backend.Cache, "1", 0.9, "2", 0.5)
	primary := items(backend.Primary, "2", 0.7, "3", 0.8)

	merged, err := Merge(cache, primary, Union, Options{Priority: backend.Primary, Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, []scored{
		{ID: "1", Score: 0.9, Source: backend.Cache},
		{ID: "3", Score: 0.8, Source: backend.Primary},
		{ID: "2", Score: 0.7, Source: backend.Primary},
	}, flatten(merged))
}

func TestUnion_DefaultsToCachePriority(t *testing.T) {
	cache := items(backend.Cache, "a", 0.1)
	primary := items(backend.Primary, "a", 0.9)

	merged, err := Merge(cache, primary, Union, Options{})
	require.NoError(t, err)
	require.Len(t, merged, 1)

	assert.Equal(t, backend.Cache, merged[0].Source)
}

func TestIntersection_KeepsOnlySharedIDs(t *testing.T) {
	cache := items(backend.Cache, "1", 0.9, "2", 0.5)
	primary := items(backend.Primary, "2", 0.7, "3", 0.8)

	merged, err := Merge(cache, primary, Intersection, Options{Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, []scored{{ID: "2", Score: 0.5, Source: backend.Cache}}, flatten(merged))
}

func TestIntersection_EmptyWhenDisjoint(t *testing.T) {
	merged, err := Merge(items(backend.Cache, "1", 0.9), items(backend.Primary, "2", 0.9), Intersection, Options{Limit: 5})
	require.NoError(t, err)

	assert.Empty(t, merged)
}

func TestWeighted_CombinesAndScales(t *testing.T) {
	cache := items(backend.Cache, "1", 1.0, "2", 0.5)
	primary := items(backend.Primary, "2", 1.0, "3", 1.0)

	merged, err := Merge(cache, primary, Weighted, Options{
		Weights: Weights{Cache: 0.6, Primary: 0.4},
		Limit:   10,
	})
	require.NoError(t, err)
	require.Len(t, merged, 3)

	got := map[string]float64{}
	for _, item := range merged {
		got[item.ID] = item.Score
	}

	assert.InDelta(t, 0.6, got["1"], 1e-9)
	assert.InDelta(t, 0.6*0.5+0.4*1.0, got["2"], 1e-9)
	assert.InDelta(t, 0.4, got["3"], 1e-9)
	assert.Equal(t, "2", merged[0].ID)
}

func TestWeighted_TiesKeepPrioritySideOrder(t *testing.T) {
	cache := items(backend.Cache, "c1", 0.5, "c2", 0.5)
	primary := items(backend.Primary, "p1", 0.5)

	merged, err := Merge(cache, primary, Weighted, Options{Weights: Weights{Cache: 1, Primary: 1}, Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, []string{"c1", "c2", "p1"}, []string{merged[0].ID, merged[1].ID, merged[2].ID})
}

func TestMerge_TruncatesToLimit(t *testing.T) {
	cache := items(backend.Cache, "1", 0.9, "2", 0.8, "3", 0.7)
	primary := items(backend.Primary, "4", 0.95, "5", 0.1)

	merged, err := Merge(cache, primary, Union, Options{Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"4", "1"}, []string{merged[0].ID, merged[1].ID})
}

func TestMerge_DuplicatesWithinOneSideKeepFirst(t *testing.T) {
	cache := items(backend.Cache, "1", 0.2, "1", 0.9)

	merged, err := Merge(cache, nil, Union, Options{Limit: 10})
	require.NoError(t, err)
	require.Len(t, merged, 1)

	assert.InDelta(t, 0.2, merged[0].Score, 1e-9)
}

func TestMerge_ProvenanceMismatchIsConflict(t *testing.T) {
	cache := items(backend.Cache, "1", 0.9)
	primary := []backend.Item{{ID: "2", Score: 0.5, Source: backend.Cache}}

	merged, err := Merge(cache, primary, Union, Options{})

	assert.Nil(t, merged)
	assert.ErrorIs(t, err, backend.ErrMergeConflict)

	_, err = Merge([]backend.Item{{ID: "x"}}, nil, Union, Options{})
	assert.ErrorIs(t, err, backend.ErrMergeConflict, "an untagged item is malformed provenance")
}

func TestMerge_UnknownPolicy(t *testing.T) {
	_, err := Merge(nil, nil, Policy("zip"), Options{})

	assert.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	cache := items(backend.Cache, "1", 1.0)
	primary := items(backend.Primary, "1", 1.0)

	_, err := Merge(cache, primary, Weighted, Options{Weights: Weights{Cache: 0.5, Primary: 0.5}})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, cache[0].Score, 1e-9)
	assert.InDelta(t, 1.0, primary[0].Score, 1e-9)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{in: "union", want: Union},
		{in: " Intersection ", want: Intersection},
		{in: "WEIGHTED", want: Weighted},
		{in: "", want: Union},
		{in: "random", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownPolicy)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
