package merge

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
)

// Policy selects how two result sets are combined.
type Policy string

// Supported policies.
const (
	Union        Policy = "union"
	Intersection Policy = "intersection"
	Weighted     Policy = "weighted"
)

// ErrUnknownPolicy reports a policy name that is not supported.
var ErrUnknownPolicy = errors.New("merge: unknown policy")

// ParsePolicy maps a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case Union, Intersection, Weighted:
		return p, nil
	case "":
		return Union, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Weights scale scores under the Weighted policy.
type Weights struct {
	Cache   float64 `yaml:"cache" json:"cache" validate:"gte=0"`
	Primary float64 `yaml:"primary" json:"primary" validate:"gte=0"`
}

// DefaultWeights is used when Options.Weights is zero.
var DefaultWeights = Weights{Cache: 0.6, Primary: 0.4}

func (w Weights) of(id backend.Identity) float64 {
	if id == backend.Cache {
		return w.Cache
	}

	return w.Primary
}

// Options tune a merge.
type Options struct {
	// Priority is the side that wins collisions and ties. Defaults to backend.Cache.
	Priority backend.Identity
	Weights  Weights
	// Limit truncates the merged output when positive.
	Limit int
}

func (o Options) normalized() Options {
	if o.Priority != backend.Primary {
		o.Priority = backend.Cache
	}

	if o.Weights == (Weights{}) {
		o.Weights = DefaultWeights
	}

	return o
}

// Merge combines the cache and primary items under policy. Items whose
// provenance does not match the side they came from yield backend.ErrMergeConflict.
func Merge(cache, primary []backend.Item, policy Policy, opts Options) ([]backend.Item, error) {
	if err := checkProvenance(cache, backend.Cache); err != nil {
		return nil, err
	}

	if err := checkProvenance(primary, backend.Primary); err != nil {
		return nil, err
	}

	opts = opts.normalized()

	first, second := dedupe(cache), dedupe(primary)
	if opts.Priority == backend.Primary {
		first, second = second, first
	}

	var merged []backend.Item

	switch policy {
	case Union, "":
		merged = union(first, second)
	case Intersection:
		merged = intersection(first, second)
	case Weighted:
		merged = weighted(first, second, opts.Weights)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	if opts.Limit > 0 && len(merged) > opts.Limit {
		merged = merged[:opts.Limit]
	}

	return merged, nil
}

func checkProvenance(items []backend.Item, side backend.Identity) error {
	for i, item := range items {
		if item.Source != side {
			return fmt.Errorf("%w: item %q at position %d from %s is tagged %q",
				backend.ErrMergeConflict, item.ID, i, side, item.Source)
		}
	}

	return nil
}

// dedupe keeps the first occurrence of every ID.
func dedupe(items []backend.Item) []backend.Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]backend.Item, 0, len(items))

	for _, item := range items {
		if _, dup := seen[item.ID]; dup {
			continue
		}

		seen[item.ID] = struct{}{}
		out = append(out, item)
	}

	return out
}

func index(items []backend.Item) map[string]backend.Item {
	byID := make(map[string]backend.Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	return byID
}

func union(first, second []backend.Item) []backend.Item {
	taken := index(first)
	out := make([]backend.Item, 0, len(first)+len(second))
	out = append(out, first...)

	for _, item := range second {
		if _, ok := taken[item.ID]; !ok {
			out = append(out, item)
		}
	}

	return out
}

func intersection(first, second []backend.Item) []backend.Item {
	other := index(second)
	out := make([]backend.Item, 0, min(len(first), len(second)))

	for _, item := range first {
		if _, ok := other[item.ID]; ok {
			out = append(out, item)
		}
	}

	return out
}

func weighted(first, second []backend.Item, w Weights) []backend.Item {
	other := index(second)
	out := make([]backend.Item, 0, len(first)+len(second))

	for _, item := range first {
		combined := item
		combined.Score = w.of(item.Source) * item.Score

		if match, ok := other[item.ID]; ok {
			combined.Score += w.of(match.Source) * match.Score
		}

		out = append(out, combined)
	}

	taken := index(first)

	for _, item := range second {
		if _, ok := taken[item.ID]; ok {
			continue
		}

		scaled := item
		scaled.Score = w.of(item.Source) * item.Score
		out = append(out, scaled)
	}

	return out
}
