package attribution

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// encoderPrefixes are column-transformer prefixes that may precede a one-hot
// sub-feature name ("cat__Scheduling_PF").
var encoderPrefixes = []string{"cat__", "num__"}

// #region collapser
// Collapser merges families of one-hot sub-features into their logical feature.
type Collapser struct {
	groups []string
}

// NewCollapser returns a Collapser for the given logical group names.
func NewCollapser(groups ...string) *Collapser {
	gs := make([]string, 0, len(groups))
	for _, g := range groups {
		if g = strings.TrimSpace(g); g != "" {
			gs = append(gs, g)
		}
	}
	return &Collapser{groups: gs}
}

// Groups returns the configured logical group names.
func (c *Collapser) Groups() []string {
	return append([]string(nil), c.groups...)
}

// LogicalName maps a feature name to the group it belongs to, or returns it
// unchanged when no group matches.
func (c *Collapser) LogicalName(feature string) string {
	name := feature
	for _, p := range encoderPrefixes {
		if strings.HasPrefix(name, p) {
			name = strings.TrimPrefix(name, p)
			break
		}
	}
	for _, g := range c.groups {
		if name == g || strings.HasPrefix(name, g+"_") {
			return g
		}
	}
	return feature
}

// Collapse returns a new vector where every sub-feature of a group is replaced
// by a single entry named after the group holding their sum. Summation runs in
// sorted feature order so the result does not depend on map iteration.
func (c *Collapser) Collapse(v Vector) Vector {
	out := Vector{EnvID: v.EnvID, Metric: v.Metric, Values: make(map[string]float64, len(v.Values))}
	for _, f := range v.Features() {
		out.Values[c.LogicalName(f)] += v.Values[f]
	}
	return out
}

// CollapseScaling rewrites sub-feature keys of a scaling map to their logical
// names. A factor keyed by the group itself applies as is; otherwise the mean
// of the group's sub-feature factors is used. Every factor must be positive
// and finite before any averaging, else ErrInvalidScalingFactor.
func (c *Collapser) CollapseScaling(m ScalingMap) (ScalingMap, error) {
	keys := make([]string, 0, len(m))
	for f := range m {
		keys = append(keys, f)
	}
	sort.Strings(keys)

	explicit := make(ScalingMap)
	sums := make(map[string]float64, len(m))
	counts := make(map[string]int, len(m))
	for _, f := range keys {
		b := m[f]
		if !(b > 0) || math.IsInf(b, 0) {
			return nil, fmt.Errorf("%w: %s = %v", ErrInvalidScalingFactor, f, b)
		}
		name := c.LogicalName(f)
		if name == f {
			explicit[f] = b
			continue
		}
		sums[name] += b
		counts[name]++
	}
	out := make(ScalingMap, len(sums)+len(explicit))
	for f, s := range sums {
		out[f] = s / float64(counts[f])
	}
	for f, b := range explicit {
		out[f] = b
	}
	return out, nil
}

// #endregion collapser
