package attribution

import (
	"fmt"
	"math"
	"sort"
)

// #region variants
// Well-known variant labels under which vectors are persisted.
const (
	VariantMeasured     = "measured"     // produced upstream by the attribution oracle
	VariantMerged       = "llm_merged"   // feature-wise sum of per-reference recoveries
	VariantExtrapolated = "extrapolated" // directional projection from two references
)

// RecoveredVariant names the vector recovered from the rank-th nearest reference (1-based).
func RecoveredVariant(rank int) string {
	return fmt.Sprintf("llm_%d", rank)
}

// #endregion variants

// #region vector
// Vector is a feature attribution vector for one (environment, metric) pair.
// Values are non-negative magnitudes keyed by feature name.
type Vector struct {
	EnvID  string
	Metric string
	Values map[string]float64
}

// NewVector copies values into a fresh Vector.
func NewVector(envID, metric string, values map[string]float64) Vector {
	v := Vector{EnvID: envID, Metric: metric, Values: make(map[string]float64, len(values))}
	for f, x := range values {
		v.Values[f] = x
	}
	return v
}

// FromPairs builds a Vector from the persisted (feature, value) sequences.
// Repeated feature names are summed.
func FromPairs(envID, metric string, features []string, values []float64) (Vector, error) {
	if len(features) != len(values) {
		return Vector{}, fmt.Errorf("pairs for %s/%s: %d features, %d values", envID, metric, len(features), len(values))
	}
	v := Vector{EnvID: envID, Metric: metric, Values: make(map[string]float64, len(features))}
	for i, f := range features {
		v.Values[f] += values[i]
	}
	return v, nil
}

// Clone returns a deep copy.
func (v Vector) Clone() Vector {
	return NewVector(v.EnvID, v.Metric, v.Values)
}

// Get returns the value for feature f, 0 when absent.
func (v Vector) Get(f string) float64 {
	return v.Values[f]
}

// Len returns the number of features.
func (v Vector) Len() int {
	return len(v.Values)
}

// Features returns the feature names in sorted order.
func (v Vector) Features() []string {
	out := make([]string, 0, len(v.Values))
	for f := range v.Values {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Pairs returns aligned feature and value sequences in sorted feature order.
func (v Vector) Pairs() ([]string, []float64) {
	features := v.Features()
	values := make([]float64, len(features))
	for i, f := range features {
		values[i] = v.Values[f]
	}
	return features, values
}

// Mass is the sum of all magnitudes, accumulated in sorted feature order.
func (v Vector) Mass() float64 {
	var sum float64
	for _, f := range v.Features() {
		sum += v.Values[f]
	}
	return sum
}

// Shares returns each feature's fraction of the total mass.
// A zero-mass vector yields all-zero shares.
func (v Vector) Shares() map[string]float64 {
	mass := v.Mass()
	out := make(map[string]float64, len(v.Values))
	for f, x := range v.Values {
		if mass == 0 {
			out[f] = 0
			continue
		}
		out[f] = x / mass
	}
	return out
}

// Validate reports the first negative or non-finite magnitude.
func (v Vector) Validate() error {
	for _, f := range v.Features() {
		x := v.Values[f]
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%s/%s feature %q: non-finite value %v", v.EnvID, v.Metric, f, x)
		}
		if x < 0 {
			return fmt.Errorf("%s/%s feature %q: negative value %v", v.EnvID, v.Metric, f, x)
		}
	}
	return nil
}

// UnionFeatures returns the sorted union of the feature domains of vs.
func UnionFeatures(vs ...Vector) []string {
	seen := make(map[string]struct{})
	for _, v := range vs {
		for f := range v.Values {
			seen[f] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Aligned returns v's values in the given feature order, 0 for absent features.
func (v Vector) Aligned(features []string) []float64 {
	out := make([]float64, len(features))
	for i, f := range features {
		out[i] = v.Values[f]
	}
	return out
}

// #endregion vector

// #region scaling-map
// ScalingMap maps feature name to a multiplicative importance shift β.
// Features absent from the map have β = 1.
type ScalingMap map[string]float64

// Factor returns β for feature f and whether it was asserted explicitly.
func (m ScalingMap) Factor(f string) (float64, bool) {
	b, ok := m[f]
	if !ok {
		return 1.0, false
	}
	return b, true
}

// #endregion scaling-map

// Round6 rounds x to 6 decimal places.
func Round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}
