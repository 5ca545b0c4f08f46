// Package shift recovers an attribution vector for a new environment from a
// reference baseline, per-feature scaling factors and the metric ratio between
// the two environments.
package shift

import (
	"fmt"
	"math"
	"sort"

	"github.com/danielpatrickdp/importance-shift/internal/attribution"
)

// #region recompute
// Recompute scales each baseline feature by its β, renormalizes so the total
// mass equals baseline mass × ratio, and rounds to 6 decimals. The baseline
// must already be collapsed; it is never mutated.
func Recompute(baseline attribution.Vector, scaling attribution.ScalingMap, ratio float64) (Result, error) {
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) || ratio < 0 {
		return Result{}, fmt.Errorf("%s/%s: ratio %v: %w", baseline.EnvID, baseline.Metric, ratio, attribution.ErrUndefinedRatio)
	}
	if err := baseline.Validate(); err != nil {
		return Result{}, fmt.Errorf("baseline: %w", err)
	}

	features := baseline.Features()
	total := baseline.Mass()

	unnorm := make([]float64, len(features))
	var newTotal float64
	var scaled []string
	for i, f := range features {
		b, explicit := scaling.Factor(f)
		if math.IsNaN(b) || math.IsInf(b, 0) || b <= 0 {
			return Result{}, fmt.Errorf("%s/%s feature %q: β=%v: %w", baseline.EnvID, baseline.Metric, f, b, attribution.ErrInvalidScalingFactor)
		}
		if explicit && b != 1 {
			scaled = append(scaled, f)
		}
		unnorm[i] = baseline.Values[f] * b
		newTotal += unnorm[i]
	}
	if newTotal == 0 {
		return Result{}, fmt.Errorf("%s/%s: scaled mass is zero: %w", baseline.EnvID, baseline.Metric, attribution.ErrDegenerateShift)
	}

	out := attribution.NewVector(baseline.EnvID, baseline.Metric, nil)
	for i, f := range features {
		out.Values[f] = attribution.Round6(unnorm[i] / newTotal * total * ratio)
	}

	metrics := Metrics{
		BaselineMass:  total,
		UnnormMass:    newTotal,
		RecoveredMass: out.Mass(),
		Ratio:         ratio,
		Scaled:        scaled,
		Unmatched:     unmatched(baseline, scaling),
	}

	decision := Decision{Action: "identity", Reason: "no explicit scaling factors"}
	if len(scaled) > 0 || ratio != 1 {
		decision = Decision{
			Action: "rescale",
			Reason: fmt.Sprintf("scaled %v, ratio %.6f, mass %.6f -> %.6f", scaled, ratio, total, metrics.RecoveredMass),
		}
	}

	return Result{Vector: out, Decision: decision, Metrics: metrics}, nil
}

func unmatched(baseline attribution.Vector, scaling attribution.ScalingMap) []string {
	var out []string
	for f := range scaling {
		if _, ok := baseline.Values[f]; !ok {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// #endregion recompute

// #region ratio
// MetricRatio is the current-environment mean metric over the reference mean.
func MetricRatio(current, reference float64) (float64, error) {
	if reference == 0 || math.IsNaN(reference) || math.IsNaN(current) {
		return 0, fmt.Errorf("current %v / reference %v: %w", current, reference, attribution.ErrUndefinedRatio)
	}
	r := current / reference
	if math.IsInf(r, 0) {
		return 0, fmt.Errorf("current %v / reference %v: %w", current, reference, attribution.ErrUndefinedRatio)
	}
	return r, nil
}

// #endregion ratio

// #region merge
// Merge sums vectors feature-wise into one estimate for (envID, metric).
// Features are visited in sorted order so the result does not depend on input
// map iteration.
func Merge(envID, metric string, vs []attribution.Vector) (attribution.Vector, error) {
	if len(vs) == 0 {
		return attribution.Vector{}, fmt.Errorf("%s/%s: nothing to merge: %w", envID, metric, attribution.ErrMissingReferenceData)
	}
	out := attribution.NewVector(envID, metric, nil)
	for _, f := range attribution.UnionFeatures(vs...) {
		var sum float64
		for _, v := range vs {
			sum += v.Values[f]
		}
		out.Values[f] = attribution.Round6(sum)
	}
	return out, nil
}

// #endregion merge
