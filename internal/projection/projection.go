// Package projection estimates an attribution vector for a new environment by
// moving along the direction between its two nearest reference environments.
package projection

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/importance-shift/internal/attribution"
	"github.com/danielpatrickdp/importance-shift/internal/envdiff"
)

// #region project
// Project returns max(0, v1 + alpha·(v1 − v2)) with alpha = dTargetToV1/dV1ToV2
// over the union of both domains. When dV1ToV2 is zero the distances carry no
// direction and v1 comes back unchanged.
func Project(v1, v2 attribution.Vector, dTargetToV1, dV1ToV2 float64) (Result, error) {
	if dV1ToV2 == 0 {
		return Result{Vector: v1.Clone(), Regime: RegimeFallback}, nil
	}
	if !validDistance(dTargetToV1) || !validDistance(dV1ToV2) {
		return Result{}, fmt.Errorf("invalid distances %v, %v", dTargetToV1, dV1ToV2)
	}

	alpha := dTargetToV1 / dV1ToV2
	out := attribution.NewVector(v1.EnvID, v1.Metric, nil)
	var clipped []string
	for _, f := range attribution.UnionFeatures(v1, v2) {
		x := v1.Values[f] + alpha*(v1.Values[f]-v2.Values[f])
		if x < 0 {
			clipped = append(clipped, f)
			x = 0
		}
		out.Values[f] = attribution.Round6(x)
	}

	regime := RegimeExtrapolation
	if alpha < 1 {
		regime = RegimeInterpolation
	}
	return Result{Vector: out, Regime: regime, Alpha: alpha, Clipped: clipped}, nil
}

func validDistance(d float64) bool {
	return d >= 0 && !math.IsInf(d, 0) && !math.IsNaN(d)
}

// #endregion project

// #region from-descriptors
// ProjectFromDescriptors picks the two references nearest the target, loads
// their vectors and projects. d1 is the nearest distance and d12 the gap
// between the two nearest distances.
func ProjectFromDescriptors(descs []envdiff.Descriptor, load Loader) (Result, [2]string, error) {
	var refs [2]string
	near := envdiff.Nearest(descs, 2)
	if len(near) < 2 {
		return Result{}, refs, fmt.Errorf("need two reference environments, have %d: %w", len(near), attribution.ErrMissingReferenceData)
	}
	refs = [2]string{near[0].EnvName, near[1].EnvName}

	v1, err := load(refs[0])
	if err != nil {
		return Result{}, refs, fmt.Errorf("load %s: %w", refs[0], err)
	}
	v2, err := load(refs[1])
	if err != nil {
		return Result{}, refs, fmt.Errorf("load %s: %w", refs[1], err)
	}

	d1 := near[0].Distance
	d12 := math.Abs(near[1].Distance - near[0].Distance)
	res, err := Project(v1, v2, d1, d12)
	return res, refs, err
}

// #endregion from-descriptors
