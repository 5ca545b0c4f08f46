package shift

import "github.com/danielpatrickdp/importance-shift/internal/attribution"

// #region decision
// Decision records what Recompute did with the scaling map.
type Decision struct {
	Action string // "rescale" | "identity"
	Reason string
}

// #endregion decision

// #region metrics
// Metrics captures telemetry from one recomputation.
type Metrics struct {
	BaselineMass  float64
	UnnormMass    float64 // Σ baseline[f]·β_f before renormalization
	RecoveredMass float64
	Ratio         float64
	Scaled        []string // features with an explicit β ≠ 1
	Unmatched     []string // β keys outside the baseline domain, ignored
}

// #endregion metrics

// #region result
// Result bundles everything returned by Recompute.
type Result struct {
	Vector   attribution.Vector
	Decision Decision
	Metrics  Metrics
}

// #endregion result
