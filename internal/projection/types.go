package projection

import "github.com/danielpatrickdp/importance-shift/internal/attribution"

// #region regime
// Regime labels how the projection relates the target to the two references.
type Regime string

const (
	RegimeFallback      Regime = "fallback"      // references equidistant; first reference returned as-is
	RegimeInterpolation Regime = "interpolation" // alpha < 1
	RegimeExtrapolation Regime = "extrapolation" // alpha >= 1
)

// #endregion regime

// #region result
// Result is one projected vector.
type Result struct {
	Vector  attribution.Vector
	Regime  Regime
	Alpha   float64
	Clipped []string // features that went negative and were clipped to 0
}

// #endregion result

// Loader fetches the measured vector of a reference environment.
type Loader func(envID string) (attribution.Vector, error)
