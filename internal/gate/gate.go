package gate

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/importance-shift/internal/attribution"
	"github.com/danielpatrickdp/importance-shift/internal/shift"
)

// #region gate
// Gate decides whether a derived vector may be persisted.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Evaluate checks a recovered vector against its baseline: same domain,
// non-negative finite values, and mass equal to baseline mass × ratio.
func (g *Gate) Evaluate(baseline, proposed attribution.Vector, metrics shift.Metrics) GateDecision {
	var vetoes []VetoSignal

	// 1. Domain must match the collapsed baseline exactly
	if missing, extra := domainDiff(baseline, proposed); len(missing)+len(extra) > 0 {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoDomain,
			Reason: fmt.Sprintf("missing %v, unexpected %v", missing, extra),
		})
	}

	// 2. Values
	if err := proposed.Validate(); err != nil {
		vetoes = append(vetoes, VetoSignal{Type: VetoValue, Reason: err.Error()})
	}

	// 3. Mass invariant, allowing half a unit in the sixth decimal per feature
	expected := baseline.Mass() * metrics.Ratio
	tol := g.config.MassTolerance + float64(proposed.Len())*5e-7
	if got := proposed.Mass(); math.Abs(got-expected) > tol {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoMass,
			Reason: fmt.Sprintf("mass %.6f, expected %.6f (tolerance %.2g)", got, expected, tol),
		})
	}

	// 4. Ratio cap
	if g.config.MaxRatio > 0 && metrics.Ratio > g.config.MaxRatio {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoRatioCap,
			Reason: fmt.Sprintf("ratio %.4f exceeds cap %.4f", metrics.Ratio, g.config.MaxRatio),
		})
	}

	if len(vetoes) > 0 {
		return reject(vetoes)
	}

	score := matchScore(metrics)
	return GateDecision{
		Action:    "commit",
		Reason:    fmt.Sprintf("mass %.6f preserved, match score %.2f", expected, score),
		SoftScore: score,
	}
}

// EvaluateProjection checks a projected vector: finite, non-negative values
// over the union of the two references' domains.
func (g *Gate) EvaluateProjection(v1, v2, proposed attribution.Vector) GateDecision {
	var vetoes []VetoSignal
	if err := proposed.Validate(); err != nil {
		vetoes = append(vetoes, VetoSignal{Type: VetoValue, Reason: err.Error()})
	}
	for _, f := range attribution.UnionFeatures(v1, v2) {
		if _, ok := proposed.Values[f]; !ok {
			vetoes = append(vetoes, VetoSignal{Type: VetoDomain, Reason: fmt.Sprintf("feature %q missing from projection", f)})
			break
		}
	}
	if len(vetoes) > 0 {
		return reject(vetoes)
	}
	return GateDecision{Action: "commit", Reason: "projection valid", SoftScore: 1}
}

// #endregion gate

// #region helpers
func reject(vetoes []VetoSignal) GateDecision {
	return GateDecision{
		Action:      "reject",
		Reason:      fmt.Sprintf("hard veto: %s", vetoes[0].Reason),
		Vetoed:      true,
		VetoSignals: vetoes,
	}
}

func domainDiff(baseline, proposed attribution.Vector) (missing, extra []string) {
	for _, f := range baseline.Features() {
		if _, ok := proposed.Values[f]; !ok {
			missing = append(missing, f)
		}
	}
	for _, f := range proposed.Features() {
		if _, ok := baseline.Values[f]; !ok {
			extra = append(extra, f)
		}
	}
	return missing, extra
}

// matchScore is the share of asserted scaling factors that named a baseline
// feature. With no assertions at all the score is 1.
func matchScore(m shift.Metrics) float64 {
	asserted := len(m.Scaled) + len(m.Unmatched)
	if asserted == 0 {
		return 1
	}
	return float64(len(m.Scaled)) / float64(asserted)
}

// #endregion helpers
