package gate

// #region veto-type
// VetoType enumerates hard veto categories.
type VetoType string

const (
	VetoDomain   VetoType = "domain_mismatch"
	VetoValue    VetoType = "invalid_value"
	VetoMass     VetoType = "mass_mismatch"
	VetoRatioCap VetoType = "ratio_out_of_range"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal represents a detected hard veto condition.
type VetoSignal struct {
	Type   VetoType
	Reason string
}

// #endregion veto-signal

// #region gate-config
// GateConfig holds thresholds for gate decisions.
type GateConfig struct {
	MassTolerance float64 // allowed |recovered mass - expected| on top of per-feature rounding
	MaxRatio      float64 // reject recoveries whose metric ratio exceeds this (0 = disabled)
}

// DefaultGateConfig returns the defaults used by the batch runner.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MassTolerance: 1e-6,
		MaxRatio:      1000,
	}
}

// #endregion gate-config

// #region gate-decision
// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Action      string // "commit" | "reject"
	Reason      string
	Vetoed      bool
	VetoSignals []VetoSignal // non-empty if vetoed
	SoftScore   float64      // 0-1 share of asserted factors that matched the baseline domain
}

// #endregion gate-decision
