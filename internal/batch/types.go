package batch

import (
	"time"

	"github.com/danielpatrickdp/importance-shift/internal/attribution"
	"github.com/danielpatrickdp/importance-shift/internal/envdiff"
	"github.com/danielpatrickdp/importance-shift/internal/eval"
	"github.com/danielpatrickdp/importance-shift/internal/gate"
)

// Unit outcomes.
const (
	ActionRecovered    = "recovered"
	ActionExtrapolated = "extrapolated"
	ActionSkipped      = "skipped"
	ActionFailed       = "failed"
)

// KindGateVeto tags a unit whose vector the gate refused to persist.
const KindGateVeto = "gate_veto"

// #region config
// RunnerConfig bundles the gate, eval and scheduling settings for a run.
type RunnerConfig struct {
	TopK           int
	Workers        int
	OracleTimeout  time.Duration
	CollapseGroups []string

	// Route returns the metrics to process for a slice type. Nil routes every
	// slice to DefaultMetrics.
	Route func(sliceType string) []string

	GateConfig gate.GateConfig
	EvalConfig eval.EvalConfig
}

// DefaultMetrics is used when no Route is configured.
var DefaultMetrics = []string{"user_throughput", "Avg_Delay_ms", "Throughput_Mbps"}

// DefaultRunnerConfig returns sequential defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		TopK:           3,
		Workers:        1,
		OracleTimeout:  60 * time.Second,
		CollapseGroups: []string{"Scheduling"},
		GateConfig:     gate.DefaultGateConfig(),
		EvalConfig:     eval.DefaultEvalConfig(),
	}
}

// #endregion config

// #region unit
// Unit is one (target, reference, metric) recovery.
type Unit struct {
	Target    string
	Reference envdiff.Descriptor
	Rank      int // 1-based position of Reference by ascending distance
	Metric    string
}

// UnitResult is the tagged outcome of one unit. Err is nil unless Action is
// skipped or failed.
type UnitResult struct {
	UnitID    string
	Target    string
	Reference string
	Metric    string
	Rank      int
	Variant   string
	Action    string
	Kind      string
	Reason    string
	Err       error
	Vector    attribution.Vector
	VectorID  string
}

// Summary counts unit outcomes.
type Summary struct {
	Total        int
	Recovered    int
	Extrapolated int
	Skipped      int
	Failed       int
	ByKind       map[string]int
}

// #endregion unit
