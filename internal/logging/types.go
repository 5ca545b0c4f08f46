package logging

import "time"

// #region provenance-entry
// ProvenanceEntry is a single row in the provenance_log table.
type ProvenanceEntry struct {
	UnitID     string
	EnvID      string
	Metric     string
	Variant    string
	Action     string // "recovered" | "extrapolated" | "skipped" | "failed"
	Kind       string // error kind, empty on success
	DetailJSON string
	Reason     string
	CreatedAt  time.Time
}

// #endregion provenance-entry

// #region unit-record
// UnitRecord captures the inputs and outputs of one unit. Serialized as JSON
// into provenance_log.detail_json so a run can be audited or replayed.
type UnitRecord struct {
	TargetEnv    string             `json:"target_env"`
	ReferenceEnv string             `json:"reference_env,omitempty"`
	SecondEnv    string             `json:"second_env,omitempty"`
	Metric       string             `json:"metric"`
	Rank         int                `json:"rank,omitempty"`
	Ratio        float64            `json:"ratio,omitempty"`
	Scaling      map[string]float64 `json:"scaling,omitempty"`
	Unmatched    []string           `json:"unmatched,omitempty"`
	ParseLine    int                `json:"parse_line,omitempty"`
	Rejected     int                `json:"rejected_candidates,omitempty"`

	// Projection inputs
	Alpha  float64 `json:"alpha,omitempty"`
	Regime string  `json:"regime,omitempty"`

	// Gate output
	GateAction    string  `json:"gate_action,omitempty"`
	GateSoftScore float64 `json:"gate_soft_score,omitempty"`
	GateVetoed    bool    `json:"gate_vetoed,omitempty"`
	GateReason    string  `json:"gate_reason,omitempty"`
}

// #endregion unit-record
