package eval

// #region eval-config
// EvalConfig holds the pass thresholds applied to each comparison. A zero
// threshold disables that check.
type EvalConfig struct {
	MaxCosineError float64
	MaxNRMSE       float64
}

// DefaultEvalConfig returns the thresholds used for reports.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MaxCosineError: 0.1,
		MaxNRMSE:       0.25,
	}
}

// #endregion eval-config

// #region comparison
// Comparison holds the three error measures between an actual and a
// candidate vector.
type Comparison struct {
	CosineError float64
	RMSE        float64
	NRMSEMax    float64
}

// Record is one comparison for a (variant, metric, environment) triple.
type Record struct {
	Variant string
	Metric  string
	EnvID   string
	Comparison
	Pass    bool
	Anomaly string // "zero_vector" when the cosine was undefined
}

// Skip is a comparison that could not be made.
type Skip struct {
	Variant string
	Metric  string
	EnvID   string
	Reason  string
}

// Report is the output of Harness.Compare.
type Report struct {
	Records []Record
	Skipped []Skip
}

// #endregion comparison

// #region summary
// Summary is the mean of all records sharing a (variant, metric) key.
type Summary struct {
	Variant     string
	Metric      string
	N           int
	CosineError float64
	RMSE        float64
	NRMSEMax    float64
}

// #endregion summary
