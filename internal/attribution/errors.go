package attribution

import "errors"

// #region error-kinds
// Sentinel error kinds. Each is local to one (environment, metric) unit.
var (
	ErrParse                = errors.New("parse error")
	ErrInvalidScalingFactor = errors.New("invalid scaling factor")
	ErrDegenerateShift      = errors.New("degenerate shift")
	ErrUndefinedRatio       = errors.New("undefined metric ratio")
	ErrMissingReferenceData = errors.New("missing reference data")
)

// Kind returns the label of the sentinel wrapped by err, "internal" for
// anything else and "" for nil.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrParse):
		return "parse_error"
	case errors.Is(err, ErrInvalidScalingFactor):
		return "invalid_scaling_factor"
	case errors.Is(err, ErrDegenerateShift):
		return "degenerate_shift"
	case errors.Is(err, ErrUndefinedRatio):
		return "undefined_ratio"
	case errors.Is(err, ErrMissingReferenceData):
		return "missing_reference_data"
	default:
		return "internal"
	}
}

// #endregion error-kinds
