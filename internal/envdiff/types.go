package envdiff

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// #region descriptor
// Descriptor describes how a new environment differs from one reference
// environment, plus the reference's distance to it.
type Descriptor struct {
	EnvName     string                `json:"env_name"`
	Distance    float64               `json:"distance"`
	Differences map[string]Difference `json:"differences"`
}

// #endregion descriptor

// #region difference
// Difference is one feature's change between reference and new environment.
// Numeric features carry Old/New/Delta; categorical ones carry the labels and
// whether they changed.
type Difference struct {
	Categorical bool
	Old, New    float64
	Delta       float64
	OldLabel    string
	NewLabel    string
	Changed     bool
}

type numericJSON struct {
	New   float64 `json:"new"`
	Old   float64 `json:"old"`
	Delta float64 `json:"delta"`
}

type categoricalJSON struct {
	New     string `json:"new"`
	Old     string `json:"old"`
	Changed bool   `json:"changed"`
}

// UnmarshalJSON accepts {new, old, delta} or {new, old, changed}.
func (d *Difference) UnmarshalJSON(b []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return fmt.Errorf("difference: %w", err)
	}
	if _, ok := probe["changed"]; ok {
		var c categoricalJSON
		if err := json.Unmarshal(b, &c); err != nil {
			return fmt.Errorf("categorical difference: %w", err)
		}
		*d = Difference{Categorical: true, OldLabel: c.Old, NewLabel: c.New, Changed: c.Changed}
		return nil
	}
	if _, ok := probe["delta"]; !ok {
		return fmt.Errorf("difference has neither delta nor changed: %s", bytes.TrimSpace(b))
	}
	var n numericJSON
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("numeric difference: %w", err)
	}
	*d = Difference{Old: n.Old, New: n.New, Delta: n.Delta}
	return nil
}

// MarshalJSON writes the same shape UnmarshalJSON reads.
func (d Difference) MarshalJSON() ([]byte, error) {
	if d.Categorical {
		return json.Marshal(categoricalJSON{New: d.NewLabel, Old: d.OldLabel, Changed: d.Changed})
	}
	return json.Marshal(numericJSON{New: d.New, Old: d.Old, Delta: d.Delta})
}

// #endregion difference

// #region slice
// Slice types recognised in environment names.
const (
	SliceEMBB    = "embb"
	SliceURLLC   = "urllc"
	SliceUnknown = "unknown"
)

// #endregion slice
