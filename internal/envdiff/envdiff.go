// Package envdiff loads environment-difference descriptors and picks
// reference environments from them.
package envdiff

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/danielpatrickdp/importance-shift/internal/attribution"
)

// #region load
// Load reads a JSON array of descriptors. A missing file is
// ErrMissingReferenceData.
func Load(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("descriptor file %s: %w", path, attribution.ErrMissingReferenceData)
	}
	if err != nil {
		return nil, fmt.Errorf("read descriptor file: %w", err)
	}
	return Decode(data)
}

// Decode parses descriptor JSON.
func Decode(data []byte) ([]Descriptor, error) {
	var ds []Descriptor
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("decode descriptors: %w", err)
	}
	for i, d := range ds {
		if d.EnvName == "" {
			return nil, fmt.Errorf("descriptor %d: empty env_name", i)
		}
		if d.Distance < 0 {
			return nil, fmt.Errorf("descriptor %s: negative distance %v", d.EnvName, d.Distance)
		}
	}
	return ds, nil
}

// #endregion load

// #region select
// SortByDistance returns a copy of ds ordered by ascending distance. Ties keep
// input order.
func SortByDistance(ds []Descriptor) []Descriptor {
	out := make([]Descriptor, len(ds))
	copy(out, ds)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

// Nearest returns up to k descriptors closest to the new environment.
func Nearest(ds []Descriptor, k int) []Descriptor {
	sorted := SortByDistance(ds)
	if k < len(sorted) {
		sorted = sorted[:k]
	}
	return sorted
}

// SliceType reads the slice type out of an environment name.
func SliceType(envName string) string {
	lower := strings.ToLower(envName)
	switch {
	case strings.Contains(lower, SliceURLLC):
		return SliceURLLC
	case strings.Contains(lower, SliceEMBB):
		return SliceEMBB
	default:
		return SliceUnknown
	}
}

// ChangedFeatures lists features whose value moved, sorted by name.
func (d Descriptor) ChangedFeatures() []string {
	var out []string
	for f, diff := range d.Differences {
		if (diff.Categorical && diff.Changed) || (!diff.Categorical && diff.Delta != 0) {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// #endregion select
