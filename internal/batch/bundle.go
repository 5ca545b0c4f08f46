package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/danielpatrickdp/importance-shift/internal/attribution"
	"github.com/danielpatrickdp/importance-shift/internal/envdiff"
	"github.com/danielpatrickdp/importance-shift/internal/store"
)

// #region bundle-types
// Bundle is the JSON import format: measured vectors, metric samples and the
// descriptor lists of each target environment.
type Bundle struct {
	Description string                     `json:"description"`
	Vectors     []BundleVector             `json:"vectors"`
	Samples     []BundleSamples            `json:"samples"`
	Descriptors map[string]json.RawMessage `json:"descriptors"` // target env -> descriptor array
}

// BundleVector is one measured attribution vector.
type BundleVector struct {
	EnvID  string             `json:"env_id"`
	Metric string             `json:"metric"`
	Values map[string]float64 `json:"values"`
}

// BundleSamples is the metric samples of one environment.
type BundleSamples struct {
	EnvID  string    `json:"env_id"`
	Metric string    `json:"metric"`
	Values []float64 `json:"values"`
}

// ImportStats counts what an import wrote.
type ImportStats struct {
	Vectors   int
	Samples   int
	Unchanged int // measured vectors already stored with identical content
}

// #endregion bundle-types

// #region bundle-loader
// LoadBundle reads and parses a bundle file.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: %w", path, err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse bundle %s: %w", path, err)
	}
	return &b, nil
}

// ToVector converts a BundleVector to a domain Vector.
func (bv BundleVector) ToVector() attribution.Vector {
	return attribution.NewVector(bv.EnvID, bv.Metric, bv.Values)
}

// Targets lists the target environments that carry descriptors.
func (b *Bundle) Targets() []string {
	out := make([]string, 0, len(b.Descriptors))
	for t := range b.Descriptors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// DescriptorsFor decodes and validates the descriptors of target.
func (b *Bundle) DescriptorsFor(target string) ([]envdiff.Descriptor, error) {
	raw, ok := b.Descriptors[target]
	if !ok {
		return nil, fmt.Errorf("descriptors for %s: %w", target, attribution.ErrMissingReferenceData)
	}
	return envdiff.Decode(raw)
}

// Import writes the bundle's vectors and samples to st. Source tags every
// imported vector.
func (b *Bundle) Import(st *store.Store, source string) (ImportStats, error) {
	var stats ImportStats
	for _, bv := range b.Vectors {
		_, err := st.GetVector(bv.EnvID, bv.Metric, attribution.VariantMeasured)
		existed := err == nil
		if err != nil && !errors.Is(err, attribution.ErrMissingReferenceData) {
			return stats, err
		}
		if err := st.ImportVector(bv.ToVector(), source); err != nil {
			return stats, err
		}
		if existed {
			stats.Unchanged++
			continue
		}
		stats.Vectors++
	}
	for _, s := range b.Samples {
		if err := st.PutSamples(s.EnvID, s.Metric, s.Values); err != nil {
			return stats, err
		}
		stats.Samples++
	}
	return stats, nil
}

// #endregion bundle-loader

// #region vector-file
// LoadVectorFile reads a {metric: {feature: value}} document, the layout
// Store.ExportJSON writes, as vectors for envID.
func LoadVectorFile(envID, path string) ([]attribution.Vector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vector file %s: %w", path, err)
	}
	var doc map[string]map[string]float64
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse vector file %s: %w", path, err)
	}
	metrics := make([]string, 0, len(doc))
	for m := range doc {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)
	out := make([]attribution.Vector, 0, len(doc))
	for _, m := range metrics {
		out = append(out, attribution.NewVector(envID, m, doc[m]))
	}
	return out, nil
}

// #endregion vector-file
