// Package eval compares recovered or projected attribution vectors against the
// measured ones and aggregates the errors per variant and metric.
package eval

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/importance-shift/internal/attribution"
)

// ErrZeroVector marks a comparison whose cosine was undefined because one side
// was all zero. The comparison is still returned with CosineError 1.
var ErrZeroVector = errors.New("zero vector: cosine undefined")

// #region evaluate
// Evaluate aligns both vectors over the sorted union of their features and
// returns cosine error, RMSE and RMSE normalized by max |actual|.
func Evaluate(actual, candidate attribution.Vector) (Comparison, error) {
	features := attribution.UnionFeatures(actual, candidate)
	if len(features) == 0 {
		return Comparison{CosineError: 1}, fmt.Errorf("empty domain: %w", ErrZeroVector)
	}
	a := mat.NewVecDense(len(features), actual.Aligned(features))
	c := mat.NewVecDense(len(features), candidate.Aligned(features))

	var diff mat.VecDense
	diff.SubVec(a, c)
	rmse := mat.Norm(&diff, 2) / math.Sqrt(float64(len(features)))

	var nrmse float64
	if maxAbs := mat.Norm(a, math.Inf(1)); maxAbs > 0 {
		nrmse = rmse / maxAbs
	}

	cmp := Comparison{RMSE: rmse, NRMSEMax: nrmse}
	na, nc := mat.Norm(a, 2), mat.Norm(c, 2)
	if na == 0 || nc == 0 {
		cmp.CosineError = 1
		return cmp, ErrZeroVector
	}
	if mat.Equal(a, c) {
		return cmp, nil
	}
	cos := mat.Dot(a, c) / (na * nc)
	cmp.CosineError = 1 - math.Max(-1, math.Min(1, cos))
	return cmp, nil
}

// #endregion evaluate

// #region eval-harness
// Harness evaluates every candidate variant of one (environment, metric).
type Harness struct {
	config EvalConfig
}

// NewHarness creates a harness with the given thresholds.
func NewHarness(config EvalConfig) *Harness {
	return &Harness{config: config}
}

// Compare evaluates candidates[variant] against actual for each variant in
// order. An all-zero actual or a missing candidate becomes a Skip.
func (h *Harness) Compare(envID, metric string, actual attribution.Vector, candidates map[string]attribution.Vector, variants []string) Report {
	var rep Report
	if actual.Mass() == 0 {
		for _, v := range variants {
			rep.Skipped = append(rep.Skipped, Skip{Variant: v, Metric: metric, EnvID: envID, Reason: "actual vector is all zero"})
		}
		return rep
	}

	for _, v := range variants {
		cand, ok := candidates[v]
		if !ok {
			rep.Skipped = append(rep.Skipped, Skip{Variant: v, Metric: metric, EnvID: envID, Reason: "no candidate for variant"})
			continue
		}
		cmp, err := Evaluate(actual, cand)
		rec := Record{Variant: v, Metric: metric, EnvID: envID, Comparison: cmp}
		if errors.Is(err, ErrZeroVector) {
			rec.Anomaly = "zero_vector"
		}
		rec.Pass = rec.Anomaly == "" && h.within(cmp)
		rep.Records = append(rep.Records, rec)
	}
	return rep
}

func (h *Harness) within(c Comparison) bool {
	if h.config.MaxCosineError > 0 && c.CosineError > h.config.MaxCosineError {
		return false
	}
	if h.config.MaxNRMSE > 0 && c.NRMSEMax > h.config.MaxNRMSE {
		return false
	}
	return true
}

// #endregion eval-harness

// #region aggregate
// Aggregate averages records per (variant, metric), ordered by metric then
// variant.
func Aggregate(records []Record) []Summary {
	type key struct{ variant, metric string }
	groups := make(map[key][]Record)
	for _, r := range records {
		k := key{r.Variant, r.Metric}
		groups[k] = append(groups[k], r)
	}

	out := make([]Summary, 0, len(groups))
	for k, rs := range groups {
		cos := make([]float64, len(rs))
		rmse := make([]float64, len(rs))
		nrmse := make([]float64, len(rs))
		for i, r := range rs {
			cos[i], rmse[i], nrmse[i] = r.CosineError, r.RMSE, r.NRMSEMax
		}
		out = append(out, Summary{
			Variant:     k.variant,
			Metric:      k.metric,
			N:           len(rs),
			CosineError: stat.Mean(cos, nil),
			RMSE:        stat.Mean(rmse, nil),
			NRMSEMax:    stat.Mean(nrmse, nil),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Metric != out[j].Metric {
			return out[i].Metric < out[j].Metric
		}
		return out[i].Variant < out[j].Variant
	})
	return out
}

// #endregion aggregate
