package shift

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/danielpatrickdp/importance-shift/internal/attribution"
)

func TestRecomputeScenario(t *testing.T) {
	baseline := attribution.NewVector("ORAN_log_7", "Throughput_Mbps", map[string]float64{"A": 0.6, "B": 0.4})

	res, err := Recompute(baseline, attribution.ScalingMap{"A": 2.0}, 1.5)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	if got := res.Vector.Values["A"]; math.Abs(got-1.125) > 1e-9 {
		t.Fatalf("A: expected 1.125, got %f", got)
	}
	if got := res.Vector.Values["B"]; math.Abs(got-0.375) > 1e-9 {
		t.Fatalf("B: expected 0.375, got %f", got)
	}
	if math.Abs(res.Metrics.UnnormMass-1.6) > 1e-12 {
		t.Fatalf("expected unnormalized mass 1.6, got %f", res.Metrics.UnnormMass)
	}
	if math.Abs(res.Metrics.RecoveredMass-1.5) > 1e-6 {
		t.Fatalf("expected recovered mass 1.5, got %f", res.Metrics.RecoveredMass)
	}
	if res.Decision.Action != "rescale" {
		t.Fatalf("expected rescale, got %s", res.Decision.Action)
	}
	if len(res.Metrics.Scaled) != 1 || res.Metrics.Scaled[0] != "A" {
		t.Fatalf("expected scaled [A], got %v", res.Metrics.Scaled)
	}
}

func TestRecomputeIdentity(t *testing.T) {
	baseline := attribution.NewVector("e", "m", map[string]float64{"A": 0.123456, "B": 2.5, "C": 0})

	res, err := Recompute(baseline, attribution.ScalingMap{}, 1.0)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	for f, want := range baseline.Values {
		if got := res.Vector.Values[f]; math.Abs(got-want) > 1e-6 {
			t.Fatalf("%s: expected %f, got %f", f, want, got)
		}
	}
	if res.Decision.Action != "identity" {
		t.Fatalf("expected identity, got %s", res.Decision.Action)
	}
}

func TestRecomputeMassPreserved(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		values := map[string]float64{}
		scaling := attribution.ScalingMap{}
		n := 2 + rng.Intn(12)
		for i := 0; i < n; i++ {
			f := string(rune('a' + i))
			values[f] = rng.Float64()
			if rng.Intn(2) == 0 {
				scaling[f] = 0.1 + rng.Float64()*3
			}
		}
		ratio := 0.1 + rng.Float64()*4
		baseline := attribution.NewVector("e", "m", values)

		res, err := Recompute(baseline, scaling, ratio)
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		want := baseline.Mass() * ratio
		// Each of n values is rounded to 6 dp.
		tol := float64(n) * 5e-7
		if got := res.Vector.Mass(); math.Abs(got-want) > tol {
			t.Fatalf("trial %d: mass %f, expected %f", trial, got, want)
		}
	}
}

func TestRecomputeDoesNotMutateBaseline(t *testing.T) {
	baseline := attribution.NewVector("e", "m", map[string]float64{"A": 0.6, "B": 0.4})
	before := baseline.Clone()

	if _, err := Recompute(baseline, attribution.ScalingMap{"A": 3}, 2); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	for f, v := range before.Values {
		if baseline.Values[f] != v {
			t.Fatalf("baseline mutated at %s: %f != %f", f, baseline.Values[f], v)
		}
	}
}

func TestRecomputeReportsUnmatchedFactors(t *testing.T) {
	baseline := attribution.NewVector("e", "m", map[string]float64{"A": 1})
	res, err := Recompute(baseline, attribution.ScalingMap{"Z": 2, "Y": 0.5}, 1)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if len(res.Metrics.Unmatched) != 2 || res.Metrics.Unmatched[0] != "Y" || res.Metrics.Unmatched[1] != "Z" {
		t.Fatalf("expected unmatched [Y Z], got %v", res.Metrics.Unmatched)
	}
	if res.Vector.Values["A"] != 1 {
		t.Fatalf("expected A=1, got %f", res.Vector.Values["A"])
	}
}

func TestRecomputeErrors(t *testing.T) {
	base := attribution.NewVector("e", "m", map[string]float64{"A": 0.6, "B": 0.4})
	zero := attribution.NewVector("e", "m", map[string]float64{"A": 0, "B": 0})

	tests := []struct {
		name     string
		baseline attribution.Vector
		scaling  attribution.ScalingMap
		ratio    float64
		want     error
	}{
		{"zero factor", base, attribution.ScalingMap{"A": 0}, 1, attribution.ErrInvalidScalingFactor},
		{"negative factor", base, attribution.ScalingMap{"B": -0.5}, 1, attribution.ErrInvalidScalingFactor},
		{"nan factor", base, attribution.ScalingMap{"B": math.NaN()}, 1, attribution.ErrInvalidScalingFactor},
		{"zero baseline", zero, attribution.ScalingMap{"A": 2}, 1, attribution.ErrDegenerateShift},
		{"nan ratio", base, nil, math.NaN(), attribution.ErrUndefinedRatio},
		{"inf ratio", base, nil, math.Inf(1), attribution.ErrUndefinedRatio},
		{"negative ratio", base, nil, -1, attribution.ErrUndefinedRatio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Recompute(tt.baseline, tt.scaling, tt.ratio)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestMetricRatio(t *testing.T) {
	r, err := MetricRatio(30, 20)
	if err != nil {
		t.Fatalf("MetricRatio: %v", err)
	}
	if r != 1.5 {
		t.Fatalf("expected 1.5, got %f", r)
	}
	if _, err := MetricRatio(30, 0); !errors.Is(err, attribution.ErrUndefinedRatio) {
		t.Fatalf("expected ErrUndefinedRatio, got %v", err)
	}
	if _, err := MetricRatio(math.NaN(), 1); !errors.Is(err, attribution.ErrUndefinedRatio) {
		t.Fatalf("expected ErrUndefinedRatio, got %v", err)
	}
}

func TestMergeSums(t *testing.T) {
	a := attribution.NewVector("new", "m", map[string]float64{"A": 1.0, "B": 0.5})
	b := attribution.NewVector("new", "m", map[string]float64{"A": 0.25, "C": 2})

	merged, err := Merge("new", "m", []attribution.Vector{a, b})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	want := map[string]float64{"A": 1.25, "B": 0.5, "C": 2}
	if len(merged.Values) != len(want) {
		t.Fatalf("expected %d features, got %v", len(want), merged.Values)
	}
	for f, w := range want {
		if math.Abs(merged.Values[f]-w) > 1e-12 {
			t.Fatalf("%s: expected %f, got %f", f, w, merged.Values[f])
		}
	}
	if merged.EnvID != "new" || merged.Metric != "m" {
		t.Fatalf("unexpected key %s/%s", merged.EnvID, merged.Metric)
	}

	if _, err := Merge("new", "m", nil); !errors.Is(err, attribution.ErrMissingReferenceData) {
		t.Fatalf("expected ErrMissingReferenceData, got %v", err)
	}
}
