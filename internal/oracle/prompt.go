package oracle

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/danielpatrickdp/importance-shift/internal/attribution"
	"github.com/danielpatrickdp/importance-shift/internal/envdiff"
)

// #region prompt
// PromptInput is everything a scaling request is built from.
type PromptInput struct {
	Metric     string
	Descriptor envdiff.Descriptor
	Baseline   attribution.Vector            // collapsed reference vector for Metric
	KPMs       map[string][2]float64         // metric -> {past, current} means
	Extra      map[string]attribution.Vector // other metrics' reference vectors, for context
}

var (
	referenceLine = regexp.MustCompile(`### Reference Environment: ([^\n]+)`)
	kpmLine       = regexp.MustCompile(`KPM is: ([^\n]+)`)
)

// minDelta hides numeric differences too small to mention.
const minDelta = 0.001

// BuildScalingPrompt renders a request for per-feature β values. The header
// lines are what ParsePromptHeader reads back.
func BuildScalingPrompt(in PromptInput) string {
	var b strings.Builder
	features := in.Baseline.Features()

	fmt.Fprintf(&b, "Estimate the multiplicative importance shift β of every feature for %s when moving\n", in.Metric)
	b.WriteString("from the reference environment below to the new environment.\n")
	b.WriteString("Reason step by step, then end your answer with one line of JSON holding only numbers:\n")
	slots := make([]string, len(features))
	for i, f := range features {
		slots[i] = fmt.Sprintf("%q: ", f)
	}
	fmt.Fprintf(&b, "{%q: {%s}}\n", in.Metric, strings.Join(slots, ", "))
	fmt.Fprintf(&b, "KPM is: %s\n", in.Metric)

	fmt.Fprintf(&b, "\n### Reference Environment: %s\n", in.Descriptor.EnvName)

	b.WriteString("\n• Differences from new environment:\n")
	wrote := false
	for _, f := range sortedKeys(in.Descriptor.Differences) {
		d := in.Descriptor.Differences[f]
		switch {
		case d.Categorical && d.Changed:
			fmt.Fprintf(&b, "  - %s: changed from %s to %s\n", f, d.OldLabel, d.NewLabel)
			wrote = true
		case !d.Categorical && (d.Delta > minDelta || d.Delta < -minDelta):
			fmt.Fprintf(&b, "  - %s: Δ = %.4f (old = %g, new = %g)\n", f, d.Delta, d.Old, d.New)
			wrote = true
		}
	}
	if !wrote {
		b.WriteString("  - No meaningful changes.\n")
	}

	if len(in.KPMs) > 0 {
		b.WriteString("\n• Past vs. Current KPMs:\n")
		for _, m := range sortedKeys(in.KPMs) {
			v := in.KPMs[m]
			fmt.Fprintf(&b, "  - %s: past = %.4f, current = %.4f\n", m, v[0], v[1])
		}
	}

	b.WriteString("\n• Normalized SHAP values:\n")
	writeShares(&b, in.Metric, in.Baseline)
	for _, m := range sortedKeys(in.Extra) {
		if m != in.Metric {
			writeShares(&b, m, in.Extra[m])
		}
	}
	return b.String()
}

func writeShares(b *strings.Builder, metric string, v attribution.Vector) {
	shares := v.Shares()
	parts := make([]string, 0, len(shares))
	for _, f := range v.Features() {
		parts = append(parts, fmt.Sprintf("%s = %.4f", f, shares[f]))
	}
	fmt.Fprintf(b, "  - %s: %s\n", metric, strings.Join(parts, ", "))
}

// ParsePromptHeader reads the reference environment and target metric back
// out of a prompt built by BuildScalingPrompt.
func ParsePromptHeader(prompt string) (reference, metric string, ok bool) {
	r := referenceLine.FindStringSubmatch(prompt)
	k := kpmLine.FindStringSubmatch(prompt)
	if r == nil || k == nil {
		return "", "", false
	}
	return strings.TrimSpace(r[1]), strings.TrimSpace(k[1]), true
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// #endregion prompt
