// Package batch runs recovery, extrapolation and evaluation for target
// environments against the store. Units are independent: a failing unit is
// tagged and logged, and the run carries on.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/importance-shift/internal/attribution"
	"github.com/danielpatrickdp/importance-shift/internal/envdiff"
	"github.com/danielpatrickdp/importance-shift/internal/eval"
	"github.com/danielpatrickdp/importance-shift/internal/gate"
	"github.com/danielpatrickdp/importance-shift/internal/logging"
	"github.com/danielpatrickdp/importance-shift/internal/metrics"
	"github.com/danielpatrickdp/importance-shift/internal/oracle"
	"github.com/danielpatrickdp/importance-shift/internal/parser"
	"github.com/danielpatrickdp/importance-shift/internal/projection"
	"github.com/danielpatrickdp/importance-shift/internal/shift"
	"github.com/danielpatrickdp/importance-shift/internal/store"
)

var tracer = otel.Tracer("importance-shift.batch")

// #region runner
// Runner wires the store, oracle and pipeline stages together.
type Runner struct {
	store     *store.Store
	oracle    oracle.Oracle
	config    RunnerConfig
	collapser *attribution.Collapser
	gate      *gate.Gate
	log       *zap.Logger
	rec       *metrics.Recorder
}

// NewRunner creates a runner. log and rec may be nil.
func NewRunner(st *store.Store, o oracle.Oracle, config RunnerConfig, log *zap.Logger, rec *metrics.Recorder) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if config.TopK < 1 {
		config.TopK = 1
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Runner{
		store:     st,
		oracle:    o,
		config:    config,
		collapser: attribution.NewCollapser(config.CollapseGroups...),
		gate:      gate.NewGate(config.GateConfig),
		log:       log,
		rec:       rec,
	}
}

func (r *Runner) metricsFor(envName string) []string {
	if r.config.Route == nil {
		return DefaultMetrics
	}
	return r.config.Route(envdiff.SliceType(envName))
}

// #endregion runner

// #region recover
// Units lists the recovery units for target: the TopK nearest references,
// each paired with the metrics routed for its slice type.
func (r *Runner) Units(target string, descs []envdiff.Descriptor) []Unit {
	var units []Unit
	for i, d := range envdiff.Nearest(descs, r.config.TopK) {
		for _, m := range r.metricsFor(d.EnvName) {
			units = append(units, Unit{Target: target, Reference: d, Rank: i + 1, Metric: m})
		}
	}
	return units
}

// Recover runs every unit for target, then merges the recovered vectors per
// metric into the llm_merged variant. The returned slice holds one result per
// unit in Units order followed by one per merge. The error is non-nil only if
// ctx was canceled.
func (r *Runner) Recover(ctx context.Context, target string, descs []envdiff.Descriptor) ([]UnitResult, error) {
	units := r.Units(target, descs)
	results := make([]UnitResult, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)
	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			results[i] = r.recoverUnit(gctx, u)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return results, err
	}

	byMetric := make(map[string][]attribution.Vector)
	for _, res := range results {
		if res.Action == ActionRecovered {
			byMetric[res.Metric] = append(byMetric[res.Metric], res.Vector)
		}
	}
	metricNames := make([]string, 0, len(byMetric))
	for m := range byMetric {
		metricNames = append(metricNames, m)
	}
	sort.Strings(metricNames)
	for _, m := range metricNames {
		results = append(results, r.merge(target, m, byMetric[m]))
	}
	return results, nil
}

func (r *Runner) recoverUnit(ctx context.Context, u Unit) UnitResult {
	ctx, span := tracer.Start(ctx, "batch.recover_unit", trace.WithAttributes(
		attribute.String("target", u.Target),
		attribute.String("reference", u.Reference.EnvName),
		attribute.String("metric", u.Metric),
		attribute.Int("rank", u.Rank),
	))
	defer span.End()

	res := UnitResult{
		UnitID:    uuid.New().String(),
		Target:    u.Target,
		Reference: u.Reference.EnvName,
		Metric:    u.Metric,
		Rank:      u.Rank,
		Variant:   attribution.RecoveredVariant(u.Rank),
	}
	detail := logging.UnitRecord{
		TargetEnv:    u.Target,
		ReferenceEnv: u.Reference.EnvName,
		Metric:       u.Metric,
		Rank:         u.Rank,
	}
	finish := func(action string, err error, reason string) UnitResult {
		res.Action, res.Err, res.Reason = action, err, reason
		if err != nil && res.Kind == "" {
			res.Kind = attribution.Kind(err)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, res.Kind)
		}
		r.record(res, detail)
		return res
	}

	// 1. Inputs
	measured, err := r.store.GetVector(u.Reference.EnvName, u.Metric, attribution.VariantMeasured)
	if err != nil {
		return finish(ActionSkipped, err, "no measured baseline for reference")
	}
	baseline := r.collapser.Collapse(measured)

	refMean, err := r.store.MeanSample(u.Reference.EnvName, u.Metric)
	if err != nil {
		return finish(ActionSkipped, err, "no metric samples for reference")
	}
	curMean, err := r.store.MeanSample(u.Target, u.Metric)
	if err != nil {
		return finish(ActionSkipped, err, "no metric samples for target")
	}
	ratio, err := shift.MetricRatio(curMean, refMean)
	if err != nil {
		return finish(ActionFailed, err, "metric ratio undefined")
	}
	detail.Ratio = ratio

	// 2. Oracle
	prompt := oracle.BuildScalingPrompt(oracle.PromptInput{
		Metric:     u.Metric,
		Descriptor: u.Reference,
		Baseline:   baseline,
		KPMs:       map[string][2]float64{u.Metric: {refMean, curMean}},
		Extra:      r.contextVectors(u),
	})
	text, err := r.complete(ctx, prompt)
	if saveErr := r.store.SaveResponse(store.OracleResponse{
		UnitID:       res.UnitID,
		TargetEnv:    u.Target,
		ReferenceEnv: u.Reference.EnvName,
		Metric:       u.Metric,
		Rank:         u.Rank,
		Prompt:       prompt,
		Response:     text,
	}); saveErr != nil {
		r.log.Warn("failed to save oracle response", zap.String("unit", res.UnitID), zap.Error(saveErr))
	}
	if err != nil {
		return finish(ActionFailed, fmt.Errorf("%w: oracle: %v", attribution.ErrParse, err), "oracle call failed")
	}

	// 3. Parse
	parsed, err := parser.ParseFor(text, u.Metric)
	if err != nil {
		return finish(ActionFailed, err, "no usable scaling block")
	}
	detail.ParseLine = parsed.Line
	detail.Rejected = len(parsed.Rejected)
	scaling, err := r.collapser.CollapseScaling(parsed.Scaling)
	if err != nil {
		return finish(ActionFailed, err, "scaling map rejected")
	}
	detail.Scaling = scaling

	// 4. Recompute
	out, err := shift.Recompute(baseline, scaling, ratio)
	if err != nil {
		return finish(ActionFailed, err, "recompute failed")
	}
	detail.Unmatched = out.Metrics.Unmatched

	// 5. Gate
	decision := r.gate.Evaluate(baseline, out.Vector, out.Metrics)
	detail.GateAction = decision.Action
	detail.GateSoftScore = decision.SoftScore
	detail.GateVetoed = decision.Vetoed
	detail.GateReason = decision.Reason
	if decision.Vetoed {
		res.Kind = KindGateVeto
		return finish(ActionFailed, errors.New(decision.Reason), "gate rejected recovered vector")
	}

	// 6. Persist
	vec := out.Vector
	vec.EnvID = u.Target
	id, err := r.store.PutVector(vec, res.Variant, res.UnitID)
	if err != nil {
		return finish(ActionFailed, err, "persist recovered vector")
	}
	res.Vector, res.VectorID = vec, id
	r.rec.ObserveMassRatio(out.Metrics.BaselineMass, out.Metrics.RecoveredMass)
	return finish(ActionRecovered, nil, out.Decision.Reason)
}

// contextVectors loads the reference's other measured metrics so the oracle
// sees the whole decomposition. Missing ones are left out.
func (r *Runner) contextVectors(u Unit) map[string]attribution.Vector {
	extra := make(map[string]attribution.Vector)
	for _, m := range r.metricsFor(u.Reference.EnvName) {
		if m == u.Metric {
			continue
		}
		v, err := r.store.GetVector(u.Reference.EnvName, m, attribution.VariantMeasured)
		if err == nil {
			extra[m] = r.collapser.Collapse(v)
		}
	}
	return extra
}

func (r *Runner) complete(ctx context.Context, prompt string) (string, error) {
	octx, cancel := context.WithTimeout(ctx, r.config.OracleTimeout)
	defer cancel()
	start := time.Now()
	text, err := r.oracle.Complete(octx, oracle.SystemMessage, prompt)
	r.rec.ObserveOracle(time.Since(start), err)
	return text, err
}

func (r *Runner) merge(target, metric string, vs []attribution.Vector) UnitResult {
	res := UnitResult{
		UnitID:  uuid.New().String(),
		Target:  target,
		Metric:  metric,
		Variant: attribution.VariantMerged,
	}
	detail := logging.UnitRecord{TargetEnv: target, Metric: metric}

	merged, err := shift.Merge(target, metric, vs)
	if err == nil {
		res.VectorID, err = r.store.PutVector(merged, attribution.VariantMerged, res.UnitID)
	}
	if err != nil {
		res.Action, res.Err, res.Kind, res.Reason = ActionFailed, err, attribution.Kind(err), "merge failed"
	} else {
		res.Action, res.Vector = ActionRecovered, merged
		res.Reason = fmt.Sprintf("merged %d recovered vectors", len(vs))
	}
	r.record(res, detail)
	return res
}

// #endregion recover

// #region extrapolate
// Extrapolate projects a vector for target from its two nearest references,
// once per metric routed for target's slice type.
func (r *Runner) Extrapolate(ctx context.Context, target string, descs []envdiff.Descriptor) []UnitResult {
	var results []UnitResult
	for _, m := range r.metricsFor(target) {
		results = append(results, r.extrapolateMetric(ctx, target, m, descs))
	}
	return results
}

func (r *Runner) extrapolateMetric(ctx context.Context, target, metric string, descs []envdiff.Descriptor) UnitResult {
	_, span := tracer.Start(ctx, "batch.extrapolate", trace.WithAttributes(
		attribute.String("target", target),
		attribute.String("metric", metric),
	))
	defer span.End()

	res := UnitResult{
		UnitID:  uuid.New().String(),
		Target:  target,
		Metric:  metric,
		Variant: attribution.VariantExtrapolated,
	}
	detail := logging.UnitRecord{TargetEnv: target, Metric: metric}

	loaded := make(map[string]attribution.Vector, 2)
	load := func(envID string) (attribution.Vector, error) {
		v, err := r.store.GetVector(envID, metric, attribution.VariantMeasured)
		if err != nil {
			return attribution.Vector{}, err
		}
		loaded[envID] = r.collapser.Collapse(v)
		return loaded[envID], nil
	}

	proj, refs, err := projection.ProjectFromDescriptors(descs, load)
	res.Reference = refs[0]
	detail.ReferenceEnv, detail.SecondEnv = refs[0], refs[1]
	switch {
	case errors.Is(err, attribution.ErrMissingReferenceData):
		res.Action, res.Err, res.Kind, res.Reason = ActionSkipped, err, attribution.Kind(err), "fewer than two usable references"
	case err != nil:
		res.Action, res.Err, res.Kind, res.Reason = ActionFailed, err, attribution.Kind(err), "projection failed"
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, res.Kind)
		r.record(res, detail)
		return res
	}
	detail.Alpha, detail.Regime = proj.Alpha, string(proj.Regime)

	decision := r.gate.EvaluateProjection(loaded[refs[0]], loaded[refs[1]], proj.Vector)
	detail.GateAction, detail.GateVetoed, detail.GateReason = decision.Action, decision.Vetoed, decision.Reason
	detail.GateSoftScore = decision.SoftScore
	if decision.Vetoed {
		res.Action, res.Kind, res.Err, res.Reason = ActionFailed, KindGateVeto, errors.New(decision.Reason), "gate rejected projection"
		r.record(res, detail)
		return res
	}

	vec := proj.Vector
	vec.EnvID = target
	id, err := r.store.PutVector(vec, attribution.VariantExtrapolated, res.UnitID)
	if err != nil {
		res.Action, res.Err, res.Kind, res.Reason = ActionFailed, err, attribution.Kind(err), "persist projected vector"
		r.record(res, detail)
		return res
	}
	res.Action, res.Vector, res.VectorID = ActionExtrapolated, vec, id
	res.Reason = fmt.Sprintf("%s, alpha %.4f, clipped %v", proj.Regime, proj.Alpha, proj.Clipped)
	r.record(res, detail)
	return res
}

// #endregion extrapolate

// #region evaluate
// Evaluate compares every stored variant of each target against its measured
// vector, persists the records under runID and returns the combined report.
func (r *Runner) Evaluate(ctx context.Context, runID string, targets []string) (eval.Report, error) {
	harness := eval.NewHarness(r.config.EvalConfig)
	var report eval.Report
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		for _, m := range r.metricsFor(target) {
			stored, err := r.store.ListVectors(target, m)
			if err != nil {
				return report, fmt.Errorf("list %s/%s: %w", target, m, err)
			}
			actual, ok := stored[attribution.VariantMeasured]
			if !ok {
				report.Skipped = append(report.Skipped, eval.Skip{Metric: m, EnvID: target, Reason: "no measured vector"})
				continue
			}
			actual = r.collapser.Collapse(actual)
			variants := make([]string, 0, len(stored))
			for v := range stored {
				if v != attribution.VariantMeasured {
					variants = append(variants, v)
				}
			}
			sort.Strings(variants)

			rep := harness.Compare(target, m, actual, stored, variants)
			report.Records = append(report.Records, rep.Records...)
			report.Skipped = append(report.Skipped, rep.Skipped...)
		}
	}
	for _, rec := range report.Records {
		r.rec.ObserveEval(rec.Variant, rec.CosineError)
	}
	if err := r.store.SaveEvaluations(runID, report.Records); err != nil {
		return report, err
	}
	return report, nil
}

// #endregion evaluate

// #region record
// record writes the provenance row, the log line and the outcome counter.
func (r *Runner) record(res UnitResult, detail logging.UnitRecord) {
	fields := []zap.Field{
		zap.String("unit", res.UnitID),
		zap.String("env", res.Target),
		zap.String("metric", res.Metric),
		zap.String("variant", res.Variant),
	}
	if res.Reference != "" {
		fields = append(fields, zap.String("reference", res.Reference))
	}
	switch res.Action {
	case ActionFailed, ActionSkipped:
		fields = append(fields, zap.String("kind", res.Kind), zap.Error(res.Err))
		r.log.Warn("unit "+res.Action, fields...)
	default:
		r.log.Info("unit "+res.Action, append(fields, zap.String("reason", res.Reason))...)
	}

	reason := res.Reason
	if res.Err != nil {
		reason = fmt.Sprintf("%s: %v", res.Reason, res.Err)
	}
	entry := logging.ProvenanceEntry{
		UnitID:     res.UnitID,
		EnvID:      res.Target,
		Metric:     res.Metric,
		Variant:    res.Variant,
		Action:     res.Action,
		Kind:       res.Kind,
		DetailJSON: logging.DetailJSON(detail),
		Reason:     reason,
	}
	if err := logging.LogDecision(r.store.DB(), entry); err != nil {
		r.log.Error("failed to log provenance", zap.String("unit", res.UnitID), zap.Error(err))
	}
	r.rec.ObserveUnit(res.Action, res.Kind)
}

// #endregion record

// #region summarize
// Summarize counts outcomes.
func Summarize(results []UnitResult) Summary {
	s := Summary{Total: len(results), ByKind: make(map[string]int)}
	for _, r := range results {
		switch r.Action {
		case ActionRecovered:
			s.Recovered++
		case ActionExtrapolated:
			s.Extrapolated++
		case ActionSkipped:
			s.Skipped++
		case ActionFailed:
			s.Failed++
		}
		if r.Kind != "" {
			s.ByKind[r.Kind]++
		}
	}
	return s
}

// #endregion summarize
