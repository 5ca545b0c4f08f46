package main

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/danielpatrickdp/importance-shift/internal/batch"
	"github.com/danielpatrickdp/importance-shift/internal/envdiff"
	"github.com/danielpatrickdp/importance-shift/internal/eval"
	"github.com/danielpatrickdp/importance-shift/internal/gate"
	"github.com/danielpatrickdp/importance-shift/internal/oracle"
	"github.com/danielpatrickdp/importance-shift/internal/store"
)

// #region wiring
func openStore() (*store.Store, error) {
	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

// buildOracle returns the configured backend and a close func.
func buildOracle() (oracle.Oracle, func() error, error) {
	noop := func() error { return nil }
	var (
		o       oracle.Oracle
		closeFn = noop
	)
	oc := cfg.Oracle
	switch oc.Backend {
	case "openai":
		c, err := oracle.NewOpenAIOracle(oc.APIKey, oc.Model, oc.BaseURL, oc.Temperature)
		if err != nil {
			return nil, noop, err
		}
		o = c
	case "grpc":
		c, err := oracle.NewGRPCOracle(oc.Addr)
		if err != nil {
			return nil, noop, err
		}
		o, closeFn = c, c.Close
	case "file":
		o = oracle.FileOracle{Dir: oc.Dir}
	default:
		return nil, noop, fmt.Errorf("unknown oracle backend %q", oc.Backend)
	}
	if oc.Rate > 0 {
		burst := oc.Burst
		if burst < 1 {
			burst = 1
		}
		o = oracle.WithRateLimit(o, rate.NewLimiter(rate.Limit(oc.Rate), burst))
	}
	return o, closeFn, nil
}

func runnerConfig() batch.RunnerConfig {
	return batch.RunnerConfig{
		TopK:           cfg.TopK,
		Workers:        cfg.Workers,
		OracleTimeout:  cfg.Oracle.Timeout,
		CollapseGroups: cfg.CollapseGroups,
		Route:          cfg.MetricsFor,
		GateConfig:     gate.DefaultGateConfig(),
		EvalConfig: eval.EvalConfig{
			MaxCosineError: cfg.Eval.MaxCosineError,
			MaxNRMSE:       cfg.Eval.MaxNRMSE,
		},
	}
}

// targetDescriptors resolves the targets to process and their descriptors,
// either from a bundle or from one descriptor file for a single target.
func targetDescriptors(args []string, bundlePath, descPath string) (map[string][]envdiff.Descriptor, []string, error) {
	out := make(map[string][]envdiff.Descriptor)
	switch {
	case descPath != "":
		if len(args) != 1 {
			return nil, nil, fmt.Errorf("--descriptors needs exactly one target argument")
		}
		ds, err := envdiff.Load(descPath)
		if err != nil {
			return nil, nil, err
		}
		out[args[0]] = ds
		return out, args, nil
	case bundlePath != "":
		b, err := batch.LoadBundle(bundlePath)
		if err != nil {
			return nil, nil, err
		}
		targets := args
		if len(targets) == 0 {
			targets = b.Targets()
		}
		for _, t := range targets {
			ds, err := b.DescriptorsFor(t)
			if err != nil {
				return nil, nil, err
			}
			out[t] = ds
		}
		return out, targets, nil
	default:
		return nil, nil, fmt.Errorf("one of --bundle or --descriptors is required")
	}
}

// #endregion wiring
