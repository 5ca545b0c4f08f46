package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/importance-shift/internal/attribution"
	"github.com/danielpatrickdp/importance-shift/internal/batch"
)

var (
	recoverBundle      string
	recoverDescriptors string
	recoverExport      bool
)

var recoverCmd = &cobra.Command{
	Use:   "recover [target...]",
	Short: "Recover vectors for target environments via the reasoning oracle",
	Long: `For each target, asks the oracle for per-feature scaling factors against
each of the top-k nearest references, recomputes one vector per reference
(llm_<rank>) and merges them (llm_merged). Failed units are logged and
skipped; the run never aborts on one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		descs, targets, err := targetDescriptors(args, recoverBundle, recoverDescriptors)
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		o, closeOracle, err := buildOracle()
		if err != nil {
			return err
		}
		defer closeOracle()

		runner := batch.NewRunner(st, o, runnerConfig(), logger, recorder)
		var all []batch.UnitResult
		for _, t := range targets {
			results, err := runner.Recover(cmd.Context(), t, descs[t])
			all = append(all, results...)
			if err != nil {
				return err
			}
			if recoverExport {
				exportVariant(st, t, attribution.VariantMerged)
			}
		}
		printSummary(batch.Summarize(all))
		return nil
	},
}

var (
	extrapolateBundle      string
	extrapolateDescriptors string
	extrapolateExport      bool
)

var extrapolateCmd = &cobra.Command{
	Use:   "extrapolate [target...]",
	Short: "Project vectors for target environments from their two nearest references",
	RunE: func(cmd *cobra.Command, args []string) error {
		descs, targets, err := targetDescriptors(args, extrapolateBundle, extrapolateDescriptors)
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		runner := batch.NewRunner(st, nil, runnerConfig(), logger, recorder)
		var all []batch.UnitResult
		for _, t := range targets {
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			all = append(all, runner.Extrapolate(cmd.Context(), t, descs[t])...)
			if extrapolateExport {
				exportVariant(st, t, attribution.VariantExtrapolated)
			}
		}
		printSummary(batch.Summarize(all))
		return nil
	},
}

type exporter interface {
	ExportJSON(dir, envID, variant string) (string, error)
}

func exportVariant(st exporter, target, variant string) {
	path, err := st.ExportJSON(cfg.ExportDir, target, variant)
	if err != nil {
		logger.Warn("export skipped", zap.String("env", target), zap.String("variant", variant), zap.Error(err))
		return
	}
	logger.Info("exported", zap.String("path", path))
}

func printSummary(s batch.Summary) {
	fmt.Printf("Units: %d | recovered %d | extrapolated %d | skipped %d | failed %d\n",
		s.Total, s.Recovered, s.Extrapolated, s.Skipped, s.Failed)
	for kind, n := range s.ByKind {
		fmt.Printf("  %s: %d\n", kind, n)
	}
}

func init() {
	recoverCmd.Flags().StringVar(&recoverBundle, "bundle", "", "Bundle JSON with descriptors per target")
	recoverCmd.Flags().StringVar(&recoverDescriptors, "descriptors", "", "Descriptor file for a single target")
	recoverCmd.Flags().BoolVar(&recoverExport, "export", true, "Write llm_merged JSON to the export dir")

	extrapolateCmd.Flags().StringVar(&extrapolateBundle, "bundle", "", "Bundle JSON with descriptors per target")
	extrapolateCmd.Flags().StringVar(&extrapolateDescriptors, "descriptors", "", "Descriptor file for a single target")
	extrapolateCmd.Flags().BoolVar(&extrapolateExport, "export", true, "Write extrapolated JSON to the export dir")
}
