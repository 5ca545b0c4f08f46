package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/importance-shift/internal/batch"
	"github.com/danielpatrickdp/importance-shift/internal/eval"
)

var evaluateRunID string

var evaluateCmd = &cobra.Command{
	Use:   "evaluate target...",
	Short: "Compare every stored variant of the targets against their measured vectors",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		runID := evaluateRunID
		if runID == "" {
			runID = time.Now().UTC().Format("20060102T150405") + "-" + uuid.New().String()[:8]
		}
		runner := batch.NewRunner(st, nil, runnerConfig(), logger, recorder)
		report, err := runner.Evaluate(cmd.Context(), runID, args)
		if err != nil {
			return err
		}
		for _, s := range report.Skipped {
			logger.Warn("comparison skipped", zap.String("env", s.EnvID), zap.String("metric", s.Metric),
				zap.String("variant", s.Variant), zap.String("reason", s.Reason))
		}

		if err := os.MkdirAll(cfg.ExportDir, 0o755); err != nil {
			return err
		}
		path := filepath.Join(cfg.ExportDir, "eval_"+runID+".csv")
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := eval.WriteCSV(f, report.Records); err != nil {
			return err
		}
		fmt.Printf("Run %s: %d comparisons, %d skipped -> %s\n", runID, len(report.Records), len(report.Skipped), path)
		return writeSummaries(eval.Aggregate(report.Records))
	},
}

var summarizeRunID string

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Print per-metric mean errors of stored evaluations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		records, err := st.ListEvaluations(summarizeRunID)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No evaluations stored.")
			return nil
		}
		return writeSummaries(eval.Aggregate(records))
	},
}

// writeSummaries prints one TSV table per metric.
func writeSummaries(summaries []eval.Summary) error {
	seen := make(map[string]bool)
	var metrics []string
	for _, s := range summaries {
		if !seen[s.Metric] {
			seen[s.Metric] = true
			metrics = append(metrics, s.Metric)
		}
	}
	sort.Strings(metrics)
	for _, m := range metrics {
		fmt.Printf("\n## %s\n", m)
		if err := eval.WriteSummaryTSV(os.Stdout, summaries, m); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateRunID, "run", "", "Run ID (default: timestamp)")
	summarizeCmd.Flags().StringVar(&summarizeRunID, "run", "", "Only this run (default: all)")
}
