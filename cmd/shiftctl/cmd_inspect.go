package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/importance-shift/internal/logging"
)

var (
	inspectMetric    string
	inspectLimit     int
	inspectResponses bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect env",
	Short: "Show stored vectors, decisions and oracle responses for an environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := args[0]
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		metrics := cfg.Metrics
		if inspectMetric != "" {
			metrics = []string{inspectMetric}
		}
		fmt.Printf("=== Vectors: %s ===\n", env)
		for _, m := range metrics {
			vs, err := st.ListVectors(env, m)
			if err != nil {
				return err
			}
			variants := make([]string, 0, len(vs))
			for v := range vs {
				variants = append(variants, v)
			}
			sort.Strings(variants)
			for _, variant := range variants {
				v := vs[variant]
				fmt.Printf("%-14s %-18s mass=%.6f\n", variant, m, v.Mass())
				features, values := v.Pairs()
				for i, f := range features {
					fmt.Printf("    %-24s %.6f\n", f, values[i])
				}
			}
		}

		entries, err := logging.ListDecisions(st.DB(), env, inspectLimit)
		if err != nil {
			return err
		}
		fmt.Printf("\n=== Decisions (newest %d) ===\n", len(entries))
		for _, e := range entries {
			kind := e.Kind
			if kind == "" {
				kind = "-"
			}
			fmt.Printf("%s  %-12s %-18s %-14s %-22s %s\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"), e.Action, e.Metric, e.Variant, kind, e.Reason)
		}

		if inspectResponses {
			responses, err := st.ListResponses(env)
			if err != nil {
				return err
			}
			fmt.Printf("\n=== Oracle responses (%d) ===\n", len(responses))
			for _, r := range responses {
				fmt.Printf("--- %s rank %d %s (unit %s)\n", r.ReferenceEnv, r.Rank, r.Metric, r.UnitID)
				fmt.Println(strings.TrimSpace(r.Response))
			}
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectMetric, "metric", "", "Only this metric")
	inspectCmd.Flags().IntVar(&inspectLimit, "limit", 20, "Max decisions to show")
	inspectCmd.Flags().BoolVar(&inspectResponses, "responses", false, "Print raw oracle responses")
}
