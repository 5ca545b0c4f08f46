package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/importance-shift/internal/batch"
)

var (
	importBundle  string
	importEnv     string
	importVectors string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import measured vectors and metric samples",
	Long: `Imports a bundle (vectors, samples, descriptors) or a single
{metric: {feature: value}} file of measured vectors for one environment.
Measured vectors are immutable: re-importing different values fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if importVectors != "" {
			if importEnv == "" {
				return fmt.Errorf("--vectors needs --env")
			}
			vs, err := batch.LoadVectorFile(importEnv, importVectors)
			if err != nil {
				return err
			}
			for _, v := range vs {
				if err := st.ImportVector(v, importVectors); err != nil {
					return err
				}
			}
			logger.Info("imported vectors", zap.String("env", importEnv), zap.Int("metrics", len(vs)))
			return nil
		}

		if importBundle == "" {
			return fmt.Errorf("one of --bundle or --vectors is required")
		}
		b, err := batch.LoadBundle(importBundle)
		if err != nil {
			return err
		}
		stats, err := b.Import(st, importBundle)
		if err != nil {
			return err
		}
		logger.Info("imported bundle",
			zap.String("bundle", importBundle),
			zap.Int("vectors", stats.Vectors),
			zap.Int("unchanged", stats.Unchanged),
			zap.Int("samples", stats.Samples),
		)
		fmt.Printf("Imported %d vectors (%d unchanged), %d sample sets\n", stats.Vectors, stats.Unchanged, stats.Samples)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importBundle, "bundle", "", "Bundle JSON file")
	importCmd.Flags().StringVar(&importEnv, "env", "", "Environment ID for --vectors")
	importCmd.Flags().StringVar(&importVectors, "vectors", "", "Measured vectors file {metric: {feature: value}}")
}
