package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/evaluation"
	"github.com/kwal0203/opus-blocks/pkg/config"
	appLogger "github.com/kwal0203/opus-blocks/pkg/logger"
)

func main() {
	var datasetPath string

	rootCmd := &cobra.Command{
		Use:   "evalgate",
		Short: "Score the golden dataset and gate on regressions against its baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer appLogger.Sync()

			if datasetPath == "" {
				datasetPath = cfg.Evaluation.DatasetPath
			}

			dataset, err := evaluation.LoadGoldenDataset(datasetPath)
			if err != nil {
				return fmt.Errorf("failed to load golden dataset: %w", err)
			}
			appLogger.Info("Golden dataset loaded",
				zap.String("path", datasetPath),
				zap.String("version", dataset.Version),
				zap.Int("paragraphs", len(dataset.Paragraphs)),
			)

			current := evaluation.RunGoldenSet(dataset)
			result := evaluation.EvaluateGate(current, dataset.BaselineMetrics, &cfg.Evaluation)

			fmt.Printf("dataset:                 %s (%s)\n", datasetPath, dataset.Version)
			fmt.Printf("sentence_support_rate:   %.4f\n", current.SentenceSupportRate)
			fmt.Printf("false_support_rate:      %.4f\n", current.FalseSupportRate)
			fmt.Printf("correct_refusal_rate:    %.4f\n", current.CorrectRefusalRate)
			fmt.Printf("verified_paragraph_rate: %.4f\n", current.VerifiedParagraphRate)
			fmt.Printf("over_refusal_rate:       %.4f\n", current.OverRefusalRate)

			if len(result.Diff) > 0 {
				fmt.Println("diff vs baseline:")
				for _, key := range []string{"sentence_support_rate", "false_support_rate", "correct_refusal_rate", "verified_paragraph_rate", "over_refusal_rate"} {
					if v, ok := result.Diff[key]; ok {
						fmt.Printf("  %-24s %+.4f\n", key, v)
					}
				}
			}

			if !result.Passed {
				fmt.Println("gate: FAIL")
				for _, reason := range result.Reasons {
					fmt.Printf("  - %s\n", reason)
				}
				os.Exit(1)
			}

			fmt.Println("gate: PASS")
			return nil
		},
	}

	rootCmd.Flags().StringVar(&datasetPath, "dataset", "", "path to the golden dataset (defaults to evaluation.datasetPath)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
