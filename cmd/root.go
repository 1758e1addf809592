package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hydroindex/internal/config"
	"github.com/sells-group/hydroindex/internal/metrics"
)

var (
	cfg         *config.Config
	metricsFile string
)

var rootCmd = &cobra.Command{
	Use:   "hydroindex",
	Short: "Groundwater quality surfaces and composite indices",
	Long:  "Interpolates point-sampled water quality measurements, builds a weighted composite quality index and summarizes it over administrative zones inside expiring session workspaces.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		if metricsFile == "" {
			metricsFile = cfg.Metrics.TextfilePath
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if metricsFile != "" {
			if err := metrics.WriteTextfile(metricsFile); err != nil {
				zap.L().Warn("failed to write metrics textfile", zap.String("path", metricsFile), zap.Error(err))
			}
		}
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile on exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
