// Command connectivity enriches school locations with their nearest cell
// tower, elevation profile, population density and a model-ranked
// connectivity recommendation.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/school-connectivity-etl/internal/config"
	"github.com/couchcryptid/school-connectivity-etl/internal/observability"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "connectivity",
	Short: "School connectivity enrichment pipeline",
	Long: "Joins schools with their nearest cell tower, adds an elevation profile and population density, " +
		"and asks a language model which schools to connect first.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
		logger = observability.NewLogger(cfg)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
