package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/school-connectivity-etl/internal/observability"
	"github.com/couchcryptid/school-connectivity-etl/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run <merge|elevation|population|recommendation|all>",
	Short: "Run one pipeline stage, or every stage in order, and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := stageName(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, observability.NewMetrics())
		if err != nil {
			return err
		}
		defer a.close()

		var results []pipeline.StageResult
		if name == "all" {
			results, err = a.runner.RunAll(ctx)
		} else {
			var res pipeline.StageResult
			if res, err = a.runner.Run(ctx, name); res.Stage != "" {
				results = append(results, res)
			}
		}
		for _, res := range results {
			cmd.Printf("%-15s rows_in=%d rows_out=%d rows_failed=%d %dms -> %s\n",
				res.Stage, res.RowsIn, res.RowsOut, res.RowsFailed, res.DurationMs, res.Output)
		}
		return err
	},
}
