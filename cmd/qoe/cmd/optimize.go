package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/queryopt/engine/internal/engine"
)

var (
	optimizeSQL     string
	optimizeFile    string
	optimizeWhatIf  bool
	optimizeTopK    int
	optimizeTimeout int64
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Suggest rewrites and indexes for a query",
	RunE: func(cmd *cobra.Command, args []string) error {
		sql, err := readSQLArg(optimizeSQL, optimizeFile)
		if err != nil {
			return err
		}

		e, cleanup, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout(optimizeTimeout))
		defer cancel()

		result, err := e.Optimize(ctx, sql, engine.OptimizeOptions{
			WhatIf:    optimizeWhatIf,
			TopK:      optimizeTopK,
			TimeoutMS: optimizeTimeout,
		})
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	optimizeCmd.Flags().StringVar(&optimizeSQL, "sql", "", "inline SQL string")
	optimizeCmd.Flags().StringVar(&optimizeFile, "file", "", "path to a SQL file")
	optimizeCmd.Flags().BoolVar(&optimizeWhatIf, "what-if", false, "re-rank index suggestions against hypothetical-index cost deltas")
	optimizeCmd.Flags().IntVar(&optimizeTopK, "top-k", 10, "maximum number of suggestions to return (1-50)")
	optimizeCmd.Flags().Int64Var(&optimizeTimeout, "timeout-ms", 4000, "per-call statement timeout in milliseconds")
}
