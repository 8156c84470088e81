package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	explainSQL     string
	explainFile    string
	explainAnalyze bool
	explainTimeout int64
)

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Run EXPLAIN and inspect the resulting plan for known issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		sql, err := readSQLArg(explainSQL, explainFile)
		if err != nil {
			return err
		}

		e, cleanup, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout(explainTimeout))
		defer cancel()

		result, err := e.Explain(ctx, sql, explainAnalyze, explainTimeout)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	explainCmd.Flags().StringVar(&explainSQL, "sql", "", "inline SQL string")
	explainCmd.Flags().StringVar(&explainFile, "file", "", "path to a SQL file")
	explainCmd.Flags().BoolVar(&explainAnalyze, "analyze", false, "run EXPLAIN ANALYZE instead of a plan-only EXPLAIN")
	explainCmd.Flags().Int64Var(&explainTimeout, "timeout-ms", 4000, "statement timeout in milliseconds")
}
