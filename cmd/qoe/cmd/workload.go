package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/queryopt/engine/internal/engine"
)

var (
	workloadDir     []string
	workloadFiles   []string
	workloadWhatIf  bool
	workloadTopK    int
	workloadTimeout int64
)

var workloadCmd = &cobra.Command{
	Use:   "workload",
	Short: "Aggregate lint/rewrite/index findings across a batch of queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		sqls, err := collectWorkloadSQL()
		if err != nil {
			return err
		}
		if len(sqls) == 0 {
			return fmt.Errorf("no SQL files found; pass --dir or --file")
		}

		e, cleanup, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout(workloadTimeout))
		defer cancel()

		result := e.Workload(ctx, sqls, engine.WorkloadOptions{TopK: workloadTopK, WhatIf: workloadWhatIf})
		return printJSON(result)
	},
}

func init() {
	workloadCmd.Flags().StringArrayVar(&workloadDir, "dir", nil, "directory of .sql files to load (repeatable)")
	workloadCmd.Flags().StringArrayVar(&workloadFiles, "file", nil, "path to a .sql file (repeatable)")
	workloadCmd.Flags().BoolVar(&workloadWhatIf, "what-if", false, "re-rank each query's index suggestions against hypothetical-index cost deltas")
	workloadCmd.Flags().IntVar(&workloadTopK, "top-k", 10, "maximum number of merged index suggestions to return (1-50; other values use 10)")
	workloadCmd.Flags().Int64Var(&workloadTimeout, "timeout-ms", 60000, "overall command timeout in milliseconds")
}

func collectWorkloadSQL() ([]string, error) {
	var paths []string
	for _, dir := range workloadDir {
		matches, err := filepath.Glob(filepath.Join(dir, "*.sql"))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", dir, err)
		}
		paths = append(paths, matches...)
	}
	paths = append(paths, workloadFiles...)
	sort.Strings(paths)

	sqls := make([]string, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		sqls = append(sqls, string(data))
	}
	return sqls, nil
}
