package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	lintSQL  string
	lintFile string
)

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Parse a query and report lint issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		sql, err := readSQLArg(lintSQL, lintFile)
		if err != nil {
			return err
		}

		e, cleanup, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		result := e.Lint(sql)
		return printJSON(result)
	},
}

func init() {
	lintCmd.Flags().StringVar(&lintSQL, "sql", "", "inline SQL string")
	lintCmd.Flags().StringVar(&lintFile, "file", "", "path to a SQL file")
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = os.Stdout.Write(append(out, '\n'))
	return err
}
