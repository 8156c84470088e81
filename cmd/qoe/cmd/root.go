package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/queryopt/engine/internal/applog"
	"github.com/queryopt/engine/internal/config"
	"github.com/queryopt/engine/internal/engine"
	"github.com/queryopt/engine/internal/gateway"
)

var (
	cfgFile  string
	dbURL    string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "qoe",
	Short: "qoe — PostgreSQL query optimization analysis engine",
	Long: `qoe lints, explains, and optimizes PostgreSQL queries without ever
mutating the catalog it inspects. Connect it to a database with --db-url
(or $QOE_DATABASE_URL): explain needs the connection, and optimize/workload
use it for schema, plan and index advice; lint needs no connection.`,
}

// Execute runs the root command, exiting the process on error the way the
// teacher's CLI does.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to configuration file (JSON)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "PostgreSQL connection string; defaults to $QOE_DATABASE_URL")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	_ = viper.BindPFlag("db_url", rootCmd.PersistentFlags().Lookup("db-url"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.SetEnvPrefix("qoe")
	viper.AutomaticEnv()
	_ = viper.BindEnv("db_url", "QOE_DATABASE_URL")

	rootCmd.AddCommand(lintCmd, explainCmd, optimizeCmd, workloadCmd)
}

// loadConfig overlays cfgFile (if set) onto the default configuration —
// the same value config.Load returns for direct callers, just resolved
// from the flag this process was invoked with.
func loadConfig() (config.Config, error) {
	return config.Load(cfgFile)
}

// resolveDBURL prefers the --db-url flag, then $QOE_DATABASE_URL (bound
// above), matching the teacher's $XPLAIN_CONFIG-style flag/env fallback.
func resolveDBURL() string {
	if dbURL != "" {
		return dbURL
	}
	return viper.GetString("db_url")
}

// resolveLogLevel prefers the --log-level flag, then $QOE_LOG_LEVEL (bound
// above alongside --db-url).
func resolveLogLevel() string {
	if v := viper.GetString("log_level"); v != "" {
		return v
	}
	return logLevel
}

// buildEngine connects to the database named by --db-url/$QOE_DATABASE_URL
// when present and returns an Engine plus a cleanup function; with no
// connection string, lint-only operations still work against a nil
// gateway.
func buildEngine(ctx context.Context) (*engine.Engine, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	level := resolveLogLevel()
	engineLog := applog.New("engine", applog.Options{Level: level})

	url := resolveDBURL()
	if url == "" {
		return engine.New(nil, cfg, engineLog), func() {}, nil
	}

	gatewayLog := applog.New("gateway", applog.Options{Level: level})
	gw, err := gateway.New(ctx, url, int32(cfg.Parallelism+2), gatewayLog)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	return engine.New(gw, cfg, engineLog), gw.Close, nil
}

func readSQLArg(sqlFlag, fileFlag string) (string, error) {
	if sqlFlag != "" && fileFlag != "" {
		return "", fmt.Errorf("specify only one of --sql or --file")
	}
	if sqlFlag != "" {
		return sqlFlag, nil
	}
	if fileFlag != "" {
		data, err := os.ReadFile(fileFlag)
		if err != nil {
			return "", fmt.Errorf("read sql file: %w", err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("--sql or --file is required")
}

func commandTimeout(ms int64) time.Duration {
	if ms <= 0 {
		return 30 * time.Second
	}
	return time.Duration(ms) * time.Millisecond
}
