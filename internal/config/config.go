// Package config defines the explicit configuration surface recognized by
// the core (§6) as a plain value. Unlike the settings object it is
// grounded on, there is no package-level mutable instance here: every
// component that needs configuration receives a Config value from its caller,
// and Load always returns a fresh value rather than mutating shared state.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config mirrors the configuration surface of §6 exactly.
type Config struct {
	MinRowsForIndex    int64   `json:"min_rows_for_index"`
	MaxIndexCols       int     `json:"max_index_cols"`
	IndexMaxWidthBytes int64   `json:"index_max_width_bytes"`
	SuppressLowGainPct float64 `json:"suppress_low_gain_pct"`
	JoinColPriorBoost  float64 `json:"join_col_prior_boost"`

	WhatIfEnabled       bool    `json:"whatif_enabled"`
	MaxTrials           int     `json:"max_trials"`
	Parallelism         int     `json:"parallelism"`
	TrialTimeoutMS      int64   `json:"trial_timeout_ms"`
	GlobalTimeoutMS     int64   `json:"global_timeout_ms"`
	EarlyStopPct        float64 `json:"early_stop_pct"`
	MinCostReductionPct float64 `json:"min_cost_reduction_pct"`

	LargeTablePatterns    []string `json:"large_table_patterns"`
	NumericColumnPatterns []string `json:"numeric_column_patterns"`

	N1Threshold int `json:"n1_threshold"`
}

// Default returns the §6 literal defaults.
func Default() Config {
	return Config{
		MinRowsForIndex:    10_000,
		MaxIndexCols:       3,
		IndexMaxWidthBytes: 8192,
		SuppressLowGainPct: 5,
		JoinColPriorBoost:  1.2,

		WhatIfEnabled:       false,
		MaxTrials:           8,
		Parallelism:         2,
		TrialTimeoutMS:      4000,
		GlobalTimeoutMS:     12000,
		EarlyStopPct:        2,
		MinCostReductionPct: 5,

		LargeTablePatterns:    []string{"*events*", "*logs*", "*transactions*", "fact_*"},
		NumericColumnPatterns: []string{"*_id", "*_key", "*_fk"},

		N1Threshold: 10,
	}
}

// Load overlays a JSON file onto Default() and returns the resulting value.
// An empty path returns Default() unchanged. Load never mutates any shared
// state — there is nothing to reset afterward.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}
