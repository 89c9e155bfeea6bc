package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "PROTOCOL_"

// envOverrides mirrors the YAML keys an operator may override. Nil fields
// were not set in the environment.
type envOverrides struct {
	Catalog         *string `env:"CATALOG"`
	Seed            *int64  `env:"SEED"`
	FixationMS      *int    `env:"FIXATION_MS"`
	ComparisonBlock *string `env:"COMPARISON_BLOCK"`
	ComparisonLimit *int    `env:"COMPARISON_LIMIT"`
	LeftKey         *string `env:"LEFT_KEY"`
	RightKey        *string `env:"RIGHT_KEY"`
	EstimationBlock *string `env:"ESTIMATION_BLOCK"`
	EstimationLimit *int    `env:"ESTIMATION_LIMIT"`
	SQLite          *string `env:"SQLITE"`
	JSONDir         *string `env:"JSON_DIR"`
	XLSXDir         *string `env:"XLSX_DIR"`
	BridgeEnabled   *bool   `env:"BRIDGE_ENABLED"`
	BridgeHost      *string `env:"BRIDGE_HOST"`
	BridgePort      *int    `env:"BRIDGE_PORT"`
}

func parseEnv() (envOverrides, error) {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix}); err != nil {
		return envOverrides{}, fmt.Errorf("parse env: %w", err)
	}
	return o, nil
}

func (pc *ProjectConfig) applyEnv() error {
	o, err := parseEnv()
	if err != nil {
		return err
	}
	setString(&pc.Catalog, o.Catalog)
	if o.Seed != nil {
		pc.Seed = *o.Seed
	}
	setInt(&pc.FixationMS, o.FixationMS)
	setString(&pc.Comparison.Block, o.ComparisonBlock)
	setInt(&pc.Comparison.Limit, o.ComparisonLimit)
	setString(&pc.Comparison.LeftKey, o.LeftKey)
	setString(&pc.Comparison.RightKey, o.RightKey)
	setString(&pc.Estimation.Block, o.EstimationBlock)
	setInt(&pc.Estimation.Limit, o.EstimationLimit)
	setString(&pc.Storage.SQLite, o.SQLite)
	setString(&pc.Storage.JSONDir, o.JSONDir)
	setString(&pc.Storage.XLSXDir, o.XLSXDir)
	if o.BridgeEnabled != nil {
		enabled := *o.BridgeEnabled
		pc.Bridge.Enabled = &enabled
	}
	setString(&pc.Bridge.Host, o.BridgeHost)
	setInt(&pc.Bridge.Port, o.BridgePort)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil && strings.TrimSpace(*v) != "" {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
