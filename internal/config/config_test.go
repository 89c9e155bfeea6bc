package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/magnitude-protocol/internal/stimuli"
)

func writeConfig(t *testing.T, projectDir, body string) {
	t.Helper()
	protocolDir := filepath.Join(projectDir, ProtocolDir)
	if err := os.MkdirAll(protocolDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(protocolDir, "config.yaml"), []byte(strings.TrimSpace(body)), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if cfg.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", cfg.Project.Version)
	}
	if cfg.Fixation() != 350*time.Millisecond {
		t.Fatalf("expected 350ms fixation, got %s", cfg.Fixation())
	}
	if keys := cfg.Keys(); keys.Left != "f" || keys.Right != "j" {
		t.Fatalf("expected f/j keys, got %+v", keys)
	}
	if scale := cfg.Scale(); scale.Min != 0 || scale.Max != 100 || scale.Start != 50 || scale.Step != 1 {
		t.Fatalf("unexpected default scale %+v", scale)
	}
	wantDB := filepath.Join(projectDir, ProtocolDir, "results", "protocol.db")
	if cfg.SQLitePath() != wantDB {
		t.Fatalf("expected sqlite path %s, got %s", wantDB, cfg.SQLitePath())
	}
	if cfg.CatalogPath() != "" {
		t.Fatalf("expected built-in catalog, got %q", cfg.CatalogPath())
	}
	if cfg.BridgeEnabled() {
		t.Fatalf("bridge should be disabled by default")
	}
}

func TestInitProtocolDirWritesParsableDefaults(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitProtocolDir(projectDir); err != nil {
		t.Fatalf("InitProtocolDir: %v", err)
	}
	for _, dir := range []string{"logs", "results", "catalogs"} {
		if info, err := os.Stat(filepath.Join(projectDir, ProtocolDir, dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected %s directory: %v", dir, err)
		}
	}
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("default config should load: %v", err)
	}
	if cfg.Project.Bridge.Port != 8765 {
		t.Fatalf("expected bridge port 8765, got %d", cfg.Project.Bridge.Port)
	}
	// A second init must keep the operator's edits.
	writeConfig(t, projectDir, "version: 1\nfixation_ms: 500\n")
	if err := InitProtocolDir(projectDir); err != nil {
		t.Fatal(err)
	}
	cfg, err = NewConfig(projectDir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Project.FixationMS != 500 {
		t.Fatalf("init overwrote existing config")
	}
}

func TestNewConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	writeConfig(t, projectDir, `
version: 1
catalog: catalogs/pilot.yaml
seed: 42
comparison:
  block: pre
  limit: 6
  left_key: D
  right_key: K
estimation:
  block: post-instruction
  limit: 3
  slider_min: 0
  slider_max: 1000
  slider_start: 500
  step: 10
storage:
  sqlite: "off"
  json_dir: /tmp/protocol-json
`)
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.CatalogPath() != filepath.Join(projectDir, ProtocolDir, "catalogs", "pilot.yaml") {
		t.Fatalf("catalog path not resolved: %s", cfg.CatalogPath())
	}
	if cfg.SQLitePath() != "" {
		t.Fatalf("sqlite sink should be disabled, got %q", cfg.SQLitePath())
	}
	if cfg.JSONDir() != "/tmp/protocol-json" {
		t.Fatalf("absolute json dir should be kept, got %q", cfg.JSONDir())
	}
	opts := cfg.TimelineOptions(nil)
	if opts.Comparison.Block != stimuli.BlockPreInstruction || opts.Comparison.Limit != 6 {
		t.Fatalf("unexpected comparison selection %+v", opts.Comparison)
	}
	if opts.Estimation.Block != stimuli.BlockPostInstruction || opts.Estimation.Limit != 3 {
		t.Fatalf("unexpected estimation selection %+v", opts.Estimation)
	}
	if opts.Keys.Left != "d" || opts.Keys.Right != "k" {
		t.Fatalf("keys should be lower-cased, got %+v", opts.Keys)
	}
	if opts.Scale.Max != 1000 || opts.Scale.Step != 10 {
		t.Fatalf("unexpected scale %+v", opts.Scale)
	}
}

func TestSliderStartDefaultsToMidpoint(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"narrow", "estimation:\n  slider_max: 10", 5},
		{"wide", "estimation:\n  slider_max: 200", 100},
		{"offset", "estimation:\n  slider_min: 20\n  slider_max: 40", 30},
		{"explicit zero", "estimation:\n  slider_max: 10\n  slider_start: 0", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			projectDir := t.TempDir()
			writeConfig(t, projectDir, tc.body)
			cfg, err := NewConfig(projectDir)
			if err != nil {
				t.Fatalf("NewConfig: %v", err)
			}
			if got := cfg.Scale().Start; got != tc.want {
				t.Fatalf("expected slider start %d, got %d (%+v)", tc.want, got, cfg.Scale())
			}
			if got := cfg.TimelineOptions(nil).Scale.Start; got != tc.want {
				t.Fatalf("timeline scale should start at %d, got %d", tc.want, got)
			}
		})
	}
}

func TestNewConfigRejectsIdenticalKeys(t *testing.T) {
	projectDir := t.TempDir()
	writeConfig(t, projectDir, `
version: 1
comparison:
  left_key: f
  right_key: F
`)
	_, err := NewConfig(projectDir)
	if err == nil || !strings.Contains(err.Error(), "comparison.left_key and right_key must differ") {
		t.Fatalf("expected key collision error, got %v", err)
	}
}

func TestNewConfigRejectsUnknownBlock(t *testing.T) {
	projectDir := t.TempDir()
	writeConfig(t, projectDir, "comparison:\n  block: midway\n")
	if _, err := NewConfig(projectDir); err == nil || !strings.Contains(err.Error(), "comparison.block") {
		t.Fatalf("expected block error, got %v", err)
	}
}

func TestEnvironmentOverridesYaml(t *testing.T) {
	projectDir := t.TempDir()
	writeConfig(t, projectDir, "version: 1\nfixation_ms: 500\n")
	t.Setenv("PROTOCOL_FIXATION_MS", "250")
	t.Setenv("PROTOCOL_COMPARISON_LIMIT", "4")
	t.Setenv("PROTOCOL_BRIDGE_ENABLED", "true")
	t.Setenv("PROTOCOL_BRIDGE_PORT", "9900")
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.Project.FixationMS != 250 {
		t.Fatalf("expected env fixation 250, got %d", cfg.Project.FixationMS)
	}
	if cfg.Project.Comparison.Limit != 4 {
		t.Fatalf("expected env limit 4, got %d", cfg.Project.Comparison.Limit)
	}
	if !cfg.BridgeEnabled() || cfg.Project.Bridge.Port != 9900 {
		t.Fatalf("expected bridge enabled on 9900, got %+v", cfg.Project.Bridge)
	}
}

func TestEnvironmentRejectsMalformedValues(t *testing.T) {
	t.Setenv("PROTOCOL_SEED", "not-a-number")
	_, err := NewConfig(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}

func TestDotEnvFileIsLoaded(t *testing.T) {
	projectDir := t.TempDir()
	t.Setenv("PROTOCOL_ESTIMATION_LIMIT", "")
	if err := os.WriteFile(filepath.Join(projectDir, ".env"), []byte("PROTOCOL_ESTIMATION_LIMIT=2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("PROTOCOL_ESTIMATION_LIMIT") })
	os.Unsetenv("PROTOCOL_ESTIMATION_LIMIT")
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.Project.Estimation.Limit != 2 {
		t.Fatalf("expected .env limit 2, got %d", cfg.Project.Estimation.Limit)
	}
}
