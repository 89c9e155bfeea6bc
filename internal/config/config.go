// internal/config/config.go
//
// This package handles configuration and the .protocol directory structure.
// Every project that runs the protocol gets a .protocol/ folder in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/magnitude-protocol/internal/scoring"
	"github.com/kingrea/magnitude-protocol/internal/stimuli"
	"github.com/kingrea/magnitude-protocol/internal/timeline"
	"github.com/kingrea/magnitude-protocol/internal/trials"
)

const (
	// ProtocolDir is the name of the directory we create in each project
	ProtocolDir = ".protocol"

	defaultFixationMS = 350
	disabledPath      = "off"
)

const defaultProjectConfigYAML = `# magnitude protocol configuration
version: 1

# Optional YAML catalog of base pairs. Leave empty for the built-in eight pairs.
catalog: ""

# Side randomization seed. 0 seeds from the clock.
seed: 0

fixation_ms: 350

comparison:
  # block: pre | post (empty runs both)
  block: ""
  # limit caps the trial count for smoke tests (0 = all)
  limit: 0
  left_key: f
  right_key: j

estimation:
  block: ""
  limit: 0
  slider_min: 0
  slider_max: 100
  # slider_start defaults to the midpoint of the range
  # slider_start: 50
  step: 1

# Result sinks. Set a path to "off" to disable that sink.
storage:
  sqlite: results/protocol.db
  json_dir: results
  xlsx_dir: results

bridge:
  enabled: false
  host: 127.0.0.1
  port: 8765
`

// TaskConfig selects and presents one task's trials.
type TaskConfig struct {
	Block       string `yaml:"block"`
	Limit       int    `yaml:"limit"`
	LeftKey     string `yaml:"left_key,omitempty"`
	RightKey    string `yaml:"right_key,omitempty"`
	SliderMin   int    `yaml:"slider_min,omitempty"`
	SliderMax   int    `yaml:"slider_max,omitempty"`
	SliderStart *int   `yaml:"slider_start,omitempty"`
	Step        int    `yaml:"step,omitempty"`
}

// StorageConfig locates the result sinks. Relative paths resolve against
// the .protocol directory.
type StorageConfig struct {
	SQLite  string `yaml:"sqlite"`
	JSONDir string `yaml:"json_dir"`
	XLSXDir string `yaml:"xlsx_dir"`
}

// BridgeConfig controls the HTTP render/input bridge.
type BridgeConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// ProjectConfig models .protocol/config.yaml.
type ProjectConfig struct {
	Version    int           `yaml:"version"`
	Catalog    string        `yaml:"catalog"`
	Seed       int64         `yaml:"seed"`
	FixationMS int           `yaml:"fixation_ms"`
	Comparison TaskConfig    `yaml:"comparison"`
	Estimation TaskConfig    `yaml:"estimation"`
	Storage    StorageConfig `yaml:"storage"`
	Bridge     BridgeConfig  `yaml:"bridge"`
}

// Config holds the runtime configuration for a protocol project.
type Config struct {
	// ProjectDir is the directory the operator ran `protocol` from
	ProjectDir string

	// ProtocolProjectDir is ProjectDir/.protocol
	ProtocolProjectDir string

	Project ProjectConfig
}

// InitProtocolDir creates the .protocol directory structure in the given
// project directory.
//
// Structure created:
// .protocol/
// ├── logs/      <- protocol.log (structured) and session.log (journal)
// ├── results/   <- JSON runs, SQLite database, XLSX workbooks
// └── catalogs/  <- optional YAML stimulus catalogs
func InitProtocolDir(projectDir string) error {
	protocolDir := filepath.Join(projectDir, ProtocolDir)
	dirs := []string{
		filepath.Join(protocolDir, "logs"),
		filepath.Join(protocolDir, "results"),
		filepath.Join(protocolDir, "catalogs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(protocolDir, "config.yaml"))
}

// NewConfig loads .env, then config.yaml, then PROTOCOL_* environment
// overrides, and validates the result.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:         projectDir,
		ProtocolProjectDir: filepath.Join(projectDir, ProtocolDir),
		Project:            defaultProjectConfig(),
	}
	if err := loadDotEnv(filepath.Join(projectDir, ".env")); err != nil {
		return nil, err
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	if err := cfg.Project.applyEnv(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Project.applyDefaults()
	cfg.Project.normalize(cfg.ProtocolProjectDir)
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.ProtocolProjectDir, "logs")
}

// ResultsDir returns the default results directory
func (c *Config) ResultsDir() string {
	return filepath.Join(c.ProtocolProjectDir, "results")
}

// CatalogsDir returns the directory for YAML catalogs
func (c *Config) CatalogsDir() string {
	return filepath.Join(c.ProtocolProjectDir, "catalogs")
}

// SessionLogPath returns the operator journal location.
func (c *Config) SessionLogPath() string {
	return filepath.Join(c.LogsDir(), "session.log")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.ProtocolProjectDir, "config.yaml")
}

// CatalogPath returns the resolved catalog path, empty for the built-in set.
func (c *Config) CatalogPath() string {
	return c.Project.Catalog
}

// SQLitePath returns the database path, empty when the sink is disabled.
func (c *Config) SQLitePath() string { return c.Project.Storage.SQLite }

// JSONDir returns the JSON results directory, empty when disabled.
func (c *Config) JSONDir() string { return c.Project.Storage.JSONDir }

// XLSXDir returns the workbook directory, empty when disabled.
func (c *Config) XLSXDir() string { return c.Project.Storage.XLSXDir }

// Fixation returns the fixation duration.
func (c *Config) Fixation() time.Duration {
	return time.Duration(c.Project.FixationMS) * time.Millisecond
}

// Keys returns the comparison response keys.
func (c *Config) Keys() scoring.Keys {
	return scoring.Keys{Left: c.Project.Comparison.LeftKey, Right: c.Project.Comparison.RightKey}
}

// Scale returns the estimation slider.
func (c *Config) Scale() timeline.Scale {
	return c.Project.Estimation.scale()
}

// scale builds the slider; an unset start sits at the midpoint of the range.
func (t TaskConfig) scale() timeline.Scale {
	start := t.SliderMin + (t.SliderMax-t.SliderMin)/2
	if t.SliderStart != nil {
		start = *t.SliderStart
	}
	return timeline.Scale{Min: t.SliderMin, Max: t.SliderMax, Start: start, Step: t.Step}
}

// TimelineOptions converts the config into builder options. rng may be nil.
func (c *Config) TimelineOptions(rng trials.RandomSource) timeline.Options {
	cmpBlock, _ := stimuli.ParseBlock(c.Project.Comparison.Block)
	estBlock, _ := stimuli.ParseBlock(c.Project.Estimation.Block)
	return timeline.Options{
		Comparison: trials.Selection{Block: cmpBlock, Limit: c.Project.Comparison.Limit},
		Estimation: trials.Selection{Block: estBlock, Limit: c.Project.Estimation.Limit},
		Fixation:   c.Fixation(),
		Keys:       c.Keys(),
		Scale:      c.Scale(),
		Rand:       rng,
		Consent:    true,
	}
}

// BridgeEnabled reports whether the HTTP bridge should start with `run`.
func (c *Config) BridgeEnabled() bool {
	return c.Project.Bridge.Enabled != nil && *c.Project.Bridge.Enabled
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Project = parsed
	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:    1,
		FixationMS: defaultFixationMS,
		Comparison: TaskConfig{LeftKey: scoring.DefaultLeftKey, RightKey: scoring.DefaultRightKey},
		Estimation: TaskConfig{SliderMin: 0, SliderMax: 100, Step: 1},
		Storage: StorageConfig{
			SQLite:  filepath.Join("results", "protocol.db"),
			JSONDir: "results",
			XLSXDir: "results",
		},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.FixationMS == 0 {
		pc.FixationMS = defaultFixationMS
	}
	if pc.Comparison.LeftKey == "" {
		pc.Comparison.LeftKey = scoring.DefaultLeftKey
	}
	if pc.Comparison.RightKey == "" {
		pc.Comparison.RightKey = scoring.DefaultRightKey
	}
	e := &pc.Estimation
	if e.SliderMin == 0 && e.SliderMax == 0 {
		e.SliderMax = 100
	}
	if e.Step == 0 {
		e.Step = 1
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Catalog = resolvePath(base, pc.Catalog)
	pc.Comparison.normalize()
	pc.Estimation.normalize()
	pc.Storage.SQLite = resolveSink(base, pc.Storage.SQLite)
	pc.Storage.JSONDir = resolveSink(base, pc.Storage.JSONDir)
	pc.Storage.XLSXDir = resolveSink(base, pc.Storage.XLSXDir)
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
}

func (tc *TaskConfig) normalize() {
	tc.Block = strings.TrimSpace(tc.Block)
	if block, err := stimuli.ParseBlock(tc.Block); err == nil {
		tc.Block = string(block)
	}
	tc.LeftKey = strings.ToLower(strings.TrimSpace(tc.LeftKey))
	tc.RightKey = strings.ToLower(strings.TrimSpace(tc.RightKey))
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.FixationMS < 0 {
		return fmt.Errorf("fixation_ms must be positive")
	}
	for name, task := range map[string]TaskConfig{"comparison": pc.Comparison, "estimation": pc.Estimation} {
		if _, err := stimuli.ParseBlock(task.Block); err != nil {
			return fmt.Errorf("%s.block: %w", name, err)
		}
		if task.Limit < 0 {
			return fmt.Errorf("%s.limit must be >= 0", name)
		}
	}
	if pc.Comparison.LeftKey == pc.Comparison.RightKey {
		return fmt.Errorf("comparison.left_key and right_key must differ")
	}
	if err := pc.Estimation.scale().Validate(); err != nil {
		return fmt.Errorf("estimation: %w", err)
	}
	if pc.Bridge.Port != 0 && (pc.Bridge.Port < 1 || pc.Bridge.Port > 65535) {
		return fmt.Errorf("bridge.port %d out of range", pc.Bridge.Port)
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func resolveSink(base, candidate string) string {
	if strings.EqualFold(strings.TrimSpace(candidate), disabledPath) {
		return ""
	}
	return resolvePath(base, candidate)
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
