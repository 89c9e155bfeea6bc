// cmd/protocol/main.go
//
// This is the entry point for the protocol CLI.
//
// Flow:
// 1. Resolve the project directory and create .protocol/ if needed
// 2. Load config.yaml, .env and PROTOCOL_* overrides
// 3. Open the structured log and the session journal
// 4. Dispatch to the subcommand (run, serve, trials, validate, export)

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/magnitude-protocol/internal/config"
	"github.com/kingrea/magnitude-protocol/internal/logbook"
	"github.com/kingrea/magnitude-protocol/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli holds what PersistentPreRunE prepares for every subcommand.
type cli struct {
	projectDir string
	verbose    bool

	cfg     *config.Config
	logger  *logging.Logger
	journal *logbook.Logbook
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "protocol",
		Short: "Rational number magnitude protocol",
		Long: `protocol runs the two-task rational number magnitude protocol:
magnitude comparison across fractions, decimals and percentages, followed by
number line estimation.

Results are written to the sinks configured in .protocol/config.yaml.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			c.teardown()
		},
	}
	root.PersistentFlags().StringVarP(&c.projectDir, "project", "p", "", "project directory (default: current directory)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "write debug entries to the structured log")

	root.AddCommand(
		c.runCmd(),
		c.serveCmd(),
		c.trialsCmd(),
		c.validateCmd(),
		c.exportCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, args []string) error {
	dir := c.projectDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		dir = cwd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve project directory: %w", err)
	}
	if err := config.InitProtocolDir(dir); err != nil {
		return fmt.Errorf("initialize .protocol directory: %w", err)
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		return err
	}
	logger, err := logging.New(dir, c.verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	journal, err := logbook.New(cfg.SessionLogPath())
	if err != nil {
		_ = logger.Close()
		return fmt.Errorf("open session journal: %w", err)
	}
	c.cfg = cfg
	c.logger = logger
	c.journal = journal
	logger.Zap().Debug("command started",
		zap.String("command", cmd.CommandPath()),
		zap.String("project", dir))
	return nil
}

func (c *cli) teardown() {
	if c.logger != nil {
		_ = c.logger.Close()
	}
}
