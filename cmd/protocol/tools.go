package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/magnitude-protocol/internal/export"
	"github.com/kingrea/magnitude-protocol/internal/stimuli"
	"github.com/kingrea/magnitude-protocol/internal/store"
	"github.com/kingrea/magnitude-protocol/internal/trials"
)

type trialDump struct {
	Comparison []trials.ComparisonTrial `yaml:"comparison,omitempty"`
	Estimation []trials.EstimationTrial `yaml:"estimation,omitempty"`
}

func (c *cli) trialsCmd() *cobra.Command {
	var (
		kind      string
		seed      int64
		randomize bool
	)
	cmd := &cobra.Command{
		Use:   "trials",
		Short: "Print the generated trial sets as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind = strings.ToLower(strings.TrimSpace(kind))
			if kind != "all" && kind != "comparison" && kind != "estimation" {
				return fmt.Errorf("unknown --kind %q (want comparison, estimation or all)", kind)
			}
			cat, err := c.loadCatalog(c.cfg.CatalogPath())
			if err != nil {
				return err
			}
			var dump trialDump
			if kind != "estimation" {
				cmp, err := trials.GenerateComparison(cat)
				if err != nil {
					return err
				}
				if randomize {
					if seed == 0 {
						seed = c.cfg.Project.Seed
					}
					rng := randomSource(seed)
					if rng == nil {
						return fmt.Errorf("--randomize needs --seed or a seed in config.yaml")
					}
					cmp = trials.RandomizeAll(cmp, rng)
				}
				dump.Comparison = cmp
			}
			if kind != "comparison" {
				est, err := trials.GenerateEstimation(cat)
				if err != nil {
					return err
				}
				dump.Estimation = est
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(dump); err != nil {
				return fmt.Errorf("encode trials: %w", err)
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "all", "comparison, estimation or all")
	cmd.Flags().Int64Var(&seed, "seed", 0, "seed for --randomize (default: config seed)")
	cmd.Flags().BoolVar(&randomize, "randomize", false, "apply side randomization to comparison trials")
	return cmd
}

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [catalog.yaml]",
		Short: "Check a stimulus catalog and report trial counts",
		Long: `Runs the catalog integrity checks and generates both trial sets.
Without an argument the configured catalog (or the built-in one) is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.cfg.CatalogPath()
			if len(args) == 1 {
				path = args[0]
			}
			cat, err := c.loadCatalog(path)
			if err != nil {
				var integrity *stimuli.CatalogIntegrityError
				if errors.As(err, &integrity) {
					return fmt.Errorf("catalog is invalid: %w", err)
				}
				return err
			}
			cmp, err := trials.GenerateComparison(cat)
			if err != nil {
				return err
			}
			est, err := trials.GenerateEstimation(cat)
			if err != nil {
				return err
			}
			if err := trials.CheckUniqueIDs(cmp, est); err != nil {
				return err
			}
			writeCounts(cmd, path, cat, cmp, est)
			return nil
		},
	}
}

func writeCounts(cmd *cobra.Command, path string, cat stimuli.Catalog, cmp []trials.ComparisonTrial, est []trials.EstimationTrial) {
	out := cmd.OutOrStdout()
	if path == "" {
		path = "built-in catalog"
	}
	fmt.Fprintf(out, "Catalog OK: %s\n", path)
	fmt.Fprintf(out, "  base pairs        %d\n", cat.Len())
	cross, within := 0, 0
	for _, t := range cmp {
		if t.Source == trials.SourceCross {
			cross++
		} else {
			within++
		}
	}
	fmt.Fprintf(out, "  comparison trials %d (%d cross, %d within)\n", len(cmp), cross, within)
	fmt.Fprintf(out, "  estimation trials %d\n", len(est))
	for _, block := range []stimuli.Block{stimuli.BlockPreInstruction, stimuli.BlockPostInstruction} {
		nc := len(trials.Select(cmp, trials.Selection{Block: block}))
		ne := len(trials.Select(est, trials.Selection{Block: block}))
		fmt.Fprintf(out, "  %-17s %d comparison, %d estimation\n", block, nc, ne)
	}
}

func (c *cli) exportCmd() *cobra.Command {
	var (
		outPath string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "export <run.json>",
		Short: "Write an XLSX workbook for a saved JSON run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := store.LoadResult(args[0])
			if err != nil {
				return err
			}
			target := outPath
			if target == "" {
				target = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".xlsx"
			}
			if !force {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", target)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("stat %s: %w", target, err)
				}
			}
			if err := export.WriteWorkbook(target, result); err != nil {
				return err
			}
			c.journal.ForRun(result.RunID).Info("exported workbook %s", target)
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d outcomes)\n", target, len(result.Outcomes))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "workbook path (default: next to the JSON file)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing workbook")
	return cmd
}
