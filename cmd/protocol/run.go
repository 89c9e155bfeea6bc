package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/magnitude-protocol/internal/bridge"
	"github.com/kingrea/magnitude-protocol/internal/session"
	"github.com/kingrea/magnitude-protocol/internal/summary"
	"github.com/kingrea/magnitude-protocol/internal/tui"
)

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the protocol for one participant in this terminal",
		Long: `Asks for the participant ID and consent, then runs magnitude comparison
followed by number line estimation and shows the summary.

When bridge.enabled is set in config.yaml the same run is also served over
HTTP so an external display can present the stimuli.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInteractive(cmd.Context())
		},
	}
}

func (c *cli) runInteractive(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sinks, release := c.openSinks(ctx)
	defer release()

	var (
		program *tea.Program
		srv     *bridge.Server
	)
	factory := func(p summary.Participant) (*session.Session, error) {
		s, err := c.newSession(p, false)
		if err != nil {
			return nil, err
		}
		if !c.cfg.BridgeEnabled() {
			return s, nil
		}
		srv = bridge.NewServer(bridge.SettingsFromConfig(c.cfg), s,
			bridge.WithLogger(c.logger),
			bridge.WithNotify(func() { program.Send(tui.StageChangedMsg{}) }))
		if err := srv.Start(ctx); err != nil {
			return nil, err
		}
		c.journal.Info("display bridge listening on %s", srv.BaseURL())
		return s, nil
	}

	app := tui.NewApp(factory,
		tui.WithJournal(c.journal),
		tui.WithPersist(func(ctx context.Context, r session.Result) error {
			return c.persist(ctx, r, sinks)
		}))
	program = tea.NewProgram(app, tea.WithAltScreen())
	_, runErr := program.Run()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			c.logger.Zap().Warn("bridge shutdown", zap.Error(err))
		}
		cancel()
	}
	if runErr != nil {
		return fmt.Errorf("run terminal app: %w", runErr)
	}
	return app.Err()
}
