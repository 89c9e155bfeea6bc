package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/magnitude-protocol/internal/bridge"
	"github.com/kingrea/magnitude-protocol/internal/session"
	"github.com/kingrea/magnitude-protocol/internal/summary"
)

var errConsentRequired = errors.New("participant consent is required; pass --consent once it has been given")

type serveOptions struct {
	participant string
	consent     bool
	host        string
	port        int
}

func (c *cli) serveCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the protocol behind the HTTP bridge for an external display",
		Long: `Builds a run for one participant and serves it over HTTP. The display
polls GET /stage, reports inputs to POST /events and may read GET /result once
the run completes. Results are saved when the last trial resolves.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.participant, "participant", "", "participant ID (required)")
	cmd.Flags().BoolVar(&opts.consent, "consent", false, "record that the participant consented")
	cmd.Flags().StringVar(&opts.host, "host", "", "override bridge.host")
	cmd.Flags().IntVar(&opts.port, "port", 0, "override bridge.port")
	_ = cmd.MarkFlagRequired("participant")
	return cmd
}

func (c *cli) serve(cmd *cobra.Command, opts *serveOptions) error {
	id := strings.TrimSpace(opts.participant)
	if id == "" {
		return fmt.Errorf("participant ID is empty")
	}
	if !opts.consent {
		c.journal.Warn("%s has not consented; no trials were run", id)
		return errConsentRequired
	}
	run, err := c.newSession(summary.Participant{ID: id, Consent: true}, true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sinks, release := c.openSinks(ctx)
	defer release()

	settings := bridge.SettingsFromConfig(c.cfg)
	// serve is the bridge; bridge.enabled only governs `run`.
	settings.Enabled = true
	if opts.host != "" {
		settings.Host = opts.host
	}
	if opts.port != 0 {
		settings.Port = opts.port
	}

	done := make(chan session.Result, 1)
	srv := bridge.NewServer(settings, run,
		bridge.WithLogger(c.logger),
		bridge.WithCompletion(func(r session.Result) {
			select {
			case done <- r:
			default:
			}
		}))
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			c.logger.Zap().Warn("bridge shutdown", zap.Error(err))
		}
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s for %s\n", run.ID(), id)
	fmt.Fprintf(out, "Bridge listening on %s\n", srv.BaseURL())
	c.journal.Info("display bridge listening on %s", srv.BaseURL())

	select {
	case r := <-done:
		fmt.Fprintf(out, "Run complete: %d outcomes\n", len(r.Outcomes))
		if err := c.persist(context.Background(), r, sinks); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: results could not be saved: %v\n", err)
			return err
		}
		fmt.Fprintln(out, "Results saved.")
		return nil
	case <-ctx.Done():
		c.journal.Warn("serve interrupted before the run completed")
		fmt.Fprintln(out, "Interrupted; the run did not complete.")
		return nil
	}
}
