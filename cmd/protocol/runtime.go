package main

import (
	"context"
	"math/rand"

	"go.uber.org/zap"

	"github.com/kingrea/magnitude-protocol/internal/export"
	"github.com/kingrea/magnitude-protocol/internal/session"
	"github.com/kingrea/magnitude-protocol/internal/stimuli"
	"github.com/kingrea/magnitude-protocol/internal/store"
	"github.com/kingrea/magnitude-protocol/internal/summary"
	"github.com/kingrea/magnitude-protocol/internal/trials"
)

// randomSource returns a seeded source when seed is non-zero. Nil lets the
// timeline seed from the clock.
func randomSource(seed int64) trials.RandomSource {
	if seed == 0 {
		return nil
	}
	return rand.New(rand.NewSource(seed))
}

func (c *cli) loadCatalog(path string) (stimuli.Catalog, error) {
	cat, err := stimuli.Load(path)
	if err != nil {
		c.logger.Zap().Error("catalog rejected", zap.String("path", path), zap.Error(err))
		return stimuli.Catalog{}, err
	}
	source := path
	if source == "" {
		source = "built-in"
	}
	c.logger.Zap().Info("catalog loaded", zap.String("source", source), zap.Int("pairs", cat.Len()))
	return cat, nil
}

// newSession builds a fresh timeline for p. withConsent adds the welcome
// acknowledgement stage; the terminal app asks for consent itself.
func (c *cli) newSession(p summary.Participant, withConsent bool) (*session.Session, error) {
	cat, err := c.loadCatalog(c.cfg.CatalogPath())
	if err != nil {
		return nil, err
	}
	opts := c.cfg.TimelineOptions(randomSource(c.cfg.Project.Seed))
	opts.Consent = withConsent
	tl, err := session.BuildTimeline(cat, opts)
	if err != nil {
		c.logger.Zap().Error("timeline rejected", zap.Error(err))
		return nil, err
	}
	c.logger.Zap().Info("timeline built",
		zap.Int("stages", tl.Len()),
		zap.Int("trials", tl.TrialCount()))
	return session.New(tl, p, session.WithLogger(c.logger), session.WithJournal(c.journal)), nil
}

// unavailableSink stands in for a sink that could not be opened so the
// failure is reported with every save attempt instead of aborting the run.
type unavailableSink struct {
	name string
	err  error
}

func (s unavailableSink) Name() string { return s.name }

func (s unavailableSink) Save(context.Context, session.Result) error { return s.err }

// openSinks returns the configured result sinks and a func releasing them.
func (c *cli) openSinks(ctx context.Context) ([]session.Sink, func()) {
	var sinks []session.Sink
	release := func() {}
	if path := c.cfg.SQLitePath(); path != "" {
		db, err := store.OpenSQLite(ctx, path)
		if err != nil {
			c.logger.Zap().Warn("sqlite sink unavailable", zap.String("path", path), zap.Error(err))
			c.journal.Warn("results database unavailable: %v", err)
			sinks = append(sinks, unavailableSink{name: "sqlite " + path, err: err})
		} else {
			sinks = append(sinks, db)
			release = func() {
				if err := db.Close(); err != nil {
					c.logger.Zap().Warn("close sqlite sink", zap.Error(err))
				}
			}
		}
	}
	if dir := c.cfg.JSONDir(); dir != "" {
		sinks = append(sinks, store.NewFileSink(dir))
	}
	if dir := c.cfg.XLSXDir(); dir != "" {
		sinks = append(sinks, export.NewXLSXSink(dir))
	}
	return sinks, release
}

func (c *cli) persist(ctx context.Context, r session.Result, sinks []session.Sink) error {
	logger := c.logger.With(zap.String("run_id", r.RunID))
	return session.Persist(ctx, r, logger, c.journal.ForRun(r.RunID), sinks...)
}
