// Package session is the explicit handle for one protocol run. It owns the
// runner, computes the summary on completion, and hands the result to sinks.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kingrea/magnitude-protocol/internal/logbook"
	"github.com/kingrea/magnitude-protocol/internal/logging"
	"github.com/kingrea/magnitude-protocol/internal/runner"
	"github.com/kingrea/magnitude-protocol/internal/scoring"
	"github.com/kingrea/magnitude-protocol/internal/stimuli"
	"github.com/kingrea/magnitude-protocol/internal/summary"
	"github.com/kingrea/magnitude-protocol/internal/timeline"
	"github.com/kingrea/magnitude-protocol/internal/trials"
)

var (
	// ErrNotComplete is returned when a result is requested before the run ends.
	ErrNotComplete = errors.New("session: run is not complete")
	// ErrAlreadySaved is wrapped by sinks that already hold the run. Persist
	// counts it as success so a retry only repeats the sinks that failed.
	ErrAlreadySaved = errors.New("session: run already saved")
)

// Result is the payload produced to collaborators once the run completes.
type Result struct {
	RunID       string                 `json:"run_id"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
	Participant summary.Participant    `json:"participant"`
	Outcomes    []scoring.TrialOutcome `json:"outcomes"`
	Summary     summary.Summary        `json:"summary"`
}

// Clone returns a copy that shares no memory with r.
func (r Result) Clone() Result {
	r.Outcomes = scoring.CloneLog(r.Outcomes)
	r.Summary = r.Summary.Clone()
	return r
}

// Sink persists a finished result. Failures are reported, never retried.
type Sink interface {
	Save(ctx context.Context, r Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Result) error

// Save calls f.
func (f SinkFunc) Save(ctx context.Context, r Result) error { return f(ctx, r) }

// Session serializes events from any number of callers onto one runner.
type Session struct {
	id          string
	participant summary.Participant
	clock       func() time.Time
	logger      *logging.Logger
	journal     *logbook.Logbook

	mu        sync.Mutex
	runner    *runner.Runner
	startedAt time.Time
	result    *Result
}

// Option customizes a session.
type Option func(*Session)

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Session) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger attaches the structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithJournal attaches the operator journal.
func WithJournal(j *logbook.Logbook) Option {
	return func(s *Session) {
		s.journal = j
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// New prepares a run over tl for participant p.
func New(tl timeline.Timeline, p summary.Participant, opts ...Option) *Session {
	s := &Session{
		id:          uuid.NewString(),
		participant: p,
		clock:       func() time.Time { return time.Now().UTC() },
		logger:      logging.Nop(),
		runner:      runner.New(tl),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With(zap.String("run_id", s.id))
	s.journal = s.journal.ForRun(s.id)
	return s
}

// BuildTimeline generates both trial sets from the catalog and lays them out.
func BuildTimeline(cat stimuli.Catalog, opts timeline.Options) (timeline.Timeline, error) {
	cmpTrials, err := trials.GenerateComparison(cat)
	if err != nil {
		return timeline.Timeline{}, err
	}
	estTrials, err := trials.GenerateEstimation(cat)
	if err != nil {
		return timeline.Timeline{}, err
	}
	if err := trials.CheckUniqueIDs(cmpTrials, estTrials); err != nil {
		return timeline.Timeline{}, fmt.Errorf("session: %w", err)
	}
	return timeline.Build(cmpTrials, estTrials, opts)
}

// ID returns the run identifier.
func (s *Session) ID() string { return s.id }

// Participant returns the identity captured before the run.
func (s *Session) Participant() summary.Participant { return s.participant }

// Timeline returns the stage sequence.
func (s *Session) Timeline() timeline.Timeline { return s.runner.Timeline() }

// Start enters the first stage.
func (s *Session) Start() (runner.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, err := s.runner.Start()
	if err != nil {
		return tr, err
	}
	s.startedAt = s.clock()
	tl := s.runner.Timeline()
	s.logger.Zap().Info("run started",
		zap.String("participant", s.participant.ID),
		zap.Int("stages", tl.Len()),
		zap.Int("trials", tl.TrialCount()))
	s.journal.Info("run started for %s: %d stages, %d trials", s.participantLabel(), tl.Len(), tl.TrialCount())
	if tr.Completed {
		if err := s.completeLocked(); err != nil {
			return tr, err
		}
	}
	return tr, nil
}

// Advance delivers one event to the runner. On the completing transition the
// summary is computed before Advance returns.
func (s *Session) Advance(ev runner.Event) (runner.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, err := s.runner.Advance(ev)
	if err != nil {
		var invalid *runner.InvalidResponseError
		if !errors.As(err, &invalid) && !errors.Is(err, runner.ErrMovementRequired) {
			s.logger.Zap().Error("run failed", zap.Error(err))
			s.journal.Error("run stopped: %v", err)
		}
		return tr, err
	}
	if o := tr.Outcome; o != nil {
		s.logOutcome(*o)
	}
	if tr.Completed {
		if err := s.completeLocked(); err != nil {
			return tr, err
		}
	}
	return tr, nil
}

// Current returns the active stage and the runner status.
func (s *Session) Current() (timeline.Stage, runner.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stage, _ := s.runner.Current()
	return stage, s.runner.Status()
}

// Moved reports whether the active slider has been moved.
func (s *Session) Moved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runner.Moved()
}

// Outcomes returns a copy of the outcome log so far.
func (s *Session) Outcomes() []scoring.TrialOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runner.Outcomes()
}

// Result returns the completed run.
func (s *Session) Result() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return Result{}, ErrNotComplete
	}
	return s.result.Clone(), nil
}

// Persist writes the result to every sink. Every sink is attempted; failures
// are joined and returned, and the result stays available for another try.
func (s *Session) Persist(ctx context.Context, sinks ...Sink) error {
	result, err := s.Result()
	if err != nil {
		return err
	}
	return Persist(ctx, result, s.logger, s.journal, sinks...)
}

// Persist writes result to every sink and reports each outcome.
func Persist(ctx context.Context, result Result, logger *logging.Logger, journal *logbook.Logbook, sinks ...Sink) error {
	var errs []error
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		name := SinkName(sink)
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		err := sink.Save(ctx, result)
		if errors.Is(err, ErrAlreadySaved) {
			logger.Zap().Debug("result already saved", zap.String("sink", name))
			continue
		}
		if err != nil {
			logger.Zap().Warn("result sink failed", zap.String("sink", name), zap.Error(err))
			journal.Warn("could not save results to %s: %v", name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		logger.Zap().Info("result saved", zap.String("sink", name))
		journal.Info("results saved to %s", name)
	}
	return errors.Join(errs...)
}

// SinkName returns a sink's Name() when it has one.
func SinkName(sink Sink) string {
	if named, ok := sink.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", sink)
}

func (s *Session) completeLocked() error {
	tl := s.runner.Timeline()
	outcomes := s.runner.Outcomes()
	sum, err := summary.SummarizeRun(outcomes, tl.TrialCount(), s.participant)
	if err != nil {
		s.logger.Zap().Error("summary rejected", zap.Error(err))
		s.journal.Error("summary rejected: %v", err)
		return fmt.Errorf("session: %w", err)
	}
	s.result = &Result{
		RunID:       s.id,
		StartedAt:   s.startedAt,
		CompletedAt: s.clock(),
		Participant: s.participant,
		Outcomes:    outcomes,
		Summary:     sum,
	}
	fields := []zap.Field{
		zap.Int("comparison_count", sum.Comparison.Count),
		zap.Int("estimation_count", sum.Estimation.Count),
	}
	if sum.Comparison.Accuracy != nil {
		fields = append(fields, zap.Float64("accuracy", *sum.Comparison.Accuracy))
	}
	if sum.Estimation.MeanPercentAbsoluteError != nil {
		fields = append(fields, zap.Float64("mean_pae", *sum.Estimation.MeanPercentAbsoluteError))
	}
	s.logger.Zap().Info("run complete", fields...)
	s.journal.Info("run complete: %d comparison, %d estimation outcomes", sum.Comparison.Count, sum.Estimation.Count)
	return nil
}

func (s *Session) logOutcome(o scoring.TrialOutcome) {
	fields := []zap.Field{
		zap.Int("trial_id", o.TrialID),
		zap.String("task", string(o.Task)),
		zap.Int("stage", o.StageIndex),
	}
	if o.Correct != nil {
		fields = append(fields, zap.Bool("correct", *o.Correct))
	}
	if o.PercentAbsoluteError != nil {
		fields = append(fields, zap.Float64("pae", *o.PercentAbsoluteError))
	}
	if o.RTMillis != nil {
		fields = append(fields, zap.Float64("rt_ms", *o.RTMillis))
	}
	s.logger.Zap().Debug("trial resolved", fields...)
}

func (s *Session) participantLabel() string {
	if s.participant.ID == "" {
		return "anonymous participant"
	}
	return s.participant.ID
}
