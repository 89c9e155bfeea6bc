// Package runner steps through a built timeline one stage at a time.
package runner

import (
	"errors"
	"fmt"
	"math"

	"github.com/kingrea/magnitude-protocol/internal/scoring"
	"github.com/kingrea/magnitude-protocol/internal/timeline"
)

var (
	ErrNotStarted       = errors.New("runner: run has not started")
	ErrAlreadyStarted   = errors.New("runner: run already started")
	ErrRunComplete      = errors.New("runner: run is complete")
	ErrMovementRequired = errors.New("runner: slider must be moved before submitting")
)

// InvalidResponseError reports an event the active stage does not accept.
// The runner state is unchanged.
type InvalidResponseError struct {
	Stage  int
	Kind   timeline.Kind
	Reason string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("runner: stage %d (%s): %s", e.Stage, e.Kind, e.Reason)
}

// State is the runner's lifecycle position.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	}
	return "unknown"
}

// Status pairs the state with the active stage index while running.
type Status struct {
	State State
	Index int
}

func (s Status) String() string {
	if s.State == StateRunning {
		return fmt.Sprintf("running(%d)", s.Index)
	}
	return s.State.String()
}

// Transition describes one step of the state machine.
type Transition struct {
	From    Status
	To      Status
	Outcome *scoring.TrialOutcome
	// Completed is true on the single transition that reaches StateComplete.
	Completed bool
}

// Runner owns the outcome log for one run. It is not safe for concurrent use;
// callers serialize events.
type Runner struct {
	timeline timeline.Timeline
	status   Status
	moved    bool
	outcomes []scoring.TrialOutcome
	failed   error
}

// New returns a runner in StateNotStarted.
func New(tl timeline.Timeline) *Runner {
	return &Runner{timeline: tl}
}

// Timeline returns the timeline the runner executes.
func (r *Runner) Timeline() timeline.Timeline { return r.timeline }

// Status returns the current state.
func (r *Runner) Status() Status { return r.status }

// Err returns the fatal error that stopped the run, if any.
func (r *Runner) Err() error { return r.failed }

// Current returns the active stage while running.
func (r *Runner) Current() (timeline.Stage, bool) {
	if r.status.State != StateRunning {
		return nil, false
	}
	return r.timeline.Stage(r.status.Index), true
}

// Moved reports whether the active estimation slider has been moved.
func (r *Runner) Moved() bool { return r.moved }

// Outcomes returns a copy of the outcome log.
func (r *Runner) Outcomes() []scoring.TrialOutcome {
	out := scoring.CloneLog(r.outcomes)
	if out == nil {
		out = []scoring.TrialOutcome{}
	}
	return out
}

// Start enters the first stage. An empty timeline completes immediately.
func (r *Runner) Start() (Transition, error) {
	if r.status.State != StateNotStarted {
		return Transition{}, ErrAlreadyStarted
	}
	from := r.status
	if r.timeline.Len() == 0 {
		r.status = Status{State: StateComplete}
		return Transition{From: from, To: r.status, Completed: true}, nil
	}
	r.status = Status{State: StateRunning, Index: 0}
	return Transition{From: from, To: r.status}, nil
}

// Advance delivers one event to the active stage. Events the stage does not
// accept return *InvalidResponseError and leave the state untouched; a Move
// is accepted without advancing.
func (r *Runner) Advance(ev Event) (Transition, error) {
	if r.failed != nil {
		return Transition{}, r.failed
	}
	switch r.status.State {
	case StateNotStarted:
		return Transition{}, ErrNotStarted
	case StateComplete:
		return Transition{}, ErrRunComplete
	}
	if ev == nil {
		return Transition{}, r.invalid("no event")
	}

	stage := r.timeline.Stage(r.status.Index)
	var outcome *scoring.TrialOutcome
	switch s := stage.(type) {
	case timeline.Instruction:
		switch ev.(type) {
		case AnyKey:
			if !s.AcceptInput {
				return Transition{}, r.invalid("instruction is timed and accepts no input")
			}
		case Elapsed:
			if s.Duration <= 0 {
				return Transition{}, r.invalid("instruction has no duration")
			}
		default:
			return Transition{}, r.invalid("instruction accepts any key, got " + ev.eventName())
		}
	case timeline.Fixation:
		if _, ok := ev.(Elapsed); !ok {
			return Transition{}, r.invalid("fixation accepts no input")
		}
	case timeline.Comparison:
		scored, err := r.resolveComparison(s, ev)
		if err != nil {
			return Transition{}, err
		}
		outcome = &scored
	case timeline.Estimation:
		scored, moveOnly, err := r.resolveEstimation(s, ev)
		if err != nil {
			return Transition{}, err
		}
		if moveOnly {
			return Transition{From: r.status, To: r.status}, nil
		}
		outcome = &scored
	default:
		return Transition{}, r.invalid(fmt.Sprintf("unknown stage type %T", stage))
	}

	from := r.status
	if outcome != nil {
		outcome.StageIndex = from.Index
		r.outcomes = append(r.outcomes, *outcome)
		copied := outcome.Clone()
		outcome = &copied
	}
	r.moved = false
	if from.Index+1 >= r.timeline.Len() {
		r.status = Status{State: StateComplete}
		return Transition{From: from, To: r.status, Outcome: outcome, Completed: true}, nil
	}
	r.status = Status{State: StateRunning, Index: from.Index + 1}
	return Transition{From: from, To: r.status, Outcome: outcome}, nil
}

func (r *Runner) resolveComparison(s timeline.Comparison, ev Event) (scoring.TrialOutcome, error) {
	switch e := ev.(type) {
	case Choice:
		side := e.Side
		if side == "" {
			mapped, ok := s.Keys.SideForKey(e.Key)
			if !ok {
				return scoring.TrialOutcome{}, r.invalid(fmt.Sprintf("key %q is not a response key", e.Key))
			}
			side = mapped
		}
		if !side.Valid() {
			return scoring.TrialOutcome{}, r.invalid(fmt.Sprintf("unknown side %q", side))
		}
		if e.Latency < 0 {
			return scoring.TrialOutcome{}, r.invalid("negative latency")
		}
		return r.score(scoring.ScoreComparison(s.Trial, side, s.Keys, scoring.Latency(e.Latency)))
	case Elapsed:
		if s.Deadline <= 0 {
			return scoring.TrialOutcome{}, r.invalid("comparison has no deadline")
		}
		return r.score(scoring.ScoreComparison(s.Trial, "", s.Keys, nil))
	}
	return scoring.TrialOutcome{}, r.invalid("comparison accepts a left or right choice, got " + ev.eventName())
}

func (r *Runner) resolveEstimation(s timeline.Estimation, ev Event) (scoring.TrialOutcome, bool, error) {
	switch e := ev.(type) {
	case Move:
		if !inUnit(e.Position) {
			return scoring.TrialOutcome{}, false, r.invalid(fmt.Sprintf("position %g outside [0,1]", e.Position))
		}
		r.moved = true
		return scoring.TrialOutcome{}, true, nil
	case Submit:
		if !r.moved {
			return scoring.TrialOutcome{}, false, ErrMovementRequired
		}
		if !inUnit(e.Position) {
			return scoring.TrialOutcome{}, false, r.invalid(fmt.Sprintf("position %g outside [0,1]", e.Position))
		}
		if e.Latency < 0 {
			return scoring.TrialOutcome{}, false, r.invalid("negative latency")
		}
		out, err := r.score(scoring.ScoreEstimation(s.Trial, e.Position, scoring.Latency(e.Latency)))
		return out, false, err
	}
	return scoring.TrialOutcome{}, false, r.invalid("estimation accepts move or submit, got " + ev.eventName())
}

// score marks the run failed when the scorer rejects a trial.
func (r *Runner) score(out scoring.TrialOutcome, err error) (scoring.TrialOutcome, error) {
	if err != nil {
		r.failed = fmt.Errorf("runner: stage %d: %w", r.status.Index, err)
		return scoring.TrialOutcome{}, r.failed
	}
	return out, nil
}

func (r *Runner) invalid(reason string) error {
	kind := timeline.Kind("")
	if stage, ok := r.Current(); ok {
		kind = stage.Kind()
	}
	return &InvalidResponseError{Stage: r.status.Index, Kind: kind, Reason: reason}
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
