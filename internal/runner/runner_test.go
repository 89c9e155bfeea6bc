package runner

import (
	"errors"
	"testing"
	"time"

	"github.com/kingrea/magnitude-protocol/internal/scoring"
	"github.com/kingrea/magnitude-protocol/internal/stimuli"
	"github.com/kingrea/magnitude-protocol/internal/timeline"
	"github.com/kingrea/magnitude-protocol/internal/trials"
)

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

func singlePairTimeline(t *testing.T, swap float64) timeline.Timeline {
	t.Helper()
	cat := stimuli.Catalog{Pairs: []stimuli.BasePair{{
		Base:     "0.65 vs 0.35",
		Block:    stimuli.BlockPreInstruction,
		Distance: stimuli.DistanceLarge,
		Larger:   stimuli.Value{Magnitude: 0.65, Fraction: "13/20", Decimal: "0.65", Percentage: "65%"},
		Smaller:  stimuli.Value{Magnitude: 0.35, Fraction: "7/20", Decimal: "0.35", Percentage: "35%"},
	}}}
	cmpTrials, err := trials.GenerateComparison(cat)
	if err != nil {
		t.Fatal(err)
	}
	estTrials, err := trials.GenerateEstimation(cat)
	if err != nil {
		t.Fatal(err)
	}
	opts := timeline.DefaultOptions()
	opts.Rand = fixedSource(swap)
	tl, err := timeline.Build(cmpTrials, estTrials, opts)
	if err != nil {
		t.Fatal(err)
	}
	return tl
}

// drive answers every stage correctly, estimating 0.70 for every item.
func drive(t *testing.T, r *Runner) int {
	t.Helper()
	completions := 0
	for r.Status().State == StateRunning {
		stage, _ := r.Current()
		var tr Transition
		var err error
		switch s := stage.(type) {
		case timeline.Instruction:
			tr, err = r.Advance(AnyKey{Key: " "})
		case timeline.Fixation:
			tr, err = r.Advance(Elapsed{})
		case timeline.Comparison:
			tr, err = r.Advance(Choice{Key: s.CorrectKey(), Latency: 600 * time.Millisecond})
		case timeline.Estimation:
			if _, err = r.Advance(Move{Position: 0.7}); err != nil {
				t.Fatalf("move: %v", err)
			}
			tr, err = r.Advance(Submit{Position: 0.7, Latency: time.Second})
		}
		if err != nil {
			t.Fatalf("advance at %s: %v", r.Status(), err)
		}
		if tr.Completed {
			completions++
		}
	}
	return completions
}

func TestRunnerEndToEndAlwaysSwap(t *testing.T) {
	tl := singlePairTimeline(t, 0.99)
	r := New(tl)
	if _, err := r.Start(); err != nil {
		t.Fatal(err)
	}
	if completions := drive(t, r); completions != 1 {
		t.Fatalf("expected exactly one completion, got %d", completions)
	}
	outcomes := r.Outcomes()
	if len(outcomes) != 15 {
		t.Fatalf("expected 15 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes[:9] {
		if o.CorrectSide != trials.SideRight {
			t.Fatalf("trial %d: expected correct side right after swap", o.TrialID)
		}
		if !o.IsCorrect() {
			t.Fatalf("trial %d: choosing ground truth should be correct", o.TrialID)
		}
		if o.RTMillis == nil || *o.RTMillis != 600 {
			t.Fatalf("trial %d: expected 600ms latency", o.TrialID)
		}
	}
	first := outcomes[9]
	if first.Stimulus != "13/20" || *first.DirectionalError != 0.05 || *first.PercentAbsoluteError != 5 {
		t.Fatalf("unexpected 13/20 outcome: dir=%v pae=%v", *first.DirectionalError, *first.PercentAbsoluteError)
	}
	if _, err := r.Advance(Elapsed{}); !errors.Is(err, ErrRunComplete) {
		t.Fatalf("expected ErrRunComplete after completion, got %v", err)
	}
}

func TestRunnerRecordsStageIndex(t *testing.T) {
	r := New(singlePairTimeline(t, 0))
	if _, err := r.Start(); err != nil {
		t.Fatal(err)
	}
	drive(t, r)
	for _, o := range r.Outcomes() {
		stage := r.Timeline().Stage(o.StageIndex)
		if !timeline.IsTrial(stage) || stage.Task() != o.Task {
			t.Fatalf("outcome for trial %d points at stage %d (%s)", o.TrialID, o.StageIndex, stage.Kind())
		}
	}
}

func TestRunnerLifecycleErrors(t *testing.T) {
	r := New(singlePairTimeline(t, 0))
	if _, err := r.Advance(AnyKey{}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if _, err := r.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestRunnerEmptyTimelineCompletesOnStart(t *testing.T) {
	r := New(timeline.FromStages())
	tr, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	if !tr.Completed || r.Status().State != StateComplete {
		t.Fatalf("expected immediate completion, got %+v", tr)
	}
}

func TestRunnerRejectsInvalidEvents(t *testing.T) {
	trial := trials.ComparisonTrial{ID: 1, Left: "0.65", Right: "7/20", LeftValue: 0.65, RightValue: 0.35, CorrectSide: trials.SideLeft}
	cmpStage, err := timeline.NewComparison(trial, 1, 1, scoring.DefaultKeys())
	if err != nil {
		t.Fatal(err)
	}
	fix, _ := timeline.NewFixation(scoring.TaskComparison, time.Millisecond)
	r := New(timeline.FromStages(fix, cmpStage))
	if _, err := r.Start(); err != nil {
		t.Fatal(err)
	}

	var invalid *InvalidResponseError
	if _, err := r.Advance(AnyKey{Key: "f"}); !errors.As(err, &invalid) || invalid.Kind != timeline.KindFixation {
		t.Fatalf("fixation should reject keys, got %v", err)
	}
	if r.Status().Index != 0 {
		t.Fatalf("rejected event must not advance")
	}
	if _, err := r.Advance(Elapsed{}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Advance(Choice{Key: "k"}); !errors.As(err, &invalid) {
		t.Fatalf("expected unknown key to be rejected, got %v", err)
	}
	if _, err := r.Advance(Elapsed{}); !errors.As(err, &invalid) {
		t.Fatalf("comparison without deadline should reject elapsed, got %v", err)
	}
	if len(r.Outcomes()) != 0 {
		t.Fatalf("rejected events must not record outcomes")
	}
	tr, err := r.Advance(Choice{Key: "j", Latency: 400 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if !tr.Completed || tr.Outcome == nil || tr.Outcome.IsCorrect() {
		t.Fatalf("choosing j should complete with an incorrect verdict: %+v", tr)
	}
}

func TestRunnerComparisonDeadline(t *testing.T) {
	trial := trials.ComparisonTrial{ID: 1, LeftValue: 0.65, RightValue: 0.35, CorrectSide: trials.SideLeft}
	stage, err := timeline.NewComparison(trial, 1, 1, scoring.DefaultKeys())
	if err != nil {
		t.Fatal(err)
	}
	stage.Deadline = 2 * time.Second
	r := New(timeline.FromStages(stage))
	if _, err := r.Start(); err != nil {
		t.Fatal(err)
	}
	tr, err := r.Advance(Elapsed{})
	if err != nil {
		t.Fatal(err)
	}
	o := tr.Outcome
	if o == nil || o.Correct == nil || *o.Correct || o.RTMillis != nil {
		t.Fatalf("timed-out comparison should be not correct with no latency: %+v", o)
	}
}

func TestRunnerEstimationRequiresMovement(t *testing.T) {
	est := trials.EstimationTrial{ID: 10000, Stimulus: "13/20", Value: 0.65}
	stage, err := timeline.NewEstimation(est, 1, 1, timeline.DefaultScale())
	if err != nil {
		t.Fatal(err)
	}
	r := New(timeline.FromStages(stage))
	if _, err := r.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Advance(Submit{Position: 0.5}); !errors.Is(err, ErrMovementRequired) {
		t.Fatalf("expected ErrMovementRequired, got %v", err)
	}
	var invalid *InvalidResponseError
	if _, err := r.Advance(Move{Position: 1.5}); !errors.As(err, &invalid) {
		t.Fatalf("expected out-of-range move to be rejected, got %v", err)
	}
	if r.Moved() {
		t.Fatalf("rejected move must not count")
	}
	tr, err := r.Advance(Move{Position: 0.4})
	if err != nil || tr.From != tr.To {
		t.Fatalf("move should be accepted in place: %+v %v", tr, err)
	}
	tr, err = r.Advance(Submit{Position: 0.4, Latency: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if !tr.Completed || *tr.Outcome.DirectionalError >= 0 {
		t.Fatalf("expected completion with negative directional error: %+v", tr.Outcome)
	}
}

func TestRunnerScoringErrorIsFatal(t *testing.T) {
	est := trials.EstimationTrial{ID: 10000, Stimulus: "13/20", Value: 0.65}
	stage, err := timeline.NewEstimation(est, 1, 1, timeline.DefaultScale())
	if err != nil {
		t.Fatal(err)
	}
	stage.Trial.Value = 2
	r := New(timeline.FromStages(stage, stage))
	if _, err := r.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Advance(Move{Position: 0.5}); err != nil {
		t.Fatal(err)
	}
	_, err = r.Advance(Submit{Position: 0.5})
	var scoringErr *scoring.ScoringError
	if !errors.As(err, &scoringErr) {
		t.Fatalf("expected ScoringError, got %v", err)
	}
	if _, again := r.Advance(Move{Position: 0.5}); !errors.Is(again, err) {
		t.Fatalf("run should stay failed, got %v", again)
	}
	if r.Status().Index != 0 || len(r.Outcomes()) != 0 {
		t.Fatalf("failed run must not advance or record")
	}
}

func TestRunnerOutcomeLogIsNotMutableThroughCopies(t *testing.T) {
	r := New(singlePairTimeline(t, 0))
	if _, err := r.Start(); err != nil {
		t.Fatal(err)
	}
	var emitted *scoring.TrialOutcome
	for emitted == nil && r.Status().State == StateRunning {
		stage, _ := r.Current()
		var tr Transition
		var err error
		switch s := stage.(type) {
		case timeline.Instruction:
			tr, err = r.Advance(AnyKey{Key: " "})
		case timeline.Fixation:
			tr, err = r.Advance(Elapsed{})
		case timeline.Comparison:
			tr, err = r.Advance(Choice{Key: s.CorrectKey(), Latency: 600 * time.Millisecond})
		default:
			t.Fatalf("unexpected stage %s before the first comparison resolved", stage.Kind())
		}
		if err != nil {
			t.Fatal(err)
		}
		emitted = tr.Outcome
	}
	if emitted == nil {
		t.Fatalf("no outcome was emitted")
	}
	emitted.TrialID = -1
	*emitted.RTMillis = -1
	*emitted.Correct = false

	copies := r.Outcomes()
	*copies[0].LeftValue = -1
	copies[0].Base = "tampered"

	stored := r.Outcomes()[0]
	if stored.TrialID == -1 || *stored.RTMillis != 600 || !stored.IsCorrect() {
		t.Fatalf("transition outcome shares memory with the log: %+v", stored)
	}
	if *stored.LeftValue < 0 || stored.Base == "tampered" {
		t.Fatalf("Outcomes copy shares memory with the log: %+v", stored)
	}
}
