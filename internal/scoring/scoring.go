// Package scoring turns one raw response into a verdict for one trial.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/kingrea/magnitude-protocol/internal/stimuli"
	"github.com/kingrea/magnitude-protocol/internal/trials"
)

// Task tags partition the outcome log.
type Task string

const (
	TaskComparison Task = "magnitude_compare"
	TaskEstimation Task = "number_line_estimation"
)

// Default response keys for the comparison task.
const (
	DefaultLeftKey  = "f"
	DefaultRightKey = "j"
)

// ScoringError reports a response that cannot be scored against its trial.
// It is fatal for the run.
type ScoringError struct {
	TrialID int
	Reason  string
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("scoring: trial %d: %s", e.TrialID, e.Reason)
}

// TrialOutcome is the immutable record of one resolved trial stage.
type TrialOutcome struct {
	TrialID    int    `json:"trial_id" yaml:"trial_id"`
	Task       Task   `json:"task" yaml:"task"`
	StageIndex int    `json:"stage_index" yaml:"stage_index"`
	Base       string `json:"base" yaml:"base"`

	Block    stimuli.Block    `json:"block" yaml:"block"`
	Distance stimuli.Distance `json:"distance" yaml:"distance"`

	// Comparison fields.
	Relation      string        `json:"relation,omitempty" yaml:"relation,omitempty"`
	Source        trials.Source `json:"source,omitempty" yaml:"source,omitempty"`
	Left          string        `json:"left,omitempty" yaml:"left,omitempty"`
	Right         string        `json:"right,omitempty" yaml:"right,omitempty"`
	LeftValue     *float64      `json:"left_value,omitempty" yaml:"left_value,omitempty"`
	RightValue    *float64      `json:"right_value,omitempty" yaml:"right_value,omitempty"`
	CorrectSide   trials.Side   `json:"correct_side,omitempty" yaml:"correct_side,omitempty"`
	CorrectKey    string        `json:"correct_key,omitempty" yaml:"correct_key,omitempty"`
	WNBConsistent *bool         `json:"wnb_consistent,omitempty" yaml:"wnb_consistent,omitempty"`
	DecimalDigits *int          `json:"decimal_digits,omitempty" yaml:"decimal_digits,omitempty"`
	Key           string        `json:"key,omitempty" yaml:"key,omitempty"`
	Side          trials.Side   `json:"side,omitempty" yaml:"side,omitempty"`
	Correct       *bool         `json:"correct,omitempty" yaml:"correct,omitempty"`

	// Estimation fields.
	Notation             stimuli.Notation `json:"notation,omitempty" yaml:"notation,omitempty"`
	Stimulus             string           `json:"stimulus,omitempty" yaml:"stimulus,omitempty"`
	TrueValue            *float64         `json:"true_value,omitempty" yaml:"true_value,omitempty"`
	Position             *float64         `json:"position,omitempty" yaml:"position,omitempty"`
	DirectionalError     *float64         `json:"directional_error,omitempty" yaml:"directional_error,omitempty"`
	PercentAbsoluteError *float64         `json:"percent_absolute_error,omitempty" yaml:"percent_absolute_error,omitempty"`

	// RTMillis is nil when the stage resolved without a response.
	RTMillis *float64 `json:"rt_ms,omitempty" yaml:"rt_ms,omitempty"`
}

// Clone returns a copy that shares no pointers with o.
func (o TrialOutcome) Clone() TrialOutcome {
	o.LeftValue = clonePtr(o.LeftValue)
	o.RightValue = clonePtr(o.RightValue)
	o.WNBConsistent = clonePtr(o.WNBConsistent)
	o.DecimalDigits = clonePtr(o.DecimalDigits)
	o.Correct = clonePtr(o.Correct)
	o.TrueValue = clonePtr(o.TrueValue)
	o.Position = clonePtr(o.Position)
	o.DirectionalError = clonePtr(o.DirectionalError)
	o.PercentAbsoluteError = clonePtr(o.PercentAbsoluteError)
	o.RTMillis = clonePtr(o.RTMillis)
	return o
}

// CloneLog deep-copies an outcome log. Nil stays nil.
func CloneLog(log []TrialOutcome) []TrialOutcome {
	if log == nil {
		return nil
	}
	out := make([]TrialOutcome, len(log))
	for i, o := range log {
		out[i] = o.Clone()
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// IsCorrect reports the comparison verdict; false for estimation outcomes.
func (o TrialOutcome) IsCorrect() bool {
	return o.Correct != nil && *o.Correct
}

// Keys maps sides to response keys.
type Keys struct {
	Left  string
	Right string
}

// DefaultKeys returns f for left and j for right.
func DefaultKeys() Keys {
	return Keys{Left: DefaultLeftKey, Right: DefaultRightKey}
}

// CorrectKey returns the key that selects side s.
func (k Keys) CorrectKey(s trials.Side) string {
	if s == trials.SideRight {
		return k.Right
	}
	return k.Left
}

// SideForKey maps a key press back to a side.
func (k Keys) SideForKey(key string) (trials.Side, bool) {
	switch key {
	case k.Left:
		return trials.SideLeft, true
	case k.Right:
		return trials.SideRight, true
	}
	return "", false
}

// ScoreComparison compares the chosen side with the trial's ground truth. An
// empty side means the stage resolved without a response and is scored as
// not correct.
func ScoreComparison(trial trials.ComparisonTrial, side trials.Side, keys Keys, latency *time.Duration) (TrialOutcome, error) {
	if err := trial.Validate(); err != nil {
		return TrialOutcome{}, &ScoringError{TrialID: trial.ID, Reason: err.Error()}
	}
	if side != "" && !side.Valid() {
		return TrialOutcome{}, &ScoringError{TrialID: trial.ID, Reason: fmt.Sprintf("unknown side %q", side)}
	}
	correct := side == trial.CorrectSide
	left, right := trial.LeftValue, trial.RightValue
	out := TrialOutcome{
		TrialID:       trial.ID,
		Task:          TaskComparison,
		Base:          trial.Base,
		Block:         trial.Block,
		Distance:      trial.Distance,
		Relation:      trial.Relation,
		Source:        trial.Source,
		Left:          trial.Left,
		Right:         trial.Right,
		LeftValue:     &left,
		RightValue:    &right,
		CorrectSide:   trial.CorrectSide,
		CorrectKey:    keys.CorrectKey(trial.CorrectSide),
		WNBConsistent: clonePtr(trial.WNBConsistent),
		DecimalDigits: clonePtr(trial.DecimalDigits),
		Side:          side,
		Correct:       &correct,
		RTMillis:      millis(latency),
	}
	if side != "" {
		out.Key = keys.CorrectKey(side)
	}
	return out, nil
}

// ScoreEstimation scores a normalized response position against the trial's
// true magnitude. Both errors share the [0,1] scale; PAE is in percentage
// points of that range.
func ScoreEstimation(trial trials.EstimationTrial, position float64, latency *time.Duration) (TrialOutcome, error) {
	if math.IsNaN(trial.Value) || trial.Value < 0 || trial.Value > 1 {
		return TrialOutcome{}, &ScoringError{TrialID: trial.ID, Reason: fmt.Sprintf("true value %g outside [0,1]", trial.Value)}
	}
	if math.IsNaN(position) || position < 0 || position > 1 {
		return TrialOutcome{}, &ScoringError{TrialID: trial.ID, Reason: fmt.Sprintf("position %g outside [0,1]", position)}
	}
	truth := trial.Value
	pos := position
	directional := round(pos - truth)
	pae := round(math.Abs(pos-truth) * 100)
	return TrialOutcome{
		TrialID:              trial.ID,
		Task:                 TaskEstimation,
		Base:                 trial.Base,
		Block:                trial.Block,
		Distance:             trial.Distance,
		Notation:             trial.Notation,
		Stimulus:             trial.Stimulus,
		TrueValue:            &truth,
		Position:             &pos,
		DirectionalError:     &directional,
		PercentAbsoluteError: &pae,
		RTMillis:             millis(latency),
	}, nil
}

// Latency wraps a measured duration for the scoring functions.
func Latency(d time.Duration) *time.Duration {
	return &d
}

// PositionFromSlider normalizes an integer slider reading onto [0,1].
func PositionFromSlider(value, lo, hi int) (float64, error) {
	if hi <= lo {
		return 0, fmt.Errorf("scoring: slider range [%d,%d] is empty", lo, hi)
	}
	if value < lo || value > hi {
		return 0, fmt.Errorf("scoring: slider value %d outside [%d,%d]", value, lo, hi)
	}
	return float64(value-lo) / float64(hi-lo), nil
}

func millis(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	ms := float64(*d) / float64(time.Millisecond)
	return &ms
}

// round drops binary noise below 1e-10 so 0.70-0.65 reports as 0.05.
func round(v float64) float64 {
	const scale = 1e10
	r := math.Round(v*scale) / scale
	if r == 0 {
		return 0
	}
	return r
}
