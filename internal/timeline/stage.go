package timeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/magnitude-protocol/internal/scoring"
	"github.com/kingrea/magnitude-protocol/internal/trials"
)

// Kind tags a stage variant.
type Kind string

const (
	KindInstruction Kind = "instruction"
	KindFixation    Kind = "fixation"
	KindComparison  Kind = "comparison"
	KindEstimation  Kind = "estimation"
)

// Phase names the protocol section a non-trial stage belongs to.
type Phase string

const (
	PhaseConsent         Phase = "consent"
	PhaseComparisonIntro Phase = "comparison_intro"
	PhaseEstimationIntro Phase = "estimation_intro"
)

// Stage is one atomic step of the timeline. The variants are closed: only
// this package implements it.
type Stage interface {
	Kind() Kind
	// Task is the scoring task for trial stages and for the fixation that
	// precedes them; empty for instructions.
	Task() scoring.Task
	stage()
}

// Instruction shows static content. It resolves on the first input when
// AcceptInput is set, and after Duration when Duration is positive.
type Instruction struct {
	Phase       Phase
	Title       string
	Body        string
	Prompt      string
	Duration    time.Duration
	AcceptInput bool
}

// NewInstruction validates that the stage has a way to resolve.
func NewInstruction(in Instruction) (Instruction, error) {
	if strings.TrimSpace(in.Title) == "" {
		return Instruction{}, errors.New("timeline: instruction title is required")
	}
	if in.Duration < 0 {
		return Instruction{}, fmt.Errorf("timeline: instruction %q has negative duration", in.Title)
	}
	if !in.AcceptInput && in.Duration == 0 {
		return Instruction{}, fmt.Errorf("timeline: instruction %q never resolves", in.Title)
	}
	return in, nil
}

func (Instruction) Kind() Kind         { return KindInstruction }
func (Instruction) Task() scoring.Task { return "" }
func (Instruction) stage()             {}

// Fixation is an uninterruptible pause.
type Fixation struct {
	For      scoring.Task
	Duration time.Duration
}

// NewFixation requires a positive duration.
func NewFixation(task scoring.Task, d time.Duration) (Fixation, error) {
	if d <= 0 {
		return Fixation{}, fmt.Errorf("timeline: fixation duration must be positive, got %s", d)
	}
	return Fixation{For: task, Duration: d}, nil
}

func (Fixation) Kind() Kind           { return KindFixation }
func (f Fixation) Task() scoring.Task { return f.For }
func (Fixation) stage()               {}

// Comparison presents one comparison trial. A zero Deadline leaves the stage
// open until a choice arrives.
type Comparison struct {
	Trial    trials.ComparisonTrial
	Index    int
	Total    int
	Keys     scoring.Keys
	Deadline time.Duration
}

// NewComparison checks ground truth and the response keys.
func NewComparison(trial trials.ComparisonTrial, index, total int, keys scoring.Keys) (Comparison, error) {
	if err := trial.Validate(); err != nil {
		return Comparison{}, fmt.Errorf("timeline: %w", err)
	}
	if err := validateKeys(keys); err != nil {
		return Comparison{}, err
	}
	if index < 1 || index > total {
		return Comparison{}, fmt.Errorf("timeline: trial index %d outside 1..%d", index, total)
	}
	return Comparison{Trial: trial, Index: index, Total: total, Keys: keys}, nil
}

func (Comparison) Kind() Kind         { return KindComparison }
func (Comparison) Task() scoring.Task { return scoring.TaskComparison }
func (Comparison) stage()             {}

// CorrectKey returns the key that answers the trial correctly.
func (c Comparison) CorrectKey() string {
	return c.Keys.CorrectKey(c.Trial.CorrectSide)
}

// Estimation presents one estimation trial with a slider.
type Estimation struct {
	Trial trials.EstimationTrial
	Index int
	Total int
	Scale Scale
}

// NewEstimation checks the trial's magnitude and the slider scale.
func NewEstimation(trial trials.EstimationTrial, index, total int, scale Scale) (Estimation, error) {
	if trial.Value < 0 || trial.Value > 1 {
		return Estimation{}, fmt.Errorf("timeline: estimation trial %d value %g outside [0,1]", trial.ID, trial.Value)
	}
	if strings.TrimSpace(trial.Stimulus) == "" {
		return Estimation{}, fmt.Errorf("timeline: estimation trial %d has no stimulus", trial.ID)
	}
	if err := scale.Validate(); err != nil {
		return Estimation{}, err
	}
	if index < 1 || index > total {
		return Estimation{}, fmt.Errorf("timeline: trial index %d outside 1..%d", index, total)
	}
	return Estimation{Trial: trial, Index: index, Total: total, Scale: scale}, nil
}

func (Estimation) Kind() Kind         { return KindEstimation }
func (Estimation) Task() scoring.Task { return scoring.TaskEstimation }
func (Estimation) stage()             {}

// Scale is the integer slider behind the number line.
type Scale struct {
	Min   int `yaml:"slider_min" json:"min"`
	Max   int `yaml:"slider_max" json:"max"`
	Start int `yaml:"slider_start" json:"start"`
	Step  int `yaml:"step" json:"step"`
}

// DefaultScale is 0..100 starting at the midpoint.
func DefaultScale() Scale {
	return Scale{Min: 0, Max: 100, Start: 50, Step: 1}
}

// Validate checks the range, start and step.
func (s Scale) Validate() error {
	if s.Max <= s.Min {
		return fmt.Errorf("timeline: slider max %d must exceed min %d", s.Max, s.Min)
	}
	if s.Start < s.Min || s.Start > s.Max {
		return fmt.Errorf("timeline: slider start %d outside [%d,%d]", s.Start, s.Min, s.Max)
	}
	if s.Step <= 0 {
		return fmt.Errorf("timeline: slider step must be positive, got %d", s.Step)
	}
	return nil
}

// Clamp keeps v inside the scale.
func (s Scale) Clamp(v int) int {
	if v < s.Min {
		return s.Min
	}
	if v > s.Max {
		return s.Max
	}
	return v
}

// Position normalizes a slider value onto [0,1].
func (s Scale) Position(v int) (float64, error) {
	return scoring.PositionFromSlider(v, s.Min, s.Max)
}

func validateKeys(keys scoring.Keys) error {
	if strings.TrimSpace(keys.Left) == "" || strings.TrimSpace(keys.Right) == "" {
		return errors.New("timeline: left and right response keys are required")
	}
	if keys.Left == keys.Right {
		return fmt.Errorf("timeline: left and right keys must differ (both %q)", keys.Left)
	}
	return nil
}
