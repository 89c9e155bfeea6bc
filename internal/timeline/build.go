// Package timeline assembles the ordered stage sequence a run executes.
package timeline

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/kingrea/magnitude-protocol/internal/scoring"
	"github.com/kingrea/magnitude-protocol/internal/trials"
)

// DefaultFixation is the pause shown before every trial.
const DefaultFixation = 350 * time.Millisecond

// Options controls subsetting and presentation of the built timeline.
type Options struct {
	Comparison trials.Selection
	Estimation trials.Selection
	Fixation   time.Duration
	Keys       scoring.Keys
	Scale      Scale
	// Rand drives side randomization. Nil seeds from the clock.
	Rand trials.RandomSource
	// Consent prepends the identification/consent acknowledgement.
	Consent bool
}

// DefaultOptions returns the protocol defaults: every trial, f/j keys, a
// 0..100 slider and a 350ms fixation.
func DefaultOptions() Options {
	return Options{
		Fixation: DefaultFixation,
		Keys:     scoring.DefaultKeys(),
		Scale:    DefaultScale(),
		Consent:  true,
	}
}

func (o Options) normalized() Options {
	if o.Fixation == 0 {
		o.Fixation = DefaultFixation
	}
	if o.Keys == (scoring.Keys{}) {
		o.Keys = scoring.DefaultKeys()
	}
	if o.Scale == (Scale{}) {
		o.Scale = DefaultScale()
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o
}

// Timeline is the immutable ordered stage sequence for one run.
type Timeline struct {
	stages []Stage
}

// Len returns the number of stages.
func (t Timeline) Len() int { return len(t.stages) }

// Stage returns the stage at index i.
func (t Timeline) Stage(i int) Stage { return t.stages[i] }

// Stages returns a copy of the stage sequence.
func (t Timeline) Stages() []Stage {
	out := make([]Stage, len(t.stages))
	copy(out, t.stages)
	return out
}

// TrialCount counts stages that produce an outcome.
func (t Timeline) TrialCount() int {
	n := 0
	for _, s := range t.stages {
		if IsTrial(s) {
			n++
		}
	}
	return n
}

// CountByTask counts trial stages per task.
func (t Timeline) CountByTask() map[scoring.Task]int {
	out := map[scoring.Task]int{}
	for _, s := range t.stages {
		if IsTrial(s) {
			out[s.Task()]++
		}
	}
	return out
}

// IsTrial reports whether the stage records an outcome.
func IsTrial(s Stage) bool {
	k := s.Kind()
	return k == KindComparison || k == KindEstimation
}

// Build filters both trial sets, randomizes comparison sides once, and lays
// out consent, then the comparison task, then the estimation task. Each task
// is an instruction followed by a fixation and trial per item; a task with no
// trials after filtering is left out entirely.
func Build(comparison []trials.ComparisonTrial, estimation []trials.EstimationTrial, opts Options) (Timeline, error) {
	opts = opts.normalized()
	if err := opts.Scale.Validate(); err != nil {
		return Timeline{}, err
	}
	if err := validateKeys(opts.Keys); err != nil {
		return Timeline{}, err
	}
	cmpSet := trials.Select(comparison, opts.Comparison)
	estSet := trials.Select(estimation, opts.Estimation)
	if len(cmpSet) == 0 && len(estSet) == 0 {
		return Timeline{}, errors.New("timeline: selection left no trials")
	}
	randomized := trials.RandomizeAll(cmpSet, opts.Rand)

	var stages []Stage
	add := func(s Stage, err error) error {
		if err != nil {
			return err
		}
		stages = append(stages, s)
		return nil
	}

	if opts.Consent {
		if err := add(NewInstruction(consentInstruction())); err != nil {
			return Timeline{}, err
		}
	}

	if len(randomized) > 0 {
		if err := add(NewInstruction(comparisonInstruction(opts.Keys))); err != nil {
			return Timeline{}, err
		}
		for i, trial := range randomized {
			if err := add(NewFixation(scoring.TaskComparison, opts.Fixation)); err != nil {
				return Timeline{}, err
			}
			if err := add(NewComparison(trial, i+1, len(randomized), opts.Keys)); err != nil {
				return Timeline{}, err
			}
		}
	}

	if len(estSet) > 0 {
		if err := add(NewInstruction(estimationInstruction())); err != nil {
			return Timeline{}, err
		}
		for i, trial := range estSet {
			if err := add(NewFixation(scoring.TaskEstimation, opts.Fixation)); err != nil {
				return Timeline{}, err
			}
			if err := add(NewEstimation(trial, i+1, len(estSet), opts.Scale)); err != nil {
				return Timeline{}, err
			}
		}
	}
	return Timeline{stages: stages}, nil
}

// FromStages wraps an explicit stage list, mainly for tests and replays.
func FromStages(stages ...Stage) Timeline {
	out := make([]Stage, len(stages))
	copy(out, stages)
	return Timeline{stages: out}
}

func consentInstruction() Instruction {
	return Instruction{
		Phase:       PhaseConsent,
		Title:       "WELCOME",
		Body:        "You will compare fractions, decimals and percentages, then place values on a number line.",
		Prompt:      "Press any key to begin",
		AcceptInput: true,
	}
}

func comparisonInstruction(keys scoring.Keys) Instruction {
	return Instruction{
		Phase:       PhaseComparisonIntro,
		Title:       "MAGNITUDE COMPARISON",
		Body:        "Pick which value is larger.",
		Prompt:      fmt.Sprintf("Press %s (left) or %s (right). Press any key to begin", keyLabel(keys.Left), keyLabel(keys.Right)),
		AcceptInput: true,
	}
}

func estimationInstruction() Instruction {
	return Instruction{
		Phase:       PhaseEstimationIntro,
		Title:       "NUMBER LINE ESTIMATION",
		Body:        "Move the slider to place the value on a 0-1 number line.",
		Prompt:      "Press any key to continue",
		AcceptInput: true,
	}
}

func keyLabel(k string) string {
	if len(k) == 1 && k[0] >= 'a' && k[0] <= 'z' {
		return string(k[0] - 'a' + 'A')
	}
	return k
}
