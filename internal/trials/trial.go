package trials

import (
	"fmt"

	"github.com/kingrea/magnitude-protocol/internal/stimuli"
)

// Side is a presentation position for a comparison trial.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Valid reports whether the side is left or right.
func (s Side) Valid() bool {
	return s == SideLeft || s == SideRight
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLeft {
		return SideRight
	}
	return SideLeft
}

// Source records how a comparison trial was derived from its base pair.
type Source string

const (
	SourceCross  Source = "cross"
	SourceWithin Source = "within"
)

// Identifier ranges. Catalog problem numbers sit below DerivedComparisonIDBase.
const (
	DerivedComparisonIDBase = 9000
	EstimationIDBase        = 10000
)

// ComparisonTrial is one two-alternative magnitude judgment.
type ComparisonTrial struct {
	ID            int              `yaml:"id" json:"id"`
	Base          string           `yaml:"base" json:"base"`
	Block         stimuli.Block    `yaml:"block" json:"block"`
	Distance      stimuli.Distance `yaml:"distance" json:"distance"`
	Relation      string           `yaml:"relation" json:"relation"`
	Source        Source           `yaml:"source" json:"source"`
	Left          string           `yaml:"left" json:"left"`
	Right         string           `yaml:"right" json:"right"`
	LeftValue     float64          `yaml:"left_value" json:"left_value"`
	RightValue    float64          `yaml:"right_value" json:"right_value"`
	LeftNotation  stimuli.Notation `yaml:"left_notation" json:"left_notation"`
	RightNotation stimuli.Notation `yaml:"right_notation" json:"right_notation"`
	CorrectSide   Side             `yaml:"correct_side" json:"correct_side"`
	WNBConsistent *bool            `yaml:"wnb_consistent,omitempty" json:"wnb_consistent,omitempty"`
	DecimalDigits *int             `yaml:"decimal_digits,omitempty" json:"decimal_digits,omitempty"`
}

// BlockTag returns the trial's block.
func (t ComparisonTrial) BlockTag() stimuli.Block { return t.Block }

// LargerSide reports which side holds the strictly greater magnitude.
func (t ComparisonTrial) LargerSide() (Side, bool) {
	switch {
	case t.LeftValue > t.RightValue:
		return SideLeft, true
	case t.RightValue > t.LeftValue:
		return SideRight, true
	}
	return "", false
}

// Validate checks that the recorded ground truth names the larger side.
func (t ComparisonTrial) Validate() error {
	larger, ok := t.LargerSide()
	if !ok {
		return fmt.Errorf("trial %d: left and right magnitudes are equal (%g)", t.ID, t.LeftValue)
	}
	if t.CorrectSide != larger {
		return fmt.Errorf("trial %d: correct side %q does not hold the larger magnitude (%s)", t.ID, t.CorrectSide, larger)
	}
	return nil
}

// Value returns the magnitude shown on side s.
func (t ComparisonTrial) Value(s Side) float64 {
	if s == SideRight {
		return t.RightValue
	}
	return t.LeftValue
}

// Role identifies which member of the base pair an estimation trial shows.
type Role string

const (
	RoleLarger  Role = "larger"
	RoleSmaller Role = "smaller"
)

// EstimationTrial places one rendering on a 0..1 number line.
type EstimationTrial struct {
	ID       int              `yaml:"id" json:"id"`
	Base     string           `yaml:"base" json:"base"`
	Block    stimuli.Block    `yaml:"block" json:"block"`
	Distance stimuli.Distance `yaml:"distance" json:"distance"`
	Role     Role             `yaml:"role" json:"role"`
	Notation stimuli.Notation `yaml:"notation" json:"notation"`
	Stimulus string           `yaml:"stimulus" json:"stimulus"`
	Value    float64          `yaml:"value" json:"value"`
}

// BlockTag returns the trial's block.
func (t EstimationTrial) BlockTag() stimuli.Block { return t.Block }
