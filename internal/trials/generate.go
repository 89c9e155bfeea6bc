package trials

import (
	"github.com/kingrea/magnitude-protocol/internal/stimuli"
)

// GenerateComparison expands every base pair into six cross-notation and three
// within-notation trials. The larger value is always on the left and the
// ground truth is left. Output is a pure function of the catalog.
func GenerateComparison(cat stimuli.Catalog) ([]ComparisonTrial, error) {
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	out := make([]ComparisonTrial, 0, cat.Len()*9)
	derived := DerivedComparisonIDBase
	nextDerived := func(bp stimuli.BasePair) (int, error) {
		if derived >= EstimationIDBase {
			return 0, &stimuli.CatalogIntegrityError{
				Base:   bp.Label(),
				Field:  "relations",
				Reason: "catalog too large: derived comparison identifiers exhausted",
			}
		}
		id := derived
		derived++
		return id, nil
	}

	for _, bp := range cat.Pairs {
		for _, rel := range stimuli.CrossRelations() {
			larger, smaller := rel[0], rel[1]
			trial := pairTrial(bp, larger, smaller)
			trial.Relation = stimuli.CrossRelationLabel(larger, smaller)
			trial.Source = SourceCross
			meta, ok := bp.Relation(trial.Relation)
			if ok {
				trial.ID = meta.ProblemNumber
				wnb := meta.WNBConsistent
				trial.WNBConsistent = &wnb
				if meta.DecimalDigits != nil {
					digits := *meta.DecimalDigits
					trial.DecimalDigits = &digits
				}
			} else {
				id, err := nextDerived(bp)
				if err != nil {
					return nil, err
				}
				trial.ID = id
			}
			if trial.DecimalDigits == nil {
				trial.DecimalDigits = decimalDigits(bp, larger, smaller)
			}
			out = append(out, trial)
		}
		for _, n := range stimuli.Notations {
			trial := pairTrial(bp, n, n)
			trial.Relation = stimuli.WithinRelationLabel(n)
			trial.Source = SourceWithin
			id, err := nextDerived(bp)
			if err != nil {
				return nil, err
			}
			trial.ID = id
			out = append(out, trial)
		}
	}
	return out, nil
}

// GenerateEstimation emits, per base pair, the larger then the smaller value
// in each notation.
func GenerateEstimation(cat stimuli.Catalog) ([]EstimationTrial, error) {
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	out := make([]EstimationTrial, 0, cat.Len()*6)
	id := EstimationIDBase
	for _, bp := range cat.Pairs {
		for _, member := range []struct {
			role  Role
			value stimuli.Value
		}{{RoleLarger, bp.Larger}, {RoleSmaller, bp.Smaller}} {
			for _, n := range stimuli.Notations {
				out = append(out, EstimationTrial{
					ID:       id,
					Base:     bp.Label(),
					Block:    bp.Block,
					Distance: bp.Distance,
					Role:     member.role,
					Notation: n,
					Stimulus: member.value.Render(n),
					Value:    member.value.Magnitude,
				})
				id++
			}
		}
	}
	return out, nil
}

func pairTrial(bp stimuli.BasePair, larger, smaller stimuli.Notation) ComparisonTrial {
	return ComparisonTrial{
		Base:          bp.Label(),
		Block:         bp.Block,
		Distance:      bp.Distance,
		Left:          bp.Larger.Render(larger),
		Right:         bp.Smaller.Render(smaller),
		LeftValue:     bp.Larger.Magnitude,
		RightValue:    bp.Smaller.Magnitude,
		LeftNotation:  larger,
		RightNotation: smaller,
		CorrectSide:   SideLeft,
	}
}

// decimalDigits derives the digit count from whichever side is rendered as a
// decimal; nil when neither is.
func decimalDigits(bp stimuli.BasePair, larger, smaller stimuli.Notation) *int {
	var raw string
	switch {
	case larger == stimuli.NotationDecimal:
		raw = bp.Larger.Decimal
	case smaller == stimuli.NotationDecimal:
		raw = bp.Smaller.Decimal
	default:
		return nil
	}
	digits := stimuli.SignificantDecimalDigits(raw)
	return &digits
}
