package trials

import (
	"fmt"

	"github.com/kingrea/magnitude-protocol/internal/stimuli"
)

// Blocked is implemented by both trial kinds.
type Blocked interface {
	BlockTag() stimuli.Block
}

// Selection restricts a trial set. A zero Block keeps every block and a
// non-positive Limit keeps every trial.
type Selection struct {
	Block stimuli.Block
	Limit int
}

// Select filters by block, then caps the count, preserving order. The input
// slice is not modified.
func Select[T Blocked](items []T, sel Selection) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if sel.Block != "" && item.BlockTag() != sel.Block {
			continue
		}
		out = append(out, item)
	}
	if sel.Limit > 0 && len(out) > sel.Limit {
		out = out[:sel.Limit]
	}
	return out
}

// CheckUniqueIDs confirms no identifier repeats within or across the two sets.
func CheckUniqueIDs(comparison []ComparisonTrial, estimation []EstimationTrial) error {
	seen := make(map[int]string, len(comparison)+len(estimation))
	for _, t := range comparison {
		if owner, dup := seen[t.ID]; dup {
			return fmt.Errorf("trial id %d repeated (%s, comparison %s)", t.ID, owner, t.Relation)
		}
		seen[t.ID] = "comparison " + t.Relation
	}
	for _, t := range estimation {
		if owner, dup := seen[t.ID]; dup {
			return fmt.Errorf("trial id %d repeated (%s, estimation %s)", t.ID, owner, t.Stimulus)
		}
		seen[t.ID] = "estimation " + t.Stimulus
	}
	return nil
}
