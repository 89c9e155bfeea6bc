package stimuli

import (
	"fmt"
	"strings"
)

// Block tags whether a base pair is shown before or after the instruction phase.
type Block string

const (
	BlockPreInstruction  Block = "Pre-Instruction"
	BlockPostInstruction Block = "Post-Instruction"
)

// Valid reports whether the block is one of the known tags.
func (b Block) Valid() bool {
	return b == BlockPreInstruction || b == BlockPostInstruction
}

// ParseBlock accepts the canonical tag or a loose spelling ("pre", "post-instruction").
func ParseBlock(value string) (Block, error) {
	key := strings.ToLower(strings.TrimSpace(value))
	key = strings.NewReplacer("_", "-", " ", "-").Replace(key)
	switch key {
	case "":
		return "", nil
	case "pre", "pre-instruction":
		return BlockPreInstruction, nil
	case "post", "post-instruction":
		return BlockPostInstruction, nil
	}
	return "", fmt.Errorf("unknown block %q", value)
}

// Distance classifies the separation between the two magnitudes of a pair.
type Distance string

const (
	DistanceSmall Distance = "Small"
	DistanceLarge Distance = "Large"
)

// Notation names one of the three textual renderings of a magnitude.
type Notation string

const (
	NotationFraction   Notation = "Fraction"
	NotationDecimal    Notation = "Decimal"
	NotationPercentage Notation = "Percentage"
)

// Notations lists the renderings in canonical order.
var Notations = []Notation{NotationFraction, NotationDecimal, NotationPercentage}

// Short returns the single-letter code used in compact labels.
func (n Notation) Short() string {
	switch n {
	case NotationFraction:
		return "F"
	case NotationDecimal:
		return "D"
	case NotationPercentage:
		return "P"
	}
	return "?"
}

// Value is one magnitude with its three renderings.
type Value struct {
	Magnitude  float64 `yaml:"value" json:"value"`
	Fraction   string  `yaml:"fraction" json:"fraction"`
	Decimal    string  `yaml:"decimal" json:"decimal"`
	Percentage string  `yaml:"percentage" json:"percentage"`
}

// Render returns the rendering for the requested notation.
func (v Value) Render(n Notation) string {
	switch n {
	case NotationFraction:
		return v.Fraction
	case NotationDecimal:
		return v.Decimal
	case NotationPercentage:
		return v.Percentage
	}
	return ""
}

// RelationMeta carries catalog bookkeeping for one cross-notation relation.
type RelationMeta struct {
	ProblemNumber int  `yaml:"problem" json:"problem"`
	WNBConsistent bool `yaml:"wnb" json:"wnb"`
	// DecimalDigits is nil when the relation has no decimal side.
	DecimalDigits *int `yaml:"decimal_digits,omitempty" json:"decimal_digits,omitempty"`
}

// BasePair is the immutable seed record every trial is derived from.
type BasePair struct {
	Base      string                  `yaml:"base" json:"base"`
	Block     Block                   `yaml:"block" json:"block"`
	Distance  Distance                `yaml:"distance" json:"distance"`
	Larger    Value                   `yaml:"larger" json:"larger"`
	Smaller   Value                   `yaml:"smaller" json:"smaller"`
	Relations map[string]RelationMeta `yaml:"relations,omitempty" json:"relations,omitempty"`
}

// Label identifies the pair in error messages.
func (bp BasePair) Label() string {
	if label := strings.TrimSpace(bp.Base); label != "" {
		return label
	}
	return fmt.Sprintf("%.2f vs %.2f", bp.Larger.Magnitude, bp.Smaller.Magnitude)
}

// Relation returns the metadata for a relation label when present.
func (bp BasePair) Relation(label string) (RelationMeta, bool) {
	meta, ok := bp.Relations[label]
	return meta, ok
}

// Catalog is the read-only set of base pairs fixed at process start.
type Catalog struct {
	Pairs []BasePair `yaml:"pairs" json:"pairs"`
}

// Len returns the number of base pairs.
func (c Catalog) Len() int {
	return len(c.Pairs)
}

// CrossRelationLabel names an ordered cross-notation pairing, larger value first.
func CrossRelationLabel(larger, smaller Notation) string {
	return fmt.Sprintf("%s > %s", larger, smaller)
}

// WithinRelationLabel names a same-notation pairing.
func WithinRelationLabel(n Notation) string {
	return fmt.Sprintf("%s vs %s", n, n)
}

// CrossRelations lists the six ordered notation pairings in generation order.
func CrossRelations() [][2]Notation {
	out := make([][2]Notation, 0, 6)
	for _, larger := range Notations {
		for _, smaller := range Notations {
			if larger == smaller {
				continue
			}
			out = append(out, [2]Notation{larger, smaller})
		}
	}
	return out
}
