package stimuli

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// MaxProblemNumber bounds catalog problem numbers. Identifiers above it are
// reserved for generated trials.
const MaxProblemNumber = 8999

// CatalogIntegrityError reports a malformed base pair. It is fatal: no trial
// is generated from a catalog that fails validation.
type CatalogIntegrityError struct {
	Base   string
	Field  string
	Reason string
}

func (e *CatalogIntegrityError) Error() string {
	if e.Base == "" {
		return fmt.Sprintf("catalog integrity: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("catalog integrity: base pair %q: %s: %s", e.Base, e.Field, e.Reason)
}

func integrityError(bp BasePair, field, format string, args ...any) error {
	return &CatalogIntegrityError{Base: bp.Label(), Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks every base pair and the catalog-wide problem numbering.
// The first violation is returned as a *CatalogIntegrityError.
func (c Catalog) Validate() error {
	if len(c.Pairs) == 0 {
		return &CatalogIntegrityError{Field: "pairs", Reason: "catalog has no base pairs"}
	}
	problems := map[int]string{}
	for _, bp := range c.Pairs {
		if err := bp.Validate(); err != nil {
			return err
		}
		for _, label := range sortedRelationLabels(bp.Relations) {
			num := bp.Relations[label].ProblemNumber
			if owner, dup := problems[num]; dup {
				return integrityError(bp, "relations."+label+".problem", "problem number %d already used by %q", num, owner)
			}
			problems[num] = bp.Label()
		}
	}
	return nil
}

// Validate checks one base pair in isolation.
func (bp BasePair) Validate() error {
	if !bp.Block.Valid() {
		return integrityError(bp, "block", "unknown block %q", bp.Block)
	}
	if strings.TrimSpace(string(bp.Distance)) == "" {
		return integrityError(bp, "distance", "distance class is required")
	}
	if err := validateValue(bp, "larger", bp.Larger); err != nil {
		return err
	}
	if err := validateValue(bp, "smaller", bp.Smaller); err != nil {
		return err
	}
	if !(bp.Larger.Magnitude > bp.Smaller.Magnitude) {
		return integrityError(bp, "larger.value", "%g is not strictly greater than smaller %g", bp.Larger.Magnitude, bp.Smaller.Magnitude)
	}
	known := map[string]bool{}
	for _, rel := range CrossRelations() {
		known[CrossRelationLabel(rel[0], rel[1])] = true
	}
	for _, label := range sortedRelationLabels(bp.Relations) {
		meta := bp.Relations[label]
		field := "relations." + label
		if !known[label] {
			return integrityError(bp, field, "unknown cross-notation relation")
		}
		if meta.ProblemNumber < 1 || meta.ProblemNumber > MaxProblemNumber {
			return integrityError(bp, field+".problem", "problem number %d outside 1..%d", meta.ProblemNumber, MaxProblemNumber)
		}
		if meta.DecimalDigits != nil && *meta.DecimalDigits < 0 {
			return integrityError(bp, field+".decimal_digits", "must be >= 0")
		}
	}
	return nil
}

func validateValue(bp BasePair, role string, v Value) error {
	if math.IsNaN(v.Magnitude) || v.Magnitude <= 0 || v.Magnitude >= 1 {
		return integrityError(bp, role+".value", "magnitude %g outside (0,1)", v.Magnitude)
	}
	for _, n := range Notations {
		field := role + "." + strings.ToLower(string(n))
		raw := strings.TrimSpace(v.Render(n))
		if raw == "" {
			return integrityError(bp, field, "rendering is missing")
		}
		parsed, tolerance, err := ParseRendering(n, raw)
		if err != nil {
			return integrityError(bp, field, "%v", err)
		}
		if math.Abs(parsed-v.Magnitude) > tolerance {
			return integrityError(bp, field, "%q parses to %g, want %g", raw, parsed, v.Magnitude)
		}
	}
	return nil
}

var fractionPattern = regexp.MustCompile(`^(\d+)\s*/\s*(\d+)$`)

// ParseRendering converts a rendering back to its magnitude and returns the
// tolerance implied by the rendering's precision.
func ParseRendering(n Notation, raw string) (value float64, tolerance float64, err error) {
	raw = strings.TrimSpace(raw)
	switch n {
	case NotationFraction:
		m := fractionPattern.FindStringSubmatch(raw)
		if m == nil {
			return 0, 0, fmt.Errorf("%q is not a simple fraction", raw)
		}
		num, _ := strconv.Atoi(m[1])
		den, _ := strconv.Atoi(m[2])
		if den == 0 {
			return 0, 0, fmt.Errorf("%q has a zero denominator", raw)
		}
		return float64(num) / float64(den), 1e-9, nil
	case NotationDecimal:
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%q is not a decimal", raw)
		}
		return parsed, halfUnit(FractionDigits(raw)), nil
	case NotationPercentage:
		body, ok := strings.CutSuffix(raw, "%")
		if !ok {
			return 0, 0, fmt.Errorf("%q is missing the %% sign", raw)
		}
		body = strings.TrimSpace(body)
		parsed, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%q is not a percentage", raw)
		}
		return parsed / 100, halfUnit(FractionDigits(body) + 2), nil
	}
	return 0, 0, fmt.Errorf("unknown notation %q", n)
}

// FractionDigits counts the digits after the decimal point, as written.
func FractionDigits(raw string) int {
	_, frac, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok {
		return 0
	}
	return len(frac)
}

// SignificantDecimalDigits counts digits after the decimal point once trailing
// zeros are removed ("0.70" has one, "0.55" two).
func SignificantDecimalDigits(raw string) int {
	_, frac, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok {
		return 0
	}
	return len(strings.TrimRight(frac, "0"))
}

func halfUnit(digits int) float64 {
	return 0.5*math.Pow(10, -float64(digits)) + 1e-12
}

func sortedRelationLabels(relations map[string]RelationMeta) []string {
	if len(relations) == 0 {
		return nil
	}
	labels := make([]string, 0, len(relations))
	for _, rel := range CrossRelations() {
		label := CrossRelationLabel(rel[0], rel[1])
		if _, ok := relations[label]; ok {
			labels = append(labels, label)
		}
	}
	var extra []string
	for label := range relations {
		found := false
		for _, known := range labels {
			if known == label {
				found = true
				break
			}
		}
		if !found {
			extra = append(extra, label)
		}
	}
	sort.Strings(extra)
	return append(labels, extra...)
}
