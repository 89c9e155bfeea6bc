package stimuli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	cat := Default()
	if cat.Len() != 8 {
		t.Fatalf("expected 8 base pairs, got %d", cat.Len())
	}
	if err := cat.Validate(); err != nil {
		t.Fatalf("default catalog failed validation: %v", err)
	}
}

func TestDefaultCatalogRelationSheet(t *testing.T) {
	cat := Default()
	seen := map[int]bool{}
	for _, bp := range cat.Pairs {
		if len(bp.Relations) != 6 {
			t.Fatalf("%s: expected 6 relations, got %d", bp.Label(), len(bp.Relations))
		}
		for label, meta := range bp.Relations {
			if seen[meta.ProblemNumber] {
				t.Fatalf("problem number %d reused", meta.ProblemNumber)
			}
			seen[meta.ProblemNumber] = true
			if strings.HasPrefix(label, "Fraction") && meta.WNBConsistent {
				t.Fatalf("%s %s: fraction-led relations are WNB-inconsistent", bp.Label(), label)
			}
			hasDecimal := strings.Contains(label, "Decimal")
			if hasDecimal != (meta.DecimalDigits != nil) {
				t.Fatalf("%s %s: decimal digits presence mismatch", bp.Label(), label)
			}
		}
	}
	if len(seen) != 48 {
		t.Fatalf("expected 48 distinct problem numbers, got %d", len(seen))
	}
	meta, ok := cat.Pairs[7].Relation("Fraction > Decimal")
	if !ok || meta.ProblemNumber != 7 || meta.DecimalDigits == nil || *meta.DecimalDigits != 1 {
		t.Fatalf("unexpected metadata for 0.70 vs 0.30: %+v", meta)
	}
}

func TestValidateRejectsInvertedPair(t *testing.T) {
	cat := Catalog{Pairs: []BasePair{{
		Base:     "bad",
		Block:    BlockPreInstruction,
		Distance: DistanceLarge,
		Larger:   Value{Magnitude: 0.35, Fraction: "7/20", Decimal: "0.35", Percentage: "35%"},
		Smaller:  Value{Magnitude: 0.65, Fraction: "13/20", Decimal: "0.65", Percentage: "65%"},
	}}}
	err := cat.Validate()
	var integrity *CatalogIntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("expected CatalogIntegrityError, got %v", err)
	}
	if integrity.Base != "bad" || integrity.Field != "larger.value" {
		t.Fatalf("unexpected error target: %+v", integrity)
	}
}

func TestValidateRejectsMissingRendering(t *testing.T) {
	bp := Default().Pairs[0]
	bp.Smaller.Percentage = ""
	err := Catalog{Pairs: []BasePair{bp}}.Validate()
	var integrity *CatalogIntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("expected CatalogIntegrityError, got %v", err)
	}
	if integrity.Field != "smaller.percentage" {
		t.Fatalf("expected smaller.percentage, got %q", integrity.Field)
	}
}

func TestValidateRejectsRenderingThatDisagreesWithMagnitude(t *testing.T) {
	bp := Default().Pairs[0]
	bp.Larger.Fraction = "1/2"
	err := bp.Validate()
	if err == nil || !strings.Contains(err.Error(), "larger.fraction") {
		t.Fatalf("expected larger.fraction error, got %v", err)
	}
}

func TestValidateRejectsDuplicateProblemNumbers(t *testing.T) {
	cat := Default()
	cat.Pairs[1].Relations = cat.Pairs[0].Relations
	err := cat.Validate()
	if err == nil || !strings.Contains(err.Error(), "already used") {
		t.Fatalf("expected duplicate problem number error, got %v", err)
	}
}

func TestValidateRejectsReservedProblemNumber(t *testing.T) {
	bp := Default().Pairs[0]
	bp.Relations = map[string]RelationMeta{"Fraction > Decimal": {ProblemNumber: 9000}}
	if err := bp.Validate(); err == nil {
		t.Fatalf("expected reserved problem number to be rejected")
	}
}

func TestValidateRejectsEmptyCatalog(t *testing.T) {
	if err := (Catalog{}).Validate(); err == nil {
		t.Fatalf("expected empty catalog to be rejected")
	}
}

func TestParseRenderingPrecision(t *testing.T) {
	cases := []struct {
		notation Notation
		raw      string
		want     float64
	}{
		{NotationFraction, "13/20", 0.65},
		{NotationFraction, "7 / 10", 0.7},
		{NotationDecimal, "0.70", 0.7},
		{NotationPercentage, "35%", 0.35},
		{NotationPercentage, "12.5 %", 0.125},
	}
	for _, tc := range cases {
		got, tolerance, err := ParseRendering(tc.notation, tc.raw)
		if err != nil {
			t.Fatalf("ParseRendering(%s, %q) error: %v", tc.notation, tc.raw, err)
		}
		if got-tc.want > tolerance || tc.want-got > tolerance {
			t.Fatalf("ParseRendering(%s, %q) = %g, want %g", tc.notation, tc.raw, got, tc.want)
		}
	}
	if _, _, err := ParseRendering(NotationPercentage, "35"); err == nil {
		t.Fatalf("expected percentage without sign to fail")
	}
	if _, _, err := ParseRendering(NotationFraction, "3/0"); err == nil {
		t.Fatalf("expected zero denominator to fail")
	}
}

func TestSignificantDecimalDigits(t *testing.T) {
	if got := SignificantDecimalDigits("0.70"); got != 1 {
		t.Fatalf("0.70: expected 1 digit, got %d", got)
	}
	if got := SignificantDecimalDigits("0.55"); got != 2 {
		t.Fatalf("0.55: expected 2 digits, got %d", got)
	}
	if got := FractionDigits("0.70"); got != 2 {
		t.Fatalf("0.70: expected 2 written digits, got %d", got)
	}
}

func TestParseBlock(t *testing.T) {
	cases := map[string]Block{
		"pre":              BlockPreInstruction,
		"Post-Instruction": BlockPostInstruction,
		"post_instruction": BlockPostInstruction,
		"":                 "",
	}
	for raw, want := range cases {
		got, err := ParseBlock(raw)
		if err != nil {
			t.Fatalf("ParseBlock(%q) error: %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseBlock(%q) = %q, want %q", raw, got, want)
		}
	}
	if _, err := ParseBlock("during"); err == nil {
		t.Fatalf("expected unknown block to fail")
	}
}

const singlePairYAML = `
pairs:
  - base: 0.65 vs 0.35
    block: pre
    distance: Large
    larger: {value: 0.65, fraction: "13/20", decimal: "0.65", percentage: "65%"}
    smaller: {value: 0.35, fraction: "7/20", decimal: "0.35", percentage: "35%"}
    relations:
      "Fraction  > Decimal": {problem: 1, wnb: false, decimal_digits: 2}
`

func TestParseCatalogYAMLNormalizes(t *testing.T) {
	cat, err := ParseCatalogYAML([]byte(singlePairYAML))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if cat.Len() != 1 {
		t.Fatalf("expected 1 pair, got %d", cat.Len())
	}
	bp := cat.Pairs[0]
	if bp.Block != BlockPreInstruction {
		t.Fatalf("expected block normalized to %q, got %q", BlockPreInstruction, bp.Block)
	}
	if _, ok := bp.Relation("Fraction > Decimal"); !ok {
		t.Fatalf("expected relation label whitespace to be collapsed: %v", bp.Relations)
	}
}

func TestParseCatalogYAMLRejectsEmpty(t *testing.T) {
	if _, err := ParseCatalogYAML([]byte("  \n")); err == nil {
		t.Fatalf("expected empty payload to fail")
	}
}

func TestLoadFileRoundTripsEncodedCatalog(t *testing.T) {
	data, err := Default().EncodeYAML()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cat, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cat.Len() != Default().Len() {
		t.Fatalf("expected %d pairs, got %d", Default().Len(), cat.Len())
	}
}

func TestLoadFallsBackToDefault(t *testing.T) {
	cat, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Len() != 8 {
		t.Fatalf("expected default catalog, got %d pairs", cat.Len())
	}
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected directory path to fail")
	}
}
