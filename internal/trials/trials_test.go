package trials

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kingrea/magnitude-protocol/internal/stimuli"
)

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

func singlePairCatalog() stimuli.Catalog {
	return stimuli.Catalog{Pairs: []stimuli.BasePair{{
		Base:     "0.65 vs 0.35",
		Block:    stimuli.BlockPreInstruction,
		Distance: stimuli.DistanceLarge,
		Larger:   stimuli.Value{Magnitude: 0.65, Fraction: "13/20", Decimal: "0.65", Percentage: "65%"},
		Smaller:  stimuli.Value{Magnitude: 0.35, Fraction: "7/20", Decimal: "0.35", Percentage: "35%"},
	}}}
}

func TestGenerateCountsForDefaultCatalog(t *testing.T) {
	cat := stimuli.Default()
	cmpTrials, err := GenerateComparison(cat)
	if err != nil {
		t.Fatalf("GenerateComparison: %v", err)
	}
	estTrials, err := GenerateEstimation(cat)
	if err != nil {
		t.Fatalf("GenerateEstimation: %v", err)
	}
	if len(cmpTrials) != 72 {
		t.Fatalf("expected 72 comparison trials, got %d", len(cmpTrials))
	}
	if len(estTrials) != 48 {
		t.Fatalf("expected 48 estimation trials, got %d", len(estTrials))
	}
	if err := CheckUniqueIDs(cmpTrials, estTrials); err != nil {
		t.Fatalf("identifiers collide: %v", err)
	}
	perBase := map[string][2]int{}
	for _, tr := range cmpTrials {
		counts := perBase[tr.Base]
		if tr.Source == SourceCross {
			counts[0]++
		} else {
			counts[1]++
		}
		perBase[tr.Base] = counts
	}
	for base, counts := range perBase {
		if counts != [2]int{6, 3} {
			t.Fatalf("%s: expected 6 cross and 3 within, got %v", base, counts)
		}
	}
}

func TestGenerateUsesCatalogProblemNumbers(t *testing.T) {
	cmpTrials, err := GenerateComparison(stimuli.Default())
	if err != nil {
		t.Fatalf("GenerateComparison: %v", err)
	}
	first := cmpTrials[0]
	if first.ID != 67 || first.Relation != "Fraction > Decimal" || first.Left != "11/20" || first.Right != "0.40" {
		t.Fatalf("unexpected first trial: %+v", first)
	}
	if first.WNBConsistent == nil || *first.WNBConsistent {
		t.Fatalf("fraction-led relation should be WNB-inconsistent")
	}
	within := cmpTrials[6]
	if within.ID != DerivedComparisonIDBase || within.Relation != "Fraction vs Fraction" {
		t.Fatalf("unexpected first within trial: %+v", within)
	}
	if within.WNBConsistent != nil || within.DecimalDigits != nil {
		t.Fatalf("within trials carry no relation metadata: %+v", within)
	}
	for _, tr := range cmpTrials {
		if tr.Source == SourceWithin && (tr.ID < DerivedComparisonIDBase || tr.ID >= EstimationIDBase) {
			t.Fatalf("derived id %d outside reserved range", tr.ID)
		}
	}
}

func TestGenerateDerivesMissingRelationMetadata(t *testing.T) {
	cmpTrials, err := GenerateComparison(singlePairCatalog())
	if err != nil {
		t.Fatalf("GenerateComparison: %v", err)
	}
	wantIDs := []int{9000, 9001, 9002, 9003, 9004, 9005, 9006, 9007, 9008}
	var gotIDs []int
	for _, tr := range cmpTrials {
		gotIDs = append(gotIDs, tr.ID)
	}
	if diff := cmp.Diff(wantIDs, gotIDs); diff != "" {
		t.Fatalf("derived ids mismatch (-want +got):\n%s", diff)
	}
	fd := cmpTrials[0]
	if fd.DecimalDigits == nil || *fd.DecimalDigits != 2 {
		t.Fatalf("expected derived decimal digits 2, got %v", fd.DecimalDigits)
	}
	fp := cmpTrials[1]
	if fp.DecimalDigits != nil {
		t.Fatalf("fraction vs percentage has no decimal side")
	}
}

func TestGenerateRejectsMalformedCatalog(t *testing.T) {
	cat := singlePairCatalog()
	cat.Pairs[0].Larger.Decimal = ""
	_, err := GenerateComparison(cat)
	var integrity *stimuli.CatalogIntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("expected CatalogIntegrityError, got %v", err)
	}
	if _, err := GenerateEstimation(cat); err == nil {
		t.Fatalf("expected estimation generation to fail too")
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	a, err := GenerateComparison(stimuli.Default())
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateComparison(stimuli.Default())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("comparison trials differ between runs:\n%s", diff)
	}
	ea, _ := GenerateEstimation(stimuli.Default())
	eb, _ := GenerateEstimation(stimuli.Default())
	if diff := cmp.Diff(ea, eb); diff != "" {
		t.Fatalf("estimation trials differ between runs:\n%s", diff)
	}
}

func TestGroundTruthSurvivesRandomization(t *testing.T) {
	generated, err := GenerateComparison(stimuli.Default())
	if err != nil {
		t.Fatal(err)
	}
	for _, tr := range generated {
		if tr.CorrectSide != SideLeft {
			t.Fatalf("trial %d: generated ground truth should be left", tr.ID)
		}
		if err := tr.Validate(); err != nil {
			t.Fatalf("generated: %v", err)
		}
	}
	randomized := RandomizeAll(generated, rand.New(rand.NewSource(7)))
	swapped := 0
	for i, tr := range randomized {
		if err := tr.Validate(); err != nil {
			t.Fatalf("randomized: %v", err)
		}
		orig := generated[i]
		if tr.ID != orig.ID || tr.Relation != orig.Relation {
			t.Fatalf("randomization changed identity of trial %d", orig.ID)
		}
		if tr.CorrectSide == SideRight {
			swapped++
			if tr.Left != orig.Right || tr.Right != orig.Left || tr.LeftValue != orig.RightValue || tr.RightValue != orig.LeftValue {
				t.Fatalf("trial %d: sides not swapped together", tr.ID)
			}
		} else if diff := cmp.Diff(orig, tr); diff != "" {
			t.Fatalf("unswapped trial %d changed:\n%s", tr.ID, diff)
		}
	}
	if swapped == 0 || swapped == len(randomized) {
		t.Fatalf("expected a mix of swapped and unswapped trials, got %d/%d", swapped, len(randomized))
	}
}

func TestRandomizeSidesThreshold(t *testing.T) {
	cmpTrials, err := GenerateComparison(singlePairCatalog())
	if err != nil {
		t.Fatal(err)
	}
	kept := RandomizeSides(cmpTrials[0], fixedSource(0.49))
	if diff := cmp.Diff(cmpTrials[0], kept); diff != "" {
		t.Fatalf("draw below 0.5 should keep trial:\n%s", diff)
	}
	for _, tr := range RandomizeAll(cmpTrials, fixedSource(0.5)) {
		if tr.CorrectSide != SideRight {
			t.Fatalf("trial %d: always-swap should put ground truth on the right", tr.ID)
		}
		if tr.LeftValue != 0.35 || tr.RightValue != 0.65 {
			t.Fatalf("trial %d: magnitudes not swapped: %+v", tr.ID, tr)
		}
		if err := tr.Validate(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSelectFiltersThenLimits(t *testing.T) {
	cmpTrials, err := GenerateComparison(stimuli.Default())
	if err != nil {
		t.Fatal(err)
	}
	pre := Select(cmpTrials, Selection{Block: stimuli.BlockPreInstruction})
	if len(pre) != 36 {
		t.Fatalf("expected 36 pre-instruction trials, got %d", len(pre))
	}
	capped := Select(cmpTrials, Selection{Block: stimuli.BlockPostInstruction, Limit: 5})
	if len(capped) != 5 {
		t.Fatalf("expected 5 trials, got %d", len(capped))
	}
	for i, tr := range capped {
		if tr.Block != stimuli.BlockPostInstruction {
			t.Fatalf("trial %d has block %q", tr.ID, tr.Block)
		}
		if diff := cmp.Diff(cmpTrials[i], tr); diff != "" {
			t.Fatalf("selection altered trial:\n%s", diff)
		}
	}
	estTrials, _ := GenerateEstimation(stimuli.Default())
	if got := Select(estTrials, Selection{Limit: 100}); len(got) != 48 {
		t.Fatalf("limit above size should keep all, got %d", len(got))
	}
}

func TestEstimationOrder(t *testing.T) {
	est, err := GenerateEstimation(singlePairCatalog())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"13/20", "0.65", "65%", "7/20", "0.35", "35%"}
	var got []string
	for i, tr := range est {
		got = append(got, tr.Stimulus)
		if tr.ID != EstimationIDBase+i {
			t.Fatalf("expected id %d, got %d", EstimationIDBase+i, tr.ID)
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("estimation order mismatch (-want +got):\n%s", diff)
	}
}
