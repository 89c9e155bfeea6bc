package stimuli

// Default returns the protocol's eight base pairs. Problem numbers follow the
// cross-notation problem sheet; the larger value is always listed first.
func Default() Catalog {
	return Catalog{Pairs: []BasePair{
		{
			Base:      "0.55 vs 0.40",
			Block:     BlockPostInstruction,
			Distance:  DistanceSmall,
			Larger:    Value{Magnitude: 0.55, Fraction: "11/20", Decimal: "0.55", Percentage: "55%"},
			Smaller:   Value{Magnitude: 0.4, Fraction: "2/5", Decimal: "0.40", Percentage: "40%"},
			Relations: relationSheet(67, 2),
		},
		{
			Base:      "0.55 vs 0.48",
			Block:     BlockPostInstruction,
			Distance:  DistanceSmall,
			Larger:    Value{Magnitude: 0.55, Fraction: "11/20", Decimal: "0.55", Percentage: "55%"},
			Smaller:   Value{Magnitude: 0.48, Fraction: "12/25", Decimal: "0.48", Percentage: "48%"},
			Relations: relationSheet(61, 2),
		},
		{
			Base:      "0.75 vs 0.45",
			Block:     BlockPostInstruction,
			Distance:  DistanceLarge,
			Larger:    Value{Magnitude: 0.75, Fraction: "3/4", Decimal: "0.75", Percentage: "75%"},
			Smaller:   Value{Magnitude: 0.45, Fraction: "9/20", Decimal: "0.45", Percentage: "45%"},
			Relations: relationSheet(49, 2),
		},
		{
			Base:      "0.80 vs 0.40",
			Block:     BlockPostInstruction,
			Distance:  DistanceLarge,
			Larger:    Value{Magnitude: 0.8, Fraction: "4/5", Decimal: "0.80", Percentage: "80%"},
			Smaller:   Value{Magnitude: 0.4, Fraction: "2/5", Decimal: "0.40", Percentage: "40%"},
			Relations: relationSheet(55, 2),
		},
		{
			Base:      "0.52 vs 0.40",
			Block:     BlockPreInstruction,
			Distance:  DistanceSmall,
			Larger:    Value{Magnitude: 0.52, Fraction: "13/25", Decimal: "0.52", Percentage: "52%"},
			Smaller:   Value{Magnitude: 0.4, Fraction: "2/5", Decimal: "0.40", Percentage: "40%"},
			Relations: relationSheet(19, 2),
		},
		{
			Base:      "0.56 vs 0.48",
			Block:     BlockPreInstruction,
			Distance:  DistanceSmall,
			Larger:    Value{Magnitude: 0.56, Fraction: "14/25", Decimal: "0.56", Percentage: "56%"},
			Smaller:   Value{Magnitude: 0.48, Fraction: "12/25", Decimal: "0.48", Percentage: "48%"},
			Relations: relationSheet(13, 2),
		},
		{
			Base:      "0.65 vs 0.35",
			Block:     BlockPreInstruction,
			Distance:  DistanceLarge,
			Larger:    Value{Magnitude: 0.65, Fraction: "13/20", Decimal: "0.65", Percentage: "65%"},
			Smaller:   Value{Magnitude: 0.35, Fraction: "7/20", Decimal: "0.35", Percentage: "35%"},
			Relations: relationSheet(1, 2),
		},
		{
			Base:      "0.70 vs 0.30",
			Block:     BlockPreInstruction,
			Distance:  DistanceLarge,
			Larger:    Value{Magnitude: 0.7, Fraction: "7/10", Decimal: "0.70", Percentage: "70%"},
			Smaller:   Value{Magnitude: 0.3, Fraction: "3/10", Decimal: "0.30", Percentage: "30%"},
			Relations: relationSheet(7, 1),
		},
	}}
}

// relationSheet numbers the six cross relations consecutively from first.
// Fraction-led relations are WNB-inconsistent, the rest consistent; relations
// without a decimal side carry no digit count.
func relationSheet(first, digits int) map[string]RelationMeta {
	out := make(map[string]RelationMeta, 6)
	for i, rel := range CrossRelations() {
		meta := RelationMeta{
			ProblemNumber: first + i,
			WNBConsistent: rel[0] != NotationFraction,
		}
		if rel[0] == NotationDecimal || rel[1] == NotationDecimal {
			d := digits
			meta.DecimalDigits = &d
		}
		out[CrossRelationLabel(rel[0], rel[1])] = meta
	}
	return out
}
