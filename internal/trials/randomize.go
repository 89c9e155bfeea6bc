package trials

// RandomSource yields uniform values in [0,1). *rand.Rand satisfies it.
type RandomSource interface {
	Float64() float64
}

// RandomizeSides keeps the trial as generated when the draw is below 0.5 and
// otherwise swaps both presentation sides, flipping the ground truth with them.
func RandomizeSides(t ComparisonTrial, rng RandomSource) ComparisonTrial {
	if rng.Float64() < 0.5 {
		return t
	}
	t.Left, t.Right = t.Right, t.Left
	t.LeftValue, t.RightValue = t.RightValue, t.LeftValue
	t.LeftNotation, t.RightNotation = t.RightNotation, t.LeftNotation
	t.CorrectSide = t.CorrectSide.Opposite()
	return t
}

// RandomizeAll applies RandomizeSides once to every trial, drawing in order.
func RandomizeAll(in []ComparisonTrial, rng RandomSource) []ComparisonTrial {
	out := make([]ComparisonTrial, len(in))
	for i, t := range in {
		out[i] = RandomizeSides(t, rng)
	}
	return out
}
