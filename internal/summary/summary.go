// Package summary reduces a completed outcome log into per-task statistics.
package summary

import (
	"fmt"

	"github.com/montanaflynn/stats"

	"github.com/kingrea/magnitude-protocol/internal/scoring"
)

// PrematureCompletionError reports a log whose size disagrees with the
// timeline's trial-stage count.
type PrematureCompletionError struct {
	Expected int
	Got      int
}

func (e *PrematureCompletionError) Error() string {
	return fmt.Sprintf("summary: expected %d outcomes, log has %d", e.Expected, e.Got)
}

// Participant is supplied by the identity/consent provider and copied into
// the summary unchanged.
type Participant struct {
	ID      string `json:"participant_id" yaml:"participant_id"`
	Consent bool   `json:"consent" yaml:"consent"`
}

// Comparison holds the comparison-task figures. Pointer fields are nil when
// their input set is empty.
type Comparison struct {
	Count        int      `json:"count" yaml:"count"`
	Correct      int      `json:"correct" yaml:"correct"`
	Accuracy     *float64 `json:"accuracy" yaml:"accuracy"`
	MeanRTMillis *float64 `json:"mean_rt_ms" yaml:"mean_rt_ms"`
}

// Estimation holds the estimation-task figures.
type Estimation struct {
	Count                    int      `json:"count" yaml:"count"`
	MeanPercentAbsoluteError *float64 `json:"mean_pae" yaml:"mean_pae"`
	MeanDirectionalError     *float64 `json:"mean_directional_error" yaml:"mean_directional_error"`
}

// ComparisonGroup is a comparison breakdown row.
type ComparisonGroup struct {
	Key string `json:"key" yaml:"key"`
	Comparison
}

// EstimationGroup is an estimation breakdown row.
type EstimationGroup struct {
	Key string `json:"key" yaml:"key"`
	Estimation
}

// Summary is computed once from the immutable outcome log. Breakdown rows
// appear in order of first occurrence in the log.
type Summary struct {
	Participant Participant `json:"participant" yaml:"participant"`
	Comparison  Comparison  `json:"comparison" yaml:"comparison"`
	Estimation  Estimation  `json:"estimation" yaml:"estimation"`

	ComparisonByBlock    []ComparisonGroup `json:"comparison_by_block" yaml:"comparison_by_block"`
	ComparisonByRelation []ComparisonGroup `json:"comparison_by_relation" yaml:"comparison_by_relation"`
	EstimationByBlock    []EstimationGroup `json:"estimation_by_block" yaml:"estimation_by_block"`
	EstimationByNotation []EstimationGroup `json:"estimation_by_notation" yaml:"estimation_by_notation"`
}

// Clone returns a copy that shares no pointers or slices with s.
func (s Summary) Clone() Summary {
	s.Comparison = s.Comparison.clone()
	s.Estimation = s.Estimation.clone()
	s.ComparisonByBlock = cloneComparisonGroups(s.ComparisonByBlock)
	s.ComparisonByRelation = cloneComparisonGroups(s.ComparisonByRelation)
	s.EstimationByBlock = cloneEstimationGroups(s.EstimationByBlock)
	s.EstimationByNotation = cloneEstimationGroups(s.EstimationByNotation)
	return s
}

func (c Comparison) clone() Comparison {
	c.Accuracy = cloneFloat(c.Accuracy)
	c.MeanRTMillis = cloneFloat(c.MeanRTMillis)
	return c
}

func (e Estimation) clone() Estimation {
	e.MeanPercentAbsoluteError = cloneFloat(e.MeanPercentAbsoluteError)
	e.MeanDirectionalError = cloneFloat(e.MeanDirectionalError)
	return e
}

func cloneComparisonGroups(groups []ComparisonGroup) []ComparisonGroup {
	if groups == nil {
		return nil
	}
	out := make([]ComparisonGroup, len(groups))
	for i, g := range groups {
		out[i] = ComparisonGroup{Key: g.Key, Comparison: g.Comparison.clone()}
	}
	return out
}

func cloneEstimationGroups(groups []EstimationGroup) []EstimationGroup {
	if groups == nil {
		return nil
	}
	out := make([]EstimationGroup, len(groups))
	for i, g := range groups {
		out[i] = EstimationGroup{Key: g.Key, Estimation: g.Estimation.clone()}
	}
	return out
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Summarize partitions the log by task and aggregates each part. Outcomes of
// unknown tasks are ignored.
func Summarize(log []scoring.TrialOutcome) Summary {
	var cmpLog, estLog []scoring.TrialOutcome
	for _, o := range log {
		switch o.Task {
		case scoring.TaskComparison:
			cmpLog = append(cmpLog, o)
		case scoring.TaskEstimation:
			estLog = append(estLog, o)
		}
	}
	return Summary{
		Comparison: summarizeComparison(cmpLog),
		Estimation: summarizeEstimation(estLog),
		ComparisonByBlock: groupComparison(cmpLog, func(o scoring.TrialOutcome) string {
			return string(o.Block)
		}),
		ComparisonByRelation: groupComparison(cmpLog, func(o scoring.TrialOutcome) string {
			return o.Relation
		}),
		EstimationByBlock: groupEstimation(estLog, func(o scoring.TrialOutcome) string {
			return string(o.Block)
		}),
		EstimationByNotation: groupEstimation(estLog, func(o scoring.TrialOutcome) string {
			return string(o.Notation)
		}),
	}
}

// SummarizeRun checks the log against the expected trial-stage count before
// summarizing and attaches the participant.
func SummarizeRun(log []scoring.TrialOutcome, expected int, p Participant) (Summary, error) {
	if len(log) != expected {
		return Summary{}, &PrematureCompletionError{Expected: expected, Got: len(log)}
	}
	s := Summarize(log)
	s.Participant = p
	return s, nil
}

func summarizeComparison(log []scoring.TrialOutcome) Comparison {
	out := Comparison{Count: len(log)}
	var rts []float64
	for _, o := range log {
		if o.IsCorrect() {
			out.Correct++
		}
		if o.RTMillis != nil {
			rts = append(rts, *o.RTMillis)
		}
	}
	if out.Count > 0 {
		acc := float64(out.Correct) / float64(out.Count)
		out.Accuracy = &acc
	}
	out.MeanRTMillis = mean(rts)
	return out
}

func summarizeEstimation(log []scoring.TrialOutcome) Estimation {
	out := Estimation{Count: len(log)}
	var pae, dir []float64
	for _, o := range log {
		if o.PercentAbsoluteError != nil {
			pae = append(pae, *o.PercentAbsoluteError)
		}
		if o.DirectionalError != nil {
			dir = append(dir, *o.DirectionalError)
		}
	}
	out.MeanPercentAbsoluteError = mean(pae)
	out.MeanDirectionalError = mean(dir)
	return out
}

func groupComparison(log []scoring.TrialOutcome, key func(scoring.TrialOutcome) string) []ComparisonGroup {
	keys, parts := partition(log, key)
	out := make([]ComparisonGroup, 0, len(keys))
	for _, k := range keys {
		out = append(out, ComparisonGroup{Key: k, Comparison: summarizeComparison(parts[k])})
	}
	return out
}

func groupEstimation(log []scoring.TrialOutcome, key func(scoring.TrialOutcome) string) []EstimationGroup {
	keys, parts := partition(log, key)
	out := make([]EstimationGroup, 0, len(keys))
	for _, k := range keys {
		out = append(out, EstimationGroup{Key: k, Estimation: summarizeEstimation(parts[k])})
	}
	return out
}

func partition(log []scoring.TrialOutcome, key func(scoring.TrialOutcome) string) ([]string, map[string][]scoring.TrialOutcome) {
	var keys []string
	parts := map[string][]scoring.TrialOutcome{}
	for _, o := range log {
		k := key(o)
		if k == "" {
			continue
		}
		if _, ok := parts[k]; !ok {
			keys = append(keys, k)
		}
		parts[k] = append(parts[k], o)
	}
	return keys, parts
}

func mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	m, err := stats.Mean(values)
	if err != nil {
		return nil
	}
	return &m
}
