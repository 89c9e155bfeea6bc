// Package export writes finished runs as spreadsheets for analysis.
package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kingrea/magnitude-protocol/internal/scoring"
	"github.com/kingrea/magnitude-protocol/internal/session"
	"github.com/kingrea/magnitude-protocol/internal/summary"
)

// Sheet names in the written workbook.
const (
	OutcomesSheet = "Outcomes"
	SummarySheet  = "Summary"
)

// ErrWorkbookExists is returned when the run already has a workbook.
var ErrWorkbookExists = fmt.Errorf("export: workbook already exists: %w", session.ErrAlreadySaved)

// OutcomeHeaders is the column order of the Outcomes sheet.
var OutcomeHeaders = []string{
	"trial_id", "task", "stage_index", "base", "block", "distance",
	"source", "relation", "left", "right", "correct_side", "correct_key",
	"key", "side", "correct", "wnb_consistent", "decimal_digits",
	"notation", "stimulus", "true_value", "position", "directional_error",
	"percent_absolute_error", "rt_ms",
}

// XLSXSink writes <dir>/<run id>.xlsx.
type XLSXSink struct {
	dir string
}

// NewXLSXSink creates a sink rooted at dir.
func NewXLSXSink(dir string) *XLSXSink {
	return &XLSXSink{dir: dir}
}

// Name labels the sink in warnings.
func (s *XLSXSink) Name() string { return "xlsx " + s.dir }

// Path returns the workbook path for runID.
func (s *XLSXSink) Path(runID string) string {
	return filepath.Join(s.dir, runID+".xlsx")
}

// Save writes the workbook unless one already exists for the run.
func (s *XLSXSink) Save(ctx context.Context, r session.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(r.RunID) == "" || strings.ContainsAny(r.RunID, `/\`) {
		return fmt.Errorf("export: invalid run id %q", r.RunID)
	}
	path := s.Path(r.RunID)
	if _, err := os.Stat(path); err == nil {
		return ErrWorkbookExists
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("export: stat workbook: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("export: ensure dir: %w", err)
	}
	return WriteWorkbook(path, r)
}

// WriteWorkbook writes the outcome log and summary of r to path.
func WriteWorkbook(path string, r session.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", OutcomesSheet); err != nil {
		return fmt.Errorf("export: name outcomes sheet: %w", err)
	}
	if err := writeRow(f, OutcomesSheet, 1, toCells(OutcomeHeaders)); err != nil {
		return err
	}
	for i, o := range r.Outcomes {
		if err := writeRow(f, OutcomesSheet, i+2, outcomeRow(o)); err != nil {
			return err
		}
	}
	if err := f.SetPanes(OutcomesSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("export: freeze header: %w", err)
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("export: add summary sheet: %w", err)
	}
	for i, row := range summaryRows(r) {
		if err := writeRow(f, SummarySheet, i+1, row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(SummarySheet, "A", "B", 28); err != nil {
		return fmt.Errorf("export: size summary columns: %w", err)
	}

	if idx, err := f.GetSheetIndex(OutcomesSheet); err == nil && idx != -1 {
		f.SetActiveSheet(idx)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("export: save workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	for c, v := range values {
		if v == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(c+1, row)
		if err != nil {
			return fmt.Errorf("export: cell name: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("export: %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func outcomeRow(o scoring.TrialOutcome) []any {
	return []any{
		o.TrialID, string(o.Task), o.StageIndex, o.Base, string(o.Block), string(o.Distance),
		text(string(o.Source)), text(o.Relation), text(o.Left), text(o.Right),
		text(string(o.CorrectSide)), text(o.CorrectKey),
		text(o.Key), text(string(o.Side)), boolCell(o.Correct), boolCell(o.WNBConsistent), intCell(o.DecimalDigits),
		text(string(o.Notation)), text(o.Stimulus), floatCell(o.TrueValue), floatCell(o.Position),
		floatCell(o.DirectionalError), floatCell(o.PercentAbsoluteError), floatCell(o.RTMillis),
	}
}

func summaryRows(r session.Result) [][]any {
	sum := r.Summary
	rows := [][]any{
		{"run_id", r.RunID},
		{"participant_id", sum.Participant.ID},
		{"consent", sum.Participant.Consent},
		{"started_at", r.StartedAt.UTC().Format("2006-01-02 15:04:05")},
		{"completed_at", r.CompletedAt.UTC().Format("2006-01-02 15:04:05")},
		{},
		{"comparison_count", sum.Comparison.Count},
		{"comparison_correct", sum.Comparison.Correct},
		{"accuracy", floatCell(sum.Comparison.Accuracy)},
		{"mean_rt_ms", floatCell(sum.Comparison.MeanRTMillis)},
		{"estimation_count", sum.Estimation.Count},
		{"mean_pae", floatCell(sum.Estimation.MeanPercentAbsoluteError)},
		{"mean_directional_error", floatCell(sum.Estimation.MeanDirectionalError)},
	}
	rows = append(rows, comparisonGroupRows("comparison by block", sum.ComparisonByBlock)...)
	rows = append(rows, comparisonGroupRows("comparison by relation", sum.ComparisonByRelation)...)
	rows = append(rows, estimationGroupRows("estimation by block", sum.EstimationByBlock)...)
	rows = append(rows, estimationGroupRows("estimation by notation", sum.EstimationByNotation)...)
	return rows
}

func comparisonGroupRows(title string, groups []summary.ComparisonGroup) [][]any {
	if len(groups) == 0 {
		return nil
	}
	rows := [][]any{{}, {title, "count", "correct", "accuracy", "mean_rt_ms"}}
	for _, g := range groups {
		rows = append(rows, []any{g.Key, g.Count, g.Correct, floatCell(g.Accuracy), floatCell(g.MeanRTMillis)})
	}
	return rows
}

func estimationGroupRows(title string, groups []summary.EstimationGroup) [][]any {
	if len(groups) == 0 {
		return nil
	}
	rows := [][]any{{}, {title, "count", "mean_pae", "mean_directional_error"}}
	for _, g := range groups {
		rows = append(rows, []any{g.Key, g.Count, floatCell(g.MeanPercentAbsoluteError), floatCell(g.MeanDirectionalError)})
	}
	return rows
}

func toCells(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func text(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func floatCell(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolCell(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

func intCell(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
