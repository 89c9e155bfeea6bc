package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/magnitude-protocol/internal/runner"
	"github.com/kingrea/magnitude-protocol/internal/summary"
	"github.com/kingrea/magnitude-protocol/internal/timeline"
	"github.com/kingrea/magnitude-protocol/internal/trials"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F5A623"))
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	keyStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Width(26).Align(lipgloss.Center)
)

var cardStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("#5B8DEF")).
	Padding(1, 3).
	Width(20).
	Align(lipgloss.Center)

// View renders the current screen.
func (a *App) View() string {
	var content string
	switch a.state {
	case stateIdentity:
		content = a.renderIdentity()
	case stateConsent:
		content = a.renderConsent()
	case stateRunning:
		content = a.renderStage()
	case stateSummary:
		content = a.renderSummary()
	case stateDeclined:
		content = "Thank you. You chose not to take part, so no trials were shown.\n\n" +
			mutedStyle.Render("Press q to close.")
	case stateFailed:
		content = badStyle.Render("The run stopped because of an error.") + "\n\n" +
			fmt.Sprintf("%v", a.err) + "\n\n" + mutedStyle.Render("Press q to close.")
	}
	parts := []string{a.renderHeader(), "", content}
	if a.hint != "" {
		parts = append(parts, "", hintStyle.Render(a.hint))
	}
	if panel := a.renderLogPanel(); panel != "" && a.state != stateRunning {
		parts = append(parts, "", panel)
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (a *App) renderHeader() string {
	header := titleStyle.Render("◆ MAGNITUDE PROTOCOL")
	if a.participant.ID != "" {
		header += mutedStyle.Render("  ·  participant " + a.participant.ID)
	}
	return header
}

func (a *App) renderIdentity() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		"Enter the participant ID and press enter.",
		"",
		a.idInput.View(),
	)
}

func (a *App) renderConsent() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		"You will see pairs of numbers written as fractions, decimals or percentages",
		"and choose the larger one, then place single numbers on a line from 0 to 1.",
		"Your responses and response times are recorded under your participant ID.",
		"",
		"Do you agree to take part?  "+goodStyle.Render("[y] yes")+"   "+badStyle.Render("[n] no"),
	)
}

func (a *App) renderStage() string {
	if a.session == nil {
		return ""
	}
	stage, status := a.session.Current()
	if status.State != runner.StateRunning {
		return mutedStyle.Render("Finishing…")
	}
	switch s := stage.(type) {
	case timeline.Instruction:
		return renderInstruction(s)
	case timeline.Fixation:
		return lipgloss.NewStyle().Width(48).Align(lipgloss.Center).Padding(3, 0).Bold(true).Render("+")
	case timeline.Comparison:
		return renderComparison(s)
	case timeline.Estimation:
		return a.renderEstimation(s)
	}
	return ""
}

func renderInstruction(s timeline.Instruction) string {
	lines := []string{titleStyle.Render(s.Title)}
	if s.Body != "" {
		lines = append(lines, "", lipgloss.NewStyle().Width(72).Render(s.Body))
	}
	if s.Prompt != "" {
		lines = append(lines, "", mutedStyle.Render(s.Prompt))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderComparison(s timeline.Comparison) string {
	heading := mutedStyle.Render(fmt.Sprintf("Trial %d / %d  ·  which is larger?", s.Index, s.Total))
	cards := lipgloss.JoinHorizontal(lipgloss.Center,
		cardStyle.Render(renderStimulus(s.Trial.Left)),
		"    ",
		cardStyle.Render(renderStimulus(s.Trial.Right)),
	)
	keys := lipgloss.JoinHorizontal(lipgloss.Top,
		keyStyle.Render("["+s.Keys.CorrectKey(trials.SideLeft)+"]"),
		"    ",
		keyStyle.Render("["+s.Keys.CorrectKey(trials.SideRight)+"]"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, heading, "", cards, keys)
}

func (a *App) renderEstimation(s timeline.Estimation) string {
	heading := mutedStyle.Render(fmt.Sprintf("Trial %d / %d  ·  where does this number go?", s.Index, s.Total))
	pos, err := s.Scale.Position(s.Scale.Clamp(a.slider))
	if err != nil {
		pos = 0
	}
	width := a.bar.Width
	ends := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(width/2).Render("0"),
		lipgloss.NewStyle().Width(width-width/2).Align(lipgloss.Right).Render("1"),
	)
	prompt := "←/→ move the marker, enter to confirm"
	if !a.session.Moved() {
		prompt = "←/→ move the marker to start"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		heading,
		"",
		cardStyle.Render(renderStimulus(s.Trial.Stimulus)),
		"",
		a.bar.ViewAs(pos),
		ends,
		"",
		mutedStyle.Render(prompt),
	)
}

// renderStimulus stacks a simple a/b fraction over a rule and leaves every
// other rendering as written.
func renderStimulus(text string) string {
	num, den, ok := strings.Cut(strings.TrimSpace(text), "/")
	if !ok || !isDigits(num) || !isDigits(den) {
		return text
	}
	width := max(len(num), len(den))
	center := lipgloss.NewStyle().Width(width).Align(lipgloss.Center)
	return lipgloss.JoinVertical(lipgloss.Center,
		center.Render(num),
		strings.Repeat("─", width),
		center.Render(den),
	)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func (a *App) renderSummary() string {
	if a.result == nil {
		return ""
	}
	sum := a.result.Summary
	rows := []string{
		titleStyle.Render("Run complete"),
		"",
		fmt.Sprintf("Comparison   %d trials, %d correct", sum.Comparison.Count, sum.Comparison.Correct),
		fmt.Sprintf("  accuracy   %s", formatRatio(sum.Comparison.Accuracy)),
		fmt.Sprintf("  mean RT    %s", formatMillis(sum.Comparison.MeanRTMillis)),
		fmt.Sprintf("Estimation   %d trials", sum.Estimation.Count),
		fmt.Sprintf("  mean PAE   %s", formatNumber(sum.Estimation.MeanPercentAbsoluteError)),
		fmt.Sprintf("  mean bias  %s", formatSigned(sum.Estimation.MeanDirectionalError)),
	}
	rows = append(rows, renderBlockRows(sum)...)
	rows = append(rows, "")
	switch {
	case a.saving:
		rows = append(rows, mutedStyle.Render("Saving results…"))
	case a.persistErr != nil:
		rows = append(rows,
			badStyle.Render("Results could not be saved: "+a.persistErr.Error()),
			mutedStyle.Render("Press r to retry, q to close."))
	case a.saved:
		rows = append(rows, goodStyle.Render("Results saved."), mutedStyle.Render("Press q to close."))
	default:
		rows = append(rows, mutedStyle.Render("Press q to close."))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func renderBlockRows(sum summary.Summary) []string {
	var rows []string
	for _, g := range sum.ComparisonByBlock {
		rows = append(rows, mutedStyle.Render(fmt.Sprintf("  %-18s accuracy %s, RT %s", g.Key, formatRatio(g.Accuracy), formatMillis(g.MeanRTMillis))))
	}
	for _, g := range sum.EstimationByNotation {
		rows = append(rows, mutedStyle.Render(fmt.Sprintf("  %-18s PAE %s", g.Key, formatNumber(g.MeanPercentAbsoluteError))))
	}
	if len(rows) > 0 {
		rows = append([]string{""}, rows...)
	}
	return rows
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, total := a.logbook.Tail(6)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s (%d entries)", fileName, total))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func formatRatio(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *v*100)
}

func formatMillis(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.0f ms", *v)
}

func formatNumber(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}

func formatSigned(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+.3f", *v)
}
