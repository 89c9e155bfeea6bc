package bridge

import (
	"github.com/kingrea/magnitude-protocol/internal/runner"
	"github.com/kingrea/magnitude-protocol/internal/timeline"
	"github.com/kingrea/magnitude-protocol/internal/trials"
)

// StageView is what a display needs to draw the live stage. Ground truth is
// left out so the display cannot leak it to the participant.
type StageView struct {
	RunID      string `json:"run_id"`
	State      string `json:"state"`
	Index      int    `json:"index"`
	Kind       string `json:"kind,omitempty"`
	Task       string `json:"task,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`

	Phase       string `json:"phase,omitempty"`
	Title       string `json:"title,omitempty"`
	Body        string `json:"body,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	AcceptInput bool   `json:"accept_input,omitempty"`

	TrialID    int             `json:"trial_id,omitempty"`
	TrialIndex int             `json:"trial_index,omitempty"`
	TrialTotal int             `json:"trial_total,omitempty"`
	Left       string          `json:"left,omitempty"`
	Right      string          `json:"right,omitempty"`
	LeftKey    string          `json:"left_key,omitempty"`
	RightKey   string          `json:"right_key,omitempty"`
	Stimulus   string          `json:"stimulus,omitempty"`
	Scale      *timeline.Scale `json:"scale,omitempty"`
	Moved      bool            `json:"moved,omitempty"`
}

// NewStageView describes stage under status for the display.
func NewStageView(runID string, stage timeline.Stage, status runner.Status, moved bool) StageView {
	view := StageView{RunID: runID, State: status.State.String(), Index: status.Index}
	if stage == nil || status.State != runner.StateRunning {
		return view
	}
	view.Kind = string(stage.Kind())
	view.Task = string(stage.Task())
	switch s := stage.(type) {
	case timeline.Instruction:
		view.Phase = string(s.Phase)
		view.Title = s.Title
		view.Body = s.Body
		view.Prompt = s.Prompt
		view.AcceptInput = s.AcceptInput
		view.DurationMS = s.Duration.Milliseconds()
	case timeline.Fixation:
		view.DurationMS = s.Duration.Milliseconds()
	case timeline.Comparison:
		view.TrialID = s.Trial.ID
		view.TrialIndex = s.Index
		view.TrialTotal = s.Total
		view.Left = s.Trial.Left
		view.Right = s.Trial.Right
		view.LeftKey = s.Keys.CorrectKey(trials.SideLeft)
		view.RightKey = s.Keys.CorrectKey(trials.SideRight)
		view.DurationMS = s.Deadline.Milliseconds()
	case timeline.Estimation:
		scale := s.Scale
		view.TrialID = s.Trial.ID
		view.TrialIndex = s.Index
		view.TrialTotal = s.Total
		view.Stimulus = s.Trial.Stimulus
		view.Scale = &scale
		view.Moved = moved
	}
	return view
}
