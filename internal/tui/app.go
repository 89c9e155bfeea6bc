// internal/tui/app.go
//
// The participant-facing terminal surface. It follows The Elm Architecture
// like every bubbletea program:
//
// 1. Model: the App below, which holds identity input and the live session
// 2. Update: key presses and timer fires become runner events
// 3. View: the live stage is drawn from session.Current() on every render
//
// Timers are scheduled per stage index, so a tick that arrives after its stage
// has already resolved is ignored.

package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/magnitude-protocol/internal/logbook"
	"github.com/kingrea/magnitude-protocol/internal/runner"
	"github.com/kingrea/magnitude-protocol/internal/session"
	"github.com/kingrea/magnitude-protocol/internal/summary"
	"github.com/kingrea/magnitude-protocol/internal/timeline"
)

// appState represents which screen is showing.
type appState int

const (
	stateIdentity appState = iota // participant ID entry
	stateConsent                  // y/n consent question
	stateRunning                  // timeline stages
	stateSummary                  // results and persistence status
	stateDeclined                 // consent refused, no trials
	stateFailed                   // fatal run error
)

// SessionFactory creates the run once identity and consent are known.
type SessionFactory func(p summary.Participant) (*session.Session, error)

// PersistFunc hands a finished result to the configured sinks.
type PersistFunc func(ctx context.Context, r session.Result) error

// TickFunc schedules msg after d. It matches tea.Tick.
type TickFunc func(d time.Duration, fn func(time.Time) tea.Msg) tea.Cmd

// StageChangedMsg tells the App that another input surface moved the run.
type StageChangedMsg struct{}

type elapsedMsg struct {
	index int
}

type persistDoneMsg struct {
	err error
}

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithClock overrides the clock used for response latencies.
func WithClock(clock func() time.Time) AppOption {
	return func(a *App) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithTicker overrides how stage timers are scheduled.
func WithTicker(tick TickFunc) AppOption {
	return func(a *App) {
		if tick != nil {
			a.tick = tick
		}
	}
}

// WithJournal shows the operator journal under the stage.
func WithJournal(lb *logbook.Logbook) AppOption {
	return func(a *App) {
		a.logbook = lb
	}
}

// WithPersist sets where finished results go.
func WithPersist(fn PersistFunc) AppOption {
	return func(a *App) {
		a.persist = fn
	}
}

// App is the bubbletea model for one participant run.
type App struct {
	state   appState
	factory SessionFactory
	persist PersistFunc
	clock   func() time.Time
	tick    TickFunc
	logbook *logbook.Logbook
	keys    keyMap

	idInput     textinput.Model
	participant summary.Participant
	session     *session.Session

	// Live stage bookkeeping.
	shown      bool
	shownIndex int
	shownAt    time.Time
	slider     int
	bar        progress.Model
	hint       string

	result     *session.Result
	saving     bool
	saved      bool
	persistErr error
	err        error

	width  int
	height int
}

// NewApp prepares the identity screen.
func NewApp(factory SessionFactory, opts ...AppOption) *App {
	input := textinput.New()
	input.Placeholder = "participant ID"
	input.CharLimit = 32
	input.Width = 24
	input.Focus()
	a := &App{
		state:   stateIdentity,
		factory: factory,
		clock:   time.Now,
		tick:    tea.Tick,
		keys:    defaultKeyMap(),
		idInput: input,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage(), progress.WithWidth(50)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Session returns the live run, nil before consent.
func (a *App) Session() *session.Session { return a.session }

// Err returns the fatal error that ended the run, if any.
func (a *App) Err() error { return a.err }

// Init starts the cursor blink on the identity field.
func (a *App) Init() tea.Cmd {
	return textinput.Blink
}

// Update routes one message.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.bar.Width = min(60, max(20, msg.Width-20))
		return a, nil

	case StageChangedMsg:
		return a, a.syncStage()

	case elapsedMsg:
		return a, a.handleElapsed(msg)

	case persistDoneMsg:
		a.saving = false
		a.persistErr = msg.err
		a.saved = msg.err == nil
		return a, nil

	case tea.KeyMsg:
		if key.Matches(msg, a.keys.Quit) {
			a.logWarn("run aborted from the keyboard")
			return a, tea.Quit
		}
		switch a.state {
		case stateIdentity:
			return a.updateIdentity(msg)
		case stateConsent:
			return a.updateConsent(msg)
		case stateRunning:
			return a, a.handleStageKey(msg)
		case stateSummary:
			if key.Matches(msg, a.keys.Retry) && a.persistErr != nil && !a.saving {
				return a, a.persistCmd()
			}
			if key.Matches(msg, a.keys.Close) && !a.saving {
				return a, tea.Quit
			}
		case stateDeclined, stateFailed:
			if key.Matches(msg, a.keys.Close) {
				return a, tea.Quit
			}
		}
		return a, nil
	}

	if a.state == stateIdentity {
		var cmd tea.Cmd
		a.idInput, cmd = a.idInput.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) updateIdentity(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, a.keys.Submit) {
		id := strings.TrimSpace(a.idInput.Value())
		if id == "" {
			a.hint = "Enter a participant ID to continue."
			return a, nil
		}
		a.participant.ID = id
		a.hint = ""
		a.idInput.Blur()
		a.state = stateConsent
		return a, nil
	}
	var cmd tea.Cmd
	a.idInput, cmd = a.idInput.Update(msg)
	return a, cmd
}

func (a *App) updateConsent(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Accept):
		a.participant.Consent = true
		return a, a.beginRun()
	case key.Matches(msg, a.keys.Decline):
		a.participant.Consent = false
		a.state = stateDeclined
		a.logWarn("%s declined consent; no trials were run", a.participant.ID)
	}
	return a, nil
}

func (a *App) beginRun() tea.Cmd {
	if a.factory == nil {
		a.fail(errors.New("tui: no session factory configured"))
		return nil
	}
	s, err := a.factory(a.participant)
	if err != nil {
		a.fail(err)
		return nil
	}
	a.session = s
	// A bridge sharing the run may already have entered the first stage.
	if _, err := s.Start(); err != nil && !errors.Is(err, runner.ErrAlreadyStarted) {
		a.fail(err)
		return nil
	}
	a.state = stateRunning
	return a.syncStage()
}

// syncStage reconciles the view with the session after any advance.
func (a *App) syncStage() tea.Cmd {
	if a.session == nil {
		return nil
	}
	stage, status := a.session.Current()
	switch status.State {
	case runner.StateComplete:
		if a.state == stateSummary {
			return nil
		}
		result, err := a.session.Result()
		if err != nil {
			a.fail(err)
			return nil
		}
		a.result = &result
		a.state = stateSummary
		return a.persistCmd()
	case runner.StateRunning:
	default:
		return nil
	}
	if a.shown && status.Index == a.shownIndex {
		return nil
	}
	a.shown = true
	a.shownIndex = status.Index
	a.shownAt = a.clock()
	a.hint = ""
	if est, ok := stage.(timeline.Estimation); ok {
		a.slider = est.Scale.Start
	}
	return a.timerFor(stage, status.Index)
}

func (a *App) timerFor(stage timeline.Stage, index int) tea.Cmd {
	var d time.Duration
	switch s := stage.(type) {
	case timeline.Fixation:
		d = s.Duration
	case timeline.Instruction:
		d = s.Duration
	case timeline.Comparison:
		d = s.Deadline
	}
	if d <= 0 {
		return nil
	}
	return a.tick(d, func(time.Time) tea.Msg { return elapsedMsg{index: index} })
}

func (a *App) handleElapsed(msg elapsedMsg) tea.Cmd {
	if a.state != stateRunning || a.session == nil {
		return nil
	}
	if _, status := a.session.Current(); status.State != runner.StateRunning || status.Index != msg.index {
		return nil
	}
	return a.advance(runner.Elapsed{})
}

func (a *App) handleStageKey(msg tea.KeyMsg) tea.Cmd {
	stage, status := a.session.Current()
	if status.State != runner.StateRunning {
		return nil
	}
	latency := a.clock().Sub(a.shownAt)
	switch s := stage.(type) {
	case timeline.Instruction:
		if s.AcceptInput {
			return a.advance(runner.AnyKey{Key: msg.String()})
		}
	case timeline.Comparison:
		pressed := strings.ToLower(msg.String())
		if pressed == s.Keys.Left || pressed == s.Keys.Right {
			return a.advance(runner.Choice{Key: pressed, Latency: latency})
		}
	case timeline.Estimation:
		return a.handleSliderKey(s, msg, latency)
	}
	return nil
}

func (a *App) handleSliderKey(s timeline.Estimation, msg tea.KeyMsg, latency time.Duration) tea.Cmd {
	delta := 0
	switch {
	case key.Matches(msg, a.keys.Decrease):
		delta = -s.Scale.Step
	case key.Matches(msg, a.keys.Increase):
		delta = s.Scale.Step
	case key.Matches(msg, a.keys.JumpLeft):
		delta = -10 * s.Scale.Step
	case key.Matches(msg, a.keys.JumpRight):
		delta = 10 * s.Scale.Step
	case key.Matches(msg, a.keys.Submit):
		pos, err := s.Scale.Position(a.slider)
		if err != nil {
			a.fail(err)
			return nil
		}
		return a.advance(runner.Submit{Position: pos, Latency: latency})
	default:
		return nil
	}
	a.slider = s.Scale.Clamp(a.slider + delta)
	pos, err := s.Scale.Position(a.slider)
	if err != nil {
		a.fail(err)
		return nil
	}
	a.hint = ""
	return a.advance(runner.Move{Position: pos})
}

func (a *App) advance(ev runner.Event) tea.Cmd {
	_, err := a.session.Advance(ev)
	if err != nil {
		var invalid *runner.InvalidResponseError
		switch {
		case errors.Is(err, runner.ErrMovementRequired):
			a.hint = "Move the marker before confirming."
			return nil
		case errors.As(err, &invalid):
			return nil
		}
		a.fail(err)
		return nil
	}
	return a.syncStage()
}

func (a *App) persistCmd() tea.Cmd {
	if a.persist == nil || a.result == nil {
		return nil
	}
	a.saving = true
	a.persistErr = nil
	persist := a.persist
	result := *a.result
	return func() tea.Msg {
		return persistDoneMsg{err: persist(context.Background(), result)}
	}
}

func (a *App) fail(err error) {
	a.err = err
	a.state = stateFailed
	a.logError("run stopped: %v", err)
}

func (a *App) logWarn(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Warn(format, args...)
}

func (a *App) logError(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Error(format, args...)
}
