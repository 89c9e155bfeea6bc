package runner

import (
	"time"

	"github.com/kingrea/magnitude-protocol/internal/trials"
)

// Event is one signal from the render/input surface.
type Event interface {
	eventName() string
}

// Elapsed reports that the active stage's timer fired.
type Elapsed struct{}

// AnyKey reports an input on a stage that accepts any key.
type AnyKey struct {
	Key string
}

// Choice picks a side on a comparison stage. When Side is empty the Key is
// mapped through the stage's response keys. Latency is measured from the
// moment the stage became visible.
type Choice struct {
	Side    trials.Side
	Key     string
	Latency time.Duration
}

// Move reports the slider's new normalized position.
type Move struct {
	Position float64
}

// Submit confirms the slider position on an estimation stage.
type Submit struct {
	Position float64
	Latency  time.Duration
}

func (Elapsed) eventName() string { return "elapsed" }
func (AnyKey) eventName() string  { return "any_key" }
func (Choice) eventName() string  { return "choice" }
func (Move) eventName() string    { return "move" }
func (Submit) eventName() string  { return "submit" }

// EventName returns the wire name of an event.
func EventName(ev Event) string {
	if ev == nil {
		return ""
	}
	return ev.eventName()
}
