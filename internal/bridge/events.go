package bridge

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kingrea/magnitude-protocol/internal/runner"
	"github.com/kingrea/magnitude-protocol/internal/trials"
)

const (
	// ProtocolVersion identifies the bridge contract version exposed via /health.
	ProtocolVersion = "1.0.0"
	// EventSchemaVersion is the currently supported inbound event version.
	EventSchemaVersion = 1
)

// Event is one input reported by the external stimulus display.
type Event struct {
	Version int    `json:"version"`
	EventID string `json:"event_id"`
	Type    string `json:"type"`

	// Stage, when set, must match the live stage index; stale inputs are
	// rejected instead of resolving the next stage.
	Stage      *int        `json:"stage,omitempty"`
	Key        string      `json:"key,omitempty"`
	Side       trials.Side `json:"side,omitempty"`
	Position   *float64    `json:"position,omitempty"`
	LatencyMS  *float64    `json:"latency_ms,omitempty"`
	ClientTime time.Time   `json:"client_time"`
	ServerTime time.Time   `json:"server_time"`
}

// Normalize applies defaults and canonical formatting before validation.
func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Version == 0 {
		e.Version = EventSchemaVersion
	}
	e.EventID = strings.TrimSpace(e.EventID)
	e.Type = strings.ToLower(strings.TrimSpace(e.Type))
	e.Key = strings.ToLower(strings.TrimSpace(e.Key))
	e.Side = trials.Side(strings.ToLower(strings.TrimSpace(string(e.Side))))
}

// StampServerTime overwrites ServerTime with the supplied clock reading (UTC).
func (e *Event) StampServerTime(now time.Time) {
	if e == nil {
		return
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	e.ServerTime = now.UTC()
}

// Validate enforces the per-type field requirements.
func (e Event) Validate() error {
	if e.Version != EventSchemaVersion {
		return fmt.Errorf("version %d not supported", e.Version)
	}
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	if e.LatencyMS != nil && (*e.LatencyMS < 0 || math.IsNaN(*e.LatencyMS)) {
		return errors.New("latency_ms must be non-negative")
	}
	switch e.Type {
	case "elapsed", "any_key":
	case "choice":
		if e.Side == "" && e.Key == "" {
			return errors.New("choice needs a side or a key")
		}
		if e.Side != "" && !e.Side.Valid() {
			return fmt.Errorf("unknown side %q", e.Side)
		}
		if e.LatencyMS == nil {
			return errors.New("choice needs latency_ms")
		}
	case "move":
		if e.Position == nil {
			return errors.New("move needs a position")
		}
	case "submit":
		if e.Position == nil || e.LatencyMS == nil {
			return errors.New("submit needs position and latency_ms")
		}
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// RunnerEvent converts a validated wire event into the runner's input.
func (e Event) RunnerEvent() runner.Event {
	switch e.Type {
	case "elapsed":
		return runner.Elapsed{}
	case "any_key":
		return runner.AnyKey{Key: e.Key}
	case "choice":
		return runner.Choice{Side: e.Side, Key: e.Key, Latency: latency(e.LatencyMS)}
	case "move":
		return runner.Move{Position: *e.Position}
	case "submit":
		return runner.Submit{Position: *e.Position, Latency: latency(e.LatencyMS)}
	}
	return nil
}

func latency(ms *float64) time.Duration {
	if ms == nil {
		return 0
	}
	return time.Duration(*ms * float64(time.Millisecond))
}

// Logger records bridge status information. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	RunID         string `json:"run_id"`
	RunState      string `json:"run_state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type eventResponse struct {
	Status     string     `json:"status"`
	ServerTime time.Time  `json:"server_time"`
	Completed  bool       `json:"completed"`
	Stage      *StageView `json:"stage,omitempty"`
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
