// Package bridge exposes a live run over HTTP so an external stimulus display
// can draw each stage and report the participant's inputs.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kingrea/magnitude-protocol/internal/runner"
	"github.com/kingrea/magnitude-protocol/internal/session"
	"github.com/kingrea/magnitude-protocol/internal/timeline"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

const defaultDedupeWindow = 1024

var errServerDisabled = errors.New("bridge: server disabled")

// Run is the live protocol run the bridge drives. *session.Session satisfies it.
type Run interface {
	ID() string
	Start() (runner.Transition, error)
	Advance(ev runner.Event) (runner.Transition, error)
	Current() (timeline.Stage, runner.Status)
	Moved() bool
	Result() (session.Result, error)
}

// Server wraps the HTTP listener and handlers backing the bridge.
type Server struct {
	settings   Settings
	run        Run
	logger     Logger
	clock      func() time.Time
	onComplete func(session.Result)
	notify     func()

	// eventMu serializes the stage check and the advance of one event.
	eventMu     sync.Mutex
	recentIDs   map[string]struct{}
	recentOrder []string

	// stageSince is when the bridge first saw stageIndex live.
	stageMu    sync.Mutex
	stageIndex int
	stageSince time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCompletion registers a callback for the run's completing transition.
// It runs on the request goroutine before the response is written.
func WithCompletion(fn func(session.Result)) Option {
	return func(s *Server) {
		s.onComplete = fn
	}
}

// WithNotify registers a callback that runs after every accepted event, so
// another surface showing the same run can redraw.
func WithNotify(fn func()) Option {
	return func(s *Server) {
		s.notify = fn
	}
}

// NewServer prepares a bridge server for run.
func NewServer(settings Settings, run Run, opts ...Option) *Server {
	s := &Server{
		settings:    settings,
		run:         run,
		logger:      nopLogger{},
		clock:       func() time.Time { return time.Now().UTC() },
		status:      StatusStarting,
		recentIDs:   map[string]struct{}{},
		recentOrder: make([]string, 0, defaultDedupeWindow),
		stageIndex:  -1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the bridge routes without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stage", s.handleStage)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/result", s.handleResult)
	return mux
}

// Begin enters the run's first stage if it has not started yet.
func (s *Server) Begin() error {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	tr, err := s.run.Start()
	if errors.Is(err, runner.ErrAlreadyStarted) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bridge: start run: %w", err)
	}
	if tr.Completed {
		s.complete()
		return nil
	}
	s.enteredAt(tr.To)
	return nil
}

// Start begins the run, binds the TCP listener and serves HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("bridge: server is nil")
	}
	if !s.settings.Enabled {
		return errServerDisabled
	}
	if s.run == nil {
		return fmt.Errorf("bridge: no run to serve")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("bridge: server already started")
	}
	if err := s.Begin(); err != nil {
		return err
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("bridge: serve error: %v", err)
		}
	}()
	s.logger.Printf("bridge: listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.now().Sub(s.startTime).Seconds())
}

func (s *Server) view() StageView {
	stage, status := s.run.Current()
	if status.State == runner.StateRunning {
		s.enteredAt(status)
	}
	return NewStageView(s.run.ID(), stage, status, s.run.Moved())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodHead))
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	_, status := s.run.Current()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        string(s.Status()),
		Version:       ProtocolVersion,
		RunID:         s.run.ID(),
		RunState:      status.State.String(),
		UptimeSeconds: s.uptimeSeconds(),
	})
}

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, s.view())
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	result, err := s.run.Result()
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "run is not complete"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty body"})
		return
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unable to read body"})
		return
	}
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	evt.Normalize()
	if err := evt.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	evt.StampServerTime(s.now())

	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	if s.isDuplicate(evt.EventID) {
		view := s.view()
		writeJSON(w, http.StatusOK, eventResponse{Status: "duplicate", ServerTime: evt.ServerTime, Stage: &view})
		return
	}
	stage, status := s.run.Current()
	if evt.Stage != nil && status.State == runner.StateRunning && *evt.Stage != status.Index {
		s.forget(evt.EventID)
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": fmt.Sprintf("event for stage %d but stage %d is live", *evt.Stage, status.Index),
		})
		return
	}
	if evt.Type == "elapsed" && status.State == runner.StateRunning {
		if wait := minDuration(stage) - s.now().Sub(s.enteredAt(status)); wait > 0 {
			s.forget(evt.EventID)
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": fmt.Sprintf("stage %d has %s left to run", status.Index, wait),
			})
			return
		}
	}
	tr, err := s.run.Advance(evt.RunnerEvent())
	if err != nil {
		s.forget(evt.EventID)
		var invalid *runner.InvalidResponseError
		switch {
		case errors.As(err, &invalid), errors.Is(err, runner.ErrMovementRequired):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, runner.ErrRunComplete), errors.Is(err, runner.ErrNotStarted):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			s.logger.Printf("bridge: advance failed: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "event processing failed"})
		}
		return
	}
	if tr.Completed {
		s.complete()
	}
	if s.notify != nil {
		s.notify()
	}
	view := s.view()
	writeJSON(w, http.StatusAccepted, eventResponse{
		Status:     "accepted",
		ServerTime: evt.ServerTime,
		Completed:  tr.Completed,
		Stage:      &view,
	})
}

// enteredAt returns when the bridge first saw status live, recording it on
// the first call for a new stage index.
func (s *Server) enteredAt(status runner.Status) time.Time {
	s.stageMu.Lock()
	defer s.stageMu.Unlock()
	if status.Index != s.stageIndex {
		s.stageIndex = status.Index
		s.stageSince = s.now()
	}
	return s.stageSince
}

// minDuration is how long stage must stay live before an elapsed event may
// end it, measured on the server clock.
func minDuration(stage timeline.Stage) time.Duration {
	switch st := stage.(type) {
	case timeline.Fixation:
		return st.Duration
	case timeline.Instruction:
		return st.Duration
	case timeline.Comparison:
		return st.Deadline
	}
	return 0
}

func (s *Server) complete() {
	result, err := s.run.Result()
	if err != nil {
		s.logger.Printf("bridge: completed run has no result: %v", err)
		return
	}
	s.logger.Printf("bridge: run %s complete with %d outcomes", result.RunID, len(result.Outcomes))
	if s.onComplete != nil {
		s.onComplete(result)
	}
}

// isDuplicate records id and reports whether it was already seen. Callers
// hold eventMu.
func (s *Server) isDuplicate(id string) bool {
	if _, ok := s.recentIDs[id]; ok {
		return true
	}
	s.recentIDs[id] = struct{}{}
	s.recentOrder = append(s.recentOrder, id)
	if len(s.recentOrder) > defaultDedupeWindow {
		oldest := s.recentOrder[0]
		s.recentOrder = s.recentOrder[1:]
		delete(s.recentIDs, oldest)
	}
	return false
}

// forget drops a rejected event so the display can resend it.
func (s *Server) forget(id string) {
	delete(s.recentIDs, id)
	for i, seen := range s.recentOrder {
		if seen == id {
			s.recentOrder = append(s.recentOrder[:i], s.recentOrder[i+1:]...)
			break
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
