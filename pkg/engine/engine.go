// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package engine composes the link, session machine, progress cache
// and store into the surface consumed by a user interface.
//
// All protocol events are handled on the goroutine running Run, which
// owns the session machine. Every other method is safe for concurrent
// use. Connect, Disconnect and Discover may block until Run and the
// Updates consumer make progress, so never call them from the
// goroutine that drains Updates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/mintylink/pkg/clock"
	"github.com/Thermoquad/mintylink/pkg/discovery"
	"github.com/Thermoquad/mintylink/pkg/identity"
	"github.com/Thermoquad/mintylink/pkg/link"
	"github.com/Thermoquad/mintylink/pkg/minty"
	"github.com/Thermoquad/mintylink/pkg/progress"
	"github.com/Thermoquad/mintylink/pkg/session"
)

// ErrNoUser is returned by Connect when no user identifier is available
var ErrNoUser = errors.New("no user ID found")

// ErrNoDiscovery is returned by Discover when no discovery service is configured
var ErrNoDiscovery = errors.New("discovery is not configured")

// MaxLogEntries bounds the event log
const MaxLogEntries = 100

// Link is the connection surface the engine drives
type Link interface {
	Connect(ctx context.Context, addr minty.DeviceAddress) error
	Disconnect()
	Send(cmd minty.Command) error
	Events() <-chan minty.Event
	Status() link.Status
}

// Discoverer finds holders on the local network
type Discoverer interface {
	Discover(ctx context.Context, strategy discovery.Strategy) <-chan discovery.Event
}

// Config wires the engine's collaborators
type Config struct {
	Link      Link
	Identity  identity.Provider // Required to connect
	Store     progress.Store    // May be nil: sessions are not persisted
	Discovery Discoverer        // May be nil

	Mode        session.Mode
	MinDuration time.Duration // Client mode validity threshold, defaults to 60s
	Score       int           // Recorded with each session, defaults to progress.DefaultScore

	UpdateBuffer int // Defaults to 256
	Clock        clock.Clock
	Logger       *slog.Logger
}

// State is a point in time view of the engine
type State struct {
	Link     link.Status
	Session  session.State
	Elapsed  time.Duration
	Progress progress.DailyProgress
}

// Engine is the protocol engine facade
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	clock   clock.Clock
	machine *session.Machine
	agg     *progress.Aggregator

	updates     chan Update
	done        chan struct{}
	disconnects chan chan struct{}

	// background tracks store writes and refreshes
	background sync.WaitGroup

	mu           sync.Mutex
	sessionState session.State
	sessionStart time.Time
	log          []EventLog
	runCtx       context.Context
	running      bool
}

// New creates an engine. Run must be called to process events.
func New(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = minty.MinSessionSeconds * time.Second
	}
	if cfg.Score <= 0 {
		cfg.Score = progress.DefaultScore
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Engine{
		cfg:    cfg,
		logger: logger,
		clock:  cfg.Clock,
		machine: session.New(cfg.Mode,
			session.WithClock(cfg.Clock),
			session.WithMinDuration(cfg.MinDuration),
		),
		agg:         progress.NewAggregator(cfg.Clock.Now),
		updates:     make(chan Update, cfg.UpdateBuffer),
		done:        make(chan struct{}),
		disconnects: make(chan chan struct{}),
		runCtx:      context.Background(),
	}
}

// Updates returns the update stream. It has a single consumer and is
// never closed.
func (e *Engine) Updates() <-chan Update {
	return e.updates
}

// Run processes link events and session ticks until ctx is cancelled.
// It must be called exactly once.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.runCtx = ctx
	e.running = true
	e.mu.Unlock()

	defer func() {
		close(e.done)
		e.background.Wait()
	}()

	events := e.cfg.Link.Events()
	for {
		select {
		case <-ctx.Done():
			e.machine.Reset()
			e.setSession(session.Idle)
			return ctx.Err()

		case ev := <-events:
			e.handle(ev)

		case ack := <-e.disconnects:
			e.abortSession()
			close(ack)

		case <-e.machine.TickC():
			e.emit(SessionTick{Elapsed: e.machine.Elapsed()})
		}
	}
}

// Connect opens a link to addr. The engine refuses to connect without
// a user identifier. The link's own Connected event is reported on
// the update stream by Run.
func (e *Engine) Connect(ctx context.Context, addr minty.DeviceAddress) error {
	if e.cfg.Identity == nil {
		return e.refuseNoUser()
	}
	if _, ok := e.cfg.Identity.CurrentUserID(); !ok {
		return e.refuseNoUser()
	}

	e.appendLog("Connecting to ESP32: " + addr.String())
	err := e.cfg.Link.Connect(ctx, addr)
	if err == nil {
		return nil
	}
	if errors.Is(err, link.ErrSuperseded) {
		e.logger.Debug("connect superseded", "address", addr.Host)
		return err
	}

	msg := err.Error()
	var ce *link.ConnectError
	if errors.As(err, &ce) {
		msg = ce.Error()
	}
	e.appendLog("Error: " + msg)
	e.emit(Error{Message: msg})
	return err
}

func (e *Engine) refuseNoUser() error {
	e.appendLog("Connection failed: No user ID")
	e.emit(Error{Message: "No user ID found"})
	return ErrNoUser
}

// Disconnect closes the link. While Run is active it returns only after
// any session in progress has been cancelled and its timer stopped. It
// always results in one Disconnected update.
func (e *Engine) Disconnect() {
	e.cfg.Link.Disconnect()

	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return
	}

	ack := make(chan struct{})
	select {
	case e.disconnects <- ack:
		<-ack
	case <-e.done:
	}
}

// Send forwards free text to the holder verbatim
func (e *Engine) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := e.cfg.Link.Send(minty.NewRawCommand(text)); err != nil {
		e.appendLog("Error: " + err.Error())
		e.emit(Error{Message: err.Error()})
		return err
	}
	e.appendLog("Sent: " + text)
	return nil
}

// ClearLog empties the event log
func (e *Engine) ClearLog() {
	e.mu.Lock()
	e.log = nil
	e.mu.Unlock()
	e.emit(LogCleared{})
	e.appendLog("Event log cleared")
}

// Log returns a copy of the event log, oldest first
func (e *Engine) Log() []EventLog {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EventLog, len(e.log))
	copy(out, e.log)
	return out
}

// Progress returns today's cached progress
func (e *Engine) Progress() progress.DailyProgress {
	return e.agg.Snapshot()
}

// State returns the link, session and progress state
func (e *Engine) State() State {
	e.mu.Lock()
	st := State{Session: e.sessionState}
	if st.Session == session.InProgress {
		st.Elapsed = e.clock.Now().Sub(e.sessionStart)
	}
	e.mu.Unlock()

	st.Link = e.cfg.Link.Status()
	st.Progress = e.agg.Snapshot()
	return st
}

// RefreshProgress reconciles the cache with the store. It runs on
// connect and may be called again when the user interface regains focus.
func (e *Engine) RefreshProgress(ctx context.Context) error {
	if e.cfg.Store == nil {
		return nil
	}
	p, err := e.agg.RefreshFromStore(ctx, e.cfg.Store)
	if err != nil {
		e.appendLog("Error: failed to load progress: " + err.Error())
		e.emit(Error{Message: fmt.Sprintf("failed to load progress: %v", err)})
		return err
	}

	if p == (progress.DailyProgress{Date: p.Date}) {
		e.appendLog("No progress data for today")
	} else {
		e.appendLog(fmt.Sprintf("Progress loaded: %d/%d sessions", p.CompletedSessions, p.Total()))
	}
	e.emitProgress(p)
	return nil
}

// Discover runs one discovery and returns the holders found. No
// holders is an empty result, not an error.
func (e *Engine) Discover(ctx context.Context, strategy discovery.Strategy) ([]minty.DeviceAddress, error) {
	if e.cfg.Discovery == nil {
		return nil, ErrNoDiscovery
	}

	e.appendLog("Discovering devices (" + strategy.String() + ")")
	found := []minty.DeviceAddress{}
	for ev := range e.cfg.Discovery.Discover(ctx, strategy) {
		switch ev.Kind {
		case discovery.Found:
			found = append(found, ev.Device)
			e.appendLog("Found device: " + ev.Device.String())
		case discovery.Error:
			e.appendLog("Error: discovery failed: " + ev.Err.Error())
			e.emit(Error{Message: ev.Err.Error()})
			return found, ev.Err
		}
	}
	if len(found) == 0 {
		e.appendLog("No devices found")
	}
	return found, nil
}

// Flush waits for pending store writes and progress refreshes. Callers
// must not deliver new link events while it runs.
func (e *Engine) Flush() {
	e.background.Wait()
}

// ============================================================
// Event handling (Run goroutine only)
// ============================================================

func (e *Engine) handle(ev minty.Event) {
	for _, verr := range minty.ValidateEvent(ev) {
		e.logger.Warn("protocol anomaly", "kind", minty.FormatKind(ev.Kind()), "error", verr.Message)
	}

	switch ev := ev.(type) {
	case minty.Connected:
		if ev.DeviceID != "" {
			e.appendLog("Device ready: " + ev.DeviceID)
			return
		}
		e.appendLog("✓ ESP32 device connected successfully")
		e.emit(Connected{Address: e.cfg.Link.Status().Address})
		e.refreshAsync()

	case minty.Disconnected:
		e.abortSession()
		e.appendLog("ESP32 device disconnected")
		e.emit(Disconnected{Reason: ev.Reason})

	case minty.ToothbrushRemoved:
		res := e.machine.Handle(ev)
		if res.Ignored {
			e.logger.Debug("duplicate removal ignored")
			return
		}
		e.setSession(session.InProgress)
		e.appendLog("Toothbrush removed - Session started")
		e.emit(ToothbrushRemoved{})
		e.emit(SessionTick{})

	case minty.ToothbrushReturned:
		res := e.machine.Handle(ev)
		if !res.Ended {
			e.logger.Debug("return without a session in progress")
			return
		}
		e.setSession(session.Idle)
		e.appendLog("Toothbrush returned to holder")
		e.emit(ToothbrushReturned{})
		if res.Outcome != nil {
			e.completeSession(*res.Outcome)
		}

	case minty.SessionOutcome:
		res := e.machine.Handle(ev)
		if res.Ended {
			e.setSession(session.Idle)
		}
		if res.Outcome == nil {
			e.logger.Debug("device verdict ignored", "mode", e.machine.Mode().String())
			return
		}
		e.completeSession(*res.Outcome)

	case minty.ProgressReport:
		p := e.agg.ApplyProgressReport(ev)
		e.appendLog(fmt.Sprintf("Progress updated: %d/%d sessions", p.CompletedSessions, p.Total()))
		e.emit(ProgressUpdate{Current: p.CompletedSessions, Total: p.Total()})

	case minty.DotsReport:
		p := e.agg.ApplyDotsReport(ev)
		e.appendLog("Session dots:" + minty.FormatDetails(ev))
		e.emit(DotsUpdate{Morning: p.Morning, Afternoon: p.Afternoon, Evening: p.Evening})

	case minty.EventLog:
		e.appendLog(ev.Text)

	case minty.Status:
		e.appendLog("Status: " + ev.Text)

	case minty.SessionLimitReached:
		e.appendLog(fmt.Sprintf("Daily limit reached (%d/%d sessions)", minty.DailySessionGoal, minty.DailySessionGoal))

	case minty.NewDay:
		p := e.agg.Reset()
		e.appendLog(fmt.Sprintf("New day detected - progress reset to 0/%d", p.Total()))
		e.emitProgress(p)

	case minty.Pong:
		e.logger.Debug("pong")

	case minty.Unknown:
		e.logger.Debug("unknown line", "raw", ev.Raw)
	}
}

// completeSession applies a finished session to the cache and hands
// valid sessions to the store
func (e *Engine) completeSession(o minty.SessionOutcome) {
	if !o.Valid {
		if o.RequiredSeconds > 0 {
			e.appendLog(fmt.Sprintf("Session too short (%ds / %ds required)", o.DurationSeconds, o.RequiredSeconds))
		} else {
			e.appendLog(fmt.Sprintf("Session too short: %ds (< %ds required)", o.DurationSeconds, int(e.cfg.MinDuration/time.Second)))
		}
		e.emit(SessionOutcome{DurationSeconds: o.DurationSeconds})
		return
	}

	var period progress.Period
	var counted bool
	var p progress.DailyProgress
	if o.HasDailyCount {
		// The holder already counted this session
		p, period, counted = e.agg.ApplyCountedOutcome(o.DailyCount)
	} else {
		period, counted = e.agg.ApplyOutcome(o)
		p = e.agg.Snapshot()
	}

	e.appendLog(fmt.Sprintf("Session completed: %ds (VALID)", o.DurationSeconds))
	if !counted {
		e.appendLog(fmt.Sprintf("Daily limit reached (%d/%d sessions)", p.CompletedSessions, p.Total()))
		period = progress.General
	}
	e.emit(SessionOutcome{DurationSeconds: o.DurationSeconds, Valid: true, Period: period, Counted: counted})
	e.emitProgress(p)
	e.saveAsync(period, o.DurationSeconds)
}

func (e *Engine) saveAsync(period progress.Period, durationSec int) {
	if e.cfg.Store == nil {
		return
	}
	ctx := e.context()
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		if err := e.cfg.Store.SaveSession(ctx, period, durationSec, e.cfg.Score); err != nil {
			e.logger.Error("failed to save session", "period", string(period), "error", err)
			e.appendLog("Error: failed to save session: " + err.Error())
			e.emit(Error{Message: fmt.Sprintf("failed to save session: %v", err)})
		}
	}()
}

// abortSession cancels a session in progress and stops its timer
func (e *Engine) abortSession() {
	if e.machine.State() != session.InProgress {
		return
	}
	e.machine.Reset()
	e.setSession(session.Idle)
	e.appendLog("Session cancelled")
}

func (e *Engine) refreshAsync() {
	if e.cfg.Store == nil {
		return
	}
	ctx := e.context()
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		if err := e.RefreshProgress(ctx); err != nil {
			e.logger.Warn("progress refresh failed", "error", err)
		}
	}()
}

// ============================================================
// Helpers
// ============================================================

func (e *Engine) context() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runCtx
}

func (e *Engine) setSession(s session.State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionState = s
	if s == session.InProgress {
		e.sessionStart = e.clock.Now()
	} else {
		e.sessionStart = time.Time{}
	}
}

func (e *Engine) emitProgress(p progress.DailyProgress) {
	e.emit(ProgressUpdate{Current: p.CompletedSessions, Total: p.Total()})
	e.emit(DotsUpdate{Morning: p.Morning, Afternoon: p.Afternoon, Evening: p.Evening})
}

// appendLog adds an entry to the bounded event log and publishes it
func (e *Engine) appendLog(text string) {
	entry := EventLog{At: e.clock.Now(), Text: text}

	e.mu.Lock()
	e.log = append(e.log, entry)
	if over := len(e.log) - MaxLogEntries; over > 0 {
		e.log = append(e.log[:0:0], e.log[over:]...)
	}
	e.mu.Unlock()

	e.logger.Info(text)
	e.emit(entry)
}

// emit publishes an update. It blocks while the buffer is full, and
// drops the update once Run has returned.
func (e *Engine) emit(u Update) {
	select {
	case e.updates <- u:
	case <-e.done:
	}
}
